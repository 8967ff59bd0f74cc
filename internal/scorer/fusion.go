// Package scorer runs search queries: it fans out to the keyword and vector
// legs, fuses their rankings with Reciprocal Rank Fusion, and decorates the
// winners with titles, URLs, and snippets.
package scorer

import "sort"

// RRFK is the standard rank-fusion constant.
const RRFK = 60

// RankedList is one leg's ordered result: best document first.
type RankedList []string

// FusedDoc is a document with its fused score.
type FusedDoc struct {
	DocID string
	Score float64
}

// FuseRRF merges ranked lists with Reciprocal Rank Fusion: a document at
// 1-indexed rank r contributes 1/(k+r) per list it appears in; absence from
// a list contributes nothing. Output is ordered by descending fused score,
// ties broken by ascending doc_id.
func FuseRRF(k int, lists ...RankedList) []FusedDoc {
	if k <= 0 {
		k = RRFK
	}
	scores := make(map[string]float64)
	for _, list := range lists {
		for i, docID := range list {
			scores[docID] += 1.0 / float64(k+i+1)
		}
	}

	fused := make([]FusedDoc, 0, len(scores))
	for docID, score := range scores {
		fused = append(fused, FusedDoc{DocID: docID, Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].DocID < fused[j].DocID
	})
	return fused
}
