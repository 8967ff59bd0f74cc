// Package ranker scores keyword matches with BM25. Title and body postings
// are scored against their own corpus statistics unless Params.TitleStatsShared
// folds titles into the body statistics; title scores carry a boost multiplier
// before both are summed. A PageRank boost is applied on top of the BM25
// total.
package ranker

import (
	"math"
	"sort"

	"github.com/mizuchi-search/mizuchi/internal/index"
)

// Params holds the scoring constants.
type Params struct {
	K1             float64
	B              float64
	TitleBoost     float64
	PageRankWeight float64
	// TitleStatsShared scores title postings against the body corpus
	// statistics (document frequency, avgdl, doc length) instead of the
	// title's own. The title boost still applies.
	TitleStatsShared bool
}

// DefaultParams returns the standard BM25 constants.
func DefaultParams() Params {
	return Params{K1: 1.2, B: 0.75, TitleBoost: 3.0, PageRankWeight: 0.5}
}

// ScoredDoc is one ranked keyword result.
type ScoredDoc struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// Rank scores the given postings and returns documents in descending score
// order, ties broken by ascending doc_id. pageRanks holds max-normalized
// rank values in [0,1]; documents absent from the map get no boost.
func Rank(
	postings []index.Posting,
	df map[index.Field]map[string]int,
	stats index.Stats,
	docLengths map[string]map[index.Field]int,
	pageRanks map[string]float64,
	params Params,
	limit int,
) []ScoredDoc {
	scores := make(map[string]float64)
	for _, p := range postings {
		statsField := p.Field
		boost := 1.0
		if p.Field == index.FieldTitle {
			boost = params.TitleBoost
			if params.TitleStatsShared {
				statsField = index.FieldBody
			}
		}
		var fieldStats index.FieldStats
		switch statsField {
		case index.FieldTitle:
			fieldStats = stats.Title
		default:
			fieldStats = stats.Body
		}
		idf := computeIDF(fieldStats.DocCount, df[statsField][p.Token])
		docLen := docLengths[p.DocID][statsField]
		tfNorm := computeTFNorm(float64(p.TF), float64(docLen), fieldStats.AvgDocLen(), params)
		scores[p.DocID] += boost * idf * tfNorm
	}

	result := make([]ScoredDoc, 0, len(scores))
	for docID, score := range scores {
		score *= 1 + params.PageRankWeight*pageRanks[docID]
		result = append(result, ScoredDoc{
			DocID: docID,
			Score: math.Round(score*10000) / 10000,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].DocID < result[j].DocID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func computeIDF(totalDocs, docFreq int) float64 {
	return math.Log(1 + (float64(totalDocs)-float64(docFreq)+0.5)/(float64(docFreq)+0.5))
}

func computeTFNorm(termFreq, docLength, avgDocLength float64, params Params) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + params.K1*(1-params.B+params.B*lengthRatio)
	return (termFreq * (params.K1 + 1)) / denominator
}
