// Package graph maintains the document link graph and computes PageRank over
// it. The computation is a batch power iteration over a graph snapshot; the
// resulting score set replaces the previous one atomically.
package graph

import (
	"math"
	"sort"
)

// Options controls the power iteration.
type Options struct {
	Damping       float64
	Epsilon       float64
	MaxIterations int
}

// DefaultOptions returns the standard PageRank parameters.
func DefaultOptions() Options {
	return Options{Damping: 0.85, Epsilon: 1e-6, MaxIterations: 20}
}

// Result holds the outcome of one PageRank computation. Ranks are raw
// probabilities and sum to 1 across all nodes.
type Result struct {
	Ranks      map[string]float64
	Iterations int
	Converged  bool
}

// Compute runs PageRank power iteration over the adjacency map. Every key
// and every link target counts as a node. Dangling nodes (no outlinks)
// redistribute their rank mass uniformly across all nodes. Iteration stops
// when the L1 change drops below Epsilon or MaxIterations is reached.
func Compute(adjacency map[string][]string, opts Options) Result {
	nodes := collectNodes(adjacency)
	n := len(nodes)
	if n == 0 {
		return Result{Ranks: map[string]float64{}, Converged: true}
	}

	// Deduplicated outlinks per node; self-links are ignored.
	outlinks := make(map[string][]string, len(adjacency))
	for src, dsts := range adjacency {
		seen := make(map[string]struct{}, len(dsts))
		for _, dst := range dsts {
			if dst == src {
				continue
			}
			if _, dup := seen[dst]; dup {
				continue
			}
			seen[dst] = struct{}{}
			outlinks[src] = append(outlinks[src], dst)
		}
	}

	ranks := make(map[string]float64, n)
	for _, node := range nodes {
		ranks[node] = 1.0 / float64(n)
	}

	base := (1 - opts.Damping) / float64(n)
	for iter := 1; iter <= opts.MaxIterations; iter++ {
		next := make(map[string]float64, n)

		var danglingMass float64
		for _, node := range nodes {
			if len(outlinks[node]) == 0 {
				danglingMass += ranks[node]
			}
		}
		danglingShare := opts.Damping * danglingMass / float64(n)

		for _, node := range nodes {
			next[node] = base + danglingShare
		}
		for src, dsts := range outlinks {
			share := opts.Damping * ranks[src] / float64(len(dsts))
			for _, dst := range dsts {
				next[dst] += share
			}
		}

		var delta float64
		for _, node := range nodes {
			delta += math.Abs(next[node] - ranks[node])
		}
		ranks = next
		if delta < opts.Epsilon {
			return Result{Ranks: ranks, Iterations: iter, Converged: true}
		}
	}
	return Result{Ranks: ranks, Iterations: opts.MaxIterations, Converged: false}
}

// MaxNormalize scales ranks so the highest value becomes 1. The stored
// snapshot uses this form so the scoring boost works on a [0,1] scale.
func MaxNormalize(ranks map[string]float64) map[string]float64 {
	var max float64
	for _, r := range ranks {
		if r > max {
			max = r
		}
	}
	out := make(map[string]float64, len(ranks))
	if max == 0 {
		return out
	}
	for node, r := range ranks {
		out[node] = r / max
	}
	return out
}

func collectNodes(adjacency map[string][]string) []string {
	set := make(map[string]struct{}, len(adjacency))
	for src, dsts := range adjacency {
		set[src] = struct{}{}
		for _, dst := range dsts {
			set[dst] = struct{}{}
		}
	}
	nodes := make([]string, 0, len(set))
	for node := range set {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	return nodes
}
