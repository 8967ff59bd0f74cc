package graph

import (
	"math"
	"testing"
)

func rankSum(ranks map[string]float64) float64 {
	var sum float64
	for _, r := range ranks {
		sum += r
	}
	return sum
}

// TestPageRankConservation: ranks sum to 1 after convergence, including for
// graphs with dangling nodes.
func TestPageRankConservation(t *testing.T) {
	cases := []struct {
		name      string
		adjacency map[string][]string
	}{
		{"chain", map[string][]string{"a": {"b"}, "b": {"c"}, "c": {"a"}}},
		{"dangling sink", map[string][]string{"a": {"b"}, "b": {"c"}, "c": {}}},
		{"star", map[string][]string{"hub": {"s1", "s2", "s3"}}},
		{"isolated nodes", map[string][]string{"a": {}, "b": {}, "c": {}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Compute(tc.adjacency, DefaultOptions())
			if got := rankSum(res.Ranks); math.Abs(got-1) > 1e-6 {
				t.Errorf("rank sum = %v, want 1", got)
			}
		})
	}
}

// TestPageRankOrdering: a node with more inbound links ranks higher.
func TestPageRankOrdering(t *testing.T) {
	adjacency := map[string][]string{
		"a": {"popular"},
		"b": {"popular"},
		"c": {"popular", "obscure"},
		"popular": {},
		"obscure": {},
	}
	res := Compute(adjacency, DefaultOptions())
	if res.Ranks["popular"] <= res.Ranks["obscure"] {
		t.Errorf("popular rank %v not above obscure rank %v", res.Ranks["popular"], res.Ranks["obscure"])
	}
}

// TestPageRankConvergence: a small graph converges well before the iteration
// cap and the result is deterministic.
func TestPageRankConvergence(t *testing.T) {
	adjacency := map[string][]string{"a": {"b"}, "b": {"a"}}
	res := Compute(adjacency, DefaultOptions())
	if !res.Converged {
		t.Error("two-node cycle did not converge")
	}
	// Symmetric graph: equal ranks.
	if math.Abs(res.Ranks["a"]-res.Ranks["b"]) > 1e-9 {
		t.Errorf("symmetric nodes got unequal ranks: %v vs %v", res.Ranks["a"], res.Ranks["b"])
	}

	again := Compute(adjacency, DefaultOptions())
	for node, r := range res.Ranks {
		if again.Ranks[node] != r {
			t.Errorf("non-deterministic rank for %s: %v vs %v", node, r, again.Ranks[node])
		}
	}
}

// TestPageRankIterationCap: with epsilon set to zero the loop stops at the
// cap instead of spinning forever.
func TestPageRankIterationCap(t *testing.T) {
	opts := Options{Damping: 0.85, Epsilon: 0, MaxIterations: 7}
	res := Compute(map[string][]string{"a": {"b"}, "b": {"c"}, "c": {"a"}}, opts)
	if res.Converged {
		t.Error("expected no convergence with epsilon 0")
	}
	if res.Iterations != 7 {
		t.Errorf("iterations = %d, want 7", res.Iterations)
	}
}

// TestPageRankEmptyGraph returns an empty result without dividing by zero.
func TestPageRankEmptyGraph(t *testing.T) {
	res := Compute(map[string][]string{}, DefaultOptions())
	if len(res.Ranks) != 0 || !res.Converged {
		t.Errorf("unexpected result for empty graph: %+v", res)
	}
}

// TestMaxNormalize scales the top rank to exactly 1.
func TestMaxNormalize(t *testing.T) {
	norm := MaxNormalize(map[string]float64{"a": 0.5, "b": 0.25})
	if norm["a"] != 1 {
		t.Errorf("top rank = %v, want 1", norm["a"])
	}
	if norm["b"] != 0.5 {
		t.Errorf("b rank = %v, want 0.5", norm["b"])
	}
	if got := MaxNormalize(map[string]float64{}); len(got) != 0 {
		t.Errorf("normalizing empty map produced %v", got)
	}
}

// TestSelfAndDuplicateLinksIgnored: self-links and repeated links do not
// inflate a node's influence.
func TestSelfAndDuplicateLinksIgnored(t *testing.T) {
	withNoise := Compute(map[string][]string{
		"a": {"a", "b", "b", "b"},
		"b": {},
	}, DefaultOptions())
	clean := Compute(map[string][]string{
		"a": {"b"},
		"b": {},
	}, DefaultOptions())
	for node := range clean.Ranks {
		if math.Abs(withNoise.Ranks[node]-clean.Ranks[node]) > 1e-9 {
			t.Errorf("node %s: noisy %v != clean %v", node, withNoise.Ranks[node], clean.Ranks[node])
		}
	}
}
