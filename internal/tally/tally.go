// Package tally implements Borda scoring over ranked ballots.
package tally

import (
	"sort"

	"github.com/ordo-vote/backend/internal/models"
)

// ValidBallot reports whether ballot is a permutation of the option indices
// 0..n-1, i.e. every option ranked exactly once.
func ValidBallot(n int, ballot []int) bool {
	if len(ballot) != n {
		return false
	}
	seen := make([]bool, n)
	for _, opt := range ballot {
		if opt < 0 || opt >= n || seen[opt] {
			return false
		}
		seen[opt] = true
	}
	return true
}

// Count returns each option's Borda total, aligned with the declaration order
// of options. The option a ballot places at rank r (0-indexed) earns
// len(options)-1-r points. Inputs are not mutated.
func Count(options []string, ballots [][]int) []int {
	n := len(options)
	totals := make([]int, n)
	for _, ballot := range ballots {
		for rank, opt := range ballot {
			if opt < 0 || opt >= n {
				continue
			}
			totals[opt] += n - 1 - rank
		}
	}
	return totals
}

// Ranking orders options best first by Borda total. Options with equal totals
// keep their declaration order.
func Ranking(options []string, ballots [][]int) []models.RankedOption {
	totals := Count(options, ballots)
	ranked := make([]models.RankedOption, len(options))
	for i, opt := range options {
		ranked[i] = models.RankedOption{Option: opt, Points: totals[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Points > ranked[j].Points
	})
	return ranked
}
