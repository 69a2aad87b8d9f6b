package scheduler

import (
	"sort"
	"time"
)

// fallbackPool is how many of the most confusing cards compete when
// nothing is due.
const fallbackPool = 5

// Priority is avg_confusion·2 plus hours overdue (never negative).
func Priority(c Flashcard, now time.Time) float64 {
	overdue := now.Sub(c.NextReview).Hours()
	if overdue < 0 {
		overdue = 0
	}
	return c.AvgConfusion*2 + overdue
}

// before orders cards with fewer repetitions first, then by id.
func before(a, b Flashcard) bool {
	if a.RepetitionCount != b.RepetitionCount {
		return a.RepetitionCount < b.RepetitionCount
	}
	return a.ID < b.ID
}

// NextCard picks the card to show. Candidates are the due cards
// (NextReview ≤ now) or, when none is due, the five with the highest
// average confusion. The candidate with the highest Priority wins.
func NextCard(cards []Flashcard, now time.Time) (string, bool) {
	if len(cards) == 0 {
		return "", false
	}

	var pool []Flashcard
	for _, c := range cards {
		if !c.NextReview.After(now) {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		pool = append(pool, cards...)
		sort.SliceStable(pool, func(i, j int) bool {
			if pool[i].AvgConfusion != pool[j].AvgConfusion {
				return pool[i].AvgConfusion > pool[j].AvgConfusion
			}
			return before(pool[i], pool[j])
		})
		if len(pool) > fallbackPool {
			pool = pool[:fallbackPool]
		}
	}

	best := pool[0]
	bestP := Priority(best, now)
	for _, c := range pool[1:] {
		p := Priority(c, now)
		if p > bestP || (p == bestP && before(c, best)) {
			best, bestP = c, p
		}
	}
	return best.ID, true
}
