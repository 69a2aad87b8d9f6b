package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func card(id string, avg float64, next time.Time, reps int) Flashcard {
	c := NewFlashcard(id, "d", id, id, t0)
	c.AvgConfusion = avg
	c.NextReview = next
	c.RepetitionCount = reps
	return c
}

func TestNextCardPicksMostConfusedDue(t *testing.T) {
	cards := []Flashcard{card("a", 2, t0, 0), card("b", 5, t0, 0), card("c", 8, t0, 0)}
	id, ok := NextCard(cards, t0)
	assert.True(t, ok)
	assert.Equal(t, "c", id)
}

func TestNextCardOverdueHoursCount(t *testing.T) {
	cards := []Flashcard{
		card("a", 8, t0, 0),
		card("b", 2, t0.Add(-13*time.Hour), 0), // 4 + 13 > 16
	}
	id, _ := NextCard(cards, t0)
	assert.Equal(t, "b", id)
}

func TestNextCardIgnoresNotDueWhenSomethingIsDue(t *testing.T) {
	cards := []Flashcard{card("a", 9, t0.Add(time.Hour), 0), card("b", 1, t0, 0)}
	id, _ := NextCard(cards, t0)
	assert.Equal(t, "b", id)
}

func TestNextCardFallbackTopFive(t *testing.T) {
	later := t0.Add(24 * time.Hour)
	var cards []Flashcard
	for i, avg := range []float64{1, 3, 9, 4, 6, 2, 7} {
		cards = append(cards, card(string(rune('a'+i)), avg, later, 0))
	}
	id, ok := NextCard(cards, t0)
	assert.True(t, ok)
	assert.Equal(t, "c", id)
}

func TestNextCardTies(t *testing.T) {
	cards := []Flashcard{card("b", 5, t0, 2), card("c", 5, t0, 1), card("a", 5, t0, 1)}
	id, _ := NextCard(cards, t0)
	assert.Equal(t, "a", id)
}

func TestNextCardEmpty(t *testing.T) {
	_, ok := NextCard(nil, t0)
	assert.False(t, ok)
}

func TestPriority(t *testing.T) {
	assert.Equal(t, 10.0, Priority(card("a", 5, t0.Add(time.Hour), 0), t0))
	assert.Equal(t, 12.0, Priority(card("a", 5, t0.Add(-2*time.Hour), 0), t0))
}
