package scheduler

import (
	"context"
	"sync"

	"github.com/banshee-data/synapse/internal/timeutil"
)

// CardStore persists flashcards. GetCard returns ErrCardNotFound (possibly
// wrapped) for unknown ids.
type CardStore interface {
	GetCard(ctx context.Context, id string) (Flashcard, error)
	PutCard(ctx context.Context, card Flashcard) error
	ListCards(ctx context.Context, deckID string) ([]Flashcard, error)
}

// Scheduler serializes updates per card over a CardStore.
type Scheduler struct {
	store CardStore
	clock timeutil.Clock

	mu    sync.Mutex
	locks map[string]*cardLock
}

type cardLock struct {
	sync.Mutex
	refs int
}

// New returns a Scheduler. A nil clock uses the wall clock.
func New(store CardStore, clock timeutil.Clock) *Scheduler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Scheduler{store: store, clock: clock, locks: make(map[string]*cardLock)}
}

func (s *Scheduler) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &cardLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// Update applies one scored review to card id and stores the result.
func (s *Scheduler) Update(ctx context.Context, id string, score float64) (Flashcard, error) {
	if !ValidScore(score) {
		return Flashcard{}, ErrInvalidScore
	}
	unlock := s.lock(id)
	defer unlock()

	card, err := s.store.GetCard(ctx, id)
	if err != nil {
		return Flashcard{}, err
	}
	updated, err := ApplyConfusion(card, score, s.clock.Now())
	if err != nil {
		return Flashcard{}, err
	}
	if err := s.store.PutCard(ctx, updated); err != nil {
		return Flashcard{}, err
	}
	return updated, nil
}

// Next returns the card to present from deckID, or ok=false when the deck
// is empty.
func (s *Scheduler) Next(ctx context.Context, deckID string) (Flashcard, bool, error) {
	cards, err := s.store.ListCards(ctx, deckID)
	if err != nil {
		return Flashcard{}, false, err
	}
	id, ok := NextCard(cards, s.clock.Now())
	if !ok {
		return Flashcard{}, false, nil
	}
	for _, c := range cards {
		if c.ID == id {
			return c, true, nil
		}
	}
	return Flashcard{}, false, nil
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() timeutil.Clock { return s.clock }
