package scheduler

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process CardStore. Cards are returned in insertion
// order.
type MemoryStore struct {
	mu    sync.RWMutex
	cards map[string]Flashcard
	order []string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(cards ...Flashcard) *MemoryStore {
	m := &MemoryStore{cards: make(map[string]Flashcard)}
	for _, c := range cards {
		_ = m.PutCard(context.Background(), c)
	}
	return m
}

func (m *MemoryStore) GetCard(_ context.Context, id string) (Flashcard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cards[id]
	if !ok {
		return Flashcard{}, ErrCardNotFound
	}
	return clone(c), nil
}

func (m *MemoryStore) PutCard(_ context.Context, card Flashcard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[card.ID]; !ok {
		m.order = append(m.order, card.ID)
	}
	m.cards[card.ID] = clone(card)
	return nil
}

// ListCards returns the cards of deckID, or every card when deckID is empty.
func (m *MemoryStore) ListCards(_ context.Context, deckID string) ([]Flashcard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Flashcard, 0, len(m.order))
	for _, id := range m.order {
		c := m.cards[id]
		if deckID == "" || c.DeckID == deckID {
			out = append(out, clone(c))
		}
	}
	return out, nil
}

// IDs returns the stored ids sorted.
func (m *MemoryStore) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := append([]string(nil), m.order...)
	sort.Strings(ids)
	return ids
}

func clone(c Flashcard) Flashcard {
	c.ConfusionHistory = append([]ConfusionEntry(nil), c.ConfusionHistory...)
	if c.LastConfusion != nil {
		v := *c.LastConfusion
		c.LastConfusion = &v
	}
	return c
}
