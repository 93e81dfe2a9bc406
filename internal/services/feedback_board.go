package services

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/velvetwardrobe/storefront/internal/domain"
)

const defaultFeedbackBoardSize = 4096

type boardKey struct {
	namespace string
	form      domain.FormKind
}

type boardEntry struct {
	generation uint64
	feedback   Feedback
	shown      bool
}

// FeedbackBoard holds the visible feedback of each (namespace, form) pair. Every attempt
// takes a generation from Begin; only the newest generation of a pair may change what is
// shown. Least recently used pairs are evicted once the board is full.
type FeedbackBoard struct {
	mu      sync.Mutex
	counter uint64
	entries *lru.Cache[boardKey, boardEntry]
}

// NewFeedbackBoard constructs a board holding at most size pairs.
func NewFeedbackBoard(size int) (*FeedbackBoard, error) {
	if size <= 0 {
		size = defaultFeedbackBoardSize
	}
	cache, err := lru.New[boardKey, boardEntry](size)
	if err != nil {
		return nil, fmt.Errorf("feedback board: %w", err)
	}
	return &FeedbackBoard{entries: cache}, nil
}

// Begin starts a new attempt for the pair and returns its generation. Earlier generations
// can no longer update the pair. Previously shown feedback stays visible until replaced.
func (b *FeedbackBoard) Begin(namespace string, form domain.FormKind) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counter++
	key := boardKey{namespace: namespace, form: form}
	entry, _ := b.entries.Peek(key)
	entry.generation = b.counter
	b.entries.Add(key, entry)
	return b.counter
}

// Settle shows feedback for the pair when generation is still the newest one. It reports
// whether the feedback was applied.
func (b *FeedbackBoard) Settle(namespace string, form domain.FormKind, generation uint64, feedback Feedback) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := boardKey{namespace: namespace, form: form}
	entry, ok := b.entries.Peek(key)
	if !ok || entry.generation != generation {
		return false
	}
	feedback.Generation = generation
	entry.feedback = feedback
	entry.shown = true
	b.entries.Add(key, entry)
	return true
}

// Current returns the feedback shown for the pair, if any.
func (b *FeedbackBoard) Current(namespace string, form domain.FormKind) (Feedback, bool) {
	entry, ok := b.entries.Get(boardKey{namespace: namespace, form: form})
	if !ok || !entry.shown {
		return Feedback{}, false
	}
	return entry.feedback, true
}

// Len reports how many pairs the board tracks.
func (b *FeedbackBoard) Len() int {
	return b.entries.Len()
}
