package memory

import (
	"container/list"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"docqa/internal/domain"
)

const DefaultWindowTurns = 5

// TurnStore is the slice of the gateway the conversation log writes through to.
type TurnStore interface {
	SaveTurn(ctx context.Context, t domain.Turn) error
	LoadTurns(ctx context.Context, sessionID string) ([]domain.Turn, error)
	DeleteTurns(ctx context.Context, sessionID string) error
}

type TokenCounter interface {
	CountTokens(text string) int
}

// Policy bounds the active window and how many session logs stay cached.
// Zero values disable a bound.
type Policy struct {
	MaxTurns    int
	MaxTokens   int
	MaxSessions int
}

// Conversation caches the turn logs of recently used sessions. A log is
// loaded from the store on first use and every append reaches the store
// before it is visible to readers, so an evicted log is simply reloaded.
type Conversation struct {
	store   TurnStore
	policy  Policy
	counter TokenCounter
	now     func() time.Time

	mu   sync.Mutex
	logs map[string]*list.Element // of *sessionLog
	lru  *list.List               // front is most recently used
}

type sessionLog struct {
	id   string
	refs int // guarded by Conversation.mu; pinned logs are never evicted

	mu     sync.Mutex
	loaded bool
	turns  []domain.Turn
}

func NewConversation(store TurnStore, policy Policy, counter TokenCounter) *Conversation {
	return &Conversation{
		store:   store,
		policy:  policy,
		counter: counter,
		now:     time.Now,
		logs:    make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// acquire returns the session's log pinned until release.
func (c *Conversation) acquire(sessionID string) *sessionLog {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.logs[sessionID]; ok {
		c.lru.MoveToFront(el)
		l := el.Value.(*sessionLog)
		l.refs++
		return l
	}
	l := &sessionLog{id: sessionID, refs: 1}
	c.logs[sessionID] = c.lru.PushFront(l)
	c.evict()
	return l
}

func (c *Conversation) release(l *sessionLog) {
	c.mu.Lock()
	l.refs--
	c.evict()
	c.mu.Unlock()
}

// evict drops idle logs from the cold end until the cache fits
// policy.MaxSessions. c.mu must be held.
func (c *Conversation) evict() {
	if c.policy.MaxSessions <= 0 {
		return
	}
	for el := c.lru.Back(); el != nil && c.lru.Len() > c.policy.MaxSessions; {
		prev := el.Prev()
		if l := el.Value.(*sessionLog); l.refs == 0 {
			c.lru.Remove(el)
			delete(c.logs, l.id)
		}
		el = prev
	}
}

// cached reports how many session logs are held in memory.
func (c *Conversation) cached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// hydrate must be called with l.mu held.
func (c *Conversation) hydrate(ctx context.Context, sessionID string, l *sessionLog) error {
	if l.loaded {
		return nil
	}
	turns, err := c.store.LoadTurns(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load turns for session %s: %w", sessionID, err)
	}
	slices.SortFunc(turns, func(a, b domain.Turn) int { return a.Index - b.Index })
	l.turns = turns
	l.loaded = true
	return nil
}

// Append records a turn with the next index.
func (c *Conversation) Append(ctx context.Context, sessionID, question, answer string, sources []string) (domain.Turn, error) {
	l := c.acquire(sessionID)
	defer c.release(l)
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := c.hydrate(ctx, sessionID, l); err != nil {
		return domain.Turn{}, err
	}

	turn := domain.Turn{
		SessionID:      sessionID,
		Index:          len(l.turns),
		Question:       question,
		Answer:         answer,
		SourceChunkIDs: slices.Clone(sources),
		CreatedAt:      c.now().UTC(),
	}
	if err := c.store.SaveTurn(ctx, turn); err != nil {
		return domain.Turn{}, fmt.Errorf("save turn %d of session %s: %w", turn.Index, sessionID, err)
	}
	l.turns = append(l.turns, turn)
	return turn, nil
}

// ActiveContext returns the windowed suffix of the history, oldest first.
func (c *Conversation) ActiveContext(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	history, err := c.FullHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return Window(history, c.policy, c.counter), nil
}

func (c *Conversation) FullHistory(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	l := c.acquire(sessionID)
	defer c.release(l)
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := c.hydrate(ctx, sessionID, l); err != nil {
		return nil, err
	}
	return slices.Clone(l.turns), nil
}

// Clear drops every turn of the session from the store and the log.
func (c *Conversation) Clear(ctx context.Context, sessionID string) error {
	l := c.acquire(sessionID)
	defer c.release(l)
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := c.store.DeleteTurns(ctx, sessionID); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	l.turns = nil
	l.loaded = true
	return nil
}

// Forget evicts the in-memory log without touching the store.
func (c *Conversation) Forget(sessionID string) {
	c.mu.Lock()
	if el, ok := c.logs[sessionID]; ok {
		c.lru.Remove(el)
		delete(c.logs, sessionID)
	}
	c.mu.Unlock()
}

// Window keeps the last p.MaxTurns turns, then drops the oldest while the
// estimated token total exceeds p.MaxTokens. The newest turn always stays.
// The result is a suffix of turns.
func Window(turns []domain.Turn, p Policy, counter TokenCounter) []domain.Turn {
	start := 0
	if p.MaxTurns > 0 && len(turns) > p.MaxTurns {
		start = len(turns) - p.MaxTurns
	}

	if p.MaxTokens > 0 && counter != nil {
		total := 0
		for _, t := range turns[start:] {
			total += turnTokens(t, counter)
		}
		for total > p.MaxTokens && start < len(turns)-1 {
			total -= turnTokens(turns[start], counter)
			start++
		}
	}
	return turns[start:]
}

func turnTokens(t domain.Turn, counter TokenCounter) int {
	return counter.CountTokens(t.Question) + counter.CountTokens(t.Answer)
}
