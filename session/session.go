// Package session persists session contexts across turns: a small
// in-process cache fronts a durable projection store, and a side cache
// keeps recent pipeline results for replay. Entries age out on TTLs; a
// background sweep keeps the in-process maps bounded.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/MercatoLabs/dealkit/contract"
	"github.com/MercatoLabs/dealkit/logger"
)

// Cache TTLs. The in-process context cache is deliberately short: the
// durable store is the source of truth between processes.
const (
	DefaultContextCacheTTL  = 5 * time.Minute
	DefaultPipelineStateTTL = 30 * time.Minute
	DefaultSweepInterval    = time.Minute
)

// PipelineState is one cached pipeline invocation, kept for replay.
type PipelineState struct {
	Result        any       `json:"result"`
	Status        string    `json:"status,omitempty"`
	OperationMode string    `json:"operation_mode"`
	Timestamp     time.Time `json:"timestamp"`
}

// DurableStore persists context projections beyond process lifetime.
type DurableStore interface {
	SaveContext(ctx context.Context, sessionID string, projection map[string]any) error
	LoadContext(ctx context.Context, sessionID string) (map[string]any, bool, error)
	DeleteContext(ctx context.Context, sessionID string) error
}

type cachedContext struct {
	projection map[string]any
	storedAt   time.Time
}

type cachedPipelineState struct {
	state    PipelineState
	storedAt time.Time
}

// Store is the two-level session persistence layer.
type Store struct {
	mu             sync.Mutex
	contexts       map[string]cachedContext
	pipelineStates map[string]map[string]cachedPipelineState

	durable DurableStore // optional

	contextTTL  time.Duration
	pipelineTTL time.Duration
	now         func() time.Time

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithDurableStore attaches the durable projection backend.
func WithDurableStore(d DurableStore) StoreOption {
	return func(s *Store) { s.durable = d }
}

// WithTTLs overrides the cache TTLs.
func WithTTLs(contextTTL, pipelineTTL time.Duration) StoreOption {
	return func(s *Store) {
		if contextTTL > 0 {
			s.contextTTL = contextTTL
		}
		if pipelineTTL > 0 {
			s.pipelineTTL = pipelineTTL
		}
	}
}

// WithClock overrides the clock for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates the session persistence layer.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		contexts:       make(map[string]cachedContext),
		pipelineStates: make(map[string]map[string]cachedPipelineState),
		contextTTL:     DefaultContextCacheTTL,
		pipelineTTL:    DefaultPipelineStateTTL,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveSessionContext writes the context projection to both cache levels
// and records the latest pipeline results in the side cache. The durable
// write is best-effort: a dead backend must not fail the turn.
func (s *Store) SaveSessionContext(ctx context.Context, sc *contract.SessionContext, pipelineMetadata map[string]any) error {
	projection, err := sc.ToMap()
	if err != nil {
		return err
	}

	mode, _ := pipelineMetadata["operation_mode"].(string)
	now := s.now()

	s.mu.Lock()
	s.contexts[sc.SessionID] = cachedContext{projection: projection, storedAt: now}
	if len(sc.LastPipelineResults) > 0 {
		states := s.pipelineStates[sc.SessionID]
		if states == nil {
			states = make(map[string]cachedPipelineState)
			s.pipelineStates[sc.SessionID] = states
		}
		for name, raw := range sc.LastPipelineResults {
			states[name] = cachedPipelineState{
				state: PipelineState{
					Result:        raw,
					Status:        lastExecutionStatus(sc, name),
					OperationMode: mode,
					Timestamp:     now.UTC(),
				},
				storedAt: now,
			}
		}
	}
	s.mu.Unlock()

	if s.durable != nil {
		if err := s.durable.SaveContext(ctx, sc.SessionID, projection); err != nil {
			logger.Warn("durable context save failed",
				"session_id", sc.SessionID, "error", err)
		}
	}
	return nil
}

func lastExecutionStatus(sc *contract.SessionContext, pipeline string) string {
	records := sc.PipelineExecutions[pipeline]
	if len(records) == 0 {
		return ""
	}
	return records[len(records)-1].Status
}

// LoadSessionContext restores a context, preferring the in-process cache
// and falling back to the durable store.
func (s *Store) LoadSessionContext(ctx context.Context, sessionID string) (*contract.SessionContext, bool, error) {
	s.mu.Lock()
	cached, ok := s.contexts[sessionID]
	fresh := ok && s.now().Sub(cached.storedAt) <= s.contextTTL
	s.mu.Unlock()

	if fresh {
		sc, err := contract.ContextFromMap(cached.projection)
		if err == nil {
			return sc, true, nil
		}
		logger.Warn("cached context unreadable, falling back to durable store",
			"session_id", sessionID, "error", err)
	}

	if s.durable == nil {
		return nil, false, nil
	}
	projection, found, err := s.durable.LoadContext(ctx, sessionID)
	if err != nil || !found {
		return nil, false, err
	}
	sc, err := contract.ContextFromMap(projection)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	s.contexts[sessionID] = cachedContext{projection: projection, storedAt: s.now()}
	s.mu.Unlock()
	return sc, true, nil
}

// GetPipelineState returns the cached result of a pipeline for the
// session, if it is still within its TTL.
func (s *Store) GetPipelineState(sessionID, pipeline string) (PipelineState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states, ok := s.pipelineStates[sessionID]
	if !ok {
		return PipelineState{}, false
	}
	cached, ok := states[pipeline]
	if !ok || s.now().Sub(cached.storedAt) > s.pipelineTTL {
		return PipelineState{}, false
	}
	return cached.state, true
}

// DeleteSession drops both cache levels and the durable projection.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.contexts, sessionID)
	delete(s.pipelineStates, sessionID)
	s.mu.Unlock()

	if s.durable != nil {
		return s.durable.DeleteContext(ctx, sessionID)
	}
	return nil
}

// Cleanup removes in-process entries older than maxAge and returns how
// many were dropped. The durable store applies its own TTLs.
func (s *Store) Cleanup(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, cached := range s.contexts {
		if cached.storedAt.Before(cutoff) {
			delete(s.contexts, id)
			removed++
		}
	}
	for id, states := range s.pipelineStates {
		for name, cached := range states {
			if cached.storedAt.Before(cutoff) {
				delete(states, name)
				removed++
			}
		}
		if len(states) == 0 {
			delete(s.pipelineStates, id)
		}
	}
	return removed
}

// Start launches the background sweep; Stop terminates it.
func (s *Store) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})

	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := s.Cleanup(s.pipelineTTL); n > 0 {
					logger.Debug("session cache sweep", "removed", n)
				}
			case <-s.sweepStop:
				return
			}
		}
	}()
}

// Stop terminates the background sweep and waits for it to exit.
func (s *Store) Stop() {
	if s.sweepStop == nil {
		return
	}
	close(s.sweepStop)
	<-s.sweepDone
	s.sweepStop = nil
}
