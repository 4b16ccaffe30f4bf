// Package audit writes compliance artifacts: gzip-compressed JSON
// snapshots of chats, contract runs and completed contracts, laid out by
// kind and date so retention sweeps can operate on prefixes.
package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MercatoLabs/dealkit/contract"
	"github.com/MercatoLabs/dealkit/types"
)

// Artifact kinds.
const (
	KindChat      = "chat"
	KindFSM       = "fsm"
	KindContracts = "contracts"
)

// RetentionPolicy is stamped into every artifact payload.
const RetentionPolicy = "7_years"

// ObjectStore is the artifact backend. Put must be atomic per key.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error
}

// Writer composes and stores audit artifacts.
type Writer struct {
	store ObjectStore
	now   func() time.Time
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithClock overrides the clock for tests.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// NewWriter creates an artifact writer over the given backend.
func NewWriter(store ObjectStore, opts ...WriterOption) *Writer {
	w := &Writer{store: store, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// artifactKey builds audit/<kind>/YYYY/MM/DD/<session>_HHMMSS.json.gz.
func artifactKey(kind, sessionID string, at time.Time) string {
	return fmt.Sprintf("audit/%s/%s/%s_%s.json.gz",
		kind, at.Format("2006/01/02"), sessionID, at.Format("150405"))
}

// write composes the envelope, compresses it, and stores it with the
// required metadata headers.
func (w *Writer) write(ctx context.Context, kind, sessionID, userID string, payload map[string]any) error {
	at := w.now().UTC()

	envelope := map[string]any{
		"artifact_id":      uuid.NewString(),
		"artifact_type":    kind,
		"session_id":       sessionID,
		"user_id":          userID,
		"timestamp":        at.Format(time.RFC3339),
		"retention_policy": RetentionPolicy,
	}
	for k, v := range payload {
		envelope[k] = v
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return fmt.Errorf("compress artifact: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress artifact: %w", err)
	}

	return w.store.Put(ctx, artifactKey(kind, sessionID, at), buf.Bytes(), map[string]string{
		"session_id":    sessionID,
		"user_id":       userID,
		"artifact_type": kind,
	})
}

// WriteContract emits the completed-contract artifact. Satisfies
// contract.ArtifactSink.
func (w *Writer) WriteContract(ctx context.Context, sc *contract.SessionContext) error {
	projection, err := sc.ToMap()
	if err != nil {
		return err
	}
	return w.write(ctx, KindContracts, sc.SessionID, "", map[string]any{
		"contract": projection,
	})
}

// WriteChat snapshots a conversation transcript.
func (w *Writer) WriteChat(ctx context.Context, sessionID, userID string, messages []types.Message) error {
	return w.write(ctx, KindChat, sessionID, userID, map[string]any{
		"messages": messages,
	})
}

// WriteFSM snapshots a contract run's transition history for debugging
// and compliance review.
func (w *Writer) WriteFSM(ctx context.Context, sc *contract.SessionContext) error {
	return w.write(ctx, KindFSM, sc.SessionID, "", map[string]any{
		"current_state":   string(sc.CurrentState),
		"contract_status": sc.ContractStatus,
		"step_log":        sc.StepLog,
		"tools_used":      sc.ToolsUsed,
	})
}
