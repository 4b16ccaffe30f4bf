// Package orchestrator routes incoming turns: pending confirmations are
// settled first, a resident contract machine advances next, and fresh
// turns are intent-classified into the contract flow or a delegate.
// Per-session work is serialized behind a keyed lock.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MercatoLabs/dealkit/assist"
	"github.com/MercatoLabs/dealkit/contract"
	"github.com/MercatoLabs/dealkit/logger"
	"github.com/MercatoLabs/dealkit/memory"
	"github.com/MercatoLabs/dealkit/metrics"
	"github.com/MercatoLabs/dealkit/types"
)

// internalErrorReply is the residual-failure sentence. The deferred
// recovery path emits it after clearing the session's machine.
const internalErrorReply = "There was an error processing your request."

// Delegate handles the non-contract intents (tool, rag, chat).
type Delegate interface {
	Handle(ctx context.Context, sessionID, text string) (string, error)
}

// DelegateFunc adapts a function to Delegate.
type DelegateFunc func(ctx context.Context, sessionID, text string) (string, error)

// Handle implements Delegate.
func (f DelegateFunc) Handle(ctx context.Context, sessionID, text string) (string, error) {
	return f(ctx, sessionID, text)
}

// MachineFactory builds a contract machine for a new session flow.
type MachineFactory func(sessionID string) *contract.Machine

// Orchestrator owns the resident machines and pending confirmations for
// all sessions.
type Orchestrator struct {
	helper     *assist.Helper
	memory     *memory.Manager
	newMachine MachineFactory
	artifacts  contract.ArtifactSink // optional

	tool Delegate
	rag  Delegate
	chat Delegate

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	machines map[string]*contract.Machine
	pending  map[string]types.Product
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithToolDelegate routes tool intents.
func WithToolDelegate(d Delegate) Option { return func(o *Orchestrator) { o.tool = d } }

// WithRAGDelegate routes knowledge-question intents.
func WithRAGDelegate(d Delegate) Option { return func(o *Orchestrator) { o.rag = d } }

// WithChatDelegate routes plain conversation.
func WithChatDelegate(d Delegate) Option { return func(o *Orchestrator) { o.chat = d } }

// WithArtifactSink attaches the audit sink for quick-confirmation orders.
func WithArtifactSink(s contract.ArtifactSink) Option {
	return func(o *Orchestrator) { o.artifacts = s }
}

// New creates the orchestrator.
func New(helper *assist.Helper, mem *memory.Manager, factory MachineFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		helper:     helper,
		memory:     mem,
		newMachine: factory,
		locks:      make(map[string]*sync.Mutex),
		machines:   make(map[string]*contract.Machine),
		pending:    make(map[string]types.Product),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// sessionLock returns the mutex serializing one session's turns.
func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[sessionID] = lock
	}
	return lock
}

// HandleTurn processes one user turn and returns the assistant reply.
// Residual panics clear the session's machine and surface as the generic
// error sentence so one broken turn cannot wedge the session.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, userID, text string) (reply string) {
	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("turn handler panicked",
				"session_id", sessionID, "panic", fmt.Sprint(r))
			o.clearMachine(sessionID)
			reply = internalErrorReply
		}
		o.recordMessage(ctx, sessionID, types.NewMessage("assistant", reply))
	}()

	o.recordMessage(ctx, sessionID, types.NewMessage("user", text))

	if product, ok := o.pendingProduct(sessionID); ok {
		return o.settlePending(ctx, sessionID, product, text)
	}

	if m, ok := o.residentMachine(sessionID); ok {
		reply = m.Next(ctx, text)
		if m.Terminal() {
			o.clearMachine(sessionID)
		}
		return reply
	}

	intent := o.helper.ClassifyIntent(ctx, text)
	switch intent {
	case assist.IntentContract:
		return o.startContract(ctx, sessionID, text)
	case assist.IntentTool:
		return o.delegate(ctx, o.tool, sessionID, text,
			"I can't run that tool right now.")
	case assist.IntentRAG:
		return o.delegate(ctx, o.rag, sessionID, text,
			"I don't have that information at hand.")
	default:
		return o.delegate(ctx, o.chat, sessionID, text,
			"I'm best at helping you find and buy products. What are you looking for?")
	}
}

// startContract spins up a machine, runs its first advance, and keeps it
// resident unless the first turn already ended the contract.
func (o *Orchestrator) startContract(ctx context.Context, sessionID, text string) string {
	m := o.newMachine(sessionID)
	reply := m.Next(ctx, text)
	if !m.Terminal() {
		o.mu.Lock()
		o.machines[sessionID] = m
		o.mu.Unlock()
		metrics.SessionStarted()
	}
	return reply
}

func (o *Orchestrator) delegate(ctx context.Context, d Delegate, sessionID, text, fallback string) string {
	if d == nil {
		return fallback
	}
	reply, err := d.Handle(ctx, sessionID, text)
	if err != nil {
		logger.Warn("delegate failed", "session_id", sessionID, "error", err)
		return fallback
	}
	return reply
}

// SetPendingConfirmation arms a yes/no confirmation for a product outside
// the contract flow (e.g. a quick re-order).
func (o *Orchestrator) SetPendingConfirmation(sessionID string, product types.Product) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[sessionID] = product
}

func (o *Orchestrator) pendingProduct(sessionID string) (types.Product, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pending[sessionID]
	return p, ok
}

// settlePending interprets the turn as yes/no/unknown for the armed
// product, short-circuiting the rest of the flow.
func (o *Orchestrator) settlePending(ctx context.Context, sessionID string, product types.Product, text string) string {
	switch classifyYesNo(text) {
	case answerYes:
		o.clearPending(sessionID)
		if o.artifacts != nil {
			sc := contract.NewSessionContext(sessionID, "quick_order", time.Now().UTC())
			sc.SelectedProduct = &product
			sc.ContractStatus = contract.ContractCompleted
			if err := o.artifacts.WriteContract(ctx, sc); err != nil {
				logger.Warn("quick order artifact write failed",
					"session_id", sessionID, "error", err)
			}
		}
		return fmt.Sprintf("Order confirmed! %s is on its way.", product.Name)
	case answerNo:
		o.clearPending(sessionID)
		return fmt.Sprintf("Okay, I won't order %s. Is there anything else I can help you with?", product.Name)
	default:
		return fmt.Sprintf("Should I order %s? Please reply yes or no.", product.Name)
	}
}

func (o *Orchestrator) clearPending(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, sessionID)
}

func (o *Orchestrator) residentMachine(sessionID string) (*contract.Machine, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.machines[sessionID]
	return m, ok
}

func (o *Orchestrator) clearMachine(sessionID string) {
	o.mu.Lock()
	_, had := o.machines[sessionID]
	delete(o.machines, sessionID)
	o.mu.Unlock()
	if had {
		metrics.SessionEnded()
	}
}

// EndSession clears all resident state for a session and drops its
// conversation buffer.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	o.clearMachine(sessionID)
	o.clearPending(sessionID)
	o.mu.Lock()
	delete(o.locks, sessionID)
	o.mu.Unlock()
	if o.memory != nil {
		return o.memory.ClearSession(ctx, sessionID)
	}
	return nil
}

func (o *Orchestrator) recordMessage(ctx context.Context, sessionID string, msg types.Message) {
	if o.memory == nil || msg.Content == "" {
		return
	}
	if err := o.memory.AddMessage(ctx, sessionID, msg); err != nil {
		logger.Warn("chat history write failed",
			"session_id", sessionID, "error", err)
	}
}

type yesNoAnswer int

const (
	answerUnknown yesNoAnswer = iota
	answerYes
	answerNo
)

var yesWords = []string{"yes", "y", "yeah", "yep", "sure", "ok", "okay", "confirm"}

var noWords = []string{"no", "n", "nope", "cancel", "stop", "don't"}

func classifyYesNo(text string) yesNoAnswer {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, w := range yesWords {
		if lower == w || strings.HasPrefix(lower, w+" ") || strings.HasPrefix(lower, w+",") {
			return answerYes
		}
	}
	for _, w := range noWords {
		if lower == w || strings.HasPrefix(lower, w+" ") || strings.HasPrefix(lower, w+",") {
			return answerNo
		}
	}
	return answerUnknown
}
