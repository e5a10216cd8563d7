// Package autosave keeps the durable store eventually consistent with an
// in-memory workspace graph. Bursts of edits are collapsed by a debounce
// timer, saves are skipped when the graph fingerprint did not change, and a
// failed durable save falls back to a full local copy.
package autosave

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/canvas-studio/engine/internal/graph"
	"github.com/canvas-studio/engine/internal/localstore"
	"github.com/canvas-studio/engine/internal/metrics"
	appErr "github.com/canvas-studio/engine/pkg/errors"
	"github.com/canvas-studio/engine/pkg/logger"
	"go.uber.org/zap"
)

const (
	DefaultDebounce    = 2 * time.Second
	DefaultSaveTimeout = 30 * time.Second
)

// State is the sync state of one workspace session.
type State string

const (
	StateIdle   State = "idle"
	StateDirty  State = "dirty"
	StateSaving State = "saving"
	// StateError is idle after a failed durable save. SavedLocally tells
	// whether the edits are safe in the local store.
	StateError State = "error"
)

// Status is a point-in-time view for the UI.
type Status struct {
	State        State     `json:"state"`
	LastSavedAt  time.Time `json:"last_saved_at,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	SavedLocally bool      `json:"saved_locally"`
}

// Saver writes a full graph to the durable store.
type Saver interface {
	SaveGraph(ctx context.Context, g graph.Graph) error
}

type SaverFunc func(ctx context.Context, g graph.Graph) error

func (f SaverFunc) SaveGraph(ctx context.Context, g graph.Graph) error { return f(ctx, g) }

type Options struct {
	Debounce    time.Duration
	SaveTimeout time.Duration
	// OnStatus is called after every state change, outside internal locks.
	OnStatus func(Status)
}

// Policy runs autosave for one workspace session.
type Policy struct {
	workspaceID string
	saver       Saver
	local       localstore.Store
	opts        Options

	saveMu sync.Mutex // one save in flight

	mu          sync.Mutex
	current     graph.Graph
	haveCurrent bool
	savedFP     string
	timer       *time.Timer
	saving      bool
	closed      bool
	status      Status
}

func New(workspaceID string, saver Saver, local localstore.Store, opts Options) *Policy {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = DefaultSaveTimeout
	}
	return &Policy{
		workspaceID: workspaceID,
		saver:       saver,
		local:       local,
		opts:        opts,
		status:      Status{State: StateIdle},
	}
}

// Baseline records g as already persisted, typically right after loading it.
func (p *Policy) Baseline(g graph.Graph) {
	p.mu.Lock()
	p.current = g.Clone()
	p.haveCurrent = true
	p.savedFP = g.Fingerprint()
	p.mu.Unlock()
}

// Observe is called after every graph mutation.
func (p *Policy) Observe(g graph.Graph) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.current = g.Clone()
	p.haveCurrent = true

	if g.Fingerprint() == p.savedFP {
		// Edited back to what is persisted.
		p.stopTimerLocked()
		if !p.saving && p.status.State == StateDirty {
			p.status.State = StateIdle
			st := p.status
			p.mu.Unlock()
			p.notify(st)
			return
		}
		p.mu.Unlock()
		return
	}

	if p.saving {
		// The in-flight save re-arms the timer when it finishes.
		p.mu.Unlock()
		return
	}
	p.status.State = StateDirty
	p.armTimerLocked()
	st := p.status
	p.mu.Unlock()
	p.notify(st)
}

// SaveNow cancels a pending debounce and saves immediately.
func (p *Policy) SaveNow(ctx context.Context) error {
	return p.save(ctx, "manual")
}

// Close stops the timer and flushes unsaved edits before returning.
func (p *Policy) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.stopTimerLocked()
	p.mu.Unlock()
	return p.save(ctx, "teardown")
}

// Status returns the current sync status.
func (p *Policy) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Dirty reports whether the latest observed graph differs from the last
// durable save.
func (p *Policy) Dirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.haveCurrent && p.current.Fingerprint() != p.savedFP
}

func (p *Policy) armTimerLocked() {
	p.stopTimerLocked()
	p.timer = time.AfterFunc(p.opts.Debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.SaveTimeout)
		defer cancel()
		_ = p.save(ctx, "debounce")
	})
}

func (p *Policy) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Policy) save(ctx context.Context, reason string) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	p.mu.Lock()
	p.stopTimerLocked()
	if !p.haveCurrent {
		p.mu.Unlock()
		return nil
	}
	g := p.current.Clone()
	fp := g.Fingerprint()
	if fp == p.savedFP {
		p.mu.Unlock()
		return nil
	}
	p.saving = true
	p.status.State = StateSaving
	st := p.status
	p.mu.Unlock()
	p.notify(st)

	log := logger.L().With(zap.String("workspace_id", p.workspaceID), zap.String("reason", reason))
	saveErr := p.saver.SaveGraph(ctx, g)

	var localErr error
	if saveErr != nil {
		localErr = p.saveLocal(g)
	} else if err := p.local.Delete(p.workspaceID); err != nil {
		log.Warn("clear local copy failed", zap.Error(err))
	}

	p.mu.Lock()
	p.saving = false
	switch {
	case saveErr == nil:
		p.savedFP = fp
		p.status = Status{State: StateIdle, LastSavedAt: time.Now()}
		metrics.AutosaveResults.WithLabelValues("saved").Inc()
		log.Debug("graph saved")
	case localErr == nil:
		p.status.State = StateError
		p.status.LastError = saveErr.Error()
		p.status.SavedLocally = true
		metrics.AutosaveResults.WithLabelValues("fallback").Inc()
		log.Warn("durable save failed, kept local copy", zap.Error(saveErr))
	default:
		p.status.State = StateError
		p.status.LastError = saveErr.Error()
		p.status.SavedLocally = false
		metrics.AutosaveResults.WithLabelValues("failed").Inc()
		log.Error("durable and local save failed", zap.Error(saveErr), zap.NamedError("local_error", localErr))
	}
	// Edits that landed while saving get their own save.
	if !p.closed && p.current.Fingerprint() != p.savedFP && (saveErr == nil || p.current.Fingerprint() != fp) {
		p.status.State = StateDirty
		p.armTimerLocked()
	}
	st = p.status
	p.mu.Unlock()
	p.notify(st)

	if saveErr != nil && localErr != nil {
		return appErr.Wrap(saveErr, appErr.CodeUnavailable, "save failed and local fallback failed")
	}
	return nil
}

func (p *Policy) saveLocal(g graph.Graph) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return p.local.Put(p.workspaceID, payload)
}

// Recover pushes a graph left in the local store by an earlier failed save
// to the durable store, and clears it on success. The recovered graph is the
// newest edit the user made, so it also becomes the policy's current graph.
// It returns the graph and whether a local copy was recovered.
func (p *Policy) Recover(ctx context.Context) (graph.Graph, bool, error) {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	entry, ok, err := p.local.Get(p.workspaceID)
	if err != nil || !ok {
		return graph.Graph{}, false, err
	}
	var g graph.Graph
	if err := json.Unmarshal(entry.Payload, &g); err != nil {
		return graph.Graph{}, false, appErr.Wrap(err, appErr.CodeInvalid, "decode local copy failed")
	}
	if err := p.saver.SaveGraph(ctx, g); err != nil {
		return graph.Graph{}, false, appErr.Wrap(err, appErr.CodeUnavailable, "recover local copy failed")
	}
	if err := p.local.Delete(p.workspaceID); err != nil {
		logger.L().Warn("clear recovered local copy failed", zap.String("workspace_id", p.workspaceID), zap.Error(err))
	}

	p.mu.Lock()
	p.stopTimerLocked()
	p.savedFP = g.Fingerprint()
	p.current = g.Clone()
	p.haveCurrent = true
	p.status = Status{State: StateIdle, LastSavedAt: time.Now()}
	st := p.status
	p.mu.Unlock()
	p.notify(st)

	metrics.AutosaveResults.WithLabelValues("recovered").Inc()
	logger.L().Info("recovered local copy", zap.String("workspace_id", p.workspaceID), zap.Time("saved_at", entry.SavedAt))
	return g, true, nil
}

func (p *Policy) notify(st Status) {
	if p.opts.OnStatus != nil {
		p.opts.OnStatus(st)
	}
}
