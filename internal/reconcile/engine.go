// Package reconcile converges the persisted records of one entity kind in a
// workspace to a caller-supplied desired set.
package reconcile

import (
	"context"

	"github.com/canvas-studio/engine/internal/metrics"
	appErr "github.com/canvas-studio/engine/pkg/errors"
	"github.com/canvas-studio/engine/pkg/logger"
	"go.uber.org/zap"
)

// Entity is anything with a stable id scoped to a workspace.
type Entity interface {
	EntityID() string
	EntityWorkspaceID() string
}

type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Op is one mutation inside a reconciliation transaction. Data is zero for deletes.
type Op[T Entity] struct {
	Kind OpKind
	ID   string
	Data T
}

// Keyed entities carry a unique key besides their id, such as the
// (source, target, type) triple of a connection.
type Keyed interface {
	UniqueKey() string
}

// Store is the durable side of one entity kind.
type Store[T Entity] interface {
	// ListByWorkspace returns the entities currently persisted for the workspace.
	ListByWorkspace(ctx context.Context, workspaceID string) ([]T, error)
	// Transaction applies all ops or none of them.
	Transaction(ctx context.Context, workspaceID string, ops []Op[T]) error
}

// Validator rejects a desired set before anything is written.
type Validator[T Entity] func(ctx context.Context, workspaceID string, desired []T) error

// Result counts the applied operations.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// Engine reconciles a single entity kind.
type Engine[T Entity] struct {
	kind     string
	store    Store[T]
	validate Validator[T]
}

func NewEngine[T Entity](kind string, store Store[T], validate Validator[T]) *Engine[T] {
	return &Engine[T]{kind: kind, store: store, validate: validate}
}

// Plan partitions desired against the current rows. Deletes come first in
// the returned slice, then updates, then creates, so that a deleted row frees
// any unique key a created row reuses. An existing Keyed row whose key
// changes is planned as a delete plus a create, which lets rows swap keys
// without tripping the unique index; it still counts as one update.
func Plan[T Entity](current, desired []T) ([]Op[T], Result) {
	existing := make(map[string]T, len(current))
	for _, c := range current {
		existing[c.EntityID()] = c
	}
	wanted := make(map[string]struct{}, len(desired))
	for _, d := range desired {
		wanted[d.EntityID()] = struct{}{}
	}

	var res Result
	var deletes, updates, creates []Op[T]
	for _, c := range current {
		if _, ok := wanted[c.EntityID()]; !ok {
			deletes = append(deletes, Op[T]{Kind: OpDelete, ID: c.EntityID()})
			res.Deleted++
		}
	}
	for _, d := range desired {
		id := d.EntityID()
		cur, ok := existing[id]
		switch {
		case !ok:
			creates = append(creates, Op[T]{Kind: OpCreate, ID: id, Data: d})
			res.Created++
		case rekeyed(cur, d):
			deletes = append(deletes, Op[T]{Kind: OpDelete, ID: id})
			creates = append(creates, Op[T]{Kind: OpCreate, ID: id, Data: d})
			res.Updated++
		default:
			updates = append(updates, Op[T]{Kind: OpUpdate, ID: id, Data: d})
			res.Updated++
		}
	}

	ops := make([]Op[T], 0, len(deletes)+len(updates)+len(creates))
	ops = append(ops, deletes...)
	ops = append(ops, updates...)
	ops = append(ops, creates...)
	return ops, res
}

func rekeyed[T Entity](cur, next T) bool {
	a, ok := any(cur).(Keyed)
	if !ok {
		return false
	}
	b, ok := any(next).(Keyed)
	return ok && a.UniqueKey() != b.UniqueKey()
}

// Prepare validates desired and plans the ops that converge the store to it
// without writing anything. Callers that apply the ops themselves report
// them with Committed.
func (e *Engine[T]) Prepare(ctx context.Context, workspaceID string, desired []T) ([]Op[T], Result, error) {
	if err := e.Check(ctx, workspaceID, desired); err != nil {
		return nil, Result{}, err
	}
	current, err := e.store.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, Result{}, appErr.Wrap(err, appErr.CodeUnavailable, "list current "+e.kind+" failed")
	}
	ops, res := Plan(current, desired)
	return ops, res, nil
}

// Reconcile makes the store hold exactly desired for workspaceID. Nothing is
// written when validation fails, and a failed transaction leaves the store
// untouched.
func (e *Engine[T]) Reconcile(ctx context.Context, workspaceID string, desired []T) (Result, error) {
	ops, res, err := e.Prepare(ctx, workspaceID, desired)
	if err != nil {
		return Result{}, err
	}
	if len(ops) == 0 {
		return res, nil
	}
	if err := e.store.Transaction(ctx, workspaceID, ops); err != nil {
		return Result{}, ApplyError(e.kind, err)
	}
	e.Committed(workspaceID, res)
	return res, nil
}

// ApplyError classifies a failed reconciliation transaction. Unique key
// conflicts keep their code; anything else is reported as the store being
// unavailable.
func ApplyError(kind string, err error) error {
	if appErr.CodeOf(err) == appErr.CodeConflict {
		return err
	}
	return appErr.Wrap(err, appErr.CodeUnavailable, "reconcile "+kind+" failed")
}

// Committed records metrics for ops applied on behalf of this engine.
func (e *Engine[T]) Committed(workspaceID string, res Result) {
	metrics.ReconciledOps.WithLabelValues(e.kind, string(OpCreate)).Add(float64(res.Created))
	metrics.ReconciledOps.WithLabelValues(e.kind, string(OpUpdate)).Add(float64(res.Updated))
	metrics.ReconciledOps.WithLabelValues(e.kind, string(OpDelete)).Add(float64(res.Deleted))
	logger.L().Debug("reconciled",
		zap.String("kind", e.kind),
		zap.String("workspace_id", workspaceID),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("deleted", res.Deleted),
	)
}

// Check runs the validation of Reconcile without reading or writing the
// store.
func (e *Engine[T]) Check(ctx context.Context, workspaceID string, desired []T) error {
	if err := checkIdentity(workspaceID, desired); err != nil {
		return err
	}
	if e.validate != nil {
		return e.validate(ctx, workspaceID, desired)
	}
	return nil
}

func checkIdentity[T Entity](workspaceID string, desired []T) error {
	if workspaceID == "" {
		return appErr.New(appErr.CodeInvalid, "workspace id is required")
	}
	seen := make(map[string]struct{}, len(desired))
	for _, d := range desired {
		id := d.EntityID()
		if id == "" {
			return appErr.New(appErr.CodeInvalid, "entity id is required")
		}
		if _, dup := seen[id]; dup {
			return appErr.Newf(appErr.CodeInvalid, "duplicate id %q in desired set", id)
		}
		seen[id] = struct{}{}
		if ws := d.EntityWorkspaceID(); ws != "" && ws != workspaceID {
			return appErr.Newf(appErr.CodeInvalid, "entity %q belongs to workspace %q", id, ws)
		}
	}
	return nil
}
