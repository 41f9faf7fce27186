package engine

import (
	"context"
	"log/slog"

	"github.com/ggonzalez94/spend-runner/internal/task"
)

// Handler runs one task to completion or recorded failure.
type Handler interface {
	Execute(ctx context.Context, t task.Task) bool
}

// PendingLister is the read side of the store the dispatcher drains.
type PendingLister interface {
	ListPending() ([]task.Task, error)
}

// Dispatcher routes tasks to handlers by kind. Adding a task kind means
// registering a handler, not touching dispatch plumbing.
type Dispatcher struct {
	handlers map[task.Kind]Handler
	logger   *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{handlers: make(map[task.Kind]Handler), logger: logger}
}

func (d *Dispatcher) Register(kind task.Kind, handler Handler) {
	d.handlers[kind] = handler
}

// Dispatch runs one task through its kind's handler. Unknown kinds are
// skipped, not failed: a newer writer may have enqueued a kind this build
// does not know yet.
func (d *Dispatcher) Dispatch(ctx context.Context, t task.Task) bool {
	handler, ok := d.handlers[t.Type]
	if !ok {
		d.logger.Warn("no handler for task kind", "task_id", t.ID, "task_type", string(t.Type))
		return false
	}
	return handler.Execute(ctx, t)
}

// RunPending drains every pending task once, sequentially, and reports how
// many ran to full success. Distinct task ids are independent; ordering
// within one run follows the store's listing.
func (d *Dispatcher) RunPending(ctx context.Context, store PendingLister) (int, error) {
	pending, err := store.ListPending()
	if err != nil {
		return 0, err
	}
	succeeded := 0
	for _, t := range pending {
		if d.Dispatch(ctx, t) {
			succeeded++
		}
	}
	return succeeded, nil
}
