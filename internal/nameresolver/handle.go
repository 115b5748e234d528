package nameresolver

import (
	"context"

	"github.com/8fs-io/ftsd/internal/ftypes"
	"github.com/8fs-io/ftsd/pkg/logger"
)

// request is the single mailbox message type: op runs against the Store on
// the actor goroutine, and its outcome is sent back on result.
type request struct {
	op     func(*Store) (interface{}, error)
	result chan response
}

type response struct {
	value interface{}
	err   error
}

// Handle is the sole entry point into a running name resolver actor. All
// access to the underlying Store happens on the actor's own goroutine.
type Handle struct {
	mailbox chan request
	cancel  context.CancelFunc
}

// Start launches the name resolver actor over store and returns a Handle
// bound to it. depth bounds the actor's mailbox channel capacity. The
// actor runs until ctx is cancelled or Stop is called.
func Start(ctx context.Context, store *Store, log logger.Logger, depth int) *Handle {
	if depth <= 0 {
		depth = 64
	}
	actorCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		mailbox: make(chan request, depth),
		cancel:  cancel,
	}

	go h.run(actorCtx, store, log)
	return h
}

func (h *Handle) run(ctx context.Context, store *Store, log logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			log.Info("name resolver actor stopping")
			return
		case req := <-h.mailbox:
			value, err := req.op(store)
			req.result <- response{value: value, err: err}
		}
	}
}

// Stop cancels the actor goroutine. It does not close the underlying Store.
func (h *Handle) Stop() {
	h.cancel()
}

func (h *Handle) call(ctx context.Context, op func(*Store) (interface{}, error)) (interface{}, error) {
	req := request{op: op, result: make(chan response, 1)}
	select {
	case h.mailbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.result:
		return resp.value, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve looks up name.
func (h *Handle) Resolve(ctx context.Context, name string) (*ftypes.NameBinding, error) {
	v, err := h.call(ctx, func(s *Store) (interface{}, error) { return s.Resolve(name) })
	if err != nil {
		return nil, err
	}
	return v.(*ftypes.NameBinding), nil
}

// Create mints a binding for name.
func (h *Handle) Create(ctx context.Context, name string) (*ftypes.NameBinding, error) {
	v, err := h.call(ctx, func(s *Store) (interface{}, error) { return s.Create(name) })
	if err != nil {
		return nil, err
	}
	return v.(*ftypes.NameBinding), nil
}

// getOrCreateResult carries both return values of Store.GetOrCreate through
// the single-value mailbox response.
type getOrCreateResult struct {
	binding *ftypes.NameBinding
	created bool
}

// GetOrCreate resolves name, creating it if absent, atomically.
func (h *Handle) GetOrCreate(ctx context.Context, name string) (*ftypes.NameBinding, bool, error) {
	v, err := h.call(ctx, func(s *Store) (interface{}, error) {
		binding, created, err := s.GetOrCreate(name)
		if err != nil {
			return nil, err
		}
		return getOrCreateResult{binding: binding, created: created}, nil
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(getOrCreateResult)
	return r.binding, r.created, nil
}

// Delete removes the binding for name.
func (h *Handle) Delete(ctx context.Context, name string) error {
	_, err := h.call(ctx, func(s *Store) (interface{}, error) { return nil, s.Delete(name) })
	return err
}

// Rename moves the binding at oldName to newName.
func (h *Handle) Rename(ctx context.Context, oldName, newName string) (*ftypes.NameBinding, error) {
	v, err := h.call(ctx, func(s *Store) (interface{}, error) { return s.Rename(oldName, newName) })
	if err != nil {
		return nil, err
	}
	return v.(*ftypes.NameBinding), nil
}

// List returns every known binding.
func (h *Handle) List(ctx context.Context) ([]ftypes.NameBinding, error) {
	v, err := h.call(ctx, func(s *Store) (interface{}, error) { return s.List() })
	if err != nil {
		return nil, err
	}
	return v.([]ftypes.NameBinding), nil
}

// Snapshot copies a point-in-time view of the store into dir.
func (h *Handle) Snapshot(ctx context.Context, dir string) error {
	_, err := h.call(ctx, func(s *Store) (interface{}, error) { return nil, s.Snapshot(dir) })
	return err
}
