package updatestore

import (
	"context"
	"io"
	"time"

	"github.com/8fs-io/ftsd/internal/ftypes"
	"github.com/8fs-io/ftsd/internal/metrics"
	"github.com/8fs-io/ftsd/pkg/logger"
)

// Applier is the index worker's Apply entry point, as seen from this tier.
// Defined here (rather than imported from internal/indexworker) to keep
// the dependency edge pointing from updatestore -> indexworker's
// interface only, not its implementation.
type Applier interface {
	Apply(ctx context.Context, indexID ftypes.IndexId, job *ftypes.UpdateJob) (*ftypes.UpdateResult, error)
}

type request struct {
	op     func(*Store) (interface{}, error)
	result chan response
}

type response struct {
	value interface{}
	err   error
}

// Handle is the actor boundary for one index's update store: all access
// to its Store happens on the actor goroutine, and a second goroutine
// drains Enqueued jobs into the Applier, one at a time, preserving
// per-index write serialization.
type Handle struct {
	mailbox  chan request
	wakeProc chan struct{}
	cancel   context.CancelFunc
	metrics  *metrics.Metrics
	indexID  ftypes.IndexId
}

// Start opens store's processing loop and returns a Handle bound to it.
// If recoverOnStart is true, any job left Processing by a prior crash is
// re-enqueued before new submissions are accepted. depth bounds the
// actor's mailbox channel capacity; m may be nil, in which case metrics
// observation is skipped.
func Start(ctx context.Context, store *Store, applier Applier, log logger.Logger, recoverOnStart bool, depth int, m *metrics.Metrics) (*Handle, error) {
	if recoverOnStart {
		if _, err := store.RecoverProcessing(); err != nil {
			return nil, err
		}
	}
	if depth <= 0 {
		depth = 64
	}

	actorCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		mailbox:  make(chan request, depth),
		wakeProc: make(chan struct{}, 1),
		cancel:   cancel,
		metrics:  m,
		indexID:  store.indexID,
	}

	go h.runMailbox(actorCtx, store, log)
	go h.runProcessor(actorCtx, store, applier, log)

	select {
	case h.wakeProc <- struct{}{}:
	default:
	}

	return h, nil
}

// Stop cancels both the mailbox and processing goroutines.
func (h *Handle) Stop() {
	h.cancel()
}

// Remove stops the actor goroutines and deletes the store's entire
// on-disk directory. Callers must not use h after calling Remove.
func (h *Handle) Remove(ctx context.Context, store *Store) error {
	h.Stop()
	return store.Remove()
}

func (h *Handle) runMailbox(ctx context.Context, store *Store, log logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			log.Info("update store actor stopping")
			return
		case req := <-h.mailbox:
			value, err := req.op(store)
			req.result <- response{value: value, err: err}
		}
	}
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

// Submit streams payload, reserves the next update_id, and inserts an
// Enqueued job row, then wakes the processing loop.
func (h *Handle) Submit(ctx context.Context, meta ftypes.JobMeta, payload io.Reader) (*ftypes.UpdateJob, error) {
	v, err := h.call(ctx, func(s *Store) (interface{}, error) {
		updateID, err := s.NextUpdateID()
		if err != nil {
			return nil, err
		}

		var payloadPath string
		if payload != nil {
			payloadPath, err = s.WritePayload(updateID, payload)
			if err != nil {
				return nil, err
			}
		}

		return s.Submit(updateID, meta, payloadPath)
	})
	if err != nil {
		return nil, err
	}

	if h.metrics != nil {
		h.metrics.JobsSubmitted.WithLabelValues(string(meta.Kind)).Inc()
		h.metrics.QueueDepth.WithLabelValues(h.indexID.String()).Inc()
	}

	select {
	case h.wakeProc <- struct{}{}:
	default:
	}

	return v.(*ftypes.UpdateJob), nil
}

// Get fetches a single job's status.
func (h *Handle) Get(ctx context.Context, updateID int64) (*ftypes.UpdateJob, error) {
	v, err := h.call(ctx, func(s *Store) (interface{}, error) { return s.Get(updateID) })
	if err != nil {
		return nil, err
	}
	return v.(*ftypes.UpdateJob), nil
}

// List returns every job for this index.
func (h *Handle) List(ctx context.Context) ([]*ftypes.UpdateJob, error) {
	v, err := h.call(ctx, func(s *Store) (interface{}, error) { return s.List() })
	if err != nil {
		return nil, err
	}
	return v.([]*ftypes.UpdateJob), nil
}

// IsProcessing reports whether this index currently has a job in the
// Processing state.
func (h *Handle) IsProcessing(ctx context.Context) (bool, error) {
	v, err := h.call(ctx, func(s *Store) (interface{}, error) { return s.HasProcessingJob() })
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Snapshot copies a consistent view of the job store into dir.
func (h *Handle) Snapshot(ctx context.Context, dir string) error {
	_, err := h.call(ctx, func(s *Store) (interface{}, error) { return nil, s.Snapshot(dir) })
	return err
}

// runProcessor drains Enqueued jobs one at a time, serializing writes
// against this index, and folds the Applier's result into a terminal
// state transition.
func (h *Handle) runProcessor(ctx context.Context, store *Store, applier Applier, log logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.wakeProc:
			for {
				processedOne, err := h.processNext(ctx, store, applier, log)
				if err != nil {
					log.Error("update store processing loop error", "error", err)
					break
				}
				if !processedOne {
					break
				}
			}
		}
	}
}

func (h *Handle) processNext(ctx context.Context, store *Store, applier Applier, log logger.Logger) (bool, error) {
	job, err := store.NextEnqueued()
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	if err := store.MarkProcessing(job.UpdateID); err != nil {
		return false, err
	}
	job.State = ftypes.StateProcessing
	if h.metrics != nil {
		h.metrics.QueueDepth.WithLabelValues(h.indexID.String()).Dec()
	}

	start := time.Now()
	result, applyErr := applier.Apply(ctx, job.IndexID, job)

	if h.metrics != nil {
		h.metrics.JobDuration.WithLabelValues(string(job.Meta.Kind)).Observe(time.Since(start).Seconds())
	}

	if applyErr != nil {
		log.Warn("update job failed", "update_id", job.UpdateID, "index_id", job.IndexID, "error", applyErr, "duration", time.Since(start))
		if err := store.Finish(job.UpdateID, ftypes.StateFailed, nil, applyErr.Error()); err != nil {
			return false, err
		}
		if h.metrics != nil {
			h.metrics.JobsProcessed.WithLabelValues(string(job.Meta.Kind), "failed").Inc()
		}
		return true, nil
	}

	log.Info("update job processed", "update_id", job.UpdateID, "index_id", job.IndexID, "duration", time.Since(start))
	if err := store.Finish(job.UpdateID, ftypes.StateProcessed, result, ""); err != nil {
		return false, err
	}
	if h.metrics != nil {
		h.metrics.JobsProcessed.WithLabelValues(string(job.Meta.Kind), "processed").Inc()
	}
	return true, nil
}
