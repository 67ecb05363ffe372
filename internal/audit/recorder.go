package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"grove/internal/platform/metrics"
	"grove/pkg/platform/privacy"
	"grove/pkg/requestcontext"
)

// Recorder accepts events from request paths and hands them to sinks on a
// background worker. Recording is best-effort: a full queue drops the event
// and bumps a counter, it never blocks or fails the primary operation.
type Recorder struct {
	sinks   []Sink
	inbox   chan Event
	logger  *slog.Logger
	metrics *metrics.Metrics

	closeOnce sync.Once
	done      chan struct{}
	drained   chan struct{}
}

// NewRecorder wires a Recorder with the given queue depth and starts its
// worker. Call Close during shutdown to drain the queue.
func NewRecorder(sinks []Sink, logger *slog.Logger, m *metrics.Metrics, queueDepth int) *Recorder {
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	r := &Recorder{
		sinks:   sinks,
		inbox:   make(chan Event, queueDepth),
		logger:  logger,
		metrics: m,
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	go r.run()
	return r
}

// Record finalizes and enqueues an event. Identifiers are redacted and the
// IP anonymized here, before the event leaves the request path, so no sink
// ever sees a raw identifier. Never blocks.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.IP == "" {
		event.IP = requestcontext.ClientIP(ctx)
	}

	event.UserID = privacy.RedactIdentifier(event.UserID)
	event.SessionID = privacy.RedactIdentifier(event.SessionID)
	if event.IP != "" {
		event.IP = privacy.AnonymizeIP(event.IP)
	}

	select {
	case r.inbox <- event:
	default:
		r.metrics.AuditDropped.Inc()
		r.logger.Warn("audit queue full, event dropped", "type", string(event.Type))
	}
}

func (r *Recorder) run() {
	defer close(r.drained)
	for {
		select {
		case event := <-r.inbox:
			r.deliver(event)
		case <-r.done:
			// Drain what is already queued, then stop.
			for {
				select {
				case event := <-r.inbox:
					r.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) deliver(event Event) {
	// Sinks get their own deadline; a wedged sink must not stall the worker
	// indefinitely.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, sink := range r.sinks {
		if err := sink.Append(ctx, event); err != nil {
			r.logger.Error("audit sink append failed", "type", string(event.Type), "error", err)
		}
	}
}

// Close stops the worker after draining queued events. Record calls after
// Close may be silently dropped.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() { close(r.done) })
	<-r.drained
}
