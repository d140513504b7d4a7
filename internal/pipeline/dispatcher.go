// Package pipeline moves symbol events from their source blobs through the
// delta engine to the message sink, and from the queue into the record store.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/deltafeed/internal/delta"
	"github.com/alanyoungcy/deltafeed/internal/domain"
	"github.com/alanyoungcy/deltafeed/internal/metrics"
	"github.com/alanyoungcy/deltafeed/internal/notify"
)

// DeltaComputer is the engine operation the dispatcher depends on.
type DeltaComputer interface {
	Compute(ctx context.Context, symbol, curValue string) (delta.Result, error)
}

// Alerter raises operator alerts. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the clock used for procTimeStamp.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithAlerter sets the alerter used for sink and deletion failures.
func WithAlerter(a Alerter) Option {
	return func(d *Dispatcher) { d.alerter = a }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher runs one event through the engine and forwards the resulting
// DeltaRecord. Sink and deletion are independent best-effort steps: their
// failures are logged, counted and alerted but never returned.
type Dispatcher struct {
	engine  DeltaComputer
	sink    domain.MessageSink
	deleter domain.DeletionNotifier
	now     func() time.Time
	alerter Alerter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. deleter may be nil, in which case no
// deletion is requested.
func NewDispatcher(engine DeltaComputer, sink domain.MessageSink, deleter domain.DeletionNotifier, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		engine:  engine,
		sink:    sink,
		deleter: deleter,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "dispatcher")),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch computes the delta for ev, sends the record to the sink and then
// requests deletion of originID. An engine error aborts before anything is
// sent; otherwise the returned error is nil.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.SymbolEvent, originID string) (domain.DeltaRecord, error) {
	start := time.Now()
	defer func() { d.metrics.ObserveDispatch(time.Since(start)) }()

	res, err := d.engine.Compute(ctx, ev.Symbol, ev.Value)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedInput) {
			d.RecordMalformed(ctx, originID, err)
		} else {
			d.metrics.Event(metrics.OutcomeError)
		}
		return domain.DeltaRecord{}, fmt.Errorf("pipeline: dispatch %s: %w", originID, err)
	}

	rec := BuildRecord(ev, res, originID, d.now())
	d.metrics.Event(outcome(res))

	d.send(ctx, rec)
	d.requestDeletion(ctx, originID)

	d.logger.DebugContext(ctx, "event dispatched",
		slog.String("symbol", rec.Symbol),
		slog.String("delta", rec.DeltaOrEmpty()),
		slog.String("origin", originID),
	)
	return rec, nil
}

// RecordMalformed counts and alerts on an event that could not be processed
// because its content is invalid.
func (d *Dispatcher) RecordMalformed(ctx context.Context, originID string, err error) {
	d.metrics.Event(metrics.OutcomeMalformed)
	d.logger.WarnContext(ctx, "malformed event",
		slog.String("origin", originID),
		slog.String("error", err.Error()),
	)
	d.alert(ctx, notify.EventMalformedEvent, "Malformed symbol event",
		fmt.Sprintf("origin=%s error=%v", originID, err))
}

func (d *Dispatcher) send(ctx context.Context, rec domain.DeltaRecord) {
	payload, err := json.Marshal(rec)
	if err == nil {
		err = d.sink.Send(ctx, rec.Symbol, payload)
	}
	if err == nil {
		return
	}

	d.metrics.SinkFailure(d.sink.Name())
	d.logger.ErrorContext(ctx, "sink send failed",
		slog.String("sink", d.sink.Name()),
		slog.String("symbol", rec.Symbol),
		slog.String("origin", rec.OrigOrder),
		slog.String("error", err.Error()),
	)
	d.alert(ctx, notify.EventSinkFailed, "Delta record not delivered",
		fmt.Sprintf("sink=%s symbol=%s origin=%s error=%v", d.sink.Name(), rec.Symbol, rec.OrigOrder, err))
}

func (d *Dispatcher) requestDeletion(ctx context.Context, originID string) {
	if d.deleter == nil {
		return
	}
	err := d.deleter.RequestDeletion(ctx, originID)
	if err == nil {
		return
	}

	d.metrics.DeleteFailure()
	d.logger.WarnContext(ctx, "deletion request failed",
		slog.String("origin", originID),
		slog.String("error", err.Error()),
	)
	d.alert(ctx, notify.EventDeleteFailed, "Blob deletion failed",
		fmt.Sprintf("origin=%s error=%v", originID, err))
}

func (d *Dispatcher) alert(ctx context.Context, event, title, message string) {
	if d.alerter == nil {
		return
	}
	if err := d.alerter.Notify(ctx, event, title, message); err != nil {
		d.logger.WarnContext(ctx, "alert failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// BuildRecord assembles the outbound record. at is rendered as milliseconds
// since the Unix epoch.
func BuildRecord(ev domain.SymbolEvent, res delta.Result, originID string, at time.Time) domain.DeltaRecord {
	return domain.DeltaRecord{
		Symbol:        ev.Symbol,
		Delta:         res.Delta,
		CurValue:      ev.Value,
		OrigOrder:     originID,
		ProcTimeStamp: strconv.FormatInt(at.UnixMilli(), 10),
	}
}

func outcome(res delta.Result) string {
	switch {
	case res.Reset:
		return metrics.OutcomeReset
	case res.Delta == nil:
		return metrics.OutcomeFirstSight
	default:
		return metrics.OutcomeDelta
	}
}
