package instrumentation

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/idpkit/idpkit/store"
)

// instrumentedAdapter decorates a store.Adapter with metrics and tracing.
type instrumentedAdapter struct {
	next   store.Adapter
	kind   store.Kind
	inst   *Instrumentation
	tracer trace.Tracer
}

// WrapAdapter decorates an adapter so every operation is counted, timed and
// traced. A nil Instrumentation returns the adapter unchanged.
func WrapAdapter(next store.Adapter, kind store.Kind, inst *Instrumentation) store.Adapter {
	if inst == nil {
		return next
	}
	return &instrumentedAdapter{
		next:   next,
		kind:   kind,
		inst:   inst,
		tracer: inst.Tracer("store"),
	}
}

var _ store.Adapter = (*instrumentedAdapter)(nil)

func (a *instrumentedAdapter) record(ctx context.Context, op string, start time.Time, err error) {
	outcome := "success"
	switch {
	case errors.Is(err, store.ErrNotFound):
		outcome = "miss"
	case err != nil:
		outcome = "error"
	}

	attrs := metric.WithAttributes(
		attribute.String("kind", string(a.kind)),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)

	m := a.inst.Metrics()
	m.StoreOperations.Add(ctx, 1, attrs)
	m.StoreOperationDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if outcome == "miss" {
		m.StoreMisses.Add(ctx, 1, attrs)
	}
}

func (a *instrumentedAdapter) span(ctx context.Context, op string) (context.Context, trace.Span) {
	return a.tracer.Start(ctx, "store."+op,
		trace.WithAttributes(attribute.String("kind", string(a.kind))))
}

func (a *instrumentedAdapter) finish(span trace.Span, err error) {
	// Misses are routine outcomes, not span failures.
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (a *instrumentedAdapter) Upsert(ctx context.Context, id string, payload store.Payload, expiresIn time.Duration) error {
	ctx, span := a.span(ctx, "upsert")
	start := time.Now()
	err := a.next.Upsert(ctx, id, payload, expiresIn)
	a.record(ctx, "upsert", start, err)
	a.finish(span, err)
	return err
}

func (a *instrumentedAdapter) Find(ctx context.Context, id string) (store.Payload, error) {
	ctx, span := a.span(ctx, "find")
	start := time.Now()
	payload, err := a.next.Find(ctx, id)
	a.record(ctx, "find", start, err)
	a.finish(span, err)
	return payload, err
}

func (a *instrumentedAdapter) FindByUserCode(ctx context.Context, userCode string) (store.Payload, error) {
	ctx, span := a.span(ctx, "find_by_user_code")
	start := time.Now()
	payload, err := a.next.FindByUserCode(ctx, userCode)
	a.record(ctx, "find_by_user_code", start, err)
	a.finish(span, err)
	return payload, err
}

func (a *instrumentedAdapter) FindByUID(ctx context.Context, uid string) (store.Payload, error) {
	ctx, span := a.span(ctx, "find_by_uid")
	start := time.Now()
	payload, err := a.next.FindByUID(ctx, uid)
	a.record(ctx, "find_by_uid", start, err)
	a.finish(span, err)
	return payload, err
}

func (a *instrumentedAdapter) Consume(ctx context.Context, id string) error {
	ctx, span := a.span(ctx, "consume")
	start := time.Now()
	err := a.next.Consume(ctx, id)
	a.record(ctx, "consume", start, err)
	a.finish(span, err)
	return err
}

func (a *instrumentedAdapter) Destroy(ctx context.Context, id string) error {
	ctx, span := a.span(ctx, "destroy")
	start := time.Now()
	err := a.next.Destroy(ctx, id)
	a.record(ctx, "destroy", start, err)
	a.finish(span, err)
	return err
}

func (a *instrumentedAdapter) RevokeByGrantID(ctx context.Context, grantID string) error {
	ctx, span := a.span(ctx, "revoke_by_grant_id")
	start := time.Now()
	err := a.next.RevokeByGrantID(ctx, grantID)
	a.record(ctx, "revoke_by_grant_id", start, err)
	if err == nil {
		a.inst.Metrics().StoreRevocations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(a.kind))))
	}
	a.finish(span, err)
	return err
}
