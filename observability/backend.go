package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/discoverykit/discovery"
)

// TracedBackend wraps a discovery.Backend with one client span per registry
// call.
type TracedBackend struct {
	next   discovery.Backend
	tracer trace.Tracer
}

var _ discovery.Backend = (*TracedBackend)(nil)

// TraceBackend wraps next. A nil tracer uses the global provider.
func TraceBackend(next discovery.Backend, tracer trace.Tracer) *TracedBackend {
	if tracer == nil {
		tracer = Tracer(defaultTracerName)
	}
	return &TracedBackend{next: next, tracer: tracer}
}

// Unwrap returns the wrapped backend.
func (b *TracedBackend) Unwrap() discovery.Backend { return b.next }

// Name returns the wrapped backend's name.
func (b *TracedBackend) Name() string { return b.next.Name() }

func (b *TracedBackend) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(AttrBackend, b.next.Name()))
	return b.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func end(ctx context.Context, span trace.Span, err error) {
	SetSpanError(ctx, err)
	span.End()
}

func (b *TracedBackend) Register(ctx context.Context, d discovery.RegistrationDescriptor) (string, error) {
	ctx, span := b.start(ctx, SpanRegister,
		attribute.String(AttrService, d.ServiceName),
		attribute.String(AttrInstanceID, d.InstanceID),
	)
	token, err := b.next.Register(ctx, d)
	end(ctx, span, err)
	return token, err
}

func (b *TracedBackend) Renew(ctx context.Context, d discovery.RegistrationDescriptor, token string) error {
	ctx, span := b.start(ctx, SpanRenew,
		attribute.String(AttrService, d.ServiceName),
		attribute.String(AttrInstanceID, d.InstanceID),
	)
	err := b.next.Renew(ctx, d, token)
	end(ctx, span, err)
	return err
}

func (b *TracedBackend) Deregister(ctx context.Context, d discovery.RegistrationDescriptor, token string) error {
	ctx, span := b.start(ctx, SpanDeregister,
		attribute.String(AttrService, d.ServiceName),
		attribute.String(AttrInstanceID, d.InstanceID),
	)
	err := b.next.Deregister(ctx, d, token)
	end(ctx, span, err)
	return err
}

func (b *TracedBackend) Query(ctx context.Context, service string, opts discovery.QueryOptions) (discovery.QueryResult, error) {
	ctx, span := b.start(ctx, SpanQuery,
		attribute.String(AttrService, service),
		attribute.Int64(AttrWaitIndex, int64(opts.WaitIndex)),
	)
	res, err := b.next.Query(ctx, service, opts)
	if err == nil {
		span.SetAttributes(
			attribute.Int64(AttrIndex, int64(res.Index)),
			attribute.Int(AttrInstanceCount, len(res.Instances)),
		)
	}
	end(ctx, span, err)
	return res, err
}
