package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if deviceID := DeviceIDFromContext(ctx); deviceID != "" {
		fields = append(fields, zap.String("device.id", deviceID))
	}
	if actor := ActorFromContext(ctx); actor != nil {
		fields = append(fields,
			zap.String("actor.name", actor.Name),
			zap.String("actor.role", actor.Role),
		)
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}
	return fields
}

type deviceCtxKey struct{}
type actorCtxKey struct{}
type requestCtxKey struct{}

// Actor is the person a log line is attributed to.
type Actor struct {
	Name string
	Role string
}

// WithDeviceID adds the device id to ctx.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceCtxKey{}, deviceID)
}

// DeviceIDFromContext extracts the device id from ctx.
func DeviceIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(deviceCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithActor adds the acting person to ctx. An empty name leaves ctx as is.
func WithActor(ctx context.Context, name, role string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, actorCtxKey{}, &Actor{Name: name, Role: role})
}

// ActorFromContext extracts the acting person from ctx.
func ActorFromContext(ctx context.Context) *Actor {
	if a, ok := ctx.Value(actorCtxKey{}).(*Actor); ok {
		return a
	}
	return nil
}

// WithRequestID adds an HTTP request id to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request id from ctx.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

type loggerCtxKey struct{}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
