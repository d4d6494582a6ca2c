package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type (
	requestDataKey struct{}
	traceDataKey   struct{}
)

// RequestData carries the authenticated caller of an operator request.
type RequestData struct {
	TenantID uuid.UUID
	Actor    string
}

// TraceData carries the ids echoed back to clients and stamped on log lines.
type TraceData struct {
	TraceID   string
	RequestID string
}

// Default returns context.Background() when ctx is nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	rd, _ := Default(ctx).Value(requestDataKey{}).(*RequestData)
	return rd
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	td, _ := Default(ctx).Value(traceDataKey{}).(*TraceData)
	return td
}

// LogFields returns the correlation key/value pairs known for ctx.
func LogFields(ctx context.Context) []any {
	var out []any
	if td := GetTraceData(ctx); td != nil {
		if td.TraceID != "" {
			out = append(out, "trace_id", td.TraceID)
		}
		if td.RequestID != "" {
			out = append(out, "request_id", td.RequestID)
		}
	}
	if rd := GetRequestData(ctx); rd != nil {
		if rd.TenantID != uuid.Nil {
			out = append(out, "tenant_id", rd.TenantID.String())
		}
		if rd.Actor != "" {
			out = append(out, "actor", rd.Actor)
		}
	}
	return out
}
