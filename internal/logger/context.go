package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds call-scoped logging context threaded through a single
// boot-services invocation.
type LogContext struct {
	TraceID   string    // correlation ID for this call chain
	SpanID    string    // span ID for the current sub-operation
	Component string    // subsystem name: scheduler, gcd, protocoldb, dispatcher, image
	Driver    string    // driver/image name associated with the current operation, if any
	Handle    uint64    // EFI_HANDLE associated with the current operation, if any
	TPL       uint      // task priority level active when the call was made
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a component.
func NewLogContext(component string) *LogContext {
	return &LogContext{
		Component: component,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:   lc.TraceID,
		SpanID:    lc.SpanID,
		Component: lc.Component,
		Driver:    lc.Driver,
		Handle:    lc.Handle,
		TPL:       lc.TPL,
		StartTime: lc.StartTime,
	}
}

// WithDriver returns a copy with the driver name set
func (lc *LogContext) WithDriver(name string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Driver = name
	}
	return clone
}

// WithHandle returns a copy with the handle set
func (lc *LogContext) WithHandle(h uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Handle = h
	}
	return clone
}

// WithTPL returns a copy with the TPL level set
func (lc *LogContext) WithTPL(tpl uint) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TPL = tpl
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
