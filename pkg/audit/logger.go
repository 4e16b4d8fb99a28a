package audit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/platinummonkey/roomdesk/pkg/contextkeys"
	"github.com/platinummonkey/roomdesk/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes any buffered events
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextkeys.AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return nopLogger{}
}

// NopLogger returns a logger that discards every event
func NopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Log(context.Context, *Event) error { return nil }
func (nopLogger) Close() error                      { return nil }

// StructuredLogger writes audit events through the structured application
// logger, tagged with audit=true so they can be routed separately.
type StructuredLogger struct {
	logger *observability.Logger
	now    func() time.Time
}

// NewStructuredLogger creates an audit logger backed by logger
func NewStructuredLogger(logger *observability.Logger) *StructuredLogger {
	return &StructuredLogger{
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Log fills request context fields from ctx and writes the event
func (l *StructuredLogger) Log(ctx context.Context, event *Event) error {
	if event == nil {
		return nil
	}
	enrich(ctx, event, l.now)

	fields := map[string]interface{}{
		"audit":      true,
		"event_type": string(event.Type),
		"status":     string(event.Status),
		"timestamp":  event.Timestamp.Format(time.RFC3339Nano),
	}
	if event.UserID != 0 {
		fields["user_id"] = event.UserID
	}
	if event.Username != "" {
		fields["username"] = event.Username
	}
	if event.ResourceType != "" {
		fields["resource_type"] = event.ResourceType
		fields["resource_id"] = event.ResourceID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.Method != "" {
		fields["method"] = event.Method
		fields["path"] = event.Path
		fields["status_code"] = event.StatusCode
		fields["ip_address"] = event.IPAddress
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	msg := event.Message
	if msg == "" {
		msg = string(event.Type)
	}

	entry := l.logger.WithFields(fields)
	if event.Status == StatusSuccess {
		entry.Info(msg)
	} else {
		entry.Warn(msg)
	}
	return nil
}

// Close implements Logger
func (l *StructuredLogger) Close() error {
	return nil
}

// MemoryLogger keeps events in memory. Useful in tests and for local
// debugging.
type MemoryLogger struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemoryLogger creates an empty in-memory audit logger
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log implements Logger
func (m *MemoryLogger) Log(ctx context.Context, event *Event) error {
	if event == nil {
		return nil
	}
	enrich(ctx, event, func() time.Time { return time.Now().UTC() })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of the recorded events
func (m *MemoryLogger) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Event, len(m.events))
	copy(out, m.events)
	return out
}

// Close implements Logger
func (m *MemoryLogger) Close() error {
	return nil
}

func enrich(ctx context.Context, event *Event, now func() time.Time) {
	if event.Timestamp.IsZero() {
		event.Timestamp = now()
	}
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}
	if event.UserID == 0 {
		if id, err := strconv.ParseInt(contextkeys.GetUserID(ctx), 10, 64); err == nil {
			event.UserID = id
		}
	}
}
