package logger

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Audit categories, reported as the audit_type attribute
const (
	CategoryAuth     = "auth"
	CategoryPassword = "password"
	CategoryAccount  = "account"
	CategorySession  = "session"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	SessionID     string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditRecord is an audit event as handed to an AuditSink
type AuditRecord struct {
	Category string
	AuditEvent
	CreatedAt time.Time
}

// AuditSink stores audit records durably
type AuditSink interface {
	PersistAudit(ctx context.Context, rec AuditRecord) error
}

// SinkConfig bounds the background writer that feeds an AuditSink
type SinkConfig struct {
	Buffer       int           // records queued before new ones are dropped
	WriteTimeout time.Duration // per-record persist deadline
}

// DefaultSinkConfig is used for zero SinkConfig fields
var DefaultSinkConfig = SinkConfig{Buffer: 1024, WriteTimeout: 5 * time.Second}

// AuditLogger writes security events as structured "audit" records.
// Failed events are logged at Warn, everything else at Info. With a sink
// attached every record is also persisted by a background writer; persist
// failures are logged and never reach the caller.
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time

	sink         AuditSink
	writeTimeout time.Duration
	mu           sync.RWMutex
	closed       bool
	queue        chan AuditRecord
	done         chan struct{}
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		now:    time.Now,
	}
}

// NewAuditLoggerWithSink creates an audit logger that also persists every
// record to sink. Close flushes the queue.
func NewAuditLoggerWithSink(logger *slog.Logger, sink AuditSink, cfg SinkConfig) *AuditLogger {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultSinkConfig.Buffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultSinkConfig.WriteTimeout
	}

	al := NewAuditLogger(logger)
	al.sink = sink
	al.writeTimeout = cfg.WriteTimeout
	al.queue = make(chan AuditRecord, cfg.Buffer)
	al.done = make(chan struct{})
	go al.drain()
	return al
}

func (al *AuditLogger) drain() {
	defer close(al.done)
	for rec := range al.queue {
		ctx, cancel := context.WithTimeout(context.Background(), al.writeTimeout)
		err := al.sink.PersistAudit(ctx, rec)
		cancel()
		if err != nil {
			al.logger.Error("failed to persist audit record",
				slog.String("event_type", rec.EventType),
				slog.String("user_id", rec.UserID),
				slog.Any("error", err),
			)
		}
	}
}

// Close stops accepting records for the sink and waits until the queued ones
// are written or ctx ends. It is a no-op without a sink.
func (al *AuditLogger) Close(ctx context.Context) error {
	if al.queue == nil {
		return nil
	}

	al.mu.Lock()
	if !al.closed {
		al.closed = true
		close(al.queue)
	}
	al.mu.Unlock()

	select {
	case <-al.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (al *AuditLogger) enqueue(rec AuditRecord) {
	al.mu.RLock()
	defer al.mu.RUnlock()
	if al.closed {
		return
	}
	select {
	case al.queue <- rec:
	default:
		al.logger.Warn("audit queue full; record not persisted",
			slog.String("event_type", rec.EventType),
			slog.String("user_id", rec.UserID),
		)
	}
}

// LogAuthAttempt logs login, refresh and logout outcomes
func (al *AuditLogger) LogAuthAttempt(event AuditEvent) {
	al.record(CategoryAuth, event)
}

// LogPasswordChange logs password changes and resets
func (al *AuditLogger) LogPasswordChange(userID, ipAddress string, success bool) {
	al.record(CategoryPassword, AuditEvent{
		EventType: "password_change",
		UserID:    userID,
		IPAddress: ipAddress,
		Success:   success,
	})
}

// LogAccountAction logs account lifecycle and MFA actions
func (al *AuditLogger) LogAccountAction(eventType, userID, ipAddress string, metadata map[string]string) {
	al.record(CategoryAccount, AuditEvent{
		EventType: eventType,
		UserID:    userID,
		IPAddress: ipAddress,
		Success:   true,
		Metadata:  metadata,
	})
}

// LogSessionEvent logs a session ending for a reason other than the user's own logout
func (al *AuditLogger) LogSessionEvent(eventType, userID, sessionID string, metadata map[string]string) {
	al.record(CategorySession, AuditEvent{
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		Success:   true,
		Metadata:  metadata,
	})
}

func (al *AuditLogger) record(category string, event AuditEvent) {
	at := al.now().UTC()

	attrs := make([]slog.Attr, 0, 8+len(event.Metadata))
	attrs = append(attrs,
		slog.String("audit_type", category),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", at.Format(time.RFC3339)),
	)

	optional := []struct{ key, value string }{
		{"user_id", event.UserID},
		{"session_id", event.SessionID},
		{"ip_address", event.IPAddress},
		{"user_agent", event.UserAgent},
		{"failure_reason", event.FailureReason},
	}
	for _, o := range optional {
		if o.value != "" {
			attrs = append(attrs, slog.String(o.key, o.value))
		}
	}

	// Sorted so identical events produce identical records
	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, event.Metadata[k]))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)

	if al.queue != nil {
		al.enqueue(AuditRecord{Category: category, AuditEvent: event, CreatedAt: at})
	}
}
