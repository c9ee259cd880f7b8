package toolrun

import (
	"context"
	"strconv"
	"time"

	"toolrun/internal/telemetry"
)

// AuditEntry records one tool invocation for the host's audit trail.
type AuditEntry struct {
	CorrelationID string
	ToolID        string
	Params        map[string]any
	Success       bool
	Error         string
	Timestamp     time.Time
}

// AuditLogger is a consumed collaborator: the host supplies the sink, the
// runtime calls it around every execute.
type AuditLogger interface {
	LogToolInvocation(ctx context.Context, entry AuditEntry)
}

// NopAuditLogger discards every entry.
type NopAuditLogger struct{}

func (NopAuditLogger) LogToolInvocation(context.Context, AuditEntry) {}

// LogAuditLogger writes audit entries through the structured logger.
type LogAuditLogger struct {
	Logger *telemetry.Logger
}

func (l LogAuditLogger) LogToolInvocation(_ context.Context, entry AuditEntry) {
	logger := l.Logger
	if logger == nil {
		logger = telemetry.Default()
	}
	fields := logger.WithComponent("audit").
		WithField("correlation_id", entry.CorrelationID).
		WithField("tool_id", entry.ToolID).
		WithField("success", strconv.FormatBool(entry.Success))
	if entry.Error != "" {
		fields.WithField("error", entry.Error).Warn("tool invocation failed")
		return
	}
	fields.Info("tool invocation")
}
