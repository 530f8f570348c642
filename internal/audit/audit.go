package audit

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// Operator actions.
const (
	ActionKeyCreate = "api_key.create"
	ActionKeyRevoke = "api_key.revoke"
	ActionTagConfig = "tag.configure"
)

// LogEntry defines the structured audit log
type LogEntry struct {
	Timestamp time.Time
	ActorID   string // API key id, or "cli" for the operator CLI
	Action    string
	Resource  string
	Status    int
	Metadata  map[string]interface{}
}

// Logger interface
type Logger interface {
	Log(entry LogEntry)
}

// ZapLogger writes audit entries as structured log lines on a dedicated
// "audit" logger so they can be routed separately.
type ZapLogger struct {
	out *zap.Logger
}

func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{out: logger.Named("audit")}
}

func (l *ZapLogger) Log(entry LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	// Mask sensitive metadata if any
	if entry.Metadata != nil {
		maskSensitive(entry.Metadata)
	}

	l.out.Info("audit",
		zap.Time("at", entry.Timestamp),
		zap.String("actor_id", entry.ActorID),
		zap.String("action", entry.Action),
		zap.String("resource", entry.Resource),
		zap.Int("status", entry.Status),
		zap.Any("metadata", entry.Metadata),
	)
}

func maskSensitive(m map[string]interface{}) {
	sensitiveKeys := []string{"api_key", "key_hash", "password", "token", "secret", "receipt"}
	for k := range m {
		lowerK := strings.ToLower(k)
		for _, s := range sensitiveKeys {
			if strings.Contains(lowerK, s) {
				m[k] = "***REDACTED***"
				break
			}
		}
	}
}
