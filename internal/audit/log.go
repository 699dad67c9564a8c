package audit

import (
	"context"

	"go.uber.org/zap"

	"gatherly.app/internal/obs"
	"gatherly.app/internal/txn"
)

// LogSink mirrors entries into the structured log. cmd/api chains it after
// the store's own sink. Inside a transaction the line is written only after
// commit, so rolled-back mutations leave no trace in the log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink writing through l, or the shared logger if l is nil.
func NewLogSink(l *zap.Logger) *LogSink {
	return &LogSink{logger: l}
}

func (s *LogSink) Record(ctx context.Context, entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	l := s.logger
	if l == nil {
		l = obs.Logger()
	}
	fields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("entry_id", entry.ID),
		zap.String("action", string(entry.Action)),
		zap.String("resource_type", entry.ResourceType),
		zap.String("resource_id", entry.ResourceID),
		zap.String("actor_id", entry.ActorID),
		zap.Time("occurred_at", entry.OccurredAt),
	}
	if entry.RequestID != "" {
		fields = append(fields, zap.String("request_id", entry.RequestID))
	}
	if entry.IP != "" {
		fields = append(fields, zap.String("ip", entry.IP))
	}
	if len(entry.OldValues) > 0 {
		fields = append(fields, zap.Any("old_values", entry.OldValues))
	}
	if len(entry.NewValues) > 0 {
		fields = append(fields, zap.Any("new_values", entry.NewValues))
	}
	txn.AfterCommit(ctx, func() { l.Info("audit", fields...) })
	return nil
}
