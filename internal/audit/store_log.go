package audit

import (
	"context"
	"log/slog"
)

// LogStore writes events as structured log records.
type LogStore struct {
	logger *slog.Logger
}

func NewLogStore(logger *slog.Logger) *LogStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogStore{logger: logger}
}

func (s *LogStore) Append(ctx context.Context, event Event) error {
	s.logger.InfoContext(ctx, "audit",
		"action", string(event.Action),
		"tab_id", event.TabID,
		"user_id", event.UserID,
		"company_id", event.CompanyID,
		"source", event.Source,
		"reason", event.Reason,
		"timestamp", event.Timestamp,
	)
	return nil
}
