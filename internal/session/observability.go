package session

import (
	"context"

	"sessionkit/internal/audit"
)

// logAudit logs the event and forwards it to the audit publisher, if any.
func (c *Coordinator) logAudit(ctx context.Context, event audit.Event) {
	event.TabID = c.tabID
	c.logger.InfoContext(ctx, string(event.Action),
		"log_type", "audit",
		"user_id", event.UserID,
		"company_id", event.CompanyID,
		"source", event.Source,
		"reason", event.Reason,
	)
	if c.audit == nil {
		return
	}
	if err := c.audit.Emit(ctx, event); err != nil {
		c.logger.ErrorContext(ctx, "failed to emit audit event", "error", err)
	}
}
