package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/charlesng35/clinicauth/pkg/logger"
	"github.com/charlesng35/clinicauth/pkg/metrics"
)

// recordAudit logs the supplied entry while tolerating audit failures. A
// failed write is reported on the operational log and never reaches the caller.
func recordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	if err := audit.Log(ctx, entry); err != nil {
		metrics.AuditWriteFailures.Inc()
		logger.WithModule("audit").Warn("audit write failed",
			zap.String("action", entry.Action),
			zap.String("result", entry.Result),
			zap.Error(err),
		)
	}
}

// RecordAudit is the exported form of recordAudit for callers outside the package.
func RecordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	recordAudit(audit, ctx, entry)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
