// Package auditsink mirrors audit rows to a document store for long-term
// retention outside the transactional database.
package auditsink

import (
	"context"

	"smartduka/backend/internal/domain"
)

type Sink interface {
	RecordAudit(ctx context.Context, entry domain.AuditLog) error
	RecordDiscountAudit(ctx context.Context, audit domain.DiscountAudit) error
	Close(ctx context.Context) error
}

type Noop struct{}

func (Noop) RecordAudit(_ context.Context, _ domain.AuditLog) error { return nil }

func (Noop) RecordDiscountAudit(_ context.Context, _ domain.DiscountAudit) error { return nil }

func (Noop) Close(_ context.Context) error { return nil }
