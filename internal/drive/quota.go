package drive

import (
	"context"
	"errors"
	"fmt"
)

// QuotaLedger keeps the per-owner used-space counter. Every adjustment is a
// single database transaction, so ledgers in separate processes sharing a
// catalog cannot lose updates.
type QuotaLedger struct {
	database     Database
	logger       Logger
	clock        Clock
	metrics      Metrics
	defaultTotal int64
}

// NewQuotaLedger creates a ledger. Owners without a quota row get defaultTotal.
func NewQuotaLedger(database Database, logger Logger, clock Clock, metrics Metrics, defaultTotal int64) *QuotaLedger {
	return &QuotaLedger{
		database:     database,
		logger:       logger,
		clock:        clock,
		metrics:      metrics,
		defaultTotal: defaultTotal,
	}
}

func (l *QuotaLedger) load(ctx context.Context, owner int64) (*Quota, error) {
	q, err := l.database.FindQuota(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("loading quota: %w", err)
	}
	if q == nil {
		q = &Quota{OwnerID: owner, Total: l.defaultTotal}
	}
	return q, nil
}

// Get returns owner's quota, falling back to the default total.
func (l *QuotaLedger) Get(ctx context.Context, owner int64) (*Quota, error) {
	return l.load(ctx, owner)
}

// Check reports ErrQuotaExceeded if adding delta would overflow owner's total.
// It performs no write.
func (l *QuotaLedger) Check(ctx context.Context, owner int64, delta int64) error {
	if delta <= 0 {
		return nil
	}
	q, err := l.load(ctx, owner)
	if err != nil {
		return err
	}
	if q.Used+delta > q.Total {
		l.metrics.QuotaRejected()
		return fmt.Errorf("owner %d needs %d bytes, %d of %d used: %w", owner, delta, q.Used, q.Total, ErrQuotaExceeded)
	}
	return nil
}

// Adjust applies a signed delta to owner's used space. Growth past the total
// is rejected without writing; a result below zero is clamped to zero.
func (l *QuotaLedger) Adjust(ctx context.Context, owner int64, delta int64) (*Quota, error) {
	if delta == 0 {
		return l.load(ctx, owner)
	}
	q, clamped, err := l.database.AdjustQuota(ctx, owner, delta, l.defaultTotal, l.clock.Now())
	if errors.Is(err, ErrQuotaExceeded) {
		l.metrics.QuotaRejected()
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("saving quota: %w", err)
	}
	if clamped {
		l.logger.Warn("quota underflow clamped", "owner", owner, "delta", delta)
	}
	return q, nil
}

// SetTotal changes owner's total space. Used space is left untouched even if
// it now exceeds the total.
func (l *QuotaLedger) SetTotal(ctx context.Context, owner int64, total int64) (*Quota, error) {
	if total < 0 {
		return nil, fmt.Errorf("total must not be negative: %w", ErrInvalidArgument)
	}
	q, err := l.database.SetQuotaTotal(ctx, owner, total, l.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("saving quota: %w", err)
	}
	return q, nil
}

// Usage returns owner's quota as a display model.
func (l *QuotaLedger) Usage(ctx context.Context, owner int64) (*QuotaInfo, error) {
	q, err := l.load(ctx, owner)
	if err != nil {
		return nil, err
	}
	info := &QuotaInfo{Total: q.Total, Used: q.Used, Available: q.Total - q.Used}
	if info.Available < 0 {
		info.Available = 0
	}
	if q.Total > 0 {
		info.UsagePercent = float64(q.Used) / float64(q.Total) * 100
	}
	return info, nil
}
