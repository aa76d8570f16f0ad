package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/collector/internal/core/domain"
)

const markAlertQuery = `INSERT INTO alert_ledger (transaction_id, reason) VALUES ($1, $2) ON CONFLICT DO NOTHING`

// AlertLedger implements storage.AlertLedger using PostgreSQL.
type AlertLedger struct {
	db *DB
}

// NewAlertLedger creates a new PostgreSQL alert ledger.
func NewAlertLedger(db *DB) *AlertLedger {
	return &AlertLedger{db: db}
}

// MarkRaised records the alert and reports whether it had not been raised before.
func (l *AlertLedger) MarkRaised(ctx context.Context, transactionID string, reason domain.AlertReason) (bool, error) {
	res, err := l.db.ExecContext(ctx, markAlertQuery, transactionID, string(reason))
	if err != nil {
		return false, fmt.Errorf("failed to mark alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
