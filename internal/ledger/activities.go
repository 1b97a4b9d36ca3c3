package ledger

import (
	"context"
	"time"

	"github.com/fleetgrid/gogrid/internal/domain"
)

// AppendActivity 追加一条审计事件（append-only，与订单台账独立）
func (s *Store) AppendActivity(ctx context.Context, a *domain.Activity) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO activities (wallet_address, kind, detail, tx_hash, created_at)
VALUES (?,?,?,?,?)
`, a.WalletAddress, a.Kind, a.Detail, a.TxHash, time.Now().Format(time.RFC3339Nano))
	return err
}

// ActivitiesByWallet 按时间倒序列出钱包审计事件
func (s *Store) ActivitiesByWallet(ctx context.Context, wallet string, limit int) ([]*domain.Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, wallet_address, kind, detail, tx_hash, created_at
FROM activities WHERE wallet_address=? ORDER BY created_at DESC LIMIT ?
`, wallet, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Activity
	for rows.Next() {
		var (
			a       domain.Activity
			created string
		)
		if err := rows.Scan(&a.ID, &a.WalletAddress, &a.Kind, &a.Detail, &a.TxHash, &created); err != nil {
			return nil, err
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, &a)
	}
	return out, rows.Err()
}
