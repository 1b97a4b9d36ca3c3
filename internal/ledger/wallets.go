package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fleetgrid/gogrid/internal/domain"
)

const walletColumns = `address, idx, pool_base_symbol, pool_base_address, pool_base_decimals,
pool_quote_symbol, pool_quote_address, pool_quote_decimals,
placed_initial_orders_count, created_at, updated_at`

// UpsertWallet 登记钱包（已存在则只更新交易对与时间戳，计数器不动）
func (s *Store) UpsertWallet(ctx context.Context, w *domain.Wallet) error {
	now := time.Now().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO wallets (address, idx, pool_base_symbol, pool_base_address, pool_base_decimals,
pool_quote_symbol, pool_quote_address, pool_quote_decimals,
placed_initial_orders_count, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(address) DO UPDATE SET
  pool_base_symbol=excluded.pool_base_symbol,
  pool_base_address=excluded.pool_base_address,
  pool_base_decimals=excluded.pool_base_decimals,
  pool_quote_symbol=excluded.pool_quote_symbol,
  pool_quote_address=excluded.pool_quote_address,
  pool_quote_decimals=excluded.pool_quote_decimals,
  updated_at=excluded.updated_at
`, w.Address, w.Index,
		w.Pool.Base.Symbol, w.Pool.Base.Address, w.Pool.Base.Decimals,
		w.Pool.Quote.Symbol, w.Pool.Quote.Address, w.Pool.Quote.Decimals,
		w.PlacedInitialOrdersCount, now, now)
	return err
}

// GetWallet 查询钱包；不存在返回 nil
func (s *Store) GetWallet(ctx context.Context, address string) (*domain.Wallet, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE address=?`, address)
	return scanWallet(row)
}

// ListWallets 按派生序号排序列出全部钱包
func (s *Store) ListWallets(ctx context.Context) ([]*domain.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY idx ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// TryMarkGridPlaced 初始网格的 compare-and-increment 门闸。
// 事务内先执行一条写语句把事务升级为写事务（行锁），再读计数、判断、+1，
// 两个并发调度实例不可能都通过“还没下过”的检查。
// 已下过时返回 ErrGridAlreadyPlaced。
func (s *Store) TryMarkGridPlaced(ctx context.Context, address string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE wallets SET updated_at=updated_at WHERE address=?`, address); err != nil {
		return err
	}

	var count int
	err = tx.QueryRowContext(ctx, `SELECT placed_initial_orders_count FROM wallets WHERE address=?`, address).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.New("ledger: wallet not found: " + address)
		}
		return err
	}
	if count > 0 {
		return ErrGridAlreadyPlaced
	}

	_, err = tx.ExecContext(ctx, `
UPDATE wallets SET placed_initial_orders_count=placed_initial_orders_count+1, updated_at=? WHERE address=?
`, time.Now().Format(time.RFC3339Nano), address)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	var (
		w       domain.Wallet
		created string
		updated string
	)
	err := row.Scan(&w.Address, &w.Index,
		&w.Pool.Base.Symbol, &w.Pool.Base.Address, &w.Pool.Base.Decimals,
		&w.Pool.Quote.Symbol, &w.Pool.Quote.Address, &w.Pool.Quote.Decimals,
		&w.PlacedInitialOrdersCount, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	w.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	w.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &w, nil
}
