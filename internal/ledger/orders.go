package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fleetgrid/gogrid/internal/domain"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, venue_order_id, tx_hash, wallet_address, order_type, parent_order_id,
from_token, to_token, from_amount, to_amount_min, filled_from, filled_to,
status, progress, usd_value, counter_skip, placed_at, filled_at, last_checked_at`

// InsertOrder 插入订单行。
// 该写入对一笔订单只发生一次：venue_order_id 唯一约束冲突时返回
// ErrDuplicateVenueOrderID，由调用方决定如何上报（不静默吞掉）。
// (parent_order_id, order_type) 唯一索引冲突返回 ErrCounterOrderExists，
// 这是“每个父订单至多一张反向单”的最终裁决点。
func (s *Store) InsertOrder(ctx context.Context, o *domain.Order) error {
	var parent interface{}
	if o.ParentOrderID != nil {
		parent = *o.ParentOrderID
	}
	var filledAt interface{}
	if o.FilledAt != nil {
		filledAt = o.FilledAt.Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO orders (id, venue_order_id, tx_hash, wallet_address, order_type, parent_order_id,
from_token, to_token, from_amount, to_amount_min, filled_from, filled_to,
status, progress, usd_value, counter_skip, placed_at, filled_at, last_checked_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`,
		o.ID, o.VenueOrderID, o.TxHash, o.WalletAddress, string(o.Type), parent,
		o.FromToken, o.ToToken, o.FromAmount.String(), o.ToAmountMin.String(),
		o.FilledFrom.String(), o.FilledTo.String(),
		string(o.Status), o.Progress, o.USDValue.String(), o.CounterSkip,
		o.PlacedAt.Format(time.RFC3339Nano), filledAt, o.LastCheckedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			// sqlite 的错误文本带冲突列名，据此区分两个唯一约束
			if strings.Contains(err.Error(), "orders.parent_order_id") {
				return fmt.Errorf("%w: parent=%v type=%s", ErrCounterOrderExists, parent, o.Type)
			}
			return fmt.Errorf("%w: %s", ErrDuplicateVenueOrderID, o.VenueOrderID)
		}
		return err
	}
	return nil
}

// GetOrder 按本地 ID 查询订单；不存在返回 nil
func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
	return scanOrder(row)
}

// GetOrderByVenueID 按场所订单 ID 查询；不存在返回 nil
func (s *Store) GetOrderByVenueID(ctx context.Context, venueOrderID string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE venue_order_id=?`, venueOrderID)
	return scanOrder(row)
}

// OpenOrdersByWallet 查询钱包的非终态订单（pending/partial）
func (s *Store) OpenOrdersByWallet(ctx context.Context, wallet string) ([]*domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+orderColumns+` FROM orders
WHERE wallet_address=? AND status IN ('pending','partial')
ORDER BY placed_at ASC
`, wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// OrdersByWallet 查询钱包订单，status 为空表示全部
func (s *Store) OrdersByWallet(ctx context.Context, wallet string, status domain.OrderStatus) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE wallet_address=?`
	args := []interface{}{wallet}
	if status != "" {
		query += ` AND status=?`
		args = append(args, string(status))
	}
	query += ` ORDER BY placed_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// CounterOrder 查询某父订单的指定类型反向单；不存在返回 nil
func (s *Store) CounterOrder(ctx context.Context, parentID string, counterType domain.OrderType) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+orderColumns+` FROM orders WHERE parent_order_id=? AND order_type=?
`, parentID, string(counterType))
	return scanOrder(row)
}

// FilledOrdersMissingCounter reconcile sweep 的候选集：
// 已成交、没有任何子订单、且没有记录跳过原因的订单。
// wallet 为空表示全部钱包。
func (s *Store) FilledOrdersMissingCounter(ctx context.Context, wallet string) ([]*domain.Order, error) {
	query := `
SELECT ` + orderColumns + ` FROM orders o
WHERE o.status='filled'
  AND o.counter_skip=''
  AND NOT EXISTS (SELECT 1 FROM orders c WHERE c.parent_order_id = o.id)`
	args := []interface{}{}
	if wallet != "" {
		query += ` AND o.wallet_address=?`
		args = append(args, wallet)
	}
	query += ` ORDER BY o.placed_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ApplyTransition 应用一次状态变化。
// WHERE 条件保证终态订单不再被修改，progress 用 MAX 保证单调不减。
// 返回是否实际写入了行。
func (s *Store) ApplyTransition(ctx context.Context, t *domain.Transition) (bool, error) {
	now := time.Now()

	var filledAt interface{}
	if t.NewStatus == domain.OrderStatusFilled {
		filledAt = now.Format(time.RFC3339Nano)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE orders
SET status=?,
    progress=MAX(progress, ?),
    filled_from=CASE WHEN ?!='' THEN ? ELSE filled_from END,
    filled_to=CASE WHEN ?!='' THEN ? ELSE filled_to END,
    filled_at=COALESCE(filled_at, ?),
    last_checked_at=?
WHERE id=? AND status NOT IN ('filled','canceled','expired')
`,
		string(t.NewStatus), t.NewProgress,
		filledStr(t.FilledFrom), filledStr(t.FilledFrom),
		filledStr(t.FilledTo), filledStr(t.FilledTo),
		filledAt, now.Format(time.RFC3339Nano),
		t.Order.ID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TouchChecked 更新 last_checked_at（状态无变化时）
func (s *Store) TouchChecked(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE orders SET last_checked_at=? WHERE id=? AND status NOT IN ('filled','canceled','expired')
`, time.Now().Format(time.RFC3339Nano), orderID)
	return err
}

// SetCounterSkip 在父订单上记录反向单跳过原因。
// 显式记录而不是什么都不写：reconcile sweep 靠它区分“待补”与“已决定跳过”。
func (s *Store) SetCounterSkip(ctx context.Context, orderID, reason string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE orders SET counter_skip=? WHERE id=?`, reason, orderID)
	return err
}

// PendingAmountSum 钱包某 token 当前挂单（pending/partial）占用的源数量之和。
// 下单前的余额校验用（构造时检查，不做全局强制）。
func (s *Store) PendingAmountSum(ctx context.Context, wallet, token string) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT from_amount FROM orders
WHERE wallet_address=? AND from_token=? AND status IN ('pending','partial')
`, wallet, token)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(d)
	}
	return sum, rows.Err()
}

func filledStr(d decimal.Decimal) string {
	if d.IsPositive() {
		return d.String()
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o          domain.Order
		orderType  string
		status     string
		parent     sql.NullString
		fromAmount string
		toMin      string
		filledFrom string
		filledTo   string
		usd        string
		placedAt   string
		filledAt   sql.NullString
		checkedAt  string
	)
	err := row.Scan(&o.ID, &o.VenueOrderID, &o.TxHash, &o.WalletAddress, &orderType, &parent,
		&o.FromToken, &o.ToToken, &fromAmount, &toMin, &filledFrom, &filledTo,
		&status, &o.Progress, &usd, &o.CounterSkip, &placedAt, &filledAt, &checkedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	if parent.Valid {
		p := parent.String
		o.ParentOrderID = &p
	}
	if o.FromAmount, err = decimal.NewFromString(fromAmount); err != nil {
		return nil, err
	}
	if o.ToAmountMin, err = decimal.NewFromString(toMin); err != nil {
		return nil, err
	}
	if o.FilledFrom, err = decimal.NewFromString(filledFrom); err != nil {
		return nil, err
	}
	if o.FilledTo, err = decimal.NewFromString(filledTo); err != nil {
		return nil, err
	}
	if o.USDValue, err = decimal.NewFromString(usd); err != nil {
		return nil, err
	}
	o.PlacedAt, _ = time.Parse(time.RFC3339Nano, placedAt)
	o.LastCheckedAt, _ = time.Parse(time.RFC3339Nano, checkedAt)
	if filledAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, filledAt.String)
		o.FilledAt = &t
	}
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]*domain.Order, error) {
	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
