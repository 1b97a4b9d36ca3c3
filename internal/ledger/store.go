package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrDuplicateVenueOrderID venue_order_id 唯一约束冲突。
// 同一个场所订单被第二次插入，说明上游重复执行了同一笔下单。
var ErrDuplicateVenueOrderID = errors.New("ledger: duplicate venue order id")

// ErrCounterOrderExists 同一父订单同方向的第二张反向单被唯一索引拒绝。
// 两个并发调用方（成交回调与兜底巡检）同时给一个父订单下反向单时，
// 输掉竞争的一方拿到这个错误。
var ErrCounterOrderExists = errors.New("ledger: counter order already exists for parent")

// ErrGridAlreadyPlaced 初始网格已经下过（compare-and-increment 失败）
var ErrGridAlreadyPlaced = errors.New("ledger: grid already placed for wallet")

// Store 订单台账（sqlite）。
// 订单行 append-mostly：插入一次，之后只有状态同步器更新状态字段，终态后不再变更。
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）台账数据库
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("ledger: db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory 打开内存数据库（测试用）
func OpenInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`
CREATE TABLE IF NOT EXISTS wallets (
  address TEXT PRIMARY KEY,
  idx INTEGER NOT NULL UNIQUE,
  pool_base_symbol TEXT NOT NULL,
  pool_base_address TEXT NOT NULL DEFAULT '',
  pool_base_decimals INTEGER NOT NULL DEFAULT 18,
  pool_quote_symbol TEXT NOT NULL,
  pool_quote_address TEXT NOT NULL DEFAULT '',
  pool_quote_decimals INTEGER NOT NULL DEFAULT 18,
  placed_initial_orders_count INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  venue_order_id TEXT NOT NULL UNIQUE,
  tx_hash TEXT NOT NULL DEFAULT '',
  wallet_address TEXT NOT NULL REFERENCES wallets(address),
  order_type TEXT NOT NULL,
  parent_order_id TEXT REFERENCES orders(id),
  from_token TEXT NOT NULL,
  to_token TEXT NOT NULL,
  from_amount TEXT NOT NULL,
  to_amount_min TEXT NOT NULL,
  filled_from TEXT NOT NULL DEFAULT '0',
  filled_to TEXT NOT NULL DEFAULT '0',
  status TEXT NOT NULL,
  progress INTEGER NOT NULL DEFAULT 0,
  usd_value TEXT NOT NULL DEFAULT '0',
  counter_skip TEXT NOT NULL DEFAULT '',
  placed_at TEXT NOT NULL,
  filled_at TEXT,
  last_checked_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_wallet_status ON orders(wallet_address, status);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_parent ON orders(parent_order_id);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_counter_once ON orders(parent_order_id, order_type) WHERE parent_order_id IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_orders_tx_hash ON orders(tx_hash);`,
		`
CREATE TABLE IF NOT EXISTS activities (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  wallet_address TEXT NOT NULL,
  kind TEXT NOT NULL,
  detail TEXT NOT NULL DEFAULT '',
  tx_hash TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_activities_wallet ON activities(wallet_address, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// isUniqueViolation sqlite 唯一约束错误判断
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
