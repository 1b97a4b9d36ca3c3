package domain

import "time"

// Token 交易 token 的链上描述
type Token struct {
	Symbol   string `yaml:"symbol" json:"symbol"`
	Address  string `yaml:"address" json:"address"`
	Decimals int    `yaml:"decimals" json:"decimals"`
}

// TokenPair 一个钱包交易的两个 token（base/quote）
type TokenPair struct {
	Base  Token `yaml:"base" json:"base"`
	Quote Token `yaml:"quote" json:"quote"`
}

// Other 返回兑价另一侧的 token
func (p TokenPair) Other(symbol string) Token {
	if p.Base.Symbol == symbol {
		return p.Quote
	}
	return p.Base
}

// BySymbol 按符号查找 token
func (p TokenPair) BySymbol(symbol string) (Token, bool) {
	switch symbol {
	case p.Base.Symbol:
		return p.Base, true
	case p.Quote.Symbol:
		return p.Quote, true
	}
	return Token{}, false
}

// Wallet 钱包台账记录
// PlacedInitialOrdersCount 只在初始网格下单成功时 +1（行锁内 compare-and-increment），
// 用于保证网格只下一次。
type Wallet struct {
	Address                  string
	Index                    int // 派生序号，同时决定交易对分配
	Pool                     TokenPair
	PlacedInitialOrdersCount int
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// GridPlaced 初始网格是否已下过
func (w *Wallet) GridPlaced() bool {
	return w.PlacedInitialOrdersCount > 0
}

// Activity 审计事件（append-only，与订单台账独立）
type Activity struct {
	ID            int64
	WalletAddress string
	Kind          string // grid_placed / rebalance_swap / counter_skipped / ...
	Detail        string
	TxHash        string
	CreatedAt     time.Time
}

// Activity kinds.
const (
	ActivityGridPlaced     = "grid_placed"
	ActivityRebalanceSwap  = "rebalance_swap"
	ActivityCounterSkipped = "counter_skipped"
	ActivityCyclePass      = "cycle_pass"
)
