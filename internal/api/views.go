package api

import (
	"time"

	"github.com/fleetgrid/gogrid/internal/domain"
)

// orderView 订单的 JSON 视图。
// decimal 字段序列化为字符串，避免浮点精度问题泄露到调用方。
type orderView struct {
	ID            string  `json:"id"`
	VenueOrderID  string  `json:"venue_order_id"`
	TxHash        string  `json:"tx_hash,omitempty"`
	WalletAddress string  `json:"wallet_address"`
	Type          string  `json:"type"`
	ParentOrderID *string `json:"parent_order_id,omitempty"`
	FromToken     string  `json:"from_token"`
	ToToken       string  `json:"to_token"`
	FromAmount    string  `json:"from_amount"`
	ToAmountMin   string  `json:"to_amount_min"`
	FilledFrom    string  `json:"filled_from,omitempty"`
	FilledTo      string  `json:"filled_to,omitempty"`
	Status        string  `json:"status"`
	Progress      int     `json:"progress"`
	USDValue      string  `json:"usd_value"`
	CounterSkip   string  `json:"counter_skip,omitempty"`
	PlacedAt      string  `json:"placed_at"`
	FilledAt      string  `json:"filled_at,omitempty"`
}

func newOrderView(o *domain.Order) orderView {
	v := orderView{
		ID:            o.ID,
		VenueOrderID:  o.VenueOrderID,
		TxHash:        o.TxHash,
		WalletAddress: o.WalletAddress,
		Type:          string(o.Type),
		ParentOrderID: o.ParentOrderID,
		FromToken:     o.FromToken,
		ToToken:       o.ToToken,
		FromAmount:    o.FromAmount.String(),
		ToAmountMin:   o.ToAmountMin.String(),
		Status:        string(o.Status),
		Progress:      o.Progress,
		USDValue:      o.USDValue.String(),
		CounterSkip:   o.CounterSkip,
		PlacedAt:      o.PlacedAt.Format(time.RFC3339),
	}
	if o.FilledFrom.IsPositive() {
		v.FilledFrom = o.FilledFrom.String()
	}
	if o.FilledTo.IsPositive() {
		v.FilledTo = o.FilledTo.String()
	}
	if o.FilledAt != nil {
		v.FilledAt = o.FilledAt.Format(time.RFC3339)
	}
	return v
}

type walletView struct {
	Address    string `json:"address"`
	Index      int    `json:"index"`
	Base       string `json:"base"`
	Quote      string `json:"quote"`
	GridPlaced bool   `json:"grid_placed"`
	CreatedAt  string `json:"created_at"`
}

func newWalletView(w *domain.Wallet) walletView {
	return walletView{
		Address:    w.Address,
		Index:      w.Index,
		Base:       w.Pool.Base.Symbol,
		Quote:      w.Pool.Quote.Symbol,
		GridPlaced: w.GridPlaced(),
		CreatedAt:  w.CreatedAt.Format(time.RFC3339),
	}
}

type activityView struct {
	ID            int64  `json:"id"`
	WalletAddress string `json:"wallet_address,omitempty"`
	Kind          string `json:"kind"`
	Detail        string `json:"detail"`
	TxHash        string `json:"tx_hash,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func newActivityView(a *domain.Activity) activityView {
	return activityView{
		ID:            a.ID,
		WalletAddress: a.WalletAddress,
		Kind:          a.Kind,
		Detail:        a.Detail,
		TxHash:        a.TxHash,
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
	}
}
