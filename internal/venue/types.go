package venue

import (
	"time"

	"github.com/shopspring/decimal"
)

// 场馆侧订单状态字符串。progress 才是成交的权威信号，
// 状态标签有滞后，同步器会以 progress 优先做映射。
const (
	StatusOpen     = "open"
	StatusFilled   = "filled"
	StatusCanceled = "canceled"
	StatusExpired  = "expired"
)

// Order 索引器返回的场馆侧订单视图。
type Order struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Progress  int             `json:"progress"`
	FilledSrc decimal.Decimal `json:"filled_src_amount"`
	FilledDst decimal.Decimal `json:"filled_dst_amount"`
	TxHash    string          `json:"tx_hash"`
}

// WalletOrders 按状态分组的钱包订单全集。
type WalletOrders struct {
	All       []Order
	Open      []Order
	Completed []Order
	Canceled  []Order
	Expired   []Order
}

// Regroup 依据状态字段重建分组（All 已填充时用）。
func (w *WalletOrders) Regroup() {
	w.Open = w.Open[:0]
	w.Completed = w.Completed[:0]
	w.Canceled = w.Canceled[:0]
	w.Expired = w.Expired[:0]
	for _, o := range w.All {
		switch o.Status {
		case StatusFilled:
			w.Completed = append(w.Completed, o)
		case StatusCanceled:
			w.Canceled = append(w.Canceled, o)
		case StatusExpired:
			w.Expired = append(w.Expired, o)
		default:
			w.Open = append(w.Open, o)
		}
	}
}

// OrderDescriptor 一笔待提交的限价单。数量均为十进制（token 自然单位）。
type OrderDescriptor struct {
	WalletAddress string
	FromToken     string // 合约地址
	ToToken       string
	FromDecimals  int
	FromAmount    decimal.Decimal
	ToAmountMin   decimal.Decimal
	ToDecimals    int
	Expiry        time.Time
}

// SwapRoute 再平衡用的即时兑换请求。
type SwapRoute struct {
	WalletAddress string
	FromToken     string
	ToToken       string
	FromDecimals  int
	ToDecimals    int
	Amount        decimal.Decimal
	MinOut        decimal.Decimal
}

// SubmissionReceipt 提交回执。VenueOrderID 可能要等索引器收录后才可得，
// 为空时调用方以 TxHash 为准做后续解析。
type SubmissionReceipt struct {
	TxHash       string
	VenueOrderID string
}
