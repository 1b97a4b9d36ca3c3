package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role 订单角色：初始网格单 / 成交后的反向单
type Role string

const (
	RoleGrid    Role = "grid"
	RoleCounter Role = "counter"
)

// Direction 订单方向
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// OrderType 订单类型（role x direction 两个正交维度）
// 持久化为字符串（grid_buy / grid_sell / counter_buy / counter_sell），
// 但方向反转等逻辑只通过 Role()/Direction() 计算，不做字符串匹配。
type OrderType string

const (
	OrderTypeGridBuy     OrderType = "grid_buy"
	OrderTypeGridSell    OrderType = "grid_sell"
	OrderTypeCounterBuy  OrderType = "counter_buy"
	OrderTypeCounterSell OrderType = "counter_sell"
)

// MakeOrderType 由 role + direction 组合出订单类型
func MakeOrderType(role Role, dir Direction) OrderType {
	if role == RoleCounter {
		if dir == DirectionBuy {
			return OrderTypeCounterBuy
		}
		return OrderTypeCounterSell
	}
	if dir == DirectionBuy {
		return OrderTypeGridBuy
	}
	return OrderTypeGridSell
}

// Role 返回订单角色
func (t OrderType) Role() Role {
	if t == OrderTypeCounterBuy || t == OrderTypeCounterSell {
		return RoleCounter
	}
	return RoleGrid
}

// Direction 返回订单方向
func (t OrderType) Direction() Direction {
	if t == OrderTypeGridBuy || t == OrderTypeCounterBuy {
		return DirectionBuy
	}
	return DirectionSell
}

// Counter 返回本类型成交后应下的反向单类型（全函数，对所有类型有定义）：
// buy 成交 -> counter_sell（高价卖出止盈）
// sell 成交 -> counter_buy（低价买回止盈）
func (t OrderType) Counter() OrderType {
	if t.Direction() == DirectionBuy {
		return OrderTypeCounterSell
	}
	return OrderTypeCounterBuy
}

// Valid 检查订单类型是否合法
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeGridBuy, OrderTypeGridSell, OrderTypeCounterBuy, OrderTypeCounterSell:
		return true
	}
	return false
}

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"  // 已提交，未成交
	OrderStatusPartial  OrderStatus = "partial"  // 部分成交
	OrderStatusFilled   OrderStatus = "filled"   // 完全成交
	OrderStatusCanceled OrderStatus = "canceled" // 已取消
	OrderStatusExpired  OrderStatus = "expired"  // 已过期
)

// IsTerminal 是否为终态（终态订单不再被状态同步器修改）
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusExpired
}

// Order 订单台账记录（append-mostly，只有状态同步器会更新状态字段）
type Order struct {
	ID            string      // 本地 ID（uuid）
	VenueOrderID  string      // 场所分配的订单 ID（全局唯一；未索引成功时回退为提交交易哈希）
	TxHash        string      // 提交交易哈希
	WalletAddress string      // 所属钱包地址
	Type          OrderType   // 订单类型
	ParentOrderID *string     // 父订单 ID（仅 counter 类型非空）
	FromToken     string      // 源 token 符号
	ToToken       string      // 目标 token 符号
	FromAmount    decimal.Decimal // 源数量（人类可读单位）
	ToAmountMin   decimal.Decimal // 最小可接受的目标数量（滑点保护）
	FilledFrom    decimal.Decimal // 实际成交的源数量（成交时从场所记录捕获）
	FilledTo      decimal.Decimal // 实际成交的目标数量
	Status        OrderStatus
	Progress      int // 0-100，非终态下单调不减
	USDValue      decimal.Decimal
	CounterSkip   string // counter 跳过原因（低于最小金额等；空表示未跳过）
	PlacedAt      time.Time
	FilledAt      *time.Time // 仅在进入 filled 时设置
	LastCheckedAt time.Time
}

// IsFilled 是否完全成交
func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// NeedsCounter 成交后是否还需要下反向单
// （已经记录了跳过原因的订单视为已处理，reconcile sweep 不再重试）
func (o *Order) NeedsCounter() bool {
	return o.Status == OrderStatusFilled && o.CounterSkip == ""
}

// ExecutedFrom 返回成交的源数量（未捕获时回退为请求数量）
func (o *Order) ExecutedFrom() decimal.Decimal {
	if o.FilledFrom.IsPositive() {
		return o.FilledFrom
	}
	return o.FromAmount
}

// ExecutedTo 返回成交的目标数量
func (o *Order) ExecutedTo() decimal.Decimal {
	if o.FilledTo.IsPositive() {
		return o.FilledTo
	}
	return o.ToAmountMin
}

// ExecutionPrice 实际成交价（目标数量 / 源数量，即 dst-per-src）
// 反向单的目标价以此为基准加减利润率。
func (o *Order) ExecutionPrice() decimal.Decimal {
	src := o.ExecutedFrom()
	if src.IsZero() {
		return decimal.Zero
	}
	return o.ExecutedTo().Div(src)
}

// Transition 状态同步器检测到的一次状态变化
type Transition struct {
	Order       *Order
	OldStatus   OrderStatus
	NewStatus   OrderStatus
	OldProgress int
	NewProgress int
	FilledFrom  decimal.Decimal // 仅 NewStatus==filled 时有意义
	FilledTo    decimal.Decimal
}

// Filled 本次变化是否为完全成交
func (t *Transition) Filled() bool {
	return t.NewStatus == OrderStatusFilled && t.OldStatus != OrderStatusFilled
}
