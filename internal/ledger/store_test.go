package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetgrid/gogrid/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testWallet(t *testing.T, s *Store, address string) *domain.Wallet {
	t.Helper()
	w := &domain.Wallet{
		Address: address,
		Index:   0,
		Pool: domain.TokenPair{
			Base:  domain.Token{Symbol: "WETH", Decimals: 18},
			Quote: domain.Token{Symbol: "USDC", Decimals: 6},
		},
	}
	require.NoError(t, s.UpsertWallet(context.Background(), w))
	return w
}

func testOrder(wallet, venueID string, typ domain.OrderType) *domain.Order {
	return &domain.Order{
		ID:            "local-" + venueID,
		VenueOrderID:  venueID,
		TxHash:        "0xtx" + venueID,
		WalletAddress: wallet,
		Type:          typ,
		FromToken:     "USDC",
		ToToken:       "WETH",
		FromAmount:    decimal.NewFromInt(100),
		ToAmountMin:   decimal.NewFromFloat(0.05),
		Status:        domain.OrderStatusPending,
		USDValue:      decimal.NewFromInt(100),
		PlacedAt:      time.Now(),
		LastCheckedAt: time.Now(),
	}
}

func TestInsertOrderDuplicateVenueID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testWallet(t, s, "0xw1")

	o1 := testOrder("0xw1", "venue-1", domain.OrderTypeGridBuy)
	require.NoError(t, s.InsertOrder(ctx, o1))

	// 相同 venue_order_id 的第二次插入必须被拒绝
	o2 := testOrder("0xw1", "venue-1", domain.OrderTypeGridBuy)
	o2.ID = "local-other"
	err := s.InsertOrder(ctx, o2)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDuplicateVenueOrderID))

	// 台账里只有一行
	orders, err := s.OrdersByWallet(ctx, "0xw1", "")
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestInsertOrderSecondCounterRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testWallet(t, s, "0xw1")

	parent := testOrder("0xw1", "venue-parent", domain.OrderTypeGridBuy)
	parent.Status = domain.OrderStatusFilled
	require.NoError(t, s.InsertOrder(ctx, parent))

	c1 := testOrder("0xw1", "venue-c1", domain.OrderTypeCounterSell)
	c1.ParentOrderID = &parent.ID
	require.NoError(t, s.InsertOrder(ctx, c1))

	// venue_order_id 不同也挡得住：(parent, type) 唯一索引裁决
	c2 := testOrder("0xw1", "venue-c2", domain.OrderTypeCounterSell)
	c2.ParentOrderID = &parent.ID
	err := s.InsertOrder(ctx, c2)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCounterOrderExists))
	require.False(t, errors.Is(err, ErrDuplicateVenueOrderID))

	// 无父订单的网格单不受该索引约束
	g2 := testOrder("0xw1", "venue-g2", domain.OrderTypeGridBuy)
	require.NoError(t, s.InsertOrder(ctx, g2))

	got, err := s.CounterOrder(ctx, parent.ID, domain.OrderTypeCounterSell)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, c1.ID, got.ID)
}

func TestApplyTransitionTerminalImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testWallet(t, s, "0xw1")

	o := testOrder("0xw1", "venue-1", domain.OrderTypeGridBuy)
	require.NoError(t, s.InsertOrder(ctx, o))

	// pending -> filled
	applied, err := s.ApplyTransition(ctx, &domain.Transition{
		Order:       o,
		OldStatus:   domain.OrderStatusPending,
		NewStatus:   domain.OrderStatusFilled,
		NewProgress: 100,
		FilledFrom:  decimal.NewFromInt(100),
		FilledTo:    decimal.NewFromFloat(0.051),
	})
	require.NoError(t, err)
	require.True(t, applied)

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFilled, got.Status)
	require.Equal(t, 100, got.Progress)
	require.NotNil(t, got.FilledAt)
	require.True(t, got.FilledFrom.Equal(decimal.NewFromInt(100)))

	// 终态后再写必须是 no-op
	applied, err = s.ApplyTransition(ctx, &domain.Transition{
		Order:       o,
		NewStatus:   domain.OrderStatusCanceled,
		NewProgress: 0,
	})
	require.NoError(t, err)
	require.False(t, applied)

	got2, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFilled, got2.Status)
}

func TestApplyTransitionProgressMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testWallet(t, s, "0xw1")

	o := testOrder("0xw1", "venue-1", domain.OrderTypeGridSell)
	require.NoError(t, s.InsertOrder(ctx, o))

	_, err := s.ApplyTransition(ctx, &domain.Transition{
		Order: o, NewStatus: domain.OrderStatusPartial, NewProgress: 40,
	})
	require.NoError(t, err)

	// progress 回退被钳制为不减
	_, err = s.ApplyTransition(ctx, &domain.Transition{
		Order: o, NewStatus: domain.OrderStatusPartial, NewProgress: 25,
	})
	require.NoError(t, err)

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, 40, got.Progress)
}

func TestFilledOrdersMissingCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testWallet(t, s, "0xw1")

	parent := testOrder("0xw1", "venue-parent", domain.OrderTypeGridBuy)
	parent.Status = domain.OrderStatusFilled
	require.NoError(t, s.InsertOrder(ctx, parent))

	missing, err := s.FilledOrdersMissingCounter(ctx, "")
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, parent.ID, missing[0].ID)

	// 补上 counter 后不再出现在候选集
	counter := testOrder("0xw1", "venue-counter", domain.OrderTypeCounterSell)
	counter.ParentOrderID = &parent.ID
	require.NoError(t, s.InsertOrder(ctx, counter))

	missing, err = s.FilledOrdersMissingCounter(ctx, "")
	require.NoError(t, err)
	require.Empty(t, missing)

	// CounterOrder 能按 (parent, type) 找到
	got, err := s.CounterOrder(ctx, parent.ID, domain.OrderTypeCounterSell)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, counter.ID, got.ID)
}

func TestFilledOrdersMissingCounterSkipRecorded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testWallet(t, s, "0xw1")

	parent := testOrder("0xw1", "venue-parent", domain.OrderTypeGridSell)
	parent.Status = domain.OrderStatusFilled
	require.NoError(t, s.InsertOrder(ctx, parent))

	require.NoError(t, s.SetCounterSkip(ctx, parent.ID, "below_min_order_value"))

	// 跳过原因已记录的订单不再是 sweep 候选
	missing, err := s.FilledOrdersMissingCounter(ctx, "")
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestTryMarkGridPlaced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testWallet(t, s, "0xw1")

	require.NoError(t, s.TryMarkGridPlaced(ctx, "0xw1"))

	// 第二次必须失败
	err := s.TryMarkGridPlaced(ctx, "0xw1")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrGridAlreadyPlaced))

	w, err := s.GetWallet(ctx, "0xw1")
	require.NoError(t, err)
	require.Equal(t, 1, w.PlacedInitialOrdersCount)
}

func TestPendingAmountSum(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testWallet(t, s, "0xw1")

	o1 := testOrder("0xw1", "v1", domain.OrderTypeGridBuy)
	o2 := testOrder("0xw1", "v2", domain.OrderTypeGridBuy)
	o3 := testOrder("0xw1", "v3", domain.OrderTypeGridBuy)
	o3.Status = domain.OrderStatusFilled // 终态不计入
	require.NoError(t, s.InsertOrder(ctx, o1))
	require.NoError(t, s.InsertOrder(ctx, o2))
	require.NoError(t, s.InsertOrder(ctx, o3))

	sum, err := s.PendingAmountSum(ctx, "0xw1", "USDC")
	require.NoError(t, err)
	require.True(t, sum.Equal(decimal.NewFromInt(200)), "sum=%s", sum)
}

func TestActivities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testWallet(t, s, "0xw1")

	require.NoError(t, s.AppendActivity(ctx, &domain.Activity{
		WalletAddress: "0xw1",
		Kind:          domain.ActivityRebalanceSwap,
		Detail:        "swap 10 USDC -> WETH",
		TxHash:        "0xswap",
	}))

	acts, err := s.ActivitiesByWallet(ctx, "0xw1", 10)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	require.Equal(t, domain.ActivityRebalanceSwap, acts[0].Kind)
}
