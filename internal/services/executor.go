package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/gogrid/internal/chain"
	"github.com/fleetgrid/gogrid/internal/domain"
	"github.com/fleetgrid/gogrid/internal/ledger"
	"github.com/fleetgrid/gogrid/internal/metrics"
	"github.com/fleetgrid/gogrid/internal/venue"
	"github.com/fleetgrid/gogrid/internal/wallet"
	"github.com/fleetgrid/gogrid/pkg/logger"
)

// ExecuteRequest 一笔已构造、待提交的订单。
type ExecuteRequest struct {
	Descriptor    venue.OrderDescriptor
	Type          domain.OrderType
	ParentOrderID *string // 仅 counter 类型非空
	FromToken     domain.Token
	ToToken       domain.Token
	USDValue      decimal.Decimal
}

// OrderExecutor 订单执行器：授权 → 提交 → 解析场馆订单号 → 落账一次。
// 落账只发生一次，重复提交由 venueOrderId 唯一约束兜底并以 ErrDuplicateOrder 暴露。
type OrderExecutor struct {
	venue       VenueClient
	chain       ChainClient
	store       *ledger.Store
	settleDelay time.Duration
	log         *logrus.Entry
}

func NewOrderExecutor(v VenueClient, c ChainClient, store *ledger.Store, settleDelay time.Duration) *OrderExecutor {
	return &OrderExecutor{
		venue:       v,
		chain:       c,
		store:       store,
		settleDelay: settleDelay,
		log:         logger.WithField("component", "order_executor"),
	}
}

func (e *OrderExecutor) Execute(ctx context.Context, acct *wallet.Account, req ExecuteRequest) (*domain.Order, error) {
	d := req.Descriptor

	// 授权不足时先补齐，阻塞等待上链
	needed := chain.ToBaseUnits(d.FromAmount, d.FromDecimals)
	if err := e.chain.EnsureApproval(ctx, acct.PrivateKey, acct.Address, req.FromToken, e.venue.OrderSpender(), needed); err != nil {
		return nil, errors.Wrap(err, "补齐授权失败")
	}

	receipt, err := e.venue.SubmitOrder(ctx, acct.PrivateKey, d)
	if err != nil {
		return nil, errors.Wrap(classifyVenueErr(err), "提交订单失败")
	}

	venueOrderID := receipt.VenueOrderID
	if venueOrderID == "" {
		// 场馆索引有延迟，稍等后解析；仍拿不到就用交易哈希顶替，
		// 落账永远不被索引进度卡住
		if e.settleDelay > 0 {
			timer := time.NewTimer(e.settleDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		id, err := e.venue.ResolveOrderID(ctx, receipt.TxHash)
		if err != nil {
			e.log.WithField("tx", receipt.TxHash).Warnf("解析场馆订单号失败，暂用交易哈希: %v", err)
		}
		venueOrderID = id
		if venueOrderID == "" {
			venueOrderID = receipt.TxHash
		}
	}

	now := time.Now()
	order := &domain.Order{
		ID:            uuid.NewString(),
		VenueOrderID:  venueOrderID,
		TxHash:        receipt.TxHash,
		WalletAddress: acct.Address.Hex(),
		Type:          req.Type,
		ParentOrderID: req.ParentOrderID,
		FromToken:     req.FromToken.Symbol,
		ToToken:       req.ToToken.Symbol,
		FromAmount:    d.FromAmount,
		ToAmountMin:   d.ToAmountMin,
		Status:        domain.OrderStatusPending,
		USDValue:      req.USDValue,
		PlacedAt:      now,
		LastCheckedAt: now,
	}

	if err := e.store.InsertOrder(ctx, order); err != nil {
		switch {
		case errors.Is(err, ledger.ErrCounterOrderExists):
			// 另一个调用方抢先给同一父订单落了反向单，台账裁决只留一张
			return nil, errors.Wrapf(ErrCounterAlreadyExists, "parent=%s", *req.ParentOrderID)
		case errors.Is(err, ledger.ErrDuplicateVenueOrderID):
			return nil, errors.Wrapf(ErrDuplicateOrder, "venueOrderId=%s", venueOrderID)
		}
		return nil, errors.Wrap(err, "订单落账失败")
	}

	metrics.OrdersPlaced.Add(1)
	if req.Type.Role() == domain.RoleCounter {
		metrics.CountersPlaced.Add(1)
	}
	e.log.WithFields(logrus.Fields{
		"wallet":  order.WalletAddress,
		"type":    order.Type,
		"venueId": order.VenueOrderID,
		"tx":      order.TxHash,
		"usd":     order.USDValue.StringFixed(2),
	}).Info("订单已提交并落账")
	return order, nil
}
