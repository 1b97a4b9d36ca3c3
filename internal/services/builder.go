package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/gogrid/internal/domain"
	"github.com/fleetgrid/gogrid/internal/ledger"
	"github.com/fleetgrid/gogrid/internal/venue"
	"github.com/fleetgrid/gogrid/internal/wallet"
	"github.com/fleetgrid/gogrid/pkg/config"
	"github.com/fleetgrid/gogrid/pkg/logger"
)

// BuildRequest 一笔待构造的限价单。
// LimitPrice 表示每 1 单位源 token 换多少目标 token（dst-per-src）。
type BuildRequest struct {
	Type       domain.OrderType
	FromToken  domain.Token
	ToToken    domain.Token
	FromAmount decimal.Decimal
	LimitPrice decimal.Decimal
}

// OrderBuilder 订单构造器：余额校验 + 滑点保护 + 截止时间。
// 只读链上余额，不产生任何提交副作用，同参数可安全重试。
type OrderBuilder struct {
	chain    ChainClient
	store    *ledger.Store
	slippage decimal.Decimal // 比例，例如 0.001
	expiry   time.Duration
	log      *logrus.Entry
}

func NewOrderBuilder(chain ChainClient, store *ledger.Store, cfg config.GridConfig) *OrderBuilder {
	return &OrderBuilder{
		chain:    chain,
		store:    store,
		slippage: decimal.NewFromFloat(cfg.SlippagePct).Div(decimal.NewFromInt(100)),
		expiry:   time.Duration(cfg.ExpiryHours) * time.Hour,
		log:      logger.WithField("component", "order_builder"),
	}
}

func (b *OrderBuilder) Build(ctx context.Context, acct *wallet.Account, req BuildRequest) (venue.OrderDescriptor, error) {
	var zero venue.OrderDescriptor

	if !req.Type.Valid() {
		return zero, errors.Errorf("非法订单类型: %s", req.Type)
	}
	if !req.FromAmount.IsPositive() {
		return zero, errors.Errorf("源数量必须为正: %s", req.FromAmount)
	}
	if !req.LimitPrice.IsPositive() {
		return zero, errors.Errorf("限价必须为正: %s", req.LimitPrice)
	}

	balance, err := b.chain.BalanceOf(ctx, req.FromToken, acct.Address)
	if err != nil {
		return zero, errors.Wrapf(err, "读取 %s 余额失败", req.FromToken.Symbol)
	}

	// 已挂出的 pending/partial 订单占用的金额不能重复使用
	pending, err := b.store.PendingAmountSum(ctx, acct.Address.Hex(), req.FromToken.Symbol)
	if err != nil {
		return zero, errors.Wrap(err, "统计挂单占用失败")
	}
	available := balance.Sub(pending)
	if available.LessThan(req.FromAmount) {
		return zero, errors.Wrapf(ErrInsufficientBalance,
			"%s 可用 %s（余额 %s - 挂单占用 %s），需要 %s",
			req.FromToken.Symbol, available, balance, pending, req.FromAmount)
	}

	implied := req.FromAmount.Mul(req.LimitPrice)
	minDst := implied.Mul(decimal.NewFromInt(1).Sub(b.slippage))

	b.log.WithFields(logrus.Fields{
		"wallet": acct.Address.Hex(),
		"type":   req.Type,
		"from":   req.FromToken.Symbol,
		"to":     req.ToToken.Symbol,
		"amount": req.FromAmount.String(),
		"minDst": minDst.String(),
	}).Debug("订单构造完成")

	return venue.OrderDescriptor{
		WalletAddress: acct.Address.Hex(),
		FromToken:     req.FromToken.Address,
		ToToken:       req.ToToken.Address,
		FromDecimals:  req.FromToken.Decimals,
		ToDecimals:    req.ToToken.Decimals,
		FromAmount:    req.FromAmount,
		ToAmountMin:   minDst,
		Expiry:        time.Now().Add(b.expiry),
	}, nil
}
