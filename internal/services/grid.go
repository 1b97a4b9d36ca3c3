package services

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/gogrid/internal/domain"
	"github.com/fleetgrid/gogrid/internal/ledger"
	"github.com/fleetgrid/gogrid/internal/wallet"
	"github.com/fleetgrid/gogrid/pkg/config"
	"github.com/fleetgrid/gogrid/pkg/logger"
)

// GridPlacer 初始网格下单器：围绕参考价按偏移阶梯成对挂买卖单。
// 每个钱包一生只下一次网格，由台账里的计数器在行锁内 compare-and-increment 把关，
// 并发的调度实例不可能为同一钱包重复建网。
type GridPlacer struct {
	builder  *OrderBuilder
	executor *OrderExecutor
	store    *ledger.Store
	chain    ChainClient
	prices   PriceSource
	cfg      config.GridConfig
	log      *logrus.Entry
}

func NewGridPlacer(b *OrderBuilder, e *OrderExecutor, store *ledger.Store, c ChainClient, prices PriceSource, cfg config.GridConfig) *GridPlacer {
	return &GridPlacer{
		builder:  b,
		executor: e,
		store:    store,
		chain:    c,
		prices:   prices,
		cfg:      cfg,
		log:      logger.WithField("component", "grid_placer"),
	}
}

// AffordablePairs 按余额算出买得起的偏移档位数：
// 可用于网格的美元额度除以单笔订单下限，再按阶梯长度封顶。
func (g *GridPlacer) AffordablePairs(allocatableUSD decimal.Decimal) int {
	minOrder := decimal.NewFromFloat(g.cfg.MinOrderUSD)
	pairs := int(allocatableUSD.Div(minOrder).IntPart())
	if pairs > len(g.cfg.Offsets) {
		pairs = len(g.cfg.Offsets)
	}
	return pairs
}

// PlaceGrid 为钱包下出初始网格。
// 一对订单里单边失败不拖垮另一边，残缺的对是可接受的结果。
func (g *GridPlacer) PlaceGrid(ctx context.Context, acct *wallet.Account) error {
	address := acct.Address.Hex()

	w, err := g.store.GetWallet(ctx, address)
	if err != nil {
		return errors.Wrap(err, "读取钱包失败")
	}
	if w == nil {
		return errors.Errorf("钱包未登记: %s", address)
	}
	if w.GridPlaced() {
		return ErrGridAlreadyPlaced
	}

	pool := w.Pool
	baseBal, err := g.chain.BalanceOf(ctx, pool.Base, acct.Address)
	if err != nil {
		return errors.Wrapf(err, "读取 %s 余额失败", pool.Base.Symbol)
	}
	quoteBal, err := g.chain.BalanceOf(ctx, pool.Quote, acct.Address)
	if err != nil {
		return errors.Wrapf(err, "读取 %s 余额失败", pool.Quote.Symbol)
	}
	basePx, err := g.prices.USDPrice(ctx, pool.Base.Symbol)
	if err != nil {
		return errors.Wrapf(err, "读取 %s 美元价失败", pool.Base.Symbol)
	}
	quotePx, err := g.prices.USDPrice(ctx, pool.Quote.Symbol)
	if err != nil {
		return errors.Wrapf(err, "读取 %s 美元价失败", pool.Quote.Symbol)
	}

	totalUSD := baseBal.Mul(basePx).Add(quoteBal.Mul(quotePx))
	allocatable := totalUSD.Mul(decimal.NewFromFloat(g.cfg.TradableFraction))
	pairs := g.AffordablePairs(allocatable)
	if pairs < 1 {
		return errors.Wrapf(ErrInsufficientBalanceForGrid,
			"钱包 %s 总值 %s USD，可用 %s USD，不够一对网格单",
			address, totalUSD.StringFixed(2), allocatable.StringFixed(2))
	}

	// 先占坑再下单：行锁内的 compare-and-increment 保证只有一个实例走到这里
	if err := g.store.TryMarkGridPlaced(ctx, address); err != nil {
		if errors.Is(err, ledger.ErrGridAlreadyPlaced) {
			return ErrGridAlreadyPlaced
		}
		return errors.Wrap(err, "占用建网标记失败")
	}

	// 参考价：每 1 base 值多少 quote
	refPrice := basePx.Div(quotePx)
	minOrderUSD := decimal.NewFromFloat(g.cfg.MinOrderUSD)
	one := decimal.NewFromInt(1)

	placedBuys, placedSells := 0, 0
	for i := 0; i < pairs; i++ {
		offset := decimal.NewFromFloat(g.cfg.Offsets[i]).Div(decimal.NewFromInt(100))

		// 参考价下方挂买单：花 quote 买 base
		buyPrice := refPrice.Mul(one.Sub(offset))
		if err := g.placeLeg(ctx, acct, domain.OrderTypeGridBuy, pool.Quote, pool.Base,
			minOrderUSD.Div(quotePx), one.Div(buyPrice), minOrderUSD); err != nil {
			g.log.WithFields(logrus.Fields{"wallet": address, "offset": g.cfg.Offsets[i]}).
				Warnf("网格买单失败（继续下一档）: %v", err)
		} else {
			placedBuys++
		}

		// 参考价上方挂卖单：卖 base 换 quote
		sellPrice := refPrice.Mul(one.Add(offset))
		if err := g.placeLeg(ctx, acct, domain.OrderTypeGridSell, pool.Base, pool.Quote,
			minOrderUSD.Div(basePx), sellPrice, minOrderUSD); err != nil {
			g.log.WithFields(logrus.Fields{"wallet": address, "offset": g.cfg.Offsets[i]}).
				Warnf("网格卖单失败（继续下一档）: %v", err)
		} else {
			placedSells++
		}
	}

	_ = g.store.AppendActivity(ctx, &domain.Activity{
		WalletAddress: address,
		Kind:          domain.ActivityGridPlaced,
		Detail:        fmt.Sprintf("pairs=%d buys=%d sells=%d ref=%s", pairs, placedBuys, placedSells, refPrice.String()),
	})
	g.log.WithFields(logrus.Fields{
		"wallet": address,
		"pairs":  pairs,
		"buys":   placedBuys,
		"sells":  placedSells,
	}).Info("初始网格下单完成")
	return nil
}

func (g *GridPlacer) placeLeg(ctx context.Context, acct *wallet.Account, typ domain.OrderType, from, to domain.Token, amount, limit, usdValue decimal.Decimal) error {
	desc, err := g.builder.Build(ctx, acct, BuildRequest{
		Type:       typ,
		FromToken:  from,
		ToToken:    to,
		FromAmount: amount,
		LimitPrice: limit,
	})
	if err != nil {
		return err
	}
	_, err = g.executor.Execute(ctx, acct, ExecuteRequest{
		Descriptor: desc,
		Type:       typ,
		FromToken:  from,
		ToToken:    to,
		USDValue:   usdValue,
	})
	return err
}
