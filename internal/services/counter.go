package services

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/gogrid/internal/domain"
	"github.com/fleetgrid/gogrid/internal/ledger"
	"github.com/fleetgrid/gogrid/pkg/config"
	"github.com/fleetgrid/gogrid/pkg/logger"
)

// CounterManager 成交反应器：订单成交后反向挂单止盈。
// 幂等以台账为准：每个父订单至多一张规范方向的反向单，
// 先查后下只是快路径短路，并发竞态由台账的 (parent, type)
// 唯一索引最终裁决；周期性的 Sweep 兜底补齐因崩溃漏掉的反向单。
type CounterManager struct {
	builder  *OrderBuilder
	executor *OrderExecutor
	store    *ledger.Store
	prices   PriceSource
	accounts AccountResolver
	cfg      config.CounterConfig
	log      *logrus.Entry
}

func NewCounterManager(b *OrderBuilder, e *OrderExecutor, store *ledger.Store, prices PriceSource, accounts AccountResolver, cfg config.CounterConfig) *CounterManager {
	return &CounterManager{
		builder:  b,
		executor: e,
		store:    store,
		prices:   prices,
		accounts: accounts,
		cfg:      cfg,
		log:      logger.WithField("component", "counter_manager"),
	}
}

// HandleFill 为一笔已成交订单派生并下出反向单。
// 已有反向单、金额低于下限都是预期内的跳过，不返回错误。
func (m *CounterManager) HandleFill(ctx context.Context, parent *domain.Order) error {
	counterType := parent.Type.Counter()

	// 幂等检查：台账里已有同父同向的反向单就停
	existing, err := m.store.CounterOrder(ctx, parent.ID, counterType)
	if err != nil {
		return errors.Wrap(err, "查询已有反向单失败")
	}
	if existing != nil {
		m.log.WithFields(logrus.Fields{
			"parent":  parent.ID,
			"counter": existing.ID,
		}).Debug("反向单已存在，跳过")
		return nil
	}

	execPrice := parent.ExecutionPrice()
	if !execPrice.IsPositive() {
		return errors.Errorf("父订单 %s 成交价无效: %s", parent.ID, execPrice)
	}

	// 买入成交 → 加价卖出；卖出成交 → 降价买回
	margin := decimal.NewFromFloat(m.cfg.MarginPct).Div(decimal.NewFromInt(100))
	var targetPrice decimal.Decimal
	if parent.Type.Direction() == domain.DirectionBuy {
		targetPrice = execPrice.Mul(decimal.NewFromInt(1).Add(margin))
	} else {
		targetPrice = execPrice.Mul(decimal.NewFromInt(1).Sub(margin))
	}

	// 反向单吃掉父订单的全部实际成交所得，而不是父订单的原始请求量
	counterAmount := parent.ExecutedTo()
	if !counterAmount.IsPositive() {
		return errors.Errorf("父订单 %s 无成交所得", parent.ID)
	}

	w, err := m.store.GetWallet(ctx, parent.WalletAddress)
	if err != nil {
		return errors.Wrap(err, "读取钱包失败")
	}
	if w == nil {
		return errors.Errorf("钱包不存在: %s", parent.WalletAddress)
	}
	fromToken, ok := w.Pool.BySymbol(parent.ToToken)
	if !ok {
		return errors.Errorf("钱包 %s 交易对不含 %s", w.Address, parent.ToToken)
	}
	toToken, ok := w.Pool.BySymbol(parent.FromToken)
	if !ok {
		return errors.Errorf("钱包 %s 交易对不含 %s", w.Address, parent.FromToken)
	}

	fromUSD, err := m.prices.USDPrice(ctx, fromToken.Symbol)
	if err != nil {
		return errors.Wrapf(err, "读取 %s 美元价失败", fromToken.Symbol)
	}
	usdValue := counterAmount.Mul(fromUSD)

	// 金额不够下限：在父订单上记录原因后停，这是预期结果不是失败
	if cause := m.checkMinimum(usdValue); cause != nil {
		reason := cause.Error()
		if err := m.store.SetCounterSkip(ctx, parent.ID, reason); err != nil {
			return errors.Wrap(err, "记录跳过原因失败")
		}
		_ = m.store.AppendActivity(ctx, &domain.Activity{
			WalletAddress: parent.WalletAddress,
			Kind:          domain.ActivityCounterSkipped,
			Detail:        fmt.Sprintf("parent=%s %s", parent.ID, reason),
		})
		m.log.WithFields(logrus.Fields{
			"parent": parent.ID,
			"usd":    usdValue.StringFixed(2),
		}).Info("反向单金额低于下限，跳过")
		return nil
	}

	acct, ok := m.accounts.ByAddress(parent.WalletAddress)
	if !ok {
		return errors.Errorf("车队里没有钱包 %s 的账户", parent.WalletAddress)
	}

	// 反向单方向与父订单互换：源是父订单的所得，目标价换算回 dst-per-src
	counterLimit := decimal.NewFromInt(1).Div(targetPrice)
	desc, err := m.builder.Build(ctx, acct, BuildRequest{
		Type:       counterType,
		FromToken:  fromToken,
		ToToken:    toToken,
		FromAmount: counterAmount,
		LimitPrice: counterLimit,
	})
	if err != nil {
		return errors.Wrap(err, "构造反向单失败")
	}

	order, err := m.executor.Execute(ctx, acct, ExecuteRequest{
		Descriptor:    desc,
		Type:          counterType,
		ParentOrderID: &parent.ID,
		FromToken:     fromToken,
		ToToken:       toToken,
		USDValue:      usdValue,
	})
	if err != nil {
		if errors.Is(err, ErrCounterAlreadyExists) {
			// 与兜底巡检撞车，台账的唯一索引已裁决给对方，等同幂等短路
			m.log.WithField("parent", parent.ID).Debug("反向单已由并发方落账，跳过")
			return nil
		}
		return errors.Wrap(err, "执行反向单失败")
	}

	m.log.WithFields(logrus.Fields{
		"parent":      parent.ID,
		"counter":     order.ID,
		"type":        counterType,
		"amount":      counterAmount.String(),
		"targetPrice": targetPrice.String(),
	}).Info("反向单已下出")
	return nil
}

// checkMinimum 反向单金额下限校验，低于下限返回 ErrBelowMinimumOrderValue。
func (m *CounterManager) checkMinimum(usdValue decimal.Decimal) error {
	minUSD := decimal.NewFromFloat(m.cfg.MinOrderUSD)
	if usdValue.LessThan(minUSD) {
		return errors.Wrapf(ErrBelowMinimumOrderValue, "%s < %s USD", usdValue.StringFixed(2), minUSD.StringFixed(2))
	}
	return nil
}

// Sweep 兜底巡检：为台账中每一笔缺反向单的已成交订单补下反向单。
// 崩溃在成交检测与反向下单之间留下的缺口由这里补齐；逐单隔离失败。
func (m *CounterManager) Sweep(ctx context.Context) (int, error) {
	missing, err := m.store.FilledOrdersMissingCounter(ctx, "")
	if err != nil {
		return 0, errors.Wrap(err, "查询缺反向单的订单失败")
	}

	placed := 0
	for _, parent := range missing {
		if err := m.HandleFill(ctx, parent); err != nil {
			m.log.WithField("parent", parent.ID).Errorf("兜底补单失败: %v", err)
			continue
		}
		placed++
	}
	if len(missing) > 0 {
		m.log.WithFields(logrus.Fields{
			"candidates": len(missing),
			"handled":    placed,
		}).Info("反向单兜底巡检完成")
	}
	return placed, nil
}
