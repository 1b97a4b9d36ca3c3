package services

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/gogrid/internal/chain"
	"github.com/fleetgrid/gogrid/internal/domain"
	"github.com/fleetgrid/gogrid/internal/ledger"
	"github.com/fleetgrid/gogrid/internal/metrics"
	"github.com/fleetgrid/gogrid/internal/venue"
	"github.com/fleetgrid/gogrid/internal/wallet"
	"github.com/fleetgrid/gogrid/pkg/config"
	"github.com/fleetgrid/gogrid/pkg/logger"
)

// RebalancePlan 一次再平衡决策。Skip 为真时其余字段（除 Reason 外）无意义。
type RebalancePlan struct {
	Skip      bool
	Reason    string
	FromToken domain.Token
	ToToken   domain.Token
	Amount    decimal.Decimal // 源 token 数量
	SwapUSD   decimal.Decimal
}

// Rebalancer 把钱包的两侧持仓拉回 50/50。
// 偏离超过阈值才动手，swap 金额低于下限则不值得付 gas，跳过。
type Rebalancer struct {
	venue       VenueClient
	chain       ChainClient
	store       *ledger.Store
	prices      PriceSource
	cfg         config.RebalanceConfig
	slippagePct float64
	log         *logrus.Entry
}

func NewRebalancer(v VenueClient, c ChainClient, store *ledger.Store, prices PriceSource, cfg config.RebalanceConfig, slippagePct float64) *Rebalancer {
	return &Rebalancer{
		venue:       v,
		chain:       c,
		store:       store,
		prices:      prices,
		cfg:         cfg,
		slippagePct: slippagePct,
		log:         logger.WithField("component", "rebalancer"),
	}
}

// Plan 纯计算：给定两侧美元价值，决定是否 swap 以及 swap 多少。
// 偏差按较大一侧占比超出 50% 的百分点衡量；恰好等于阈值不触发。
func (r *Rebalancer) Plan(pool domain.TokenPair, baseUSD, quoteUSD decimal.Decimal) RebalancePlan {
	total := baseUSD.Add(quoteUSD)
	if !total.IsPositive() {
		return RebalancePlan{Skip: true, Reason: "总持仓为零"}
	}

	half := total.Div(decimal.NewFromInt(2))
	hundred := decimal.NewFromInt(100)

	var from, to domain.Token
	var excessUSD decimal.Decimal
	if baseUSD.GreaterThanOrEqual(quoteUSD) {
		from, to, excessUSD = pool.Base, pool.Quote, baseUSD
	} else {
		from, to, excessUSD = pool.Quote, pool.Base, quoteUSD
	}

	deviation := excessUSD.Div(total).Mul(hundred).Sub(decimal.NewFromInt(50))
	threshold := decimal.NewFromFloat(r.cfg.ThresholdPct)
	if deviation.LessThanOrEqual(threshold) {
		return RebalancePlan{Skip: true, Reason: fmt.Sprintf("偏差 %spp 未超过阈值 %spp", deviation.StringFixed(2), threshold.String())}
	}

	swapUSD := excessUSD.Sub(half)
	if swapUSD.LessThan(decimal.NewFromFloat(r.cfg.MinSwapUSD)) {
		return RebalancePlan{Skip: true, Reason: fmt.Sprintf("swap 金额 %s USD 低于下限", swapUSD.StringFixed(2))}
	}

	return RebalancePlan{
		FromToken: from,
		ToToken:   to,
		SwapUSD:   swapUSD,
	}
}

// RebalanceWallet 检查并执行一个钱包的再平衡。
// 执行沿用订单执行的授权→提交→等待套路，但目标是路由合约；
// nonce 争用自动换新 nonce 重发一次，再失败才上抛。
func (r *Rebalancer) RebalanceWallet(ctx context.Context, acct *wallet.Account) error {
	address := acct.Address.Hex()

	w, err := r.store.GetWallet(ctx, address)
	if err != nil {
		return errors.Wrap(err, "读取钱包失败")
	}
	if w == nil {
		return errors.Errorf("钱包未登记: %s", address)
	}
	pool := w.Pool

	baseBal, err := r.chain.BalanceOf(ctx, pool.Base, acct.Address)
	if err != nil {
		return errors.Wrapf(err, "读取 %s 余额失败", pool.Base.Symbol)
	}
	quoteBal, err := r.chain.BalanceOf(ctx, pool.Quote, acct.Address)
	if err != nil {
		return errors.Wrapf(err, "读取 %s 余额失败", pool.Quote.Symbol)
	}
	basePx, err := r.prices.USDPrice(ctx, pool.Base.Symbol)
	if err != nil {
		return errors.Wrapf(err, "读取 %s 美元价失败", pool.Base.Symbol)
	}
	quotePx, err := r.prices.USDPrice(ctx, pool.Quote.Symbol)
	if err != nil {
		return errors.Wrapf(err, "读取 %s 美元价失败", pool.Quote.Symbol)
	}

	plan := r.Plan(pool, baseBal.Mul(basePx), quoteBal.Mul(quotePx))
	if plan.Skip {
		r.log.WithFields(logrus.Fields{"wallet": address, "reason": plan.Reason}).Debug("无需再平衡")
		return nil
	}

	fromPx, toPx := basePx, quotePx
	if plan.FromToken.Symbol == pool.Quote.Symbol {
		fromPx, toPx = quotePx, basePx
	}
	amount := plan.SwapUSD.Div(fromPx)
	slippage := decimal.NewFromFloat(r.slippagePct).Div(decimal.NewFromInt(100))
	minOut := plan.SwapUSD.Div(toPx).Mul(decimal.NewFromInt(1).Sub(slippage))

	needed := chain.ToBaseUnits(amount, plan.FromToken.Decimals)
	if err := r.chain.EnsureApproval(ctx, acct.PrivateKey, acct.Address, plan.FromToken, r.venue.SwapSpender(), needed); err != nil {
		return errors.Wrap(err, "补齐授权失败")
	}

	route := venue.SwapRoute{
		WalletAddress: address,
		FromToken:     plan.FromToken.Address,
		ToToken:       plan.ToToken.Address,
		FromDecimals:  plan.FromToken.Decimals,
		ToDecimals:    plan.ToToken.Decimals,
		Amount:        amount,
		MinOut:        minOut,
	}

	receipt, err := r.venue.SubmitSwap(ctx, acct.PrivateKey, route)
	if err != nil && errors.Is(err, chain.ErrNonceConflict) {
		// 重发会重新取 pending nonce，争用方已占掉旧 nonce
		r.log.WithField("wallet", address).Warn("swap 遇到 nonce 争用，换新 nonce 重发一次")
		receipt, err = r.venue.SubmitSwap(ctx, acct.PrivateKey, route)
	}
	if err != nil {
		if errors.Is(err, chain.ErrNonceConflict) {
			return errors.Wrap(ErrNonceConflict, err.Error())
		}
		return errors.Wrap(err, "执行再平衡swap失败")
	}
	metrics.RebalanceSwaps.Add(1)

	detail := fmt.Sprintf("%s %s -> %s (%s USD)", amount.StringFixed(6), plan.FromToken.Symbol, plan.ToToken.Symbol, plan.SwapUSD.StringFixed(2))
	if err := r.store.AppendActivity(ctx, &domain.Activity{
		WalletAddress: address,
		Kind:          domain.ActivityRebalanceSwap,
		Detail:        detail,
		TxHash:        receipt.TxHash,
	}); err != nil {
		r.log.WithField("wallet", address).Warnf("记录再平衡事件失败: %v", err)
	}

	r.log.WithFields(logrus.Fields{
		"wallet": address,
		"swap":   detail,
		"tx":     receipt.TxHash,
	}).Info("再平衡完成")
	return nil
}
