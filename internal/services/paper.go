package services

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/gogrid/internal/domain"
	"github.com/fleetgrid/gogrid/internal/venue"
	"github.com/fleetgrid/gogrid/pkg/logger"
)

// PaperVenue 纸交易场馆：不发任何真实交易。
// 提交即假装成交（progress=100），让下游的同步、反向单、兜底巡检
// 都能在没有链和索引器的情况下完整转一遍。
type PaperVenue struct {
	mu        sync.Mutex
	seq       int
	submitted map[string][]venue.OrderDescriptor // wallet -> descriptors
	ids       map[string][]string                // wallet -> 对应的场馆订单号
	log       *logrus.Entry
}

func NewPaperVenue() *PaperVenue {
	return &PaperVenue{
		submitted: make(map[string][]venue.OrderDescriptor),
		ids:       make(map[string][]string),
		log:       logger.WithField("component", "paper_venue"),
	}
}

func (p *PaperVenue) SubmitOrder(_ context.Context, _ *ecdsa.PrivateKey, d venue.OrderDescriptor) (*venue.SubmissionReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("paper-%06d", p.seq)
	p.submitted[d.WalletAddress] = append(p.submitted[d.WalletAddress], d)
	p.ids[d.WalletAddress] = append(p.ids[d.WalletAddress], id)
	p.log.WithFields(logrus.Fields{
		"wallet": d.WalletAddress,
		"amount": d.FromAmount.String(),
		"minOut": d.ToAmountMin.String(),
	}).Info("纸交易：订单已提交")
	return &venue.SubmissionReceipt{TxHash: "0xpaper" + id, VenueOrderID: id}, nil
}

func (p *PaperVenue) SubmitSwap(_ context.Context, _ *ecdsa.PrivateKey, r venue.SwapRoute) (*venue.SubmissionReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.log.WithFields(logrus.Fields{
		"wallet": r.WalletAddress,
		"amount": r.Amount.String(),
	}).Info("纸交易：swap 已执行")
	return &venue.SubmissionReceipt{TxHash: fmt.Sprintf("0xpaperswap%06d", p.seq)}, nil
}

func (p *PaperVenue) FetchOrders(_ context.Context, walletAddress string) (*venue.WalletOrders, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := &venue.WalletOrders{}
	for i, d := range p.submitted[walletAddress] {
		w.All = append(w.All, venue.Order{
			ID:        p.ids[walletAddress][i],
			Status:    venue.StatusFilled,
			Progress:  100,
			FilledSrc: d.FromAmount,
			FilledDst: d.ToAmountMin,
			TxHash:    "0xpaper" + p.ids[walletAddress][i],
		})
	}
	w.Regroup()
	return w, nil
}

func (p *PaperVenue) ResolveOrderID(context.Context, string) (string, error) { return "", nil }
func (p *PaperVenue) OrderSpender() common.Address                          { return common.Address{} }
func (p *PaperVenue) SwapSpender() common.Address                           { return common.Address{} }

// PaperChain 纸交易链：每个 token 的余额固定等值 bankrollUSD，授权是空操作。
type PaperChain struct {
	prices      PriceSource
	bankrollUSD decimal.Decimal
}

func NewPaperChain(prices PriceSource, bankrollUSD float64) *PaperChain {
	return &PaperChain{prices: prices, bankrollUSD: decimal.NewFromFloat(bankrollUSD)}
}

func (p *PaperChain) BalanceOf(ctx context.Context, token domain.Token, _ common.Address) (decimal.Decimal, error) {
	px, err := p.prices.USDPrice(ctx, token.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return p.bankrollUSD.Div(px), nil
}

func (p *PaperChain) EnsureApproval(context.Context, *ecdsa.PrivateKey, common.Address, domain.Token, common.Address, *big.Int) error {
	return nil
}
