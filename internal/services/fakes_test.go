package services

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fleetgrid/gogrid/internal/domain"
	"github.com/fleetgrid/gogrid/internal/ledger"
	"github.com/fleetgrid/gogrid/internal/pricefeed"
	"github.com/fleetgrid/gogrid/internal/venue"
	"github.com/fleetgrid/gogrid/internal/wallet"
)

var testPool = domain.TokenPair{
	Base:  domain.Token{Symbol: "WETH", Address: "0x00000000000000000000000000000000000000aa", Decimals: 18},
	Quote: domain.Token{Symbol: "USDC", Address: "0x00000000000000000000000000000000000000bb", Decimals: 6},
}

func testPrices() PriceSource {
	return pricefeed.Static(map[string]decimal.Decimal{
		"WETH": decimal.NewFromInt(2000),
		"USDC": decimal.NewFromInt(1),
	})
}

func newTestAccount(t *testing.T) *wallet.Account {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &wallet.Account{
		Index:      0,
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
	}
}

func newTestLedger(t *testing.T, acct *wallet.Account) *ledger.Store {
	t.Helper()
	s, err := ledger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.UpsertWallet(context.Background(), &domain.Wallet{
		Address: acct.Address.Hex(),
		Index:   acct.Index,
		Pool:    testPool,
	}))
	return s
}

// fakeChain 余额按符号存表，授权调用只记账。
type fakeChain struct {
	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	approvals []string // "symbol->spender"
}

func newFakeChain(balances map[string]decimal.Decimal) *fakeChain {
	return &fakeChain{balances: balances}
}

func (c *fakeChain) BalanceOf(_ context.Context, token domain.Token, _ common.Address) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[token.Symbol], nil
}

func (c *fakeChain) EnsureApproval(_ context.Context, _ *ecdsa.PrivateKey, _ common.Address, token domain.Token, spender common.Address, _ *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approvals = append(c.approvals, token.Symbol+"->"+spender.Hex())
	return nil
}

// fakeVenue 记录提交，按序吐回执；可注入固定订单号与失败序列。
type fakeVenue struct {
	mu        sync.Mutex
	submitted []venue.OrderDescriptor
	swaps     []venue.SwapRoute

	remote map[string]*venue.WalletOrders // by wallet address

	fixedOrderID string  // 非空时所有提交都解析为该订单号
	resolveEmpty bool    // ResolveOrderID 永远返回空（模拟索引器滞后）
	submitErrs   []error // 每次 SubmitOrder 弹出一个（nil 表示成功）
	swapErrs     []error
	fetchErr     error   // 非空时 FetchOrders 固定失败
	submitHook   func()  // 下一次 SubmitOrder 进入时调用（一次性），并发测试的卡点

	seq int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{remote: make(map[string]*venue.WalletOrders)}
}

func (v *fakeVenue) OrderSpender() common.Address {
	return common.HexToAddress("0x0000000000000000000000000000000000000b0b")
}

func (v *fakeVenue) SwapSpender() common.Address {
	return common.HexToAddress("0x0000000000000000000000000000000000000d0d")
}

func (v *fakeVenue) SubmitOrder(_ context.Context, _ *ecdsa.PrivateKey, d venue.OrderDescriptor) (*venue.SubmissionReceipt, error) {
	v.mu.Lock()
	hook := v.submitHook
	v.submitHook = nil
	v.mu.Unlock()
	if hook != nil {
		hook() // 不持锁调用，卡住的提交不能挡住并发提交
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.submitErrs) > 0 {
		err := v.submitErrs[0]
		v.submitErrs = v.submitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	v.seq++
	v.submitted = append(v.submitted, d)
	return &venue.SubmissionReceipt{TxHash: fmt.Sprintf("0xtx%04d", v.seq)}, nil
}

func (v *fakeVenue) SubmitSwap(_ context.Context, _ *ecdsa.PrivateKey, r venue.SwapRoute) (*venue.SubmissionReceipt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.swapErrs) > 0 {
		err := v.swapErrs[0]
		v.swapErrs = v.swapErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	v.seq++
	v.swaps = append(v.swaps, r)
	return &venue.SubmissionReceipt{TxHash: fmt.Sprintf("0xswap%04d", v.seq)}, nil
}

func (v *fakeVenue) FetchOrders(_ context.Context, walletAddress string) (*venue.WalletOrders, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fetchErr != nil {
		return nil, v.fetchErr
	}
	if w, ok := v.remote[walletAddress]; ok {
		return w, nil
	}
	return &venue.WalletOrders{}, nil
}

func (v *fakeVenue) ResolveOrderID(_ context.Context, txHash string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.resolveEmpty {
		return "", nil
	}
	if v.fixedOrderID != "" {
		return v.fixedOrderID, nil
	}
	return "venue-" + txHash, nil
}

func (v *fakeVenue) setRemote(walletAddress string, orders ...venue.Order) {
	v.mu.Lock()
	defer v.mu.Unlock()
	w := &venue.WalletOrders{All: orders}
	w.Regroup()
	v.remote[walletAddress] = w
}

func (v *fakeVenue) submittedCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.submitted)
}
