package services

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fleetgrid/gogrid/internal/domain"
	"github.com/fleetgrid/gogrid/internal/pricefeed"
	"github.com/fleetgrid/gogrid/internal/venue"
	"github.com/fleetgrid/gogrid/internal/wallet"
)

// AccountResolver 按地址取钱包账户（由 wallet.Fleet 实现）。
type AccountResolver interface {
	ByAddress(address string) (*wallet.Account, bool)
}

// VenueClient 场馆访问接口（由 internal/venue 实现，测试里用 fake）。
type VenueClient interface {
	SubmitOrder(ctx context.Context, key *ecdsa.PrivateKey, d venue.OrderDescriptor) (*venue.SubmissionReceipt, error)
	SubmitSwap(ctx context.Context, key *ecdsa.PrivateKey, r venue.SwapRoute) (*venue.SubmissionReceipt, error)
	FetchOrders(ctx context.Context, walletAddress string) (*venue.WalletOrders, error)
	ResolveOrderID(ctx context.Context, txHash string) (string, error)
	OrderSpender() common.Address
	SwapSpender() common.Address
}

// ChainClient 链上余额与授权接口（由 internal/chain 实现）。
type ChainClient interface {
	BalanceOf(ctx context.Context, token domain.Token, owner common.Address) (decimal.Decimal, error)
	EnsureApproval(ctx context.Context, key *ecdsa.PrivateKey, owner common.Address, token domain.Token, spender common.Address, needed *big.Int) error
}

// PriceSource 美元报价接口。
type PriceSource = pricefeed.Source
