package venue

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/gogrid/internal/chain"
	"github.com/fleetgrid/gogrid/pkg/config"
	"github.com/fleetgrid/gogrid/pkg/logger"
	"github.com/fleetgrid/gogrid/pkg/ratelimit"
	"github.com/fleetgrid/gogrid/pkg/retry"
)

const orderBookABIJSON = `[
  {"inputs":[{"name":"srcToken","type":"address"},{"name":"dstToken","type":"address"},{"name":"srcAmount","type":"uint256"},{"name":"minDstAmount","type":"uint256"},{"name":"deadline","type":"uint256"}],"name":"createOrder","outputs":[{"name":"orderId","type":"bytes32"}],"stateMutability":"nonpayable","type":"function"}
]`

const swapRouterABIJSON = `[
  {"inputs":[{"name":"srcToken","type":"address"},{"name":"dstToken","type":"address"},{"name":"amount","type":"uint256"},{"name":"minOut","type":"uint256"}],"name":"swapExactInput","outputs":[{"name":"amountOut","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`

// Client 场馆访问层：限价单走订单簿合约，订单状态走索引器 HTTP 接口，
// 再平衡兑换走路由合约。
type Client struct {
	chain *chain.Client

	orderBook  common.Address
	swapRouter common.Address
	bookABI    abi.ABI
	routerABI  abi.ABI

	indexer *resty.Client
	limiter *ratelimit.TokenBucket
	policy  retry.Policy

	log *logrus.Entry
}

func New(c *chain.Client, cfg config.VenueConfig) (*Client, error) {
	bookABI, err := abi.JSON(strings.NewReader(orderBookABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "解析订单簿ABI失败")
	}
	routerABI, err := abi.JSON(strings.NewReader(swapRouterABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "解析路由ABI失败")
	}

	indexer := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.IndexerBaseURL, "/")).
		SetTimeout(30 * time.Second)

	policy := retry.Default()
	policy.Retryable = func(err error) bool {
		// 网络错误与 5xx 可重试；4xx 不重试
		return !errors.Is(err, errClientSide)
	}

	return &Client{
		chain:      c,
		orderBook:  common.HexToAddress(cfg.OrderBookAddress),
		swapRouter: common.HexToAddress(cfg.SwapRouterAddress),
		bookABI:    bookABI,
		routerABI:  routerABI,
		indexer:    indexer,
		limiter:    ratelimit.NewTokenBucket(10, 10),
		policy:     policy,
		log:        logger.WithField("component", "venue"),
	}, nil
}

var errClientSide = errors.New("venue: client-side error")

// ErrUnavailable 索引器返回 5xx。重试耗尽后仍以该哨兵上抛，
// 调用方据此把本周期当作场馆暂不可用处理而不是订单级失败。
var ErrUnavailable = errors.New("venue: indexer unavailable")

// IsTimeout 判断是否网络超时（含 HTTP 客户端超时）。
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// OrderSpender 限价单资金的扣款方，下单前需对其 approve。
func (c *Client) OrderSpender() common.Address { return c.orderBook }

// SwapSpender 兑换资金的扣款方。
func (c *Client) SwapSpender() common.Address { return c.swapRouter }

// SubmitOrder 把限价单提交上链并等待交易被打包。
// 返回的回执只带 txHash；场馆订单号要等索引器收录后用 ResolveOrderID 解析。
func (c *Client) SubmitOrder(ctx context.Context, key *ecdsa.PrivateKey, d OrderDescriptor) (*SubmissionReceipt, error) {
	srcAmount := chain.ToBaseUnits(d.FromAmount, d.FromDecimals)
	minDst := chain.ToBaseUnits(d.ToAmountMin, d.ToDecimals)
	deadline := big.NewInt(d.Expiry.Unix())

	data, err := c.bookABI.Pack("createOrder",
		common.HexToAddress(d.FromToken),
		common.HexToAddress(d.ToToken),
		srcAmount,
		minDst,
		deadline,
	)
	if err != nil {
		return nil, errors.Wrap(err, "编码createOrder失败")
	}

	txHash, err := c.chain.SendContractTx(ctx, key, c.orderBook, data, big.NewInt(0))
	if err != nil {
		return nil, err
	}

	receipt, err := c.chain.WaitMined(ctx, txHash, 3*time.Minute)
	if err != nil {
		return nil, err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, errors.Errorf("createOrder交易执行失败: %s", txHash.Hex())
	}

	c.log.WithFields(logrus.Fields{
		"wallet": d.WalletAddress,
		"tx":     txHash.Hex(),
	}).Info("限价单已上链")
	return &SubmissionReceipt{TxHash: txHash.Hex()}, nil
}

// SubmitSwap 执行一笔即时兑换并等待上链。
func (c *Client) SubmitSwap(ctx context.Context, key *ecdsa.PrivateKey, r SwapRoute) (*SubmissionReceipt, error) {
	amount := chain.ToBaseUnits(r.Amount, r.FromDecimals)
	minOut := chain.ToBaseUnits(r.MinOut, r.ToDecimals)

	data, err := c.routerABI.Pack("swapExactInput",
		common.HexToAddress(r.FromToken),
		common.HexToAddress(r.ToToken),
		amount,
		minOut,
	)
	if err != nil {
		return nil, errors.Wrap(err, "编码swapExactInput失败")
	}

	txHash, err := c.chain.SendContractTx(ctx, key, c.swapRouter, data, big.NewInt(0))
	if err != nil {
		return nil, err
	}

	receipt, err := c.chain.WaitMined(ctx, txHash, 3*time.Minute)
	if err != nil {
		return nil, err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, errors.Errorf("swap交易执行失败: %s", txHash.Hex())
	}
	return &SubmissionReceipt{TxHash: txHash.Hex()}, nil
}

type ordersResponse struct {
	Orders []Order `json:"orders"`
}

// FetchOrders 从索引器拉取钱包的订单全集并按状态分组。
func (c *Client) FetchOrders(ctx context.Context, walletAddress string) (*WalletOrders, error) {
	var out ordersResponse
	err := c.policy.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := c.indexer.R().
			SetContext(ctx).
			SetPathParam("wallet", walletAddress).
			SetResult(&out).
			Get("/v1/wallets/{wallet}/orders")
		return classifyHTTP(resp, err)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "拉取钱包订单失败: %s", walletAddress)
	}

	w := &WalletOrders{All: out.Orders}
	w.Regroup()
	return w, nil
}

type orderByTxResponse struct {
	ID string `json:"id"`
}

// ResolveOrderID 用提交交易哈希向索引器换取场馆订单号。
// 索引器尚未收录时返回空串（不视为错误）。
func (c *Client) ResolveOrderID(ctx context.Context, txHash string) (string, error) {
	var out orderByTxResponse
	var notFound bool
	err := c.policy.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := c.indexer.R().
			SetContext(ctx).
			SetPathParam("tx", txHash).
			SetResult(&out).
			Get("/v1/orders/by-tx/{tx}")
		if err == nil && resp.StatusCode() == 404 {
			notFound = true
			return nil
		}
		return classifyHTTP(resp, err)
	})
	if err != nil {
		return "", errors.Wrapf(err, "解析场馆订单号失败: %s", txHash)
	}
	if notFound {
		return "", nil
	}
	return out.ID, nil
}

func classifyHTTP(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsSuccess() {
		return nil
	}
	code := resp.StatusCode()
	if code >= 400 && code < 500 {
		return errors.Wrapf(errClientSide, "索引器返回 %d: %s", code, resp.String())
	}
	return errors.Wrapf(ErrUnavailable, "索引器返回 %d: %s", code, resp.String())
}
