package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/gogrid/internal/domain"
	"github.com/fleetgrid/gogrid/pkg/logger"
)

// ErrNonceConflict 表示同一钱包的并发交易争用了 nonce。
// 调用方（尤其是再平衡器）收到该错误后应刷新 nonce 重试一次。
var ErrNonceConflict = errors.New("chain: nonce conflict")

const erc20ABIJSON = `[
  {"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// Client 封装 EVM 节点访问：ERC20 余额/授权查询、合约交易构造与确认等待。
// 私钥逐笔传入，同一个 Client 服务整个钱包车队。
type Client struct {
	eth      *ethclient.Client
	chainID  *big.Int
	erc20ABI abi.ABI
	log      *logrus.Entry
}

func Dial(rpcURL string, chainID int64) (*Client, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "连接RPC节点失败")
	}
	a20, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "解析ERC20 ABI失败")
	}
	return &Client{
		eth:      c,
		chainID:  big.NewInt(chainID),
		erc20ABI: a20,
		log:      logger.WithField("component", "chain"),
	}, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// BalanceOf 返回 owner 在 token 上的余额，已按 token 精度换算成十进制数。
func (c *Client) BalanceOf(ctx context.Context, token domain.Token, owner common.Address) (decimal.Decimal, error) {
	data, err := c.erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return decimal.Zero, err
	}
	to := common.HexToAddress(token.Address)
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "call %s.balanceOf", token.Symbol)
	}
	var bal *big.Int
	if err := c.erc20ABI.UnpackIntoInterface(&bal, "balanceOf", raw); err != nil {
		return decimal.Zero, err
	}
	return FromBaseUnits(bal, token.Decimals), nil
}

func (c *Client) Allowance(ctx context.Context, token domain.Token, owner, spender common.Address) (*big.Int, error) {
	data, err := c.erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	to := common.HexToAddress(token.Address)
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "call %s.allowance", token.Symbol)
	}
	var allowance *big.Int
	if err := c.erc20ABI.UnpackIntoInterface(&allowance, "allowance", raw); err != nil {
		return nil, err
	}
	return allowance, nil
}

// EnsureApproval 保证 spender 对 token 的 allowance 覆盖 needed；
// 不足时发送一笔 approve(max) 并等待上链。已足额时不产生交易。
func (c *Client) EnsureApproval(ctx context.Context, key *ecdsa.PrivateKey, owner common.Address, token domain.Token, spender common.Address, needed *big.Int) error {
	allowance, err := c.Allowance(ctx, token, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(needed) >= 0 {
		return nil
	}

	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	data, err := c.erc20ABI.Pack("approve", spender, max)
	if err != nil {
		return err
	}
	txHash, err := c.SendContractTx(ctx, key, common.HexToAddress(token.Address), data, big.NewInt(0))
	if err != nil {
		return errors.Wrapf(err, "approve %s -> %s", token.Symbol, spender.Hex())
	}
	c.log.WithFields(logrus.Fields{
		"wallet": owner.Hex(),
		"token":  token.Symbol,
		"tx":     txHash.Hex(),
	}).Info("已发送ERC20授权交易，等待确认")

	receipt, err := c.WaitMined(ctx, txHash, 2*time.Minute)
	if err != nil {
		return err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("approve交易执行失败: %s", txHash.Hex())
	}
	return nil
}

// SendContractTx 构造、签名并发送一笔合约调用交易（legacy + EIP-155）。
func (c *Client) SendContractTx(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "获取nonce失败")
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "获取gas价格失败")
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Data:  data,
		Value: value,
	})
	if err != nil {
		// 部分节点对复杂调用的 EstimateGas 不稳定，给一个保守兜底
		gasLimit = 300000
	}
	tx := ethtypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "签名交易失败")
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		if isNonceError(err) {
			return common.Hash{}, errors.Wrap(ErrNonceConflict, err.Error())
		}
		return common.Hash{}, errors.Wrap(err, "广播交易失败")
	}
	return signed.Hash(), nil
}

// WaitMined 轮询交易回执直到上链或超时。
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash, timeout time.Duration) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "等待交易上链超时: %s", txHash.Hex())
		case <-ticker.C:
		}
	}
}

func isNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "replacement transaction underpriced") ||
		strings.Contains(msg, "already known")
}

// ToBaseUnits 把十进制数量换算成 token 最小单位（截断多余小数位）。
func ToBaseUnits(v decimal.Decimal, decimals int) *big.Int {
	return v.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FromBaseUnits 把最小单位换算回十进制数量。
func FromBaseUnits(v *big.Int, decimals int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -int32(decimals))
}
