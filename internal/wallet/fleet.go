package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/gogrid/internal/domain"
	"github.com/fleetgrid/gogrid/internal/ledger"
	"github.com/fleetgrid/gogrid/pkg/config"
	"github.com/fleetgrid/gogrid/pkg/logger"
	"github.com/fleetgrid/gogrid/pkg/secretstore"
)

// Account 一个派生出来的车队钱包。
type Account struct {
	Index      int
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

// Fleet 持有一组从同一助记词派生的钱包账户。
type Fleet struct {
	accounts []*Account
	byAddr   map[string]*Account
	log      *logrus.Entry
}

// LoadMnemonic 按优先级取助记词：badger 密文库优先，环境变量兜底。
// 密文库需要 GOGRID_SECRET_KEY 指定 32 字节加密密钥（hex 或 base64）。
func LoadMnemonic(cfg config.FleetConfig) (string, error) {
	if cfg.SecretStoreDir != "" {
		if rawKey := os.Getenv("GOGRID_SECRET_KEY"); rawKey != "" {
			key, err := secretstore.ParseKey(rawKey)
			if err != nil {
				return "", errors.Wrap(err, "解析GOGRID_SECRET_KEY失败")
			}
			store, err := secretstore.Open(secretstore.OpenOptions{
				Path:          cfg.SecretStoreDir,
				EncryptionKey: key,
				ReadOnly:      true,
			})
			if err != nil {
				return "", errors.Wrap(err, "打开密文库失败")
			}
			defer store.Close()

			mnemonic, found, err := store.GetString(secretstore.KeyMnemonic)
			if err != nil {
				return "", errors.Wrap(err, "读取助记词失败")
			}
			if found && strings.TrimSpace(mnemonic) != "" {
				return strings.TrimSpace(mnemonic), nil
			}
		}
	}

	if m := strings.TrimSpace(os.Getenv(cfg.MnemonicEnv)); m != "" {
		return m, nil
	}
	return "", errors.Errorf("助记词不可用：密文库无记录且 %s 未设置", cfg.MnemonicEnv)
}

// NewFleet 从助记词派生 size 个账户，路径为 <base>/<index>。
func NewFleet(mnemonic string, cfg config.FleetConfig) (*Fleet, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, errors.New("mnemonic is required")
	}
	if cfg.Size <= 0 {
		return nil, errors.Errorf("车队规模非法: %d", cfg.Size)
	}

	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, errors.Wrap(err, "invalid mnemonic")
	}

	accounts := make([]*Account, 0, cfg.Size)
	byAddr := make(map[string]*Account, cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		path, err := hdwallet.ParseDerivationPath(fmt.Sprintf("%s/%d", cfg.DerivationBase, i))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid derivation path (index=%d)", i)
		}
		acct, err := w.Derive(path, false)
		if err != nil {
			return nil, errors.Wrapf(err, "derive failed (index=%d)", i)
		}
		pk, err := w.PrivateKey(acct)
		if err != nil {
			return nil, errors.Wrapf(err, "private key failed (index=%d)", i)
		}
		a := &Account{Index: i, Address: acct.Address, PrivateKey: pk}
		accounts = append(accounts, a)
		byAddr[strings.ToLower(acct.Address.Hex())] = a
	}

	return &Fleet{
		accounts: accounts,
		byAddr:   byAddr,
		log:      logger.WithField("component", "fleet"),
	}, nil
}

func (f *Fleet) Size() int { return len(f.accounts) }

func (f *Fleet) Accounts() []*Account { return f.accounts }

func (f *Fleet) ByAddress(address string) (*Account, bool) {
	a, ok := f.byAddr[strings.ToLower(address)]
	return a, ok
}

// Register 把车队钱包登记进台账并绑定交易对。
// 已存在的钱包只更新交易对，已有的建仓标记不被触碰。
func (f *Fleet) Register(ctx context.Context, store *ledger.Store, cfg *config.Config) error {
	for _, a := range f.accounts {
		w := &domain.Wallet{
			Address: a.Address.Hex(),
			Index:   a.Index,
			Pool:    cfg.PoolFor(a.Index),
		}
		if err := store.UpsertWallet(ctx, w); err != nil {
			return errors.Wrapf(err, "登记钱包失败: %s", w.Address)
		}
	}
	f.log.WithField("size", len(f.accounts)).Info("车队钱包已登记")
	return nil
}
