package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fleetgrid/gogrid/internal/domain"
	"gopkg.in/yaml.v3"
)

// FleetConfig 钱包舰队配置
type FleetConfig struct {
	Size           int    `yaml:"size"`            // 钱包数量
	DerivationBase string `yaml:"derivation_base"` // 派生路径前缀，默认 m/44'/60'/0'/0
	MnemonicEnv    string `yaml:"mnemonic_env"`    // 助记词环境变量名（secretstore 不可用时的回退）
	SecretStoreDir string `yaml:"secret_store_dir"`
}

// GridConfig 网格策略配置
type GridConfig struct {
	Offsets          []float64 `yaml:"offsets"`           // 对称偏移阶梯（百分比），例如 [1, 2, 3]
	MinOrderUSD      float64   `yaml:"min_order_usd"`     // 最小单笔订单金额（USD）
	TradableFraction float64   `yaml:"tradable_fraction"` // 余额中可用于网格的比例（0-1]
	SlippagePct      float64   `yaml:"slippage_pct"`      // 滑点容忍（百分比，默认 0.1）
	ExpiryHours      int       `yaml:"expiry_hours"`      // 订单过期时长（小时）
}

// CounterConfig 反向单配置
type CounterConfig struct {
	MarginPct   float64 `yaml:"margin_pct"`    // 利润率（百分比），买入成交后加价卖出 / 卖出成交后降价买回
	MinOrderUSD float64 `yaml:"min_order_usd"` // 低于该 USD 金额的反向单跳过
}

// RebalanceConfig 再平衡配置
type RebalanceConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ThresholdPct float64 `yaml:"threshold_pct"`    // 偏离 50% 超过该阈值（百分点）才触发
	MinSwapUSD   float64 `yaml:"min_swap_usd"`     // 低于该金额的 swap 不划算，跳过
	IntervalSecs int     `yaml:"interval_seconds"` // 再平衡检查周期
}

// VenueConfig 交易场所配置
type VenueConfig struct {
	OrderBookAddress  string `yaml:"order_book_address"`   // 限价单合约地址
	SwapRouterAddress string `yaml:"swap_router_address"`  // swap 路由合约地址
	IndexerBaseURL    string `yaml:"indexer_base_url"`     // 订单索引器 HTTP API
	SettleDelaySecs   int    `yaml:"settle_delay_seconds"` // 提交确认后等待索引的时间
}

// ChainConfig 链配置
type ChainConfig struct {
	RPCURL  string `yaml:"rpc_url"`
	ChainID int64  `yaml:"chain_id"`
}

// PriceFeedConfig 价格源配置
type PriceFeedConfig struct {
	BaseURL      string             `yaml:"base_url"`
	CacheTTLSecs int                `yaml:"cache_ttl_seconds"`
	StaticPrices map[string]float64 `yaml:"static_prices"` // 行情接口失败时的静态兜底价
}

// SchedulerConfig 舰队调度配置
type SchedulerConfig struct {
	CycleIntervalSecs     int `yaml:"cycle_interval_seconds"`     // 每个钱包监控循环间隔
	StaggerSecs           int `yaml:"stagger_seconds"`            // 钱包启动错峰间隔
	ReconcileIntervalSecs int `yaml:"reconcile_interval_seconds"` // 全局 reconcile sweep 周期
}

// APIConfig 只读查询 API 配置
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Config 应用配置
type Config struct {
	Fleet     FleetConfig        `yaml:"fleet"`
	Pools     []domain.TokenPair `yaml:"pools"` // 按 wallet.Index % len(Pools) 分配
	Grid      GridConfig         `yaml:"grid"`
	Counter   CounterConfig      `yaml:"counter"`
	Rebalance RebalanceConfig    `yaml:"rebalance"`
	Venue     VenueConfig        `yaml:"venue"`
	Chain     ChainConfig        `yaml:"chain"`
	PriceFeed PriceFeedConfig    `yaml:"price_feed"`
	Scheduler SchedulerConfig    `yaml:"scheduler"`
	API       APIConfig          `yaml:"api"`

	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	MetricsListenAddr string `yaml:"metrics_listen_addr"` // expvar/pprof，空则不启动

	DryRun bool `yaml:"dry_run"` // 纸交易模式：不发真实交易，只打印
}

// Load 从 YAML 文件加载配置并套用环境变量覆盖
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 环境变量覆盖（部署时常用：RPC/索引器地址、DB 路径）
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("GOGRID_RPC_URL")); v != "" {
		c.Chain.RPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GOGRID_INDEXER_URL")); v != "" {
		c.Venue.IndexerBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GOGRID_DB_PATH")); v != "" {
		c.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("GOGRID_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("GOGRID_FLEET_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Fleet.Size = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("GOGRID_DRY_RUN")); v != "" {
		c.DryRun = v == "1" || strings.EqualFold(v, "true")
	}
}

func (c *Config) applyDefaults() {
	if c.Fleet.DerivationBase == "" {
		c.Fleet.DerivationBase = "m/44'/60'/0'/0"
	}
	if c.Fleet.MnemonicEnv == "" {
		c.Fleet.MnemonicEnv = "GOGRID_MNEMONIC"
	}
	if c.Grid.SlippagePct <= 0 {
		c.Grid.SlippagePct = 0.1
	}
	if c.Grid.TradableFraction <= 0 || c.Grid.TradableFraction > 1 {
		c.Grid.TradableFraction = 0.5
	}
	if c.Grid.ExpiryHours <= 0 {
		c.Grid.ExpiryHours = 24
	}
	if c.Counter.MarginPct <= 0 {
		c.Counter.MarginPct = 1.0
	}
	if c.Rebalance.IntervalSecs <= 0 {
		c.Rebalance.IntervalSecs = 600
	}
	if c.Venue.SettleDelaySecs <= 0 {
		c.Venue.SettleDelaySecs = 2
	}
	if c.PriceFeed.CacheTTLSecs <= 0 {
		c.PriceFeed.CacheTTLSecs = 30
	}
	if c.Scheduler.CycleIntervalSecs <= 0 {
		c.Scheduler.CycleIntervalSecs = 15
	}
	if c.Scheduler.StaggerSecs <= 0 {
		c.Scheduler.StaggerSecs = 3
	}
	if c.Scheduler.ReconcileIntervalSecs <= 0 {
		c.Scheduler.ReconcileIntervalSecs = 300
	}
	if c.DBPath == "" {
		c.DBPath = "data/gogrid.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.API.Enabled && c.API.ListenAddr == "" {
		c.API.ListenAddr = "127.0.0.1:8720"
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Fleet.Size <= 0 {
		return fmt.Errorf("fleet.size 必须大于 0")
	}
	if len(c.Pools) == 0 {
		return fmt.Errorf("至少需要配置一个交易对 (pools)")
	}
	for i, p := range c.Pools {
		if p.Base.Symbol == "" || p.Quote.Symbol == "" {
			return fmt.Errorf("pools[%d] base/quote symbol 不能为空", i)
		}
		if p.Base.Decimals <= 0 || p.Quote.Decimals <= 0 {
			return fmt.Errorf("pools[%d] token decimals 必须大于 0", i)
		}
	}
	if len(c.Grid.Offsets) == 0 {
		return fmt.Errorf("grid.offsets 不能为空")
	}
	for _, off := range c.Grid.Offsets {
		if off <= 0 || off >= 100 {
			return fmt.Errorf("grid.offsets 必须在 (0,100) 区间: %v", off)
		}
	}
	if c.Grid.MinOrderUSD <= 0 {
		return fmt.Errorf("grid.min_order_usd 必须大于 0")
	}
	if !c.DryRun {
		if c.Chain.RPCURL == "" {
			return fmt.Errorf("chain.rpc_url 不能为空")
		}
		if c.Venue.IndexerBaseURL == "" {
			return fmt.Errorf("venue.indexer_base_url 不能为空")
		}
	}
	return nil
}

// CycleInterval 监控循环间隔
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Scheduler.CycleIntervalSecs) * time.Second
}

// Stagger 钱包启动错峰间隔
func (c *Config) Stagger() time.Duration {
	return time.Duration(c.Scheduler.StaggerSecs) * time.Second
}

// ReconcileInterval reconcile sweep 周期
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Scheduler.ReconcileIntervalSecs) * time.Second
}

// RebalanceInterval 再平衡检查周期
func (c *Config) RebalanceInterval() time.Duration {
	return time.Duration(c.Rebalance.IntervalSecs) * time.Second
}

// SettleDelay 提交确认后等待场所索引的时间
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Venue.SettleDelaySecs) * time.Second
}

// PoolFor 按钱包序号分配交易对
func (c *Config) PoolFor(index int) domain.TokenPair {
	return c.Pools[index%len(c.Pools)]
}
