package pricefeed

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/gogrid/pkg/cache"
	"github.com/fleetgrid/gogrid/pkg/config"
	"github.com/fleetgrid/gogrid/pkg/logger"
	"github.com/fleetgrid/gogrid/pkg/ratelimit"
)

// Source 提供 token 的美元报价。调度器用它估算网格订单规模与再平衡偏差。
type Source interface {
	USDPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type priceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Feed 从行情 HTTP 接口拉取美元价，带 TTL 缓存；
// 接口失败时回退到配置里的静态兜底价（稳定币通常只配静态价）。
type Feed struct {
	client  *resty.Client
	cache   *cache.TTLCache[string, decimal.Decimal]
	limiter *ratelimit.TokenBucket
	static  map[string]decimal.Decimal
	ttl     time.Duration
	log     *logrus.Entry
}

func New(cfg config.PriceFeedConfig) (*Feed, error) {
	static := make(map[string]decimal.Decimal, len(cfg.StaticPrices))
	for sym, p := range cfg.StaticPrices {
		if p <= 0 {
			return nil, errors.Errorf("静态价格配置非法: %s=%v", sym, p)
		}
		static[strings.ToUpper(sym)] = decimal.NewFromFloat(p)
	}

	var client *resty.Client
	if cfg.BaseURL != "" {
		client = resty.New().
			SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
			SetTimeout(15 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second)
	}

	ttl := time.Duration(cfg.CacheTTLSecs) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &Feed{
		client:  client,
		cache:   cache.NewTTLCache[string, decimal.Decimal](ttl),
		limiter: ratelimit.NewTokenBucket(5, 5),
		static:  static,
		ttl:     ttl,
		log:     logger.WithField("component", "pricefeed"),
	}, nil
}

// USDPrice 取值顺序：TTL 缓存 → 行情接口 → 静态兜底价。
// 静态价只在行情接口失败（或未配置）时使用，接口正常时以实时价为准。
func (f *Feed) USDPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(symbol)

	if p, ok := f.cache.Get(symbol); ok {
		return p, nil
	}

	if f.client == nil {
		if p, ok := f.static[symbol]; ok {
			return p, nil
		}
		return decimal.Zero, errors.Errorf("没有 %s 的价格来源（未配置行情接口也无静态价）", symbol)
	}

	p, err := f.fetch(ctx, symbol)
	if err != nil {
		if sp, ok := f.static[symbol]; ok {
			f.log.WithField("symbol", symbol).Warnf("行情接口失败，回退静态价: %v", err)
			return sp, nil
		}
		return decimal.Zero, err
	}

	f.cache.Set(symbol, p, f.ttl)
	f.log.WithFields(logrus.Fields{"symbol": symbol, "price": p.String()}).Debug("刷新美元报价")
	return p, nil
}

func (f *Feed) fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	var out priceResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		Get("/v1/prices")
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "拉取 %s 价格失败", symbol)
	}
	if !resp.IsSuccess() {
		return decimal.Zero, errors.Errorf("行情接口返回 %d: %s", resp.StatusCode(), resp.String())
	}

	p, err := decimal.NewFromString(out.Price)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "解析 %s 价格失败: %q", symbol, out.Price)
	}
	if p.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errors.Errorf("行情接口给出非正价格: %s=%s", symbol, p)
	}
	return p, nil
}

// Static 构造仅含静态价的 Source，测试与 dry-run 用。
func Static(prices map[string]decimal.Decimal) Source {
	m := make(map[string]decimal.Decimal, len(prices))
	for sym, p := range prices {
		m[strings.ToUpper(sym)] = p
	}
	return staticSource(m)
}

type staticSource map[string]decimal.Decimal

func (s staticSource) USDPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := s[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Zero, errors.Errorf("没有 %s 的静态价格", symbol)
	}
	return p, nil
}
