package pricefeed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fleetgrid/gogrid/pkg/config"
)

func TestStaticSource(t *testing.T) {
	src := Static(map[string]decimal.Decimal{"usdc": decimal.NewFromInt(1)})

	p, err := src.USDPrice(context.Background(), "USDC")
	if err != nil {
		t.Fatalf("USDPrice: %v", err)
	}
	if !p.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("price = %s, want 1", p)
	}

	if _, err := src.USDPrice(context.Background(), "WETH"); err == nil {
		t.Fatal("未配置的 symbol 应返回错误")
	}
}

func TestFeedStaticOnlyMode(t *testing.T) {
	f, err := New(config.PriceFeedConfig{StaticPrices: map[string]float64{"USDC": 1.0}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p, err := f.USDPrice(context.Background(), "usdc")
	if err != nil {
		t.Fatalf("USDPrice: %v", err)
	}
	if !p.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("price = %s, want 1", p)
	}

	// 没有行情接口时其他 symbol 直接报错
	if _, err := f.USDPrice(context.Background(), "WETH"); err == nil {
		t.Fatal("无价格来源应返回错误")
	}
}

func TestFeedPrefersLiveOverStatic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"symbol":%q,"price":"2000.5"}`, r.URL.Query().Get("symbol"))
	}))
	defer srv.Close()

	// 接口正常时实时价优先，静态价不生效
	f, err := New(config.PriceFeedConfig{
		BaseURL:      srv.URL,
		StaticPrices: map[string]float64{"WETH": 1800},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p, err := f.USDPrice(context.Background(), "WETH")
	if err != nil {
		t.Fatalf("USDPrice: %v", err)
	}
	if !p.Equal(decimal.RequireFromString("2000.5")) {
		t.Fatalf("price = %s, want 2000.5（实时价优先于静态价）", p)
	}
}

func TestFeedFallsBackToStaticOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, err := New(config.PriceFeedConfig{
		BaseURL:      srv.URL,
		StaticPrices: map[string]float64{"WETH": 1800},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 接口失败 → 降级到静态兜底价
	p, err := f.USDPrice(context.Background(), "WETH")
	if err != nil {
		t.Fatalf("USDPrice: %v", err)
	}
	if !p.Equal(decimal.NewFromInt(1800)) {
		t.Fatalf("price = %s, want 1800（静态兜底）", p)
	}

	// 没有静态价的 symbol 失败就是失败
	if _, err := f.USDPrice(context.Background(), "ARB"); err == nil {
		t.Fatal("无兜底价时接口失败应上抛")
	}
}

func TestFeedHTTPAndCache(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		sym := r.URL.Query().Get("symbol")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"symbol":%q,"price":"2000.5"}`, sym)
	}))
	defer srv.Close()

	f, err := New(config.PriceFeedConfig{BaseURL: srv.URL, CacheTTLSecs: 60})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p1, err := f.USDPrice(context.Background(), "WETH")
	if err != nil {
		t.Fatalf("USDPrice: %v", err)
	}
	if !p1.Equal(decimal.RequireFromString("2000.5")) {
		t.Fatalf("price = %s, want 2000.5", p1)
	}

	// 第二次命中缓存，不访问接口
	if _, err := f.USDPrice(context.Background(), "WETH"); err != nil {
		t.Fatalf("USDPrice(cached): %v", err)
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Fatalf("行情接口被调用 %d 次, want 1", n)
	}
}

func TestFeedRejectsBadConfig(t *testing.T) {
	if _, err := New(config.PriceFeedConfig{StaticPrices: map[string]float64{"USDC": -1}}); err == nil {
		t.Fatal("非正静态价应在构造时报错")
	}
}
