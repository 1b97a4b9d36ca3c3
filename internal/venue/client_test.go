package venue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/fleetgrid/gogrid/pkg/config"
)

func TestFetchOrdersClassifiesServerError(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := New(nil, config.VenueConfig{IndexerBaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 5xx 重试耗尽后以 ErrUnavailable 上抛
	_, err = c.FetchOrders(context.Background(), "0xw1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if n := atomic.LoadInt64(&calls); n != 3 {
		t.Fatalf("索引器被调用 %d 次, want 3（重试耗尽）", n)
	}
}

func TestFetchOrdersClientErrorNotRetried(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := New(nil, config.VenueConfig{IndexerBaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.FetchOrders(context.Background(), "0xw1")
	if err == nil {
		t.Fatal("4xx 应报错")
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("4xx 不属于场馆不可用: %v", err)
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Fatalf("索引器被调用 %d 次, want 1（4xx 不重试）", n)
	}
}

type fakeNetErr struct{}

func (fakeNetErr) Error() string   { return "i/o timeout" }
func (fakeNetErr) Timeout() bool   { return true }
func (fakeNetErr) Temporary() bool { return true }

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(fakeNetErr{}) {
		t.Fatal("net.Error 超时应判为超时")
	}
	if !IsTimeout(fmt.Errorf("拉取失败: %w", fakeNetErr{})) {
		t.Fatal("包装过的超时也应判为超时")
	}
	if IsTimeout(errors.New("boom")) {
		t.Fatal("普通错误不是超时")
	}
}
