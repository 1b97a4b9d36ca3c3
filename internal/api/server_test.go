package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fleetgrid/gogrid/internal/domain"
	"github.com/fleetgrid/gogrid/internal/ledger"
	"github.com/fleetgrid/gogrid/internal/services"
)

type fakeScheduler struct {
	gridCalls  []string
	cycleCalls []string
	gridErr    error
	passErr    error
}

func (f *fakeScheduler) TriggerGrid(_ context.Context, address string) error {
	f.gridCalls = append(f.gridCalls, address)
	return f.gridErr
}

func (f *fakeScheduler) TriggerWalletCycle(_ context.Context, address string) error {
	f.cycleCalls = append(f.cycleCalls, address)
	return nil
}

func (f *fakeScheduler) RunReconcilePass(context.Context) error {
	return f.passErr
}

func (f *fakeScheduler) PassActive() bool { return false }

const testAddr = "0x1111111111111111111111111111111111111111"

func newTestServer(t *testing.T) (*Server, *fakeScheduler, *ledger.Store) {
	t.Helper()
	store, err := ledger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	err = store.UpsertWallet(context.Background(), &domain.Wallet{
		Address: testAddr,
		Index:   0,
		Pool: domain.TokenPair{
			Base:  domain.Token{Symbol: "WETH", Decimals: 18},
			Quote: domain.Token{Symbol: "USDC", Decimals: 6},
		},
	})
	require.NoError(t, err)

	sched := &fakeScheduler{}
	return NewServer(store, sched, "127.0.0.1:0"), sched, store
}

func seedOrder(t *testing.T, store *ledger.Store, id string, typ domain.OrderType, status domain.OrderStatus, parent *string) {
	t.Helper()
	err := store.InsertOrder(context.Background(), &domain.Order{
		ID:            id,
		VenueOrderID:  "venue-" + id,
		TxHash:        "0xtx" + id,
		WalletAddress: testAddr,
		Type:          typ,
		ParentOrderID: parent,
		FromToken:     "USDC",
		ToToken:       "WETH",
		FromAmount:    decimal.NewFromInt(10),
		ToAmountMin:   decimal.RequireFromString("0.005"),
		Status:        status,
		USDValue:      decimal.NewFromInt(10),
		PlacedAt:      time.Now(),
		LastCheckedAt: time.Now(),
	})
	require.NoError(t, err)
}

func doRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListWalletsAndStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/wallets")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Wallets []walletView `json:"wallets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Wallets, 1)
	require.Equal(t, testAddr, body.Wallets[0].Address)
	require.Equal(t, "WETH", body.Wallets[0].Base)
	require.False(t, body.Wallets[0].GridPlaced)

	rec = doRequest(t, srv, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Wallets    int `json:"wallets"`
		GridPlaced int `json:"grid_placed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, 1, status.Wallets)
	require.Equal(t, 0, status.GridPlaced)
}

func TestWalletOrdersFilterByStatus(t *testing.T) {
	srv, _, store := newTestServer(t)
	seedOrder(t, store, "o1", domain.OrderTypeGridBuy, domain.OrderStatusPending, nil)
	seedOrder(t, store, "o2", domain.OrderTypeGridSell, domain.OrderStatusFilled, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/wallets/"+testAddr+"/orders")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Orders []orderView `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Orders, 2)

	rec = doRequest(t, srv, http.MethodGet, "/api/wallets/"+testAddr+"/orders?status=filled")
	require.Equal(t, http.StatusOK, rec.Code)
	body.Orders = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Orders, 1)
	require.Equal(t, "o2", body.Orders[0].ID)

	rec = doRequest(t, srv, http.MethodGet, "/api/wallets/0xdeadbeef/orders")
	require.Equal(t, http.StatusNotFound, rec.Code)

	// 扁平查询入口与钱包路径等价
	rec = doRequest(t, srv, http.MethodGet, "/api/orders?wallet="+testAddr+"&status=pending")
	require.Equal(t, http.StatusOK, rec.Code)
	body.Orders = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Orders, 1)
	require.Equal(t, "o1", body.Orders[0].ID)

	rec = doRequest(t, srv, http.MethodGet, "/api/orders")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrderAndCounter(t *testing.T) {
	srv, _, store := newTestServer(t)
	seedOrder(t, store, "parent", domain.OrderTypeGridBuy, domain.OrderStatusFilled, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/orders/parent")
	require.Equal(t, http.StatusOK, rec.Code)
	var view orderView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "parent", view.ID)
	require.Equal(t, "10", view.FromAmount)

	// 反向单尚未下出
	rec = doRequest(t, srv, http.MethodGet, "/api/orders/parent/counter")
	require.Equal(t, http.StatusNotFound, rec.Code)

	pid := "parent"
	seedOrder(t, store, "counter", domain.OrderTypeCounterSell, domain.OrderStatusPending, &pid)
	rec = doRequest(t, srv, http.MethodGet, "/api/orders/parent/counter")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "counter", view.ID)

	rec = doRequest(t, srv, http.MethodGet, "/api/orders/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWalletActivities(t *testing.T) {
	srv, _, store := newTestServer(t)
	err := store.AppendActivity(context.Background(), &domain.Activity{
		WalletAddress: testAddr,
		Kind:          domain.ActivityGridPlaced,
		Detail:        "pairs=3",
	})
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/api/wallets/"+testAddr+"/activities")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Activities []activityView `json:"activities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Activities, 1)
	require.Equal(t, domain.ActivityGridPlaced, body.Activities[0].Kind)

	rec = doRequest(t, srv, http.MethodGet, "/api/wallets/"+testAddr+"/activities?limit=bogus")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerGridMapsErrors(t *testing.T) {
	srv, sched, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/wallets/"+testAddr+"/grid")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{testAddr}, sched.gridCalls)

	sched.gridErr = services.ErrGridAlreadyPlaced
	rec = doRequest(t, srv, http.MethodPost, "/api/wallets/"+testAddr+"/grid")
	require.Equal(t, http.StatusConflict, rec.Code)

	sched.gridErr = services.ErrInsufficientBalanceForGrid
	rec = doRequest(t, srv, http.MethodPost, "/api/wallets/"+testAddr+"/grid")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/wallets/0xdeadbeef/grid")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerCycleAndReconcile(t *testing.T) {
	srv, sched, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/wallets/"+testAddr+"/cycle")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{testAddr}, sched.cycleCalls)

	rec = doRequest(t, srv, http.MethodPost, "/api/reconcile")
	require.Equal(t, http.StatusOK, rec.Code)

	sched.passErr = services.ErrPassInProgress
	rec = doRequest(t, srv, http.MethodPost, "/api/reconcile")
	require.Equal(t, http.StatusConflict, rec.Code)
}
