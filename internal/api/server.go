package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/gogrid/internal/domain"
	"github.com/fleetgrid/gogrid/internal/ledger"
	"github.com/fleetgrid/gogrid/internal/services"
	"github.com/fleetgrid/gogrid/pkg/logger"
)

// Scheduler 运维触发入口（由车队调度器实现）
type Scheduler interface {
	TriggerGrid(ctx context.Context, address string) error
	TriggerWalletCycle(ctx context.Context, address string) error
	RunReconcilePass(ctx context.Context) error
	PassActive() bool
}

// Server 只读查询 + 运维触发的 HTTP 服务。
// 所有读接口直接查台账，不碰调度器内部状态。
type Server struct {
	store   *ledger.Store
	sched   Scheduler
	srv     *http.Server
	started time.Time
	log     *logrus.Entry
}

func NewServer(store *ledger.Store, sched Scheduler, listenAddr string) *Server {
	s := &Server{
		store:   store,
		sched:   sched,
		started: time.Now(),
		log:     logger.WithField("component", "api"),
	}
	s.srv = &http.Server{
		Addr:    listenAddr,
		Handler: s.Router(),
	}
	return s
}

// Router 构建路由（独立出来方便测试）
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/orders", s.handleListOrders)
		api.GET("/wallets", s.handleListWallets)
		api.GET("/wallets/:address/orders", s.handleWalletOrders)
		api.GET("/wallets/:address/activities", s.handleWalletActivities)
		api.GET("/orders/:id", s.handleGetOrder)
		api.GET("/orders/:id/counter", s.handleGetCounter)

		api.POST("/wallets/:address/grid", s.handleTriggerGrid)
		api.POST("/wallets/:address/cycle", s.handleTriggerCycle)
		api.POST("/reconcile", s.handleReconcile)
	}
	return r
}

// Start 后台启动监听，监听失败只记日志（API 不影响主流程）
func (s *Server) Start() {
	s.log.Infof("查询 API 监听 %s", s.srv.Addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("API 服务退出: %v", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	wallets, err := s.store.ListWallets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	placed := 0
	for _, w := range wallets {
		if w.GridPlaced() {
			placed++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"wallets":          len(wallets),
		"grid_placed":      placed,
		"reconcile_active": s.sched.PassActive(),
		"uptime":           time.Since(s.started).Round(time.Second).String(),
	})
}

// handleListOrders 扁平订单查询：?wallet= 必填，?status= 可选
func (s *Server) handleListOrders(c *gin.Context) {
	ctx := c.Request.Context()
	walletAddr := c.Query("wallet")
	if walletAddr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet query parameter is required"})
		return
	}
	w, err := s.store.GetWallet(ctx, walletAddr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if w == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
		return
	}
	orders, err := s.store.OrdersByWallet(ctx, w.Address, domain.OrderStatus(c.Query("status")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderView(o))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) handleListWallets(c *gin.Context) {
	wallets, err := s.store.ListWallets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]walletView, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, newWalletView(w))
	}
	c.JSON(http.StatusOK, gin.H{"wallets": out})
}

func (s *Server) handleWalletOrders(c *gin.Context) {
	ctx := c.Request.Context()
	address := c.Param("address")

	w, err := s.store.GetWallet(ctx, address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if w == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
		return
	}

	status := domain.OrderStatus(c.Query("status"))
	orders, err := s.store.OrdersByWallet(ctx, w.Address, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderView(o))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) handleWalletActivities(c *gin.Context) {
	ctx := c.Request.Context()
	address := c.Param("address")

	w, err := s.store.GetWallet(ctx, address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if w == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	acts, err := s.store.ActivitiesByWallet(ctx, w.Address, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]activityView, 0, len(acts))
	for _, a := range acts {
		out = append(out, newActivityView(a))
	}
	c.JSON(http.StatusOK, gin.H{"activities": out})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	o, err := s.store.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if o == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, newOrderView(o))
}

// handleGetCounter 查询父订单的规范反向单（role x counter-direction 唯一确定）
func (s *Server) handleGetCounter(c *gin.Context) {
	ctx := c.Request.Context()
	parent, err := s.store.GetOrder(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if parent == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	counter, err := s.store.CounterOrder(ctx, parent.ID, parent.Type.Counter())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if counter == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "counter order not placed"})
		return
	}
	c.JSON(http.StatusOK, newOrderView(counter))
}

func (s *Server) handleTriggerGrid(c *gin.Context) {
	ctx := c.Request.Context()
	address := c.Param("address")

	w, err := s.store.GetWallet(ctx, address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if w == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
		return
	}

	switch err := s.sched.TriggerGrid(ctx, w.Address); {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "placed"})
	case errors.Is(err, services.ErrGridAlreadyPlaced):
		c.JSON(http.StatusConflict, gin.H{"error": "grid already placed"})
	case errors.Is(err, services.ErrInsufficientBalanceForGrid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleTriggerCycle(c *gin.Context) {
	ctx := c.Request.Context()
	address := c.Param("address")

	w, err := s.store.GetWallet(ctx, address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if w == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
		return
	}

	if err := s.sched.TriggerWalletCycle(ctx, w.Address); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "synced"})
}

func (s *Server) handleReconcile(c *gin.Context) {
	switch err := s.sched.RunReconcilePass(c.Request.Context()); {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "completed"})
	case errors.Is(err, services.ErrPassInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
