package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/gogrid/internal/domain"
	"github.com/fleetgrid/gogrid/internal/ledger"
	"github.com/fleetgrid/gogrid/internal/metrics"
	"github.com/fleetgrid/gogrid/internal/wallet"
	"github.com/fleetgrid/gogrid/pkg/config"
	"github.com/fleetgrid/gogrid/pkg/logger"
	"github.com/fleetgrid/gogrid/pkg/sigchan"
	"github.com/fleetgrid/gogrid/pkg/syncgroup"
)

// ErrPassInProgress 上一轮全车队 reconcile 还没跑完。
var ErrPassInProgress = errors.New("reconcile pass already in progress")

// runState 全车队 reconcile 的运行标记，归调度器所有。
// 只在 RunReconcilePass 这一个入口检查，保证两轮 pass 永不重叠。
// pass 与各钱包循环之间不做互斥：反向单的至多一张由台账的
// (parent, type) 唯一索引裁决，谁先落账谁赢。
type runState struct {
	mu     sync.Mutex
	active bool
}

func (s *runState) tryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return false
	}
	s.active = true
	return true
}

func (s *runState) end() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

func (s *runState) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// FleetScheduler 车队调度器：每个钱包一条协程，建网一次后进入监控循环。
// 钱包之间完全独立，单个钱包循环内的失败被就地吞掉并在下个周期重来。
type FleetScheduler struct {
	fleet      *wallet.Fleet
	grid       *GridPlacer
	syncer     *StatusSynchronizer
	counter    *CounterManager
	rebalancer *Rebalancer
	store      *ledger.Store
	cfg        *config.Config

	ctx    context.Context
	cancel context.CancelFunc
	group  *syncgroup.SyncGroup
	pass   runState
	kick   *sigchan.Chan // 反向单失败时提前触发一轮 reconcile
	log    *logrus.Entry
}

func NewFleetScheduler(fleet *wallet.Fleet, grid *GridPlacer, syncer *StatusSynchronizer, counter *CounterManager, rebalancer *Rebalancer, store *ledger.Store, cfg *config.Config) *FleetScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &FleetScheduler{
		fleet:      fleet,
		grid:       grid,
		syncer:     syncer,
		counter:    counter,
		rebalancer: rebalancer,
		store:      store,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		group:      syncgroup.NewSyncGroup(),
		kick:       sigchan.New(1),
		log:        logger.WithField("component", "fleet_scheduler"),
	}
}

// Start 启动所有钱包循环与后台巡检。钱包错峰启动，避免同时轰 RPC。
func (s *FleetScheduler) Start() {
	for i, acct := range s.fleet.Accounts() {
		acct := acct
		delay := time.Duration(i) * s.cfg.Stagger()
		s.group.Add(func() { s.walletLoop(acct, delay) })
	}
	s.group.Add(s.reconcileLoop)
	if s.cfg.Rebalance.Enabled {
		s.group.Add(s.rebalanceLoop)
	}
	s.group.Run()
	s.log.WithFields(logrus.Fields{
		"wallets":   s.fleet.Size(),
		"rebalance": s.cfg.Rebalance.Enabled,
	}).Info("车队调度器已启动")
}

// Stop 取消所有循环并等待退出。
func (s *FleetScheduler) Stop() {
	s.cancel()
	s.group.Wait()
	s.log.Info("车队调度器已停止")
}

// walletLoop 单个钱包的状态机：建网一次，然后监控到进程退出。
func (s *FleetScheduler) walletLoop(acct *wallet.Account, startDelay time.Duration) {
	address := acct.Address.Hex()
	wlog := s.log.WithField("wallet", address)

	if startDelay > 0 {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(startDelay):
		}
	}

	switch err := s.grid.PlaceGrid(s.ctx, acct); {
	case err == nil:
		wlog.Info("初始网格已建立，进入监控循环")
	case errors.Is(err, ErrGridAlreadyPlaced):
		wlog.Debug("初始网格已存在，直接进入监控循环")
	case errors.Is(err, ErrInsufficientBalanceForGrid):
		// 建不起网也继续监控：历史订单仍需要同步与反向
		wlog.Warnf("余额不足，跳过建网: %v", err)
	default:
		wlog.Errorf("建网失败（继续监控）: %v", err)
	}

	ticker := time.NewTicker(s.cfg.CycleInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunWalletCycle(s.ctx, acct); err != nil {
				// 失败只影响本轮，钱包循环照常进入下一个周期
				wlog.Errorf("监控周期失败: %v", err)
			}
		}
	}
}

// RunWalletCycle 一个钱包的一轮监控：同步状态，逐笔对成交下反向单。
// 单笔反向失败不影响同周期的其他成交。
func (s *FleetScheduler) RunWalletCycle(ctx context.Context, acct *wallet.Account) error {
	transitions, err := s.syncer.SyncWallet(ctx, acct.Address.Hex())
	if err != nil {
		return err
	}
	for _, tr := range transitions {
		if !tr.Filled() {
			continue
		}
		if err := s.counter.HandleFill(ctx, tr.Order); err != nil {
			s.log.WithFields(logrus.Fields{
				"wallet": acct.Address.Hex(),
				"order":  tr.Order.ID,
			}).Errorf("反向单处理失败（留给兜底巡检）: %v", err)
			s.kick.Emit()
		}
	}
	return nil
}

func (s *FleetScheduler) reconcileLoop() {
	ticker := time.NewTicker(s.cfg.ReconcileInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.kick.C():
		case <-ticker.C:
		}
		if err := s.RunReconcilePass(s.ctx); err != nil && !errors.Is(err, ErrPassInProgress) {
			s.log.Errorf("reconcile pass 失败: %v", err)
		}
	}
}

// RunReconcilePass 全车队的一轮 reconcile：逐钱包同步 + 全局反向单兜底。
// 同一时间只允许一轮在跑，后来者直接返回 ErrPassInProgress。
func (s *FleetScheduler) RunReconcilePass(ctx context.Context) error {
	if !s.pass.tryBegin() {
		return ErrPassInProgress
	}
	defer s.pass.end()

	metrics.ReconcilePasses.Add(1)
	start := time.Now()
	for _, acct := range s.fleet.Accounts() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.RunWalletCycle(ctx, acct); err != nil {
			s.log.WithField("wallet", acct.Address.Hex()).Errorf("pass 内钱包周期失败: %v", err)
		}
	}

	placed, err := s.counter.Sweep(ctx)
	if err != nil {
		metrics.ReconcileErrors.Add(1)
		return err
	}

	_ = s.store.AppendActivity(ctx, &domain.Activity{
		Kind:   domain.ActivityCyclePass,
		Detail: fmt.Sprintf("wallets=%d backfilled=%d elapsed=%s", s.fleet.Size(), placed, time.Since(start).Round(time.Millisecond)),
	})
	return nil
}

func (s *FleetScheduler) rebalanceLoop() {
	ticker := time.NewTicker(s.cfg.RebalanceInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, acct := range s.fleet.Accounts() {
				if s.ctx.Err() != nil {
					return
				}
				if err := s.rebalancer.RebalanceWallet(s.ctx, acct); err != nil {
					s.log.WithField("wallet", acct.Address.Hex()).Errorf("再平衡失败: %v", err)
				}
			}
		}
	}
}

// PassActive 当前是否有 reconcile pass 在跑（查询 API 的状态视图用）。
func (s *FleetScheduler) PassActive() bool {
	return s.pass.running()
}

// TriggerGrid 运维入口：手动为某个钱包建网。
func (s *FleetScheduler) TriggerGrid(ctx context.Context, address string) error {
	acct, ok := s.fleet.ByAddress(address)
	if !ok {
		return errors.Errorf("车队里没有钱包 %s", address)
	}
	err := s.grid.PlaceGrid(ctx, acct)
	if errors.Is(err, ledger.ErrGridAlreadyPlaced) {
		return ErrGridAlreadyPlaced
	}
	return err
}

// TriggerWalletCycle 运维入口：手动跑一轮某个钱包的监控周期。
func (s *FleetScheduler) TriggerWalletCycle(ctx context.Context, address string) error {
	acct, ok := s.fleet.ByAddress(address)
	if !ok {
		return errors.Errorf("车队里没有钱包 %s", address)
	}
	return s.RunWalletCycle(ctx, acct)
}
