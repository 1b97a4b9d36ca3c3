package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/gogrid/internal/domain"
	"github.com/fleetgrid/gogrid/internal/ledger"
	"github.com/fleetgrid/gogrid/internal/metrics"
	"github.com/fleetgrid/gogrid/internal/venue"
	"github.com/fleetgrid/gogrid/pkg/logger"
)

// StatusSynchronizer 把场馆侧订单状态同步进台账。
// 纯观察者：只写台账，不下任何新单；无场馆侧变化时重复运行产生零变化。
type StatusSynchronizer struct {
	venue VenueClient
	store *ledger.Store
	log   *logrus.Entry
}

func NewStatusSynchronizer(v VenueClient, store *ledger.Store) *StatusSynchronizer {
	return &StatusSynchronizer{
		venue: v,
		store: store,
		log:   logger.WithField("component", "status_sync"),
	}
}

// SyncWallet 同步一个钱包的全部非终态订单，返回实际写入台账的状态变化。
func (s *StatusSynchronizer) SyncWallet(ctx context.Context, walletAddress string) ([]*domain.Transition, error) {
	open, err := s.store.OpenOrdersByWallet(ctx, walletAddress)
	if err != nil {
		return nil, errors.Wrap(err, "读取台账挂单失败")
	}
	if len(open) == 0 {
		return nil, nil
	}

	remote, err := s.venue.FetchOrders(ctx, walletAddress)
	if err != nil {
		return nil, errors.Wrap(classifyVenueErr(err), "拉取场馆订单失败")
	}

	byID := make(map[string]venue.Order, len(remote.All))
	byTx := make(map[string]venue.Order, len(remote.All))
	for _, vo := range remote.All {
		if vo.ID != "" {
			byID[vo.ID] = vo
		}
		if vo.TxHash != "" {
			byTx[vo.TxHash] = vo
		}
	}

	var applied []*domain.Transition
	for _, o := range open {
		// 先按场馆订单号配对，早期订单号可能还是交易哈希顶替的，再按哈希回退
		vo, ok := byID[o.VenueOrderID]
		if !ok && o.TxHash != "" {
			vo, ok = byTx[o.TxHash]
		}
		if !ok {
			// 场馆侧暂时看不到，只更新检查时间
			if err := s.store.TouchChecked(ctx, o.ID); err != nil {
				s.log.WithField("order", o.ID).Warnf("更新检查时间失败: %v", err)
			}
			continue
		}

		newStatus, newProgress := mapVenueState(vo)
		// 台账进度单调不减：场馆偶发回报更低的进度时不采信，
		// 夹回已知值后再比较，否则同一回退值每个周期都会被当成新变化
		if newProgress < o.Progress {
			newProgress = o.Progress
		}
		if newStatus == o.Status && newProgress == o.Progress {
			if err := s.store.TouchChecked(ctx, o.ID); err != nil {
				s.log.WithField("order", o.ID).Warnf("更新检查时间失败: %v", err)
			}
			continue
		}

		tr := &domain.Transition{
			Order:       o,
			OldStatus:   o.Status,
			NewStatus:   newStatus,
			OldProgress: o.Progress,
			NewProgress: newProgress,
		}
		if newStatus == domain.OrderStatusFilled {
			tr.FilledFrom = vo.FilledSrc
			tr.FilledTo = vo.FilledDst
		}

		ok, err := s.store.ApplyTransition(ctx, tr)
		if err != nil {
			s.log.WithField("order", o.ID).Errorf("写入状态变化失败: %v", err)
			continue
		}
		if !ok {
			// 并发写抢先把它推进了终态，放弃本次变化
			continue
		}

		o.Status = newStatus
		o.Progress = newProgress
		if tr.Filled() {
			o.FilledFrom = tr.FilledFrom
			o.FilledTo = tr.FilledTo
		}
		applied = append(applied, tr)
		if tr.Filled() {
			metrics.FillsDetected.Add(1)
		}

		s.log.WithFields(logrus.Fields{
			"wallet":   walletAddress,
			"order":    o.ID,
			"venueId":  o.VenueOrderID,
			"from":     tr.OldStatus,
			"to":       tr.NewStatus,
			"progress": tr.NewProgress,
		}).Info("订单状态变化")
	}
	return applied, nil
}

// mapVenueState 场馆状态 → 台账状态。
// progress 是成交的权威信号：progress==100 即视为 filled，
// 哪怕场馆的状态标签还停留在 open。
func mapVenueState(vo venue.Order) (domain.OrderStatus, int) {
	switch {
	case vo.Progress >= 100:
		return domain.OrderStatusFilled, 100
	case vo.Progress > 0:
		return domain.OrderStatusPartial, vo.Progress
	case vo.Status == venue.StatusCanceled:
		return domain.OrderStatusCanceled, vo.Progress
	case vo.Status == venue.StatusExpired:
		return domain.OrderStatusExpired, vo.Progress
	default:
		return domain.OrderStatusPending, vo.Progress
	}
}
