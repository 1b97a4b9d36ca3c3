package services

import (
	"context"

	"github.com/pkg/errors"

	"github.com/fleetgrid/gogrid/internal/venue"
)

// 订单生命周期里的错误分类。
// 瞬时类（VenueTimeout/VenueUnavailable/NonceConflict）在调用边界内重试，
// 耗尽后只影响当前周期；其余在各自订单粒度处理，不中断兄弟订单。
var (
	// ErrInsufficientBalance 构造期余额不足（含已占用的挂单金额）。
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientBalanceForGrid 余额不够下哪怕一对网格单。
	ErrInsufficientBalanceForGrid = errors.New("insufficient balance for grid")

	// ErrDuplicateOrder 同一 venueOrderId 的第二次落账。
	// 这说明上游重复执行了同一笔订单，必须暴露而不是吞掉。
	ErrDuplicateOrder = errors.New("duplicate order")

	// ErrCounterAlreadyExists 父订单已有反向单，幂等短路，不算失败。
	ErrCounterAlreadyExists = errors.New("counter order already exists")

	// ErrBelowMinimumOrderValue 金额低于配置下限，预期内的跳过。
	ErrBelowMinimumOrderValue = errors.New("below minimum order value")

	// ErrVenueTimeout 场馆调用超时。
	ErrVenueTimeout = errors.New("venue timeout")

	// ErrVenueUnavailable 场馆不可用。
	ErrVenueUnavailable = errors.New("venue unavailable")

	// ErrNonceConflict 交易 nonce 争用，自动用新 nonce 重发一次。
	ErrNonceConflict = errors.New("nonce conflict")

	// ErrGridAlreadyPlaced 该钱包的初始网格已下过。
	ErrGridAlreadyPlaced = errors.New("grid already placed")
)

// classifyVenueErr 把场馆访问错误折进上面的分类。
// 超时与 5xx 都是瞬时故障，调用方按周期级跳过处理而不是订单级失败。
func classifyVenueErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, venue.ErrUnavailable):
		return errors.Wrap(ErrVenueUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded), venue.IsTimeout(err):
		return errors.Wrap(ErrVenueTimeout, err.Error())
	}
	return err
}
