package worker

import (
	"context"
	"time"

	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/service"
	"go.uber.org/zap"
)

// Reconciler 보정 대상 일괄 처리
type Reconciler interface {
	ReconcilePending(ctx context.Context, limit int, actorID string) (*service.ReconcileSummary, error)
}

// ReconcileWorker 후속 기록이 빠진 교환을 주기적으로 보정
type ReconcileWorker struct {
	reconciler Reconciler
	logger     *zap.Logger
	interval   time.Duration
	batchSize  int
}

// NewReconcileWorker 보정 워커 생성
func NewReconcileWorker(reconciler Reconciler, logger *zap.Logger, interval time.Duration, batchSize int) *ReconcileWorker {
	return &ReconcileWorker{
		reconciler: reconciler,
		logger:     logger.Named("reconcile-worker"),
		interval:   interval,
		batchSize:  batchSize,
	}
}

// Start 워커 시작. ctx 가 끝나면 반환
func (w *ReconcileWorker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("reconcile worker started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reconcile worker stopped")
			return nil
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce 한 배치 보정
func (w *ReconcileWorker) RunOnce(ctx context.Context) *service.ReconcileSummary {
	summary, err := w.reconciler.ReconcilePending(ctx, w.batchSize, service.SystemActorID)
	if err != nil {
		w.logger.Error("reconciliation pass failed", zap.Error(err))
		return summary
	}
	if summary.Checked > 0 {
		w.logger.Info("reconciliation pass finished",
			zap.Int("checked", summary.Checked),
			zap.Int("repaired", summary.Repaired),
			zap.Int("failed", summary.Failed))
	}
	return summary
}
