package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/config"
	"deferred-estate/settlement-backend/internal/contracts"
)

const (
	JobCloseExpired    = "close_expired"
	JobResumePending   = "resume_pending"
	JobRecoverClaims   = "recover_claims"
	JobSettlePurchases = "settle_purchases"
)

// Contracts is the orchestrator surface the maintenance jobs drive
type Contracts interface {
	CloseExpired(ctx context.Context) (int, error)
	PendingContracts(ctx context.Context) ([]contracts.Contract, error)
	ResumeRegistration(ctx context.Context, id uint64) (*contracts.Contract, error)
	RecoverClaims(ctx context.Context, staleAfter time.Duration) (int, error)
}

// Purchases finishes marketplace purchases left open
type Purchases interface {
	SettlePurchases(ctx context.Context, olderThan time.Duration) (int, error)
}

// Jobs builds the maintenance job set from the scheduler configuration
func Jobs(cfg config.SchedulerConfig, c Contracts, p Purchases, logger *zap.Logger) []Job {
	jobs := []Job{
		{Name: JobCloseExpired, Spec: cfg.CloseExpiredCron, Run: c.CloseExpired},
		{Name: JobResumePending, Spec: cfg.ResumePendingCron, Run: func(ctx context.Context) (int, error) {
			return resumePending(ctx, c, logger)
		}},
		{Name: JobRecoverClaims, Spec: cfg.RecoverClaimsCron, Run: func(ctx context.Context) (int, error) {
			return c.RecoverClaims(ctx, cfg.StaleClaimAfter)
		}},
	}
	if p != nil {
		jobs = append(jobs, Job{Name: JobSettlePurchases, Spec: cfg.SettlePurchasesCron, Run: func(ctx context.Context) (int, error) {
			return p.SettlePurchases(ctx, cfg.SettleAfter)
		}})
	}
	return jobs
}

// resumePending retries every registration saga still pending; one failing
// contract does not hold back the rest
func resumePending(ctx context.Context, c Contracts, logger *zap.Logger) (int, error) {
	pending, err := c.PendingContracts(ctx)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, contract := range pending {
		if ctx.Err() != nil {
			return resumed, ctx.Err()
		}
		if _, err := c.ResumeRegistration(ctx, contract.ID); err != nil {
			logger.Warn("Registration still pending",
				zap.Uint64("contract_id", contract.ID),
				zap.Error(err))
			continue
		}
		resumed++
	}
	return resumed, nil
}
