package bridge

import (
	"context"

	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/contracts"
)

// NoopMirror is used when the bridge is disabled
type NoopMirror struct {
	logger *zap.Logger
}

func NewNoopMirror(logger *zap.Logger) *NoopMirror {
	return &NoopMirror{logger: logger}
}

func (m *NoopMirror) CreateContract(ctx context.Context, c *contracts.Contract) error {
	m.logger.Debug("Mirror disabled, skipping create", zap.Uint64("contract_id", c.ID))
	return nil
}

func (m *NoopMirror) CloseContract(ctx context.Context, id uint64) error {
	m.logger.Debug("Mirror disabled, skipping close", zap.Uint64("contract_id", id))
	return nil
}
