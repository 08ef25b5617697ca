package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Type string

const (
	ContractRegistered  Type = "contract.registered"
	ContractActivated   Type = "contract.activated"
	RegistrationPending Type = "contract.registration_pending"
	ContractClosed      Type = "contract.closed"
	TokenSold           Type = "token.sold"
	TokenBurned         Type = "token.burned"
	RefundCredited      Type = "refund.credited"
	DepositWithdrawn    Type = "deposit.withdrawn"
)

// Event describes a settled state change of a contract
type Event struct {
	ID         string                 `json:"id"`
	Type       Type                   `json:"type"`
	ContractID uint64                 `json:"contract_id"`
	TokenIndex *uint64                `json:"token_index,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Publisher delivers events. Delivery is best effort and never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type fanout struct {
	publishers []Publisher
}

// Fanout publishes every event to all publishers
func Fanout(publishers ...Publisher) Publisher {
	return &fanout{publishers: publishers}
}

func (f *fanout) Publish(ctx context.Context, event Event) {
	for _, p := range f.publishers {
		p.Publish(ctx, event)
	}
}

type logPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher writes events to the log
func NewLogPublisher(logger *zap.Logger) Publisher {
	return &logPublisher{logger: logger}
}

func (p *logPublisher) Publish(ctx context.Context, event Event) {
	p.logger.Debug("Event published",
		zap.String("type", string(event.Type)),
		zap.Uint64("contract_id", event.ContractID))
}
