package contracts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"deferred-estate/settlement-backend/internal/auth"
	"deferred-estate/settlement-backend/internal/escrow"
	"deferred-estate/settlement-backend/internal/events"
	"deferred-estate/settlement-backend/internal/ledger"
	"deferred-estate/settlement-backend/internal/metrics"
)

// RewardPool reserves and pays buyer rewards
type RewardPool interface {
	Reserve(ctx context.Context, contractID, installments uint64) (uint64, error)
	Pay(ctx context.Context, contractID, amount uint64, to ledger.Account) error
}

// RefundPool receives settled deposits and owes refunds to deposit buyers
type RefundPool interface {
	CreditRefund(ctx context.Context, contractID uint64, owner string, amount uint64) error
	FreeBalance(ctx context.Context) (uint64, error)
	Account() ledger.Account
}

type Roles interface {
	IsCustodian(ctx context.Context, principal string) (bool, error)
	IsAgent(ctx context.Context, principal string) (bool, error)
	GetAgency(ctx context.Context, wallet string) (*auth.Agency, error)
}

// Mirror replicates contract registration and closing on Ethereum
type Mirror interface {
	CreateContract(ctx context.Context, c *Contract) error
	CloseContract(ctx context.Context, contractID uint64) error
}

type CurrencySource interface {
	AllowedCurrencies(ctx context.Context) ([]string, error)
}

// Dependencies are the collaborators of the orchestrator
type Dependencies struct {
	Escrow     escrow.Service
	Rewards    RewardPool
	Refunds    RefundPool
	Roles      Roles
	Mirror     Mirror
	Currencies CurrencySource
	Events     events.Publisher
	Metrics    metrics.SettlementMetrics
	// Operator is the marketplace principal allowed to sell minted tokens
	Operator string
	// Minter is recorded on mints and on burns done while closing
	Minter string
	Now    func() time.Time
}

// Service orchestrates the contract lifecycle across store, escrow, reward pool,
// liquidity pool and mirror. Cross-actor steps are not transactional; every step
// is idempotent on the contract id or token so a failed operation can be retried.
type Service interface {
	RegisterContract(ctx context.Context, caller string, req RegisterContractRequest) (uint64, error)
	ResumeRegistration(ctx context.Context, id uint64) (*Contract, error)
	PendingContracts(ctx context.Context) ([]Contract, error)

	BuyToken(ctx context.Context, operator string, req BuyTokenRequest) (*Token, error)
	RecoverClaims(ctx context.Context, staleAfter time.Duration) (int, error)

	CloseContract(ctx context.Context, caller string, id uint64) (*Contract, error)
	CloseExpired(ctx context.Context) (int, error)
	WithdrawDepositShare(ctx context.Context, caller string, id uint64, subaccount *ledger.Subaccount) (*escrow.Movement, error)

	GetContract(ctx context.Context, id uint64) (*Contract, error)
	GetToken(ctx context.Context, id, index uint64) (*TokenWithContract, error)
	ListContracts(ctx context.Context) ([]uint64, error)
	ListTokens(ctx context.Context, id uint64) ([]Token, error)

	UpdateContractProperty(ctx context.Context, caller string, id uint64, req UpdatePropertyRequest) (*Contract, error)
	UpdateRestrictedContractProperty(ctx context.Context, caller string, id uint64, req UpdateRestrictedPropertyRequest) (*Contract, error)
	GetRestrictedContractProperties(ctx context.Context, caller string, id uint64) ([]RestrictedProperty, error)
	AttachDocument(ctx context.Context, caller string, id uint64, doc DocumentRef) (*DocumentRef, error)
	GetDocument(ctx context.Context, caller string, id uint64, documentID string) (*DocumentRef, error)
}

type service struct {
	repo      Repository
	deps      Dependencies
	validator *Validator
	logger    *zap.Logger
}

func NewService(repo Repository, deps Dependencies, logger *zap.Logger) Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Events == nil {
		deps.Events = events.NewLogPublisher(logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop()
	}
	return &service{
		repo:      repo,
		deps:      deps,
		validator: NewValidator(deps.Now),
		logger:    logger,
	}
}

func (s *service) now() time.Time {
	return s.deps.Now().UTC()
}

func (s *service) RegisterContract(ctx context.Context, caller string, req RegisterContractRequest) (uint64, error) {
	started := time.Now()

	allowed, err := s.deps.Currencies.AllowedCurrencies(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load allowed currencies: %w", err)
	}
	if err := s.validator.ValidateTerms(&req, allowed); err != nil {
		s.deps.Metrics.IncRegistrationFailures("validation")
		return 0, err
	}
	agency, err := s.authorizeRegistration(ctx, caller)
	if err != nil {
		s.deps.Metrics.IncRegistrationFailures("authorization")
		return 0, err
	}
	if err := s.validator.ValidateContent(&req); err != nil {
		s.deps.Metrics.IncRegistrationFailures("validation")
		return 0, err
	}

	id, err := s.repo.NextContractID(ctx)
	if err != nil {
		return 0, err
	}

	if req.Buyers.DepositAccount != nil && req.Deposit.ValueICP > 0 {
		if _, err := s.deps.Escrow.Collect(ctx, id, *req.Buyers.DepositAccount, req.Deposit.ValueICP); err != nil {
			s.deps.Metrics.IncRegistrationFailures("deposit")
			s.deps.Metrics.ObserveSaga("register", "failed", started)
			s.logger.Warn("Contract deposit not collected",
				zap.Uint64("contract_id", id),
				zap.String("from", req.Buyers.DepositAccount.String()),
				zap.Error(err))
			return 0, fmt.Errorf("failed to collect deposit: %w", err)
		}
	}

	now := s.now()
	contract := &Contract{
		ID:                   id,
		Kind:                 req.Kind,
		Sellers:              datatypes.NewJSONSlice(req.Sellers),
		Buyers:               datatypes.NewJSONType(req.Buyers),
		Installments:         req.Installments,
		Value:                req.Value,
		Currency:             req.Currency,
		Deposit:              datatypes.NewJSONType(req.Deposit),
		Expiration:           req.Expiration,
		Properties:           datatypes.NewJSONSlice(nonNil(req.Properties)),
		RestrictedProperties: datatypes.NewJSONSlice(nonNil(req.RestrictedProperties)),
		Documents:            datatypes.NewJSONSlice([]DocumentRef{}),
		Agency:               agency,
		RegisteredBy:         caller,
		Status:               StatusPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if _, err := s.repo.CreateContract(ctx, contract); err != nil {
		s.deps.Metrics.IncRegistrationFailures("persist")
		s.logger.Error("Deposit collected for a contract that could not be stored",
			zap.Uint64("contract_id", id),
			zap.Error(err))
		return 0, err
	}

	s.publish(ctx, events.ContractRegistered, id, nil, map[string]interface{}{
		"kind":         contract.Kind,
		"installments": contract.Installments,
		"value":        contract.Value,
		"currency":     contract.Currency,
	})

	if err := s.completeRegistration(ctx, contract); err != nil {
		s.deps.Metrics.ObserveSaga("register", "pending", started)
		s.logger.Warn("Contract registration left pending",
			zap.Uint64("contract_id", id),
			zap.Error(err))
		s.publish(ctx, events.RegistrationPending, id, nil, map[string]interface{}{"reason": err.Error()})
		return id, fmt.Errorf("%w: %w", ErrRegistrationIncomplete, err)
	}

	s.deps.Metrics.IncContractsRegistered(string(contract.Kind))
	s.deps.Metrics.ObserveSaga("register", "ok", started)
	s.logger.Info("Contract registered",
		zap.Uint64("contract_id", id),
		zap.String("kind", string(contract.Kind)),
		zap.String("caller", caller),
		zap.Uint64("installments", contract.Installments))

	return id, nil
}

// authorizeRegistration returns the agency wallet for agents and empty for custodians
func (s *service) authorizeRegistration(ctx context.Context, caller string) (string, error) {
	custodian, err := s.deps.Roles.IsCustodian(ctx, caller)
	if err != nil {
		return "", fmt.Errorf("failed to check custodian role: %w", err)
	}
	if custodian {
		return "", nil
	}
	agent, err := s.deps.Roles.IsAgent(ctx, caller)
	if err != nil {
		return "", fmt.Errorf("failed to check agent role: %w", err)
	}
	if !agent {
		return "", ErrUnauthorized
	}
	agency, err := s.deps.Roles.GetAgency(ctx, caller)
	if err != nil {
		if errors.Is(err, auth.ErrAgencyNotFound) {
			return "", fmt.Errorf("%w: agent %s has no agency", ErrUnauthorized, caller)
		}
		return "", fmt.Errorf("failed to get agency: %w", err)
	}
	return agency.Wallet, nil
}

// completeRegistration runs the steps after the deposit pull. Each one is safe to repeat.
func (s *service) completeRegistration(ctx context.Context, c *Contract) error {
	total, err := s.deps.Rewards.Reserve(ctx, c.ID, c.Installments)
	if err != nil {
		s.deps.Metrics.IncRegistrationFailures("reserve")
		return fmt.Errorf("failed to reserve rewards: %w", err)
	}
	if reward := total / c.Installments; reward != c.RewardPerToken {
		if err := s.repo.SetRewardPerToken(ctx, c.ID, reward); err != nil {
			return fmt.Errorf("failed to store reward per token: %w", err)
		}
		c.RewardPerToken = reward
	}

	if err := s.mint(ctx, c); err != nil {
		s.deps.Metrics.IncRegistrationFailures("mint")
		return err
	}

	if err := s.deps.Mirror.CreateContract(ctx, c); err != nil {
		s.deps.Metrics.IncRegistrationFailures("mirror")
		return fmt.Errorf("%w: %w", ErrMirrorFailed, err)
	}

	activated, err := s.repo.UpdateStatus(ctx, c.ID, StatusPending, StatusActive)
	if err != nil {
		return err
	}
	c.Status = StatusActive
	if activated {
		s.publish(ctx, events.ContractActivated, c.ID, nil, map[string]interface{}{
			"reward_per_token": c.RewardPerToken,
		})
	}
	return nil
}

// mint creates the tokens missing for c; existing tokens are left untouched
func (s *service) mint(ctx context.Context, c *Contract) error {
	count, err := s.repo.CountTokens(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("failed to count tokens: %w", err)
	}
	if uint64(count) == c.Installments {
		return nil
	}

	now := s.now()
	value := c.TokenValue()
	tokens := make([]Token, 0, c.Installments)
	for _, r := range Partition(c.Installments, c.Sellers) {
		for index := r.Start; index < r.End; index++ {
			owner := r.Seller
			minter := s.deps.Minter
			tokens = append(tokens, Token{
				ContractID: c.ID,
				Index:      index,
				Owner:      &owner,
				Operator:   s.deps.Operator,
				Value:      value,
				Reward:     c.RewardPerToken,
				MintedAt:   now,
				MintedBy:   s.deps.Minter,
				ApprovedAt: &now,
				ApprovedBy: &minter,
			})
		}
	}
	if err := s.repo.CreateTokens(ctx, tokens); err != nil {
		return err
	}

	s.logger.Info("Tokens minted",
		zap.Uint64("contract_id", c.ID),
		zap.Int("count", len(tokens)),
		zap.Uint64("value", value),
		zap.Uint64("reward", c.RewardPerToken))
	return nil
}

func (s *service) ResumeRegistration(ctx context.Context, id uint64) (*Contract, error) {
	c, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Closed {
		return nil, ErrContractClosed
	}
	if c.Status != StatusPending {
		return c, nil
	}

	started := time.Now()
	if err := s.completeRegistration(ctx, c); err != nil {
		s.deps.Metrics.ObserveSaga("resume", "pending", started)
		return nil, fmt.Errorf("%w: %w", ErrRegistrationIncomplete, err)
	}
	s.deps.Metrics.IncContractsRegistered(string(c.Kind))
	s.deps.Metrics.ObserveSaga("resume", "ok", started)
	s.logger.Info("Contract registration resumed", zap.Uint64("contract_id", id))
	return c, nil
}

func (s *service) PendingContracts(ctx context.Context) ([]Contract, error) {
	status := StatusPending
	closed := false
	pending, err := s.repo.ListContracts(ctx, ContractFilter{Status: &status, Closed: &closed})
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.SetPendingRegistrations(len(pending))
	return pending, nil
}

func (s *service) getContract(ctx context.Context, id uint64) (*Contract, error) {
	c, err := s.repo.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrContractNotFound
	}
	return c, nil
}

func (s *service) publish(ctx context.Context, eventType events.Type, contractID uint64, index *uint64, data map[string]interface{}) {
	s.deps.Events.Publish(ctx, events.Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		ContractID: contractID,
		TokenIndex: index,
		Data:       data,
		Timestamp:  s.now(),
	})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
