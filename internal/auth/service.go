package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Service manages platform roles and agencies
type Service interface {
	IsCustodian(ctx context.Context, principal string) (bool, error)
	IsAgent(ctx context.Context, principal string) (bool, error)
	Custodians(ctx context.Context) ([]string, error)
	SetRole(ctx context.Context, caller, principal string, role Role) error
	RemoveRole(ctx context.Context, caller, principal string, role Role) error
	// BootstrapCustodians grants the custodian role without a caller check
	BootstrapCustodians(ctx context.Context, principals []string) error

	RegisterAgency(ctx context.Context, caller, wallet string, agency Agency) error
	RemoveAgency(ctx context.Context, caller, wallet string) error
	GetAgency(ctx context.Context, wallet string) (*Agency, error)
}

type service struct {
	repo   Repository
	logger *zap.Logger
}

func NewService(repo Repository, logger *zap.Logger) Service {
	return &service{repo: repo, logger: logger}
}

func (s *service) IsCustodian(ctx context.Context, principal string) (bool, error) {
	return s.repo.HasRole(ctx, principal, RoleCustodian)
}

func (s *service) IsAgent(ctx context.Context, principal string) (bool, error) {
	return s.repo.HasRole(ctx, principal, RoleAgent)
}

func (s *service) Custodians(ctx context.Context) ([]string, error) {
	return s.repo.ListByRole(ctx, RoleCustodian)
}

func (s *service) requireCustodian(ctx context.Context, caller string) error {
	ok, err := s.IsCustodian(ctx, caller)
	if err != nil {
		return fmt.Errorf("failed to check custodian role: %w", err)
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (s *service) SetRole(ctx context.Context, caller, principal string, role Role) error {
	if err := s.requireCustodian(ctx, caller); err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	if strings.TrimSpace(principal) == "" {
		return ErrInvalidPrincipal
	}

	grant := &PrincipalRole{Principal: principal, Role: role, GrantedBy: caller, CreatedAt: time.Now().UTC()}
	if err := s.repo.GrantRole(ctx, grant); err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}

	s.logger.Info("Role granted",
		zap.String("principal", principal),
		zap.String("role", string(role)),
		zap.String("by", caller))
	return nil
}

func (s *service) RemoveRole(ctx context.Context, caller, principal string, role Role) error {
	if err := s.requireCustodian(ctx, caller); err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}

	if role == RoleCustodian {
		custodians, err := s.repo.ListByRole(ctx, RoleCustodian)
		if err != nil {
			return fmt.Errorf("failed to list custodians: %w", err)
		}
		if len(custodians) == 1 && custodians[0] == principal {
			return ErrLastCustodian
		}
	}

	if err := s.repo.RevokeRole(ctx, principal, role); err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}

	s.logger.Info("Role revoked",
		zap.String("principal", principal),
		zap.String("role", string(role)),
		zap.String("by", caller))
	return nil
}

func (s *service) BootstrapCustodians(ctx context.Context, principals []string) error {
	for _, principal := range principals {
		grant := &PrincipalRole{Principal: principal, Role: RoleCustodian, GrantedBy: "config", CreatedAt: time.Now().UTC()}
		if err := s.repo.GrantRole(ctx, grant); err != nil {
			return fmt.Errorf("failed to bootstrap custodian %s: %w", principal, err)
		}
	}
	if len(principals) > 0 {
		s.logger.Info("Custodians set", zap.Strings("custodians", principals))
	}
	return nil
}

func (s *service) RegisterAgency(ctx context.Context, caller, wallet string, agency Agency) error {
	if err := s.requireCustodian(ctx, caller); err != nil {
		return err
	}
	if strings.TrimSpace(wallet) == "" {
		return ErrInvalidPrincipal
	}

	agency.Wallet = wallet
	if err := s.repo.SaveAgency(ctx, &agency); err != nil {
		return fmt.Errorf("failed to save agency: %w", err)
	}
	grant := &PrincipalRole{Principal: wallet, Role: RoleAgent, GrantedBy: caller, CreatedAt: time.Now().UTC()}
	if err := s.repo.GrantRole(ctx, grant); err != nil {
		return fmt.Errorf("failed to grant agent role: %w", err)
	}

	s.logger.Info("Agency registered",
		zap.String("wallet", wallet),
		zap.String("name", agency.Name))
	return nil
}

// RemoveAgency may be called by a custodian or by the agency itself
func (s *service) RemoveAgency(ctx context.Context, caller, wallet string) error {
	if caller != wallet {
		if err := s.requireCustodian(ctx, caller); err != nil {
			return err
		}
	}

	existing, err := s.repo.GetAgency(ctx, wallet)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrAgencyNotFound
	}
	if err := s.repo.DeleteAgency(ctx, wallet); err != nil {
		return fmt.Errorf("failed to delete agency: %w", err)
	}
	if err := s.repo.RevokeRole(ctx, wallet, RoleAgent); err != nil {
		return fmt.Errorf("failed to revoke agent role: %w", err)
	}

	s.logger.Info("Agency removed", zap.String("wallet", wallet), zap.String("by", caller))
	return nil
}

func (s *service) GetAgency(ctx context.Context, wallet string) (*Agency, error) {
	agency, err := s.repo.GetAgency(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if agency == nil {
		return nil, ErrAgencyNotFound
	}
	return agency, nil
}
