package contracts

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

func (s *service) GetContract(ctx context.Context, id uint64) (*Contract, error) {
	return s.getContract(ctx, id)
}

func (s *service) GetToken(ctx context.Context, id, index uint64) (*TokenWithContract, error) {
	c, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}
	token, err := s.repo.GetToken(ctx, id, index)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrTokenNotFound
	}
	return &TokenWithContract{Token: *token, Contract: *c}, nil
}

// ListContracts returns the ids of active contracts
func (s *service) ListContracts(ctx context.Context) ([]uint64, error) {
	status := StatusActive
	contracts, err := s.repo.ListContracts(ctx, ContractFilter{Status: &status})
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(contracts))
	for _, c := range contracts {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (s *service) ListTokens(ctx context.Context, id uint64) ([]Token, error) {
	if _, err := s.getContract(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListTokens(ctx, id)
}

func (s *service) UpdateContractProperty(ctx context.Context, caller string, id uint64, req UpdatePropertyRequest) (*Contract, error) {
	if req.Key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidProperty)
	}
	if err := req.Value.Validate(); err != nil {
		return nil, err
	}
	return s.editContract(ctx, caller, id, func(c *Contract) {
		for i := range c.Properties {
			if c.Properties[i].Key == req.Key {
				c.Properties[i].Value = req.Value
				return
			}
		}
		c.Properties = append(c.Properties, Property{Key: req.Key, Value: req.Value})
	})
}

func (s *service) UpdateRestrictedContractProperty(ctx context.Context, caller string, id uint64, req UpdateRestrictedPropertyRequest) (*Contract, error) {
	property := RestrictedProperty{Key: req.Key, AccessList: req.AccessList, Value: req.Value}
	if err := ValidateRestrictedProperties([]RestrictedProperty{property}); err != nil {
		return nil, err
	}
	return s.editContract(ctx, caller, id, func(c *Contract) {
		for i := range c.RestrictedProperties {
			if c.RestrictedProperties[i].Key == req.Key {
				c.RestrictedProperties[i] = property
				return
			}
		}
		c.RestrictedProperties = append(c.RestrictedProperties, property)
	})
}

// editContract applies edit under a row lock after checking the caller may edit
func (s *service) editContract(ctx context.Context, caller string, id uint64, edit func(c *Contract)) (*Contract, error) {
	c, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeEdit(ctx, c, caller); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateContract(ctx, id, func(c *Contract) error {
		if c.Closed {
			return ErrContractClosed
		}
		edit(c)
		c.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Contract updated", zap.Uint64("contract_id", id), zap.String("by", caller))
	return updated, nil
}

// authorizeEdit allows sellers, the contract agency and custodians
func (s *service) authorizeEdit(ctx context.Context, c *Contract, caller string) error {
	if _, ok := c.Seller(caller); ok {
		return nil
	}
	if c.Agency != "" && c.Agency == caller {
		return nil
	}
	custodian, err := s.deps.Roles.IsCustodian(ctx, caller)
	if err != nil {
		return fmt.Errorf("failed to check custodian role: %w", err)
	}
	if !custodian {
		return ErrUnauthorized
	}
	return nil
}

// GetRestrictedContractProperties returns the restricted properties visible to caller.
// Custodians see every property.
func (s *service) GetRestrictedContractProperties(ctx context.Context, caller string, id uint64) ([]RestrictedProperty, error) {
	c, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}
	custodian, err := s.deps.Roles.IsCustodian(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("failed to check custodian role: %w", err)
	}
	if custodian {
		return nonNil([]RestrictedProperty(c.RestrictedProperties)), nil
	}

	levels := AccessLevels(c, caller)
	visible := make([]RestrictedProperty, 0, len(c.RestrictedProperties))
	for _, p := range c.RestrictedProperties {
		if grants(p.AccessList, levels) {
			visible = append(visible, p)
		}
	}
	return visible, nil
}

func (s *service) AttachDocument(ctx context.Context, caller string, id uint64, doc DocumentRef) (*DocumentRef, error) {
	if doc.ID == "" || doc.Name == "" {
		return nil, fmt.Errorf("%w: document id and name are required", ErrInvalidProperty)
	}
	for _, level := range doc.AccessList {
		if !level.Valid() {
			return nil, fmt.Errorf("%w: unknown access level %q", ErrInvalidProperty, level)
		}
	}
	doc.UploadedBy = caller
	doc.UploadedAt = s.now()
	if doc.AccessList == nil {
		doc.AccessList = []AccessLevel{}
	}

	if _, err := s.editContract(ctx, caller, id, func(c *Contract) {
		c.Documents = append(c.Documents, doc)
	}); err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocument returns the document if caller may read it. Documents with an empty
// access list are public.
func (s *service) GetDocument(ctx context.Context, caller string, id uint64, documentID string) (*DocumentRef, error) {
	c, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, doc := range c.Documents {
		if doc.ID != documentID {
			continue
		}
		if len(doc.AccessList) == 0 || grants(doc.AccessList, AccessLevels(c, caller)) {
			return &doc, nil
		}
		custodian, err := s.deps.Roles.IsCustodian(ctx, caller)
		if err != nil {
			return nil, fmt.Errorf("failed to check custodian role: %w", err)
		}
		if custodian {
			return &doc, nil
		}
		return nil, ErrUnauthorized
	}
	return nil, ErrDocumentNotFound
}

// AccessLevels lists the roles caller holds on c
func AccessLevels(c *Contract, caller string) []AccessLevel {
	if caller == "" {
		return nil
	}
	var levels []AccessLevel
	if _, ok := c.Seller(caller); ok {
		levels = append(levels, AccessSeller)
	}
	if c.Buyers.Data().Contains(caller) {
		levels = append(levels, AccessBuyer)
	}
	if c.Agency != "" && c.Agency == caller {
		levels = append(levels, AccessAgent)
	}
	return levels
}

func grants(accessList, levels []AccessLevel) bool {
	for _, required := range accessList {
		for _, held := range levels {
			if required == held {
				return true
			}
		}
	}
	return false
}
