package liquidity

import (
	"context"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.Mutex
	refunds map[string]Refund
	credits map[uint64]RefundCredit
}

func NewMemoryRepository() Repository {
	return &memoryRepository{
		refunds: make(map[string]Refund),
		credits: make(map[uint64]RefundCredit),
	}
}

func (r *memoryRepository) GetRefund(ctx context.Context, principal string) (*Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refund, ok := r.refunds[principal]
	if !ok {
		return nil, nil
	}
	return &refund, nil
}

func (r *memoryRepository) CreditRefund(ctx context.Context, credit *RefundCredit) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.credits[credit.ContractID]; ok {
		return false, nil
	}
	credit.CreatedAt = time.Now().UTC()
	r.credits[credit.ContractID] = *credit
	if credit.Amount > 0 {
		r.add(credit.Principal, credit.Amount)
	}
	return true, nil
}

func (r *memoryRepository) GetCredit(ctx context.Context, contractID uint64) (*RefundCredit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	credit, ok := r.credits[contractID]
	if !ok {
		return nil, nil
	}
	return &credit, nil
}

func (r *memoryRepository) AddRefund(ctx context.Context, principal string, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(principal, amount)
	return nil
}

func (r *memoryRepository) add(principal string, amount uint64) {
	refund := r.refunds[principal]
	refund.Principal = principal
	refund.Amount += amount
	refund.UpdatedAt = time.Now().UTC()
	r.refunds[principal] = refund
}

func (r *memoryRepository) TakeRefund(ctx context.Context, principal string) (*Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refund, ok := r.refunds[principal]
	if !ok {
		return nil, nil
	}
	delete(r.refunds, principal)
	return &refund, nil
}

func (r *memoryRepository) TotalPending(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total uint64
	for _, refund := range r.refunds {
		total += refund.Amount
	}
	return total, nil
}
