package rewards

import (
	"context"
	"sync"
	"time"
)

// memoryRepository keeps pools in process; used by the dev profile and tests
type memoryRepository struct {
	mu    sync.Mutex
	pools map[uint64]Pool
}

func NewMemoryRepository() Repository {
	return &memoryRepository{pools: make(map[uint64]Pool)}
}

func (r *memoryRepository) GetPool(ctx context.Context, contractID uint64) (*Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pool, ok := r.pools[contractID]
	if !ok {
		return nil, nil
	}
	return &pool, nil
}

func (r *memoryRepository) CreatePool(ctx context.Context, pool *Pool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pools[pool.ContractID]; ok {
		return false, nil
	}
	now := time.Now().UTC()
	pool.CreatedAt, pool.UpdatedAt = now, now
	r.pools[pool.ContractID] = *pool
	return true, nil
}

func (r *memoryRepository) IncrementPool(ctx context.Context, contractID, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pool, ok := r.pools[contractID]
	if !ok {
		pool = Pool{ContractID: contractID, CreatedAt: time.Now().UTC()}
	}
	pool.Balance += amount
	pool.UpdatedAt = time.Now().UTC()
	r.pools[contractID] = pool
	return nil
}

func (r *memoryRepository) DecrementPool(ctx context.Context, contractID, amount uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pool, ok := r.pools[contractID]
	if !ok || pool.Balance < amount {
		return false, nil
	}
	pool.Balance -= amount
	pool.UpdatedAt = time.Now().UTC()
	r.pools[contractID] = pool
	return true, nil
}

func (r *memoryRepository) TotalReserved(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total uint64
	for _, pool := range r.pools {
		total += pool.Balance
	}
	return total, nil
}
