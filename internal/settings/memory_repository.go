package settings

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.Mutex
	settings map[string]Setting
}

func NewMemoryRepository() Repository {
	return &memoryRepository{settings: make(map[string]Setting)}
}

func (r *memoryRepository) Get(ctx context.Context, key string) (*Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	setting, ok := r.settings[key]
	if !ok {
		return nil, nil
	}
	return &setting, nil
}

func (r *memoryRepository) Set(ctx context.Context, setting *Setting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	setting.UpdatedAt = time.Now().UTC()
	r.settings[setting.Key] = *setting
	return nil
}

func (r *memoryRepository) List(ctx context.Context) ([]Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Setting, 0, len(r.settings))
	for _, s := range r.settings {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
