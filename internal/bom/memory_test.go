package bom

import (
	"context"
	"sync"
)

type memoryRepo struct {
	mu    sync.Mutex
	edges map[int64][]Component
	reads int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{edges: map[int64][]Component{}}
}

func (r *memoryRepo) Components(ctx context.Context, parentID int64) ([]Component, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	return r.components(parentID), nil
}

func (r *memoryRepo) components(parentID int64) []Component {
	return append([]Component(nil), r.edges[parentID]...)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[int64][]Component, len(r.edges))
	for k, v := range r.edges {
		snapshot[k] = v
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.edges = snapshot
		return err
	}
	return nil
}

// put stores edges directly, bypassing the cycle check.
func (r *memoryRepo) put(parentID int64, list ...Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges[parentID] = list
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) Components(ctx context.Context, parentID int64) ([]Component, error) {
	return tx.repo.components(parentID), nil
}

func (tx *memoryTx) ReplaceComponents(ctx context.Context, parentID int64, list []Component) error {
	if len(list) == 0 {
		delete(tx.repo.edges, parentID)
		return nil
	}
	tx.repo.edges[parentID] = append([]Component(nil), list...)
	return nil
}
