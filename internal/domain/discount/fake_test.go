package discount

import (
	"context"
	"sync"
)

type memRepo struct {
	mu        sync.Mutex
	byID      map[string]*Code
	findErr   error
	createErr error
	updateErr error
}

func newMemRepo(codes ...*Code) *memRepo {
	r := &memRepo{byID: make(map[string]*Code)}
	for _, c := range codes {
		r.byID[c.ID] = c
	}
	return r
}

func (r *memRepo) FindByCode(_ context.Context, code string) (*Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, c := range r.byID {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) FindByID(_ context.Context, id string) (*Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) ListByInfluencer(_ context.Context, influencerID string) ([]Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Code
	for _, c := range r.byID {
		if c.InfluencerID == influencerID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *memRepo) Create(_ context.Context, c *Code) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.byID {
		if existing.Code == c.Code {
			return ErrDuplicateCode
		}
	}
	cp := *c
	r.byID[c.ID] = &cp
	return nil
}

func (r *memRepo) Update(_ context.Context, c *Code) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	cp := *c
	r.byID[c.ID] = &cp
	return nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[id]; ok && c.UsedCount > 0 {
		return ErrCodeInUse
	}
	delete(r.byID, id)
	return nil
}

func (r *memRepo) IncrementUsage(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if c.MaxUses != nil && c.UsedCount >= *c.MaxUses {
		return ErrExhausted
	}
	c.UsedCount++
	return nil
}
