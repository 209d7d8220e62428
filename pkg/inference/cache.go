package inference

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"braintumor/internal/models"
)

// ErrNoModel is returned when the cache loader yields no model.
var ErrNoModel = errors.New("inference: no model configured")

// Cache holds a lazily loaded model. Concurrent first callers share a single
// load; a failed load is not cached.
type Cache struct {
	load  func() (Model, error)
	group singleflight.Group

	mu    sync.RWMutex
	model Model
	loads int
}

// NewCache returns a cache around load.
func NewCache(load func() (Model, error)) *Cache {
	return &Cache{load: load}
}

// NewCacheFromOptions returns a cache that builds the backend described by
// opts on first use.
func NewCacheFromOptions(opts Options) *Cache {
	return NewCache(func() (Model, error) { return New(opts) })
}

// Get returns the model, loading it on first use.
func (c *Cache) Get(ctx context.Context) (Model, error) {
	c.mu.RLock()
	m := c.model
	c.mu.RUnlock()
	if m != nil {
		return m, nil
	}

	ch := c.group.DoChan("model", func() (interface{}, error) {
		c.mu.RLock()
		m := c.model
		c.mu.RUnlock()
		if m != nil {
			return m, nil
		}

		m, err := c.load()
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, ErrNoModel
		}

		c.mu.Lock()
		c.model = m
		c.loads++
		c.mu.Unlock()
		return m, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Model), nil
	}
}

// Loads reports how many times the loader has succeeded.
func (c *Cache) Loads() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loads
}

// Reset drops the cached model, closing it if it holds resources. The next
// Get loads again.
func (c *Cache) Reset() error {
	c.mu.Lock()
	m := c.model
	c.model = nil
	c.mu.Unlock()

	if closer, ok := m.(Closer); ok {
		return closer.Close()
	}
	return nil
}

// Name returns the cached model's name, loading it if needed. It implements
// Model so a Cache can stand in for the backend it wraps.
func (c *Cache) Name() string {
	m, err := c.Get(context.Background())
	if err != nil {
		return "unloaded"
	}
	return m.Name()
}

// Predict loads the model if needed and runs it.
func (c *Cache) Predict(ctx context.Context, t *models.Tensor4D) (*models.ClassLabelVolume, error) {
	m, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}
	return m.Predict(ctx, t)
}
