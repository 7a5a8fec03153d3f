// Package fleet abstracts the compute pool running render workers.
package fleet

import (
	"context"
	"sync"

	"renderfleet/internal/pkg/logger"
)

// Controller resizes the worker pool. Resize is idempotent and
// convergent: issuing the same target twice is safe.
type Controller interface {
	// Size returns the current number of instances.
	Size(ctx context.Context) (int, error)
	// Resize sets the pool to target instances.
	Resize(ctx context.Context, target int) error
}

// Static is a fixed pool for development and tests. Resize only
// records the requested size.
type Static struct {
	mu   sync.Mutex
	size int
	log  *logger.Logger
}

func NewStatic(size int, log *logger.Logger) *Static {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Static{size: size, log: log.WithComponent("fleet-static")}
}

func (s *Static) Size(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size, nil
}

func (s *Static) Resize(ctx context.Context, target int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Info("static fleet resize recorded", "from", s.size, "to", target)
	s.size = target
	return nil
}
