// Package directory exposes the recipient registry to the broadcast engine.
package directory

import (
	"context"
	"sync"
	"time"

	"lessonbot/internal/transport"
)

// registry is the storage-facing subset the directory needs.
type registry interface {
	ListAll(ctx context.Context) ([]transport.ChatTarget, error)
	Count(ctx context.Context) (int, error)
}

// Service answers "who can we message" for the fanout and "how many" for
// admin screens. The count is cached with a short TTL because menu renders
// ask for it far more often than it changes; the full list is never cached —
// the fanout must see the registry as it is.
type Service struct {
	reg registry

	mu          sync.Mutex
	countTTL    time.Duration
	cachedCount int
	countUntil  time.Time
}

func New(reg registry, countTTL time.Duration) *Service {
	if countTTL <= 0 {
		countTTL = 30 * time.Second
	}
	return &Service{reg: reg, countTTL: countTTL}
}

func (s *Service) ListAllRecipients(ctx context.Context) ([]transport.ChatTarget, error) {
	return s.reg.ListAll(ctx)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	now := time.Now()
	s.mu.Lock()
	if now.Before(s.countUntil) {
		n := s.cachedCount
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	n, err := s.reg.Count(ctx)
	if err != nil {
		// Don't cache failures; storage hiccups can be transient.
		return 0, err
	}
	s.mu.Lock()
	s.cachedCount = n
	s.countUntil = now.Add(s.countTTL)
	s.mu.Unlock()
	return n, nil
}
