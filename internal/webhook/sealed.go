package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/pscheid92/streamnotify/internal/domain"
	"github.com/pscheid92/streamnotify/internal/platform/crypto"
)

// SealedHooks encrypts hook secrets on their way into the store and
// decrypts them on the way out.
type SealedHooks struct {
	repo   domain.HookRepository
	cipher crypto.Cipher
}

func NewSealedHooks(repo domain.HookRepository, cipher crypto.Cipher) *SealedHooks {
	return &SealedHooks{repo: repo, cipher: cipher}
}

func (s *SealedHooks) Create(ctx context.Context, hook domain.Hook) error {
	sealed, err := s.cipher.Seal(hook.Secret)
	if err != nil {
		return fmt.Errorf("failed to seal hook secret: %w", err)
	}
	hook.Secret = sealed
	return s.repo.Create(ctx, hook)
}

func (s *SealedHooks) Get(ctx context.Context, hookID string) (*domain.Hook, error) {
	hook, err := s.repo.Get(ctx, hookID)
	if err != nil {
		return nil, err
	}
	if err := s.open(hook); err != nil {
		return nil, err
	}
	return hook, nil
}

func (s *SealedHooks) ListByStreamer(ctx context.Context, platform, streamerID string) ([]domain.Hook, error) {
	hooks, err := s.repo.ListByStreamer(ctx, platform, streamerID)
	if err != nil {
		return nil, err
	}
	return s.openAll(hooks)
}

func (s *SealedHooks) List(ctx context.Context) ([]domain.Hook, error) {
	hooks, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return s.openAll(hooks)
}

func (s *SealedHooks) Activate(ctx context.Context, hookID string, registeredAt time.Time, leaseSeconds int) error {
	return s.repo.Activate(ctx, hookID, registeredAt, leaseSeconds)
}

func (s *SealedHooks) Delete(ctx context.Context, hookID string) error {
	return s.repo.Delete(ctx, hookID)
}

func (s *SealedHooks) open(hook *domain.Hook) error {
	secret, err := s.cipher.Open(hook.Secret)
	if err != nil {
		return fmt.Errorf("failed to open secret of hook %s: %w", hook.ID, err)
	}
	hook.Secret = secret
	return nil
}

func (s *SealedHooks) openAll(hooks []domain.Hook) ([]domain.Hook, error) {
	for i := range hooks {
		if err := s.open(&hooks[i]); err != nil {
			return nil, err
		}
	}
	return hooks, nil
}

var _ domain.HookRepository = (*SealedHooks)(nil)
