// Package eligibility решает, может ли аккаунт публиковать ответы прямо сейчас.
package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"engagement-hub/internal/domain"
	"engagement-hub/internal/infra/config"
	"engagement-hub/internal/infra/metrics"
)

// counterTTL держит дневной счётчик, пока он может понадобиться с учётом часовых поясов.
const counterTTL = 48 * time.Hour

// Counter хранит дневные счётчики публикаций. Реализуется cache.RedisCache и cache.Memory.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Count(ctx context.Context, key string) (int64, error)
}

// Provider реализует domain.EligibilityProvider по файлу правил и дневным счётчикам.
type Provider struct {
	policy  config.Policy
	counter Counter
	backend string
	log     zerolog.Logger
	now     func() time.Time
}

var _ domain.EligibilityProvider = (*Provider)(nil)

// Option настраивает Provider.
type Option func(*Provider)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithBackend задаёт имя хранилища счётчиков для метрик.
func WithBackend(name string) Option {
	return func(p *Provider) { p.backend = name }
}

// NewProvider создаёт проверку допуска аккаунтов.
func NewProvider(policy config.Policy, counter Counter, log zerolog.Logger, opts ...Option) *Provider {
	p := &Provider{
		policy:  policy,
		counter: counter,
		backend: "memory",
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsEligible возвращает false для неизвестного, приостановленного или прогреваемого аккаунта
// и для аккаунта, исчерпавшего дневной лимит.
func (p *Provider) IsEligible(ctx context.Context, accountID string) (bool, error) {
	acct, ok := p.policy.Account(accountID)
	if !ok {
		p.log.Debug().Str("account", accountID).Msg("eligibility: неизвестный аккаунт")
		return false, nil
	}
	now := p.now().UTC()
	if acct.Suspended {
		return false, nil
	}
	if !acct.WarmupUntil.IsZero() && now.Before(acct.WarmupUntil) {
		return false, nil
	}
	if acct.DailyLimit <= 0 {
		return true, nil
	}

	start := time.Now()
	count, err := p.counter.Count(ctx, counterKey(accountID, now))
	metrics.ObserveNetworkRequest(p.backend, "get", "publish_counter", start, err)
	if err != nil {
		return false, fmt.Errorf("чтение счётчика публикаций: %w", err)
	}
	return count < int64(acct.DailyLimit), nil
}

// RecordPublish увеличивает дневной счётчик аккаунта.
func (p *Provider) RecordPublish(ctx context.Context, accountID string) error {
	start := time.Now()
	count, err := p.counter.Incr(ctx, counterKey(accountID, p.now().UTC()), counterTTL)
	metrics.ObserveNetworkRequest(p.backend, "incr", "publish_counter", start, err)
	if err != nil {
		return fmt.Errorf("учёт публикации: %w", err)
	}
	p.log.Debug().Str("account", accountID).Int64("today", count).Msg("eligibility: публикация учтена")
	return nil
}

func counterKey(accountID string, now time.Time) string {
	return fmt.Sprintf("publish:%s:%s", accountID, now.Format("2006-01-02"))
}
