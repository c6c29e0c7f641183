// Package schedule периодически запускает синхронизацию аналитики.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"engagement-hub/internal/domain"
)

// Starter запускает задачу; реализуется jobs.Runner.
type Starter interface {
	Start(ctx context.Context, kind domain.JobKind, scope string, params domain.JobParams) (domain.Job, error)
}

// OnceGuard выполняет функцию не больше одного раза на ключ за ttl.
// Реализуется cache.RedisCache и cache.Memory.
type OnceGuard interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error)
}

// Analytics запускает analytics-sync для каждой области раз в период.
type Analytics struct {
	starter  Starter
	guard    OnceGuard
	scopes   []string
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewAnalytics создаёт планировщик. Пустые и повторяющиеся области отбрасываются.
func NewAnalytics(starter Starter, guard OnceGuard, scopes []string, interval time.Duration, log zerolog.Logger) *Analytics {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	seen := make(map[string]struct{}, len(scopes))
	var clean []string
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		clean = append(clean, s)
	}
	return &Analytics{
		starter:  starter,
		guard:    guard,
		scopes:   clean,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Run выполняет первый проход сразу и затем по таймеру до отмены контекста.
func (a *Analytics) Run(ctx context.Context) {
	if len(a.scopes) == 0 {
		a.log.Info().Msg("schedule: области для аналитики не заданы")
		return
	}
	a.log.Info().Strs("scopes", a.scopes).Dur("interval", a.interval).Msg("schedule: планировщик аналитики запущен")
	a.Tick(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick запускает задачи для всех областей текущего периода и возвращает число запущенных.
func (a *Analytics) Tick(ctx context.Context) int {
	period := a.now().UTC().Truncate(a.interval)
	started := 0
	for _, scope := range a.scopes {
		key := fmt.Sprintf("schedule:analytics-sync:%s:%d", scope, period.Unix())
		var jobID string
		ran, err := a.guard.Once(ctx, key, a.interval, func() error {
			job, err := a.starter.Start(ctx, domain.JobKindAnalyticsSync, scope, domain.JobParams{})
			jobID = job.ID
			return err
		})
		switch {
		case errors.Is(err, domain.ErrJobConflict):
			a.log.Debug().Str("scope", scope).Msg("schedule: синхронизация уже идёт")
		case err != nil:
			a.log.Error().Err(err).Str("scope", scope).Msg("schedule: не удалось запустить синхронизацию")
		case !ran:
			a.log.Debug().Str("scope", scope).Time("period", period).Msg("schedule: период уже обработан")
		default:
			started++
			a.log.Info().Str("scope", scope).Str("job_id", jobID).Msg("schedule: синхронизация запущена")
		}
	}
	return started
}
