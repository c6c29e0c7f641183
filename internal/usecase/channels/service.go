package channels

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"engagement-hub/internal/domain"
)

// ErrAliasInvalid возвращается для алиаса, который не похож на публичный канал.
var ErrAliasInvalid = errors.New("некорректный алиас")

var aliasRegex = regexp.MustCompile(`(?i)^(?:@|https?://t\.me/|t\.me/)?([a-z0-9_]{5,})/?$`)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Service отдаёт найденные каналы.
type Service struct {
	repo domain.ChannelStore
}

// NewService создаёт новый сервис каналов.
func NewService(repo domain.ChannelStore) *Service {
	return &Service{repo: repo}
}

// ParseAlias приводит ввод пользователя к каноничному алиасу.
func ParseAlias(input string) (string, error) {
	trim := strings.TrimSpace(input)
	matches := aliasRegex.FindStringSubmatch(trim)
	if len(matches) < 2 {
		return "", ErrAliasInvalid
	}
	return strings.ToLower(matches[1]), nil
}

// List возвращает каналы области, начиная с недавно найденных.
func (s *Service) List(ctx context.Context, scope string, limit int) ([]domain.DiscoveredChannel, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("%w: channel store", domain.ErrSourceDisabled)
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	channels, err := s.repo.ListChannels(ctx, scope, limit)
	if err != nil {
		return nil, fmt.Errorf("получение каналов: %w", err)
	}
	return channels, nil
}

// NormalizeKeywords схлопывает пробелы, удаляет пустые и дублирующиеся без учёта регистра
// значения, сохраняя порядок.
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	cleaned := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		trimmed := strings.Join(strings.Fields(kw), " ")
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, trimmed)
	}
	return cleaned
}
