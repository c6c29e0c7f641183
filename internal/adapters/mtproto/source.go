// Package mtproto ищет публикации, каналы и статистику ответов через MTProto-клиент gotd.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"engagement-hub/internal/domain"
	"engagement-hub/internal/infra/metrics"
)

const (
	defaultLimit = 50
	maxPageLimit = 100
)

// ErrUnauthorized возвращается, если MTProto-сессия не авторизована.
var ErrUnauthorized = errors.New("mtproto session is not authorized")

// Config задаёт параметры клиента.
type Config struct {
	APIID     int
	APIHash   string
	GlobalRPS float64
}

// Source реализует domain.ContentSource, domain.ChannelSource и domain.AnalyticsSource.
// Последовательности выполняются по одной: клиент gotd не допускает параллельных Run.
type Source struct {
	client  *telegram.Client
	limiter *rate.Limiter
	log     zerolog.Logger
	mu      sync.Mutex
}

var (
	_ domain.ContentSource   = (*Source)(nil)
	_ domain.ChannelSource   = (*Source)(nil)
	_ domain.AnalyticsSource = (*Source)(nil)
)

// NewSource создаёт источник на базе сохранённой сессии.
func NewSource(cfg Config, storage session.Storage, log zerolog.Logger) (*Source, error) {
	if cfg.APIID == 0 || cfg.APIHash == "" {
		return nil, fmt.Errorf("%w: TG_API_ID and TG_API_HASH are required", domain.ErrSourceDisabled)
	}
	rps := cfg.GlobalRPS
	if rps <= 0 {
		rps = 1
	}
	client := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{SessionStorage: storage})
	return &Source{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log,
	}, nil
}

// unit — один запрос к API, дающий одну пачку.
type unit[T any] func(ctx context.Context, api *tg.Client) ([]T, error)

// run выполняет запросы внутри client.Run и отдаёт пачки по одной.
func run[T any](ctx context.Context, s *Source, units []unit[T]) domain.Batches[T] {
	return domain.Batches[T]{
		Expected: len(units),
		Seq: func(yield func([]T, error) bool) {
			if len(units) == 0 {
				return
			}
			s.mu.Lock()
			defer s.mu.Unlock()

			handOff(ctx, func(ctx context.Context, emit func([]T) error) error {
				return s.client.Run(ctx, func(ctx context.Context) error {
					status, err := s.client.Auth().Status(ctx)
					if err != nil {
						return fmt.Errorf("проверка авторизации: %w", err)
					}
					if !status.Authorized {
						return ErrUnauthorized
					}
					api := s.client.API()
					for _, u := range units {
						if err := s.limiter.Wait(ctx); err != nil {
							return err
						}
						batch, err := u(ctx, api)
						if err != nil {
							return err
						}
						if err := emit(batch); err != nil {
							return err
						}
					}
					return nil
				})
			}, yield)
		},
	}
}

// handOff запускает produce в отдельной горутине и передаёт пачки через канал,
// так что yield всегда вызывается в горутине потребителя, а не в горутине
// колбэка client.Run. Возвращается только после завершения produce.
func handOff[T any](ctx context.Context, produce func(ctx context.Context, emit func([]T) error) error, yield func([]T, error) bool) {
	ctx, cancel := context.WithCancel(ctx)
	batches := make(chan []T)
	done := make(chan error, 1)
	go func() {
		err := produce(ctx, func(batch []T) error {
			select {
			case batches <- batch:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		close(batches)
		done <- err
	}()

	finished := false
	defer func() {
		if finished {
			return
		}
		cancel()
		for range batches {
		}
		<-done
	}()

	for batch := range batches {
		if !yield(batch, nil) {
			cancel()
			for range batches {
			}
			<-done
			finished = true
			return
		}
	}
	err := <-done
	finished = true
	cancel()
	if err != nil {
		yield(nil, err)
	}
}

// Fetch ищет публикации по ключевым словам глобально и в указанных сообществах.
func (s *Source) Fetch(ctx context.Context, params domain.JobParams) domain.Batches[domain.RawContentRecord] {
	limit := pageLimit(params.Limit)
	var minDate int
	if params.Since != nil {
		minDate = int(params.Since.Unix())
	}

	units := make([]unit[domain.RawContentRecord], 0, len(params.Keywords)+len(params.Communities))
	for _, kw := range params.Keywords {
		units = append(units, func(ctx context.Context, api *tg.Client) ([]domain.RawContentRecord, error) {
			start := time.Now()
			res, err := api.MessagesSearchGlobal(ctx, &tg.MessagesSearchGlobalRequest{
				Q:          kw,
				Filter:     &tg.InputMessagesFilterEmpty{},
				MinDate:    minDate,
				OffsetPeer: &tg.InputPeerEmpty{},
				Limit:      limit,
			})
			metrics.ObserveNetworkRequest("mtproto", "messages.searchGlobal", "telegram", start, err)
			if err != nil {
				return nil, fmt.Errorf("поиск %q: %w", kw, err)
			}
			msgs, chats := unpackMessages(res)
			return recordsFromMessages(kw, msgs, chats, minDate), nil
		})
	}
	for _, alias := range params.Communities {
		units = append(units, func(ctx context.Context, api *tg.Client) ([]domain.RawContentRecord, error) {
			peer, err := resolveChannel(ctx, api, alias)
			if err != nil {
				return nil, err
			}
			start := time.Now()
			res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{Peer: peer, Limit: limit})
			metrics.ObserveNetworkRequest("mtproto", "messages.getHistory", "telegram", start, err)
			if err != nil {
				return nil, fmt.Errorf("история @%s: %w", alias, err)
			}
			msgs, chats := unpackMessages(res)
			return filterByKeywords(recordsFromMessages("", msgs, chats, minDate), params.Keywords), nil
		})
	}
	return run(ctx, s, units)
}

// Search ищет публичные каналы по ключевым словам.
func (s *Source) Search(ctx context.Context, params domain.JobParams) domain.Batches[domain.DiscoveredChannel] {
	limit := pageLimit(params.Limit)
	units := make([]unit[domain.DiscoveredChannel], 0, len(params.Keywords))
	for _, kw := range params.Keywords {
		units = append(units, func(ctx context.Context, api *tg.Client) ([]domain.DiscoveredChannel, error) {
			start := time.Now()
			found, err := api.ContactsSearch(ctx, &tg.ContactsSearchRequest{Q: kw, Limit: limit})
			metrics.ObserveNetworkRequest("mtproto", "contacts.search", "telegram", start, err)
			if err != nil {
				return nil, fmt.Errorf("поиск каналов %q: %w", kw, err)
			}
			return channelsFromChats(kw, found.Chats), nil
		})
	}
	return run(ctx, s, units)
}

// Stats возвращает просмотры и число ответов для опубликованных сообщений.
func (s *Source) Stats(ctx context.Context, refs []domain.PublishedRef) domain.Batches[domain.PostStats] {
	groups := groupRefs(refs)
	units := make([]unit[domain.PostStats], 0, len(groups))
	for _, g := range groups {
		units = append(units, func(ctx context.Context, api *tg.Client) ([]domain.PostStats, error) {
			peer, err := resolveChannel(ctx, api, g.community)
			if err != nil {
				return nil, err
			}
			start := time.Now()
			res, err := api.MessagesGetMessagesViews(ctx, &tg.MessagesGetMessagesViewsRequest{Peer: peer, ID: g.messageIDs})
			metrics.ObserveNetworkRequest("mtproto", "messages.getMessagesViews", "telegram", start, err)
			if err != nil {
				return nil, fmt.Errorf("просмотры @%s: %w", g.community, err)
			}
			return statsFromViews(g.itemIDs, res.Views), nil
		})
	}
	return run(ctx, s, units)
}

func resolveChannel(ctx context.Context, api *tg.Client, alias string) (*tg.InputPeerChannel, error) {
	start := time.Now()
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: alias})
	metrics.ObserveNetworkRequest("mtproto", "contacts.resolveUsername", "telegram", start, err)
	if err != nil {
		return nil, fmt.Errorf("резолв @%s: %w", alias, err)
	}
	peer, ok := resolved.Peer.(*tg.PeerChannel)
	if !ok {
		return nil, fmt.Errorf("@%s не является каналом", alias)
	}
	for _, chat := range resolved.Chats {
		if ch, ok := chat.(*tg.Channel); ok && ch.ID == peer.ChannelID {
			return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, nil
		}
	}
	return nil, fmt.Errorf("@%s: канал не найден в ответе", alias)
}

func pageLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return min(limit, maxPageLimit)
}
