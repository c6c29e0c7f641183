package repo

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/td/session"
	"github.com/jackc/pgx/v5"

	"engagement-hub/internal/infra/metrics"
)

// SessionStorage хранит MTProto-сессию в Postgres и реализует session.Storage.
type SessionStorage struct {
	pg   *Postgres
	name string
}

var _ session.Storage = (*SessionStorage)(nil)

// SessionStorage возвращает хранилище сессии с указанным именем.
func (p *Postgres) SessionStorage(name string) *SessionStorage {
	if name == "" {
		name = "default"
	}
	return &SessionStorage{pg: p, name: name}
}

// LoadSession загружает сохранённую MTProto-сессию.
func (s *SessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	ctx, cancel := s.pg.connCtxWithParent(ctx)
	defer cancel()

	var data []byte
	start := time.Now()
	err := s.pg.pool.QueryRow(ctx, `SELECT data FROM mtproto_sessions WHERE name = $1`, s.name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_load", "mtproto_sessions", start, nil)
		return nil, session.ErrNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_load", "mtproto_sessions", start, err)
	if err != nil {
		return nil, err
	}

	clone := make([]byte, len(data))
	copy(clone, data)
	return clone, nil
}

// StoreSession сохраняет MTProto-сессию.
func (s *SessionStorage) StoreSession(ctx context.Context, data []byte) error {
	ctx, cancel := s.pg.connCtxWithParent(ctx)
	defer cancel()

	tmp := make([]byte, len(data))
	copy(tmp, data)

	start := time.Now()
	_, err := s.pg.pool.Exec(ctx, `
INSERT INTO mtproto_sessions (name, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, s.name, tmp)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_store", "mtproto_sessions", start, err)
	return err
}
