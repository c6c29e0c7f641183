package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"engagement-hub/internal/domain"
	"engagement-hub/internal/infra/metrics"
)

var _ domain.ChannelStore = (*Postgres)(nil)

// UpsertChannels сохраняет найденные каналы, обновляя метаданные известных.
func (p *Postgres) UpsertChannels(ctx context.Context, channels []domain.DiscoveredChannel) (int, error) {
	if len(channels) == 0 {
		return 0, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, ch := range channels {
		discovered := ch.DiscoveredAt
		if discovered.IsZero() {
			discovered = time.Now().UTC()
		}
		batch.Queue(`
INSERT INTO discovered_channels (scope, external_id, alias, title, participants, matched_keyword, source_job_id, discovered_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (scope, external_id) DO UPDATE
SET alias = EXCLUDED.alias,
    title = EXCLUDED.title,
    participants = EXCLUDED.participants,
    updated_at = now()
`, ch.Scope, ch.ExternalID, ch.Alias, ch.Title, ch.Participants, ch.MatchedKeyword, ch.SourceJobID, discovered)
	}

	start := time.Now()
	results := p.pool.SendBatch(ctx, batch)
	stored := 0
	var batchErr error
	for range channels {
		tag, err := results.Exec()
		if err != nil {
			batchErr = err
			break
		}
		stored += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil && batchErr == nil {
		batchErr = err
	}
	metrics.ObserveNetworkRequest("postgres", "channels_upsert", "discovered_channels", start, batchErr)
	if batchErr != nil {
		return 0, batchErr
	}
	return stored, nil
}

// ListChannels возвращает каналы области, начиная с недавно найденных.
func (p *Postgres) ListChannels(ctx context.Context, scope string, limit int) ([]domain.DiscoveredChannel, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, scope, external_id, alias, title, participants, matched_keyword, source_job_id, discovered_at
FROM discovered_channels
WHERE scope = $1
ORDER BY discovered_at DESC, id DESC
LIMIT $2
`, scope, limit)
	metrics.ObserveNetworkRequest("postgres", "channels_list", "discovered_channels", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []domain.DiscoveredChannel
	for rows.Next() {
		var ch domain.DiscoveredChannel
		if err := rows.Scan(&ch.ID, &ch.Scope, &ch.ExternalID, &ch.Alias, &ch.Title, &ch.Participants,
			&ch.MatchedKeyword, &ch.SourceJobID, &ch.DiscoveredAt); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}
