package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"alphavault/internal/model"
)

// Store provides Postgres persistence for vault events and snapshots.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InsertEvents appends vault events. Replays of already-stored
// sequence numbers are ignored so a restarted keeper can resend its
// tail safely.
func (s *Store) InsertEvents(ctx context.Context, vaultAddress string, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		batch.Queue(`
			INSERT INTO vault_events (
				vault_address, seq, event_ts, name, payload, created_at
			) VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (vault_address, seq) DO NOTHING
		`,
			vaultAddress,
			int64(ev.Seq),
			ev.Timestamp,
			ev.Name,
			payload,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertSnapshots inserts or updates post-rebalance vault snapshots.
func (s *Store) UpsertSnapshots(ctx context.Context, vaultAddress string, snapshots []model.Event) error {
	if len(snapshots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	queued := 0
	for _, ev := range snapshots {
		snap, ok := ev.Payload.(model.SnapshotEvent)
		if !ok {
			continue
		}
		batch.Queue(`
			INSERT INTO vault_snapshots (
				vault_address, snapshot_ts, tick, total_amount0, total_amount1, total_shares,
				base_lower, base_upper, limit_lower, limit_upper, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
			ON CONFLICT (vault_address, snapshot_ts)
			DO UPDATE SET
				tick = EXCLUDED.tick,
				total_amount0 = EXCLUDED.total_amount0,
				total_amount1 = EXCLUDED.total_amount1,
				total_shares = EXCLUDED.total_shares,
				base_lower = EXCLUDED.base_lower,
				base_upper = EXCLUDED.base_upper,
				limit_lower = EXCLUDED.limit_lower,
				limit_upper = EXCLUDED.limit_upper,
				updated_at = now()
		`,
			vaultAddress,
			ev.Timestamp,
			snap.Tick,
			snap.TotalAmount0,
			snap.TotalAmount1,
			snap.TotalShares,
			snap.BaseLower,
			snap.BaseUpper,
			snap.LimitLower,
			snap.LimitUpper,
		)
		queued++
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns the last processed event sequence for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var seq uint64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_seq FROM keeper_state WHERE name=$1`, name)
	if err := row.Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return seq, true, nil
}

// SaveState upserts the last processed event sequence for a name.
func (s *Store) SaveState(ctx context.Context, name string, seq uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO keeper_state (name, last_processed_seq, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_seq = EXCLUDED.last_processed_seq, updated_at = now()
	`, name, seq)
	return err
}
