package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS fund_journal (
	id           UUID PRIMARY KEY,
	kind         TEXT NOT NULL,
	holder       TEXT NOT NULL,
	counterparty TEXT NOT NULL DEFAULT '',
	shares       NUMERIC(78, 18) NOT NULL,
	collateral   NUMERIC(78, 18) NOT NULL,
	price        NUMERIC(78, 18) NOT NULL,
	fee          NUMERIC(78, 18) NOT NULL,
	note         TEXT NOT NULL DEFAULT '',
	timestamp    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS fund_journal_holder_idx ON fund_journal (holder, timestamp);
CREATE INDEX IF NOT EXISTS fund_journal_counterparty_idx ON fund_journal (counterparty, timestamp);

CREATE TABLE IF NOT EXISTS nav_snapshots (
	id            BIGSERIAL PRIMARY KEY,
	nav           NUMERIC(78, 18) NOT NULL,
	nav_per_share NUMERIC(78, 18) NOT NULL,
	pending_fee   NUMERIC(78, 18) NOT NULL,
	leverage      NUMERIC(78, 18) NOT NULL,
	drawdown      NUMERIC(78, 18) NOT NULL,
	total_supply  NUMERIC(78, 18) NOT NULL,
	state         TEXT NOT NULL,
	at            TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS nav_snapshots_at_idx ON nav_snapshots (at);
`

// Migrate creates the journal and snapshot tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertJournalEntry(ctx context.Context, e *model.JournalEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fund_journal (id, kind, holder, counterparty, shares, collateral, price, fee, note, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		e.ID, string(e.Kind), e.Holder, e.Counterparty,
		e.Shares.String(), e.Collateral.String(), e.Price.String(), e.Fee.String(),
		e.Note, e.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetJournalEntries(ctx context.Context, limit int) ([]model.JournalEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, kind, holder, counterparty,
		        shares::TEXT, collateral::TEXT, price::TEXT, fee::TEXT, note, timestamp
		 FROM fund_journal ORDER BY timestamp DESC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJournalEntries(rows)
}

func (s *PostgresStore) GetJournalByHolder(ctx context.Context, holder string) ([]model.JournalEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, kind, holder, counterparty,
		        shares::TEXT, collateral::TEXT, price::TEXT, fee::TEXT, note, timestamp
		 FROM fund_journal WHERE holder = $1 OR counterparty = $1 ORDER BY timestamp`, holder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJournalEntries(rows)
}

func (s *PostgresStore) InsertNAVSnapshot(ctx context.Context, snap *model.NAVSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO nav_snapshots (nav, nav_per_share, pending_fee, leverage, drawdown, total_supply, state, at)
		 VALUES ($1::NUMERIC, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		snap.NetAssetValue.String(), snap.NetAssetValuePerShare.String(), snap.PendingFee.String(),
		snap.Leverage.String(), snap.Drawdown.String(), snap.TotalSupply.String(),
		snap.State, snap.At,
	)
	return err
}

func (s *PostgresStore) LatestNAVSnapshot(ctx context.Context) (*model.NAVSnapshot, error) {
	snaps, err := s.RecentNAVSnapshots(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, ErrNotFound
	}
	return &snaps[0], nil
}

func (s *PostgresStore) RecentNAVSnapshots(ctx context.Context, limit int) ([]model.NAVSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT nav::TEXT, nav_per_share::TEXT, pending_fee::TEXT, leverage::TEXT,
		        drawdown::TEXT, total_supply::TEXT, state, at
		 FROM nav_snapshots ORDER BY at DESC, id DESC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.NAVSnapshot
	for rows.Next() {
		var snap model.NAVSnapshot
		var nav, navPerShare, pending, leverage, drawdown, supply string
		if err := rows.Scan(&nav, &navPerShare, &pending, &leverage,
			&drawdown, &supply, &snap.State, &snap.At); err != nil {
			return nil, err
		}
		if err := parseDecimals(
			field{nav, &snap.NetAssetValue},
			field{navPerShare, &snap.NetAssetValuePerShare},
			field{pending, &snap.PendingFee},
			field{leverage, &snap.Leverage},
			field{drawdown, &snap.Drawdown},
			field{supply, &snap.TotalSupply},
		); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// scanJournalEntries reads pgx rows into JournalEntry slices.
func scanJournalEntries(rows pgx.Rows) ([]model.JournalEntry, error) {
	var entries []model.JournalEntry
	for rows.Next() {
		var e model.JournalEntry
		var kind, sharesS, collateralS, priceS, feeS string

		if err := rows.Scan(&e.ID, &kind, &e.Holder, &e.Counterparty,
			&sharesS, &collateralS, &priceS, &feeS, &e.Note, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Kind = model.JournalKind(kind)
		if err := parseDecimals(
			field{sharesS, &e.Shares},
			field{collateralS, &e.Collateral},
			field{priceS, &e.Price},
			field{feeS, &e.Fee},
		); err != nil {
			return nil, fmt.Errorf("journal entry %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type field struct {
	raw string
	dst *decimal.Decimal
}

func parseDecimals(fields ...field) error {
	var errs []error
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f.dst = v
	}
	return errors.Join(errs...)
}
