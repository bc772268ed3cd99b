package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/crossarb/crossarb/internal/domain"
)

// OpportunityStore persists scanner output in the opportunities table.
type OpportunityStore struct {
	client *Client
}

// NewOpportunityStore creates an OpportunityStore backed by the given client.
func NewOpportunityStore(client *Client) *OpportunityStore {
	return &OpportunityStore{client: client}
}

// Insert stores a detected opportunity. Re-inserting the same id is a no-op.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	const query = `
		INSERT INTO opportunities (
			id, symbol, buy_venue, sell_venue, buy_price, sell_price,
			spread, spread_pct, volume_available, max_profit,
			confidence, risk_score, exec_time_estimate_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.client.Pool().Exec(ctx, query,
		opp.ID, opp.Symbol, opp.BuyVenue, opp.SellVenue, opp.BuyPrice, opp.SellPrice,
		opp.Spread, opp.SpreadPct, opp.VolumeAvailable, opp.MaxProfit,
		opp.Confidence, opp.RiskScore, opp.ExecTimeEstimate.Milliseconds(), opp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// MarkExecuted flags an opportunity as consumed by the execution engine.
func (s *OpportunityStore) MarkExecuted(ctx context.Context, id string) error {
	tag, err := s.client.Pool().Exec(ctx,
		"UPDATE opportunities SET executed = TRUE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity executed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the most recently detected opportunities, newest first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	const query = `
		SELECT id, symbol, buy_venue, sell_venue, buy_price, sell_price,
		       spread, spread_pct, volume_available, max_profit,
		       confidence, risk_score, exec_time_estimate_ms, created_at
		FROM opportunities
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.client.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()
	return scanOpportunities(rows)
}

// ListBefore returns opportunities detected before the cutoff, oldest first.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	const query = `
		SELECT id, symbol, buy_venue, sell_venue, buy_price, sell_price,
		       spread, spread_pct, volume_available, max_profit,
		       confidence, risk_score, exec_time_estimate_ms, created_at
		FROM opportunities
		WHERE created_at < $1
		ORDER BY created_at ASC`

	rows, err := s.client.Pool().Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before, err)
	}
	defer rows.Close()
	return scanOpportunities(rows)
}

// DeleteBefore removes opportunities detected before the cutoff and returns
// the number of rows deleted.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.client.Pool().Exec(ctx,
		"DELETE FROM opportunities WHERE created_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func scanOpportunities(rows pgx.Rows) ([]domain.Opportunity, error) {
	var opps []domain.Opportunity
	for rows.Next() {
		var opp domain.Opportunity
		var estimateMs int64
		err := rows.Scan(
			&opp.ID, &opp.Symbol, &opp.BuyVenue, &opp.SellVenue,
			&opp.BuyPrice, &opp.SellPrice, &opp.Spread, &opp.SpreadPct,
			&opp.VolumeAvailable, &opp.MaxProfit, &opp.Confidence,
			&opp.RiskScore, &estimateMs, &opp.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity row: %w", err)
		}
		opp.ExecTimeEstimate = time.Duration(estimateMs) * time.Millisecond
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate opportunity rows: %w", err)
	}
	return opps, nil
}
