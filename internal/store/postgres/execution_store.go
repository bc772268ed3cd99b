package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/crossarb/crossarb/internal/domain"
)

// ExecutionStore persists settled executions in the executions table.
type ExecutionStore struct {
	client *Client
}

// NewExecutionStore creates an ExecutionStore backed by the given client.
func NewExecutionStore(client *Client) *ExecutionStore {
	return &ExecutionStore{client: client}
}

// Insert stores a settled execution. Re-inserting the same id is a no-op.
func (s *ExecutionStore) Insert(ctx context.Context, exec domain.Execution) error {
	var buyOrderID, sellOrderID *string
	var quantity float64
	if exec.BuyOrder != nil {
		buyOrderID = &exec.BuyOrder.ID
		quantity = exec.BuyOrder.Quantity
	}
	if exec.SellOrder != nil {
		sellOrderID = &exec.SellOrder.ID
	}

	const query = `
		INSERT INTO executions (
			id, opportunity_id, symbol, buy_venue, sell_venue, status,
			buy_order_id, sell_order_id, quantity,
			actual_profit, fees_paid, net_profit, execution_time_ms, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.client.Pool().Exec(ctx, query,
		exec.ID, exec.Opportunity.ID, exec.Opportunity.Symbol,
		exec.Opportunity.BuyVenue, exec.Opportunity.SellVenue, string(exec.Status),
		buyOrderID, sellOrderID, quantity,
		exec.ActualProfit, exec.FeesPaid, exec.NetProfit,
		exec.ExecutionTime.Milliseconds(), exec.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", exec.ID, err)
	}
	return nil
}

// ListRecent returns the most recently settled executions, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.Execution, error) {
	rows, err := s.client.Pool().Query(ctx, selectExecutions+`
		ORDER BY settled_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// ListBefore returns executions settled before the cutoff, oldest first.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Execution, error) {
	rows, err := s.client.Pool().Query(ctx, selectExecutions+`
		WHERE settled_at < $1
		ORDER BY settled_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before %s: %w", before, err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// DeleteBefore removes executions settled before the cutoff and returns the
// number of rows deleted.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.client.Pool().Exec(ctx,
		"DELETE FROM executions WHERE settled_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

const selectExecutions = `
		SELECT id, opportunity_id, symbol, buy_venue, sell_venue, status,
		       buy_order_id, sell_order_id, quantity,
		       actual_profit, fees_paid, net_profit, execution_time_ms, settled_at
		FROM executions`

func scanExecutions(rows pgx.Rows) ([]domain.Execution, error) {
	var execs []domain.Execution
	for rows.Next() {
		var exec domain.Execution
		var status string
		var buyOrderID, sellOrderID *string
		var quantity float64
		var execTimeMs int64
		err := rows.Scan(
			&exec.ID, &exec.Opportunity.ID, &exec.Opportunity.Symbol,
			&exec.Opportunity.BuyVenue, &exec.Opportunity.SellVenue, &status,
			&buyOrderID, &sellOrderID, &quantity,
			&exec.ActualProfit, &exec.FeesPaid, &exec.NetProfit,
			&execTimeMs, &exec.SettledAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution row: %w", err)
		}
		exec.Status = domain.ExecStatus(status)
		exec.ExecutionTime = time.Duration(execTimeMs) * time.Millisecond
		if buyOrderID != nil {
			exec.BuyOrder = &domain.Order{
				ID:       *buyOrderID,
				Venue:    exec.Opportunity.BuyVenue,
				Symbol:   exec.Opportunity.Symbol,
				Side:     domain.OrderSideBuy,
				Quantity: quantity,
			}
		}
		if sellOrderID != nil {
			exec.SellOrder = &domain.Order{
				ID:       *sellOrderID,
				Venue:    exec.Opportunity.SellVenue,
				Symbol:   exec.Opportunity.Symbol,
				Side:     domain.OrderSideSell,
				Quantity: quantity,
			}
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate execution rows: %w", err)
	}
	return execs, nil
}
