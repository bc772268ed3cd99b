package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crossarb/crossarb/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each venue's
// latest quote for a symbol is stored at key "quote:{symbol}:{venue}" with
// one field per numeric component plus the observation timestamp in Unix
// nanoseconds. The price monitor is the only writer.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. When ttl is
// positive, quote keys expire so a dead venue's prices age out of the mirror.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(symbol, venue string) string {
	return "quote:" + symbol + ":" + venue
}

// SetQuote stores the latest quote for a (symbol, venue) pair.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.Symbol, q.Venue)
	fields := map[string]interface{}{
		"price":  formatFloat(q.Price),
		"bid":    formatFloat(q.Bid),
		"ask":    formatFloat(q.Ask),
		"volume": formatFloat(q.Volume),
		"ts":     strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
		"source": string(q.Source),
	}
	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", q.Symbol, q.Venue, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a (symbol, venue) pair. It returns
// domain.ErrNotFound when no quote has been mirrored.
func (qc *QuoteCache) GetQuote(ctx context.Context, symbol, venue string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(symbol, venue)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s/%s: %w", symbol, venue, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	q := domain.Quote{Symbol: symbol, Venue: venue, Source: domain.SourceKind(vals["source"])}
	if q.Price, err = parseField(vals, "price"); err != nil {
		return domain.Quote{}, err
	}
	if q.Bid, err = parseField(vals, "bid"); err != nil {
		return domain.Quote{}, err
	}
	if q.Ask, err = parseField(vals, "ask"); err != nil {
		return domain.Quote{}, err
	}
	if q.Volume, err = parseField(vals, "volume"); err != nil {
		return domain.Quote{}, err
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote ts %s/%s: %w", symbol, venue, err)
	}
	q.ObservedAt = time.Unix(0, tsNano)

	return q, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseField(vals map[string]string, field string) (float64, error) {
	s, ok := vals[field]
	if !ok {
		return 0, domain.ErrNotFound
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse quote field %s: %w", field, err)
	}
	return f, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
