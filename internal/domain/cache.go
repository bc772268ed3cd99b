package domain

import (
	"context"
	"io"
	"time"
)

// QuoteCache mirrors the latest quote per (symbol, venue) to shared storage
// so external consumers can read prices without touching the in-process
// monitor. The monitor is the only writer.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, symbol, venue string) (Quote, error)
}

// SignalBus is the event/alert sink: ephemeral pub/sub plus durable ordered
// streams, consumed by external monitoring.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// LockManager provides distributed locks so that at most one engine instance
// places orders at a time.
type LockManager interface {
	// Acquire obtains the named lock with a TTL and returns an unlock
	// function, or ErrLockHeld when another party holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter stores an object at a path in blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
