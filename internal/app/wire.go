package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/crossarb/crossarb/internal/blob/s3"
	"github.com/crossarb/crossarb/internal/cache/redis"
	"github.com/crossarb/crossarb/internal/config"
	"github.com/crossarb/crossarb/internal/crypto"
	"github.com/crossarb/crossarb/internal/domain"
	"github.com/crossarb/crossarb/internal/notify"
	"github.com/crossarb/crossarb/internal/scanner"
	"github.com/crossarb/crossarb/internal/store/postgres"
	"github.com/crossarb/crossarb/internal/venue"
)

// quoteMirrorTTL bounds how long mirrored quotes live in Redis without a
// refresh.
const quoteMirrorTTL = 10 * time.Minute

// paperBasePrice seeds the deterministic paper connectors. Each paper venue
// gets a slightly different base so that spreads exist between them.
const paperBasePrice = 50_000.0

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores (nil in monitor mode without persistence).
	Opportunities domain.OpportunityStore
	Executions    domain.ExecutionStore
	Audit         domain.AuditStore

	// Caches and coordination.
	QuoteCache domain.QuoteCache
	SignalBus  domain.SignalBus
	Locks      domain.LockManager

	// Blob storage.
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	// Market access.
	Venues  map[string]domain.VenueConnector
	Sources []domain.DataSource
	Fees    domain.FeeTable
	Infos   map[string]scanner.VenueInfo
	TopTier map[string]bool

	// Notifications.
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	return mode == "trade"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them with a cleanup function to be called on
// shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// ── PostgreSQL ──
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}

		deps.Opportunities = postgres.NewOpportunityStore(pgClient)
		deps.Executions = postgres.NewExecutionStore(pgClient)
		deps.Audit = postgres.NewAuditStore(pgClient)
	}

	// ── Redis ──
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	streamMaxLen := int64(10_000)
	if cfg.Redis.StreamMaxLen > 0 {
		streamMaxLen = int64(cfg.Redis.StreamMaxLen)
	}

	deps.QuoteCache = redis.NewQuoteCache(redisClient, quoteMirrorTTL)
	deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, streamMaxLen)
	deps.Locks = redis.NewLockManager(redisClient)

	// ── S3 blob storage ──
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         true,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		if deps.Opportunities != nil && deps.Executions != nil && deps.Audit != nil {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.Opportunities,
				deps.Executions,
				deps.Audit,
			)
		}
	}

	// ── Venue connectors and data sources ──
	if err := wireVenues(cfg, deps); err != nil {
		cleanup()
		return nil, nil, err
	}

	deps.Sources = make([]domain.DataSource, 0, len(cfg.Sources))
	for name, src := range cfg.Sources {
		deps.Sources = append(deps.Sources, venue.NewHTTPSource(name, src.URL, src.Timeout.Duration))
	}

	// ── Notifications ──
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// wireVenues builds one connector per configured venue plus the static
// per-venue tables (fees, tiers, latencies) derived from the same config.
func wireVenues(cfg *config.Config, deps *Dependencies) error {
	deps.Venues = make(map[string]domain.VenueConnector, len(cfg.Venues))
	deps.Fees = make(domain.FeeTable, len(cfg.Venues))
	deps.Infos = make(map[string]scanner.VenueInfo, len(cfg.Venues))
	deps.TopTier = make(map[string]bool, len(cfg.Venues))

	paperIndex := 0
	for name, vc := range cfg.Venues {
		switch vc.Kind {
		case "binance":
			secret := vc.ApiSecret
			if vc.EncryptedKeyPath != "" {
				loaded, err := crypto.LoadSecret(crypto.SecretConfig{
					RawSecret:     vc.ApiSecret,
					EncryptedPath: vc.EncryptedKeyPath,
					Password:      vc.KeyPassword,
				})
				if err != nil {
					return fmt.Errorf("wire: venue %s: %w", name, err)
				}
				secret = loaded
			}

			deps.Venues[name] = venue.NewBinance(venue.BinanceConfig{
				Name:     name,
				RestHost: vc.RestHost,
				WsHost:   vc.WsHost,
				Auth:     crypto.HMACAuth{Key: vc.ApiKey, Secret: secret},
				Symbols:  cfg.Symbols,
			})

		case "paper":
			prices := make(map[string]float64, len(cfg.Symbols))
			for _, symbol := range cfg.Symbols {
				// Offset each paper venue so cross-venue spreads exist.
				prices[symbol] = paperBasePrice * (1 + 0.001*float64(paperIndex))
			}
			paperIndex++

			deps.Venues[name] = venue.NewPaper(venue.PaperConfig{
				Name:   name,
				Prices: prices,
				Drift:  0.002,
			})

		default:
			return fmt.Errorf("wire: venue %s: unknown kind %q", name, vc.Kind)
		}

		fees := domain.FeeSchedule{
			MakerFee:      vc.MakerFee,
			TakerFee:      vc.TakerFee,
			WithdrawalFee: vc.WithdrawalFee,
		}
		if fees.MakerFee == 0 && fees.TakerFee == 0 {
			fees.MakerFee = domain.DefaultFeeSchedule.MakerFee
			fees.TakerFee = domain.DefaultFeeSchedule.TakerFee
		}
		deps.Fees[name] = fees

		deps.Infos[name] = scanner.VenueInfo{
			Tier:        vc.Tier,
			BaseLatency: vc.BaseLatency.Duration,
		}
		deps.TopTier[name] = vc.Tier == 1
	}

	return nil
}
