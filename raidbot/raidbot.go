package raidbot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var structValidator = validator.New()

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
}

// RaidBot wires the schedule engines, the gateway transport, the extraction
// layer, and the status API into one runnable unit.
type RaidBot struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	db        *gorm.DB
	discord   *Discord
	extractor *IntentExtractor
	cache     *ExtractionCache
	queues    *RaidQueueManager
	roster    *Roster
	lostark   *LostarkClient
	api       *API

	startedAt time.Time
	runMu     sync.Mutex
}

// New assembles a RaidBot from the given config. The database is not opened
// and the gateway is not connected until Run.
func New(config *Config) (*RaidBot, error) {
	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
	default:
		return nil, fmt.Errorf(
			"invalid database type %q (must be %q or %q)",
			config.DatabaseType, dbTypeSQLite, dbTypePostgres,
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &RaidBot{config: config}

	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	b.queues = NewRaidQueueManager(b.logger.With(loggerNameKey, "queue"))
	b.roster = NewRoster(config.Roster)
	b.lostark = NewLostarkClient(config.Lostark, config.HTTPClient)

	config.Discord.httpClient = config.HTTPClient

	if config.API != nil && config.API.Enabled {
		b.api = newAPI(b, config.API)
	}

	return b, nil
}

// ValidateConfig checks the config's binding tags.
func (b *RaidBot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// Roster returns the bot's roster loader.
func (b *RaidBot) Roster() *Roster {
	return b.roster
}

// Lostark returns the bot's Lost Ark API client.
func (b *RaidBot) Lostark() *LostarkClient {
	return b.lostark
}

// Discord returns the bot's gateway transport, assembling it first when Run
// hasn't done so yet. Used by one-shot commands that need a session without
// the full bot lifecycle.
func (b *RaidBot) Discord() (*Discord, error) {
	if b.discord != nil {
		return b.discord, nil
	}
	if b.extractor == nil {
		b.extractor = NewIntentExtractor(
			b.config.OpenAI, b.cache, b.db, b.config.HTTPClient,
		)
	}
	disc, err := newDiscord(b.config.Discord, b.extractor, b.queues)
	if err != nil {
		return nil, err
	}
	b.discord = disc
	return disc, nil
}

// initRun opens the database and assembles the components that need it.
func (b *RaidBot) initRun(ctx context.Context) error {
	gormLogger := newGORMLogger(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     b.config.DatabaseLogLevel,
				AddSource: true,
			},
		),
		b.config.DatabaseSlowThreshold,
	)
	db, err := CreateDB(
		ctx,
		b.config.DatabaseType,
		b.config.Database,
		gormLogger,
		b.logger.With(loggerNameKey, "database"),
	)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	b.db = db

	b.cache = NewExtractionCache(
		newGORMCacheStore(db),
		b.config.Cache,
		b.logger,
	)
	b.extractor = NewIntentExtractor(
		b.config.OpenAI, b.cache, db, b.config.HTTPClient,
	)

	disc, err := newDiscord(b.config.Discord, b.extractor, b.queues)
	if err != nil {
		return err
	}
	b.discord = disc
	return nil
}

// Run starts the bot and blocks until ctx is canceled or a component fails.
// Startup is bounded by StartupTimeout; shutdown by ShutdownTimeout.
func (b *RaidBot) Run(ctx context.Context) error {
	// prevents concurrent runs
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.startedAt = time.Now()

	if err := b.ValidateConfig(); err != nil {
		b.logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, b.logger)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.logger.LogAttrs(
		ctx, slog.LevelInfo, "starting", slog.Any("config", *b.config),
	)

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		initErr <- b.initRun(startCtx)
	}()
	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			return err
		}
	}

	if err := b.discord.Start(ctx); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}

	g, runCtx := errgroup.WithContext(ctx)

	if b.api != nil {
		g.Go(
			func() error {
				return b.api.Serve(runCtx)
			},
		)
	}
	g.Go(
		func() error {
			b.cache.Run(runCtx)
			return nil
		},
	)
	g.Go(
		func() error {
			<-runCtx.Done()
			return b.shutdown()
		},
	)

	b.logger.InfoContext(ctx, "started")
	return g.Wait()
}

// shutdown closes the gateway, the API server, and the database within the
// shutdown timeout.
func (b *RaidBot) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), b.config.ShutdownTimeout,
	)
	defer cancel()

	b.logger.Info("shutting down", "timeout", b.config.ShutdownTimeout)

	if b.discord != nil {
		if err := b.discord.Stop(); err != nil {
			b.logger.Error("error closing discord session", tint.Err(err))
		}
	}
	if b.api != nil {
		if err := b.api.Shutdown(shutdownCtx); err != nil {
			b.logger.Error("error shutting down api", tint.Err(err))
		}
	}
	if b.db != nil {
		if sqlDB, err := b.db.DB(); err == nil {
			if closeErr := sqlDB.Close(); closeErr != nil {
				b.logger.Error("error closing database", tint.Err(closeErr))
			}
		}
	}
	b.logger.Info("shutdown complete")
	return nil
}
