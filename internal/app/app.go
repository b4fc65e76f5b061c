// Package app wires configuration into the service components.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"clinical-dictation-service/internal/audit"
	"clinical-dictation-service/internal/config"
	"clinical-dictation-service/internal/dataservice"
	"clinical-dictation-service/internal/events"
	apihttp "clinical-dictation-service/internal/http"
	"clinical-dictation-service/internal/identity"
	"clinical-dictation-service/internal/observability/logging"
	"clinical-dictation-service/internal/schema"
	"clinical-dictation-service/internal/service/idlelock"
	"clinical-dictation-service/internal/service/logout"
	"clinical-dictation-service/internal/service/recording"
	"clinical-dictation-service/internal/service/stt/provider"
	"clinical-dictation-service/internal/service/transcribe"
	"clinical-dictation-service/internal/storage"
	"clinical-dictation-service/internal/store/redisstore"
	"clinical-dictation-service/internal/workspace"
)

const devUserID = "dev-clinician"

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Publisher  *events.Publisher
	Data       dataservice.Service
	Identity   *identity.Service
	Audit      *audit.Logger
	Workspaces *workspace.Manager
	Logout     *logout.Flow
	API        *apihttp.API

	closers []func() error
}

// New constructs a new Application from the provided configuration and
// initializes the global logger.
func New(cfg *config.Config) *Application {
	logging.Init(logging.Config{
		Level:    cfg.Observability.LogLevel,
		Format:   cfg.Observability.LogFormat,
		FilePath: cfg.Observability.LogFile,
	})

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}
	a.Logger.Info().
		Str("logLevel", cfg.Observability.LogLevel).
		Str("principal", cfg.Service.Principal).
		Msg("Clinical dictation service application created")
	return a
}

// Start validates the configuration and builds every component. On error
// whatever was opened is closed again.
func (a *Application) Start(ctx context.Context) error {
	a.StartupTime = time.Now().UTC()
	logger := a.Logger.With().Str("method", "Start").Logger()
	cfg := a.Cfg

	v := schema.New()
	if err := v.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.Publisher = events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		TopicAudit:   cfg.Kafka.TopicAudit,
		Principal:    cfg.Kafka.Principal,
	})
	a.closers = append(a.closers, a.Publisher.Close)

	users, err := a.openData(ctx)
	if err != nil {
		a.Shutdown()
		return err
	}

	locks, revoked := a.openLockStore(ctx)

	store, err := a.openStorage()
	if err != nil {
		a.Shutdown()
		return err
	}

	tokens := identity.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Service.Principal)
	a.Identity = identity.NewService(users, tokens, revoked)

	sinks := []audit.Sink{audit.LogSink{}}
	if cfg.Kafka.Enabled {
		sinks = append(sinks, audit.NewKafkaSink(a.Publisher))
	}
	if cfg.Database.Enabled {
		sinks = append(sinks, audit.NewTableSink(a.Data))
	}
	a.Audit = audit.NewLogger(sinks...)

	a.Workspaces = workspace.NewManager(workspace.Config{
		Recording:      RecordingConfig(cfg),
		IdleLock:       idlelock.Config(cfg.IdleLock),
		Bucket:         cfg.Storage.Bucket,
		RecordingsPath: cfg.Storage.RecordingsPath,
		SignedURLTTL:   cfg.Storage.SignedURLTTL,
	}, workspace.Deps{
		Speech:      provider.New(cfg.STT),
		Transcriber: NewTranscriber(cfg.Transcription),
		Identity:    a.Identity,
		Data:        a.Data,
		Storage:     store,
		Locks:       locks,
		Audit:       a.Audit,
		Publisher:   a.Publisher,
	})
	a.Logout = logout.NewFlow(a.Identity, a.Data, a.Audit, nil)
	a.API = apihttp.NewAPI(a.Identity, a.Workspaces, a.Logout, v)

	logger.Info().
		Time("startupTime", a.StartupTime).
		Str("sttProvider", cfg.STT.Provider).
		Str("transcriber", cfg.Transcription.Backend).
		Bool("database", cfg.Database.Enabled).
		Bool("redis", cfg.Redis.Enabled).
		Bool("storage", cfg.Storage.Enabled).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("Clinical dictation service starting")
	return nil
}

func (a *Application) openData(ctx context.Context) (identity.Users, error) {
	cfg := a.Cfg
	if !cfg.Database.Enabled {
		a.Data = dataservice.NewMemory()
		users := identity.NewMemoryUsers()
		if cfg.Auth.DevUserEmail != "" {
			dev := identity.Identity{ID: devUserID, Email: cfg.Auth.DevUserEmail, DisplayName: "Development Clinician"}
			if err := users.Add(dev, cfg.Auth.DevUserPassword); err != nil {
				return nil, fmt.Errorf("seed dev user: %w", err)
			}
			a.Logger.Warn().Str("email", cfg.Auth.DevUserEmail).Msg("Database disabled, using in-memory data with a dev user")
		} else {
			a.Logger.Warn().Msg("Database disabled, using in-memory data with no users")
		}
		return users, nil
	}

	pg, err := dataservice.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pg.Close)
	if cfg.Database.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.Logger.Info().Msg("Database schema applied")
	}
	a.Data = pg
	return identity.NewPostgresUsers(pg.DB()), nil
}

func (a *Application) openLockStore(ctx context.Context) (idlelock.LockStore, identity.Revocations) {
	cfg := a.Cfg
	if !cfg.Redis.Enabled {
		return idlelock.NewMemoryLockStore(), identity.NewMemoryRevocations()
	}
	rs := redisstore.New(ctx, redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Auth.TokenTTL)
	a.closers = append(a.closers, rs.Close)
	return rs, rs
}

func (a *Application) openStorage() (storage.Store, error) {
	cfg := a.Cfg
	if !cfg.Storage.Enabled {
		a.Logger.Warn().Msg("Storage disabled, keeping recordings in memory")
		return storage.NewMemory(), nil
	}
	s3, err := storage.NewS3(storage.S3Config{Region: cfg.Storage.Region, Endpoint: cfg.Storage.Endpoint})
	if err != nil {
		return nil, fmt.Errorf("s3 storage: %w", err)
	}
	return s3, nil
}

// Shutdown closes the workspaces and then the shared clients in reverse
// order of opening.
func (a *Application) Shutdown() {
	logger := a.Logger.With().Str("method", "Shutdown").Logger()
	logger.Info().Msg("Clinical dictation service shutting down")

	if a.API != nil {
		a.API.SetReady(false)
	}
	if a.Workspaces != nil {
		a.Workspaces.CloseAll()
	}
	if a.Audit != nil {
		a.Audit.Flush()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn().Err(err).Msg("Close failed")
		}
	}
	a.closers = nil
}

// RecordingConfig maps the recording and STT settings onto the engine
// config. ActorID is filled per workspace.
func RecordingConfig(cfg *config.Config) recording.Config {
	return recording.Config{
		ChunkInterval: cfg.Recording.ChunkInterval,
		SilenceWindow: cfg.Recording.SilenceWindow,
		FlushGrace:    cfg.Recording.FlushGrace,
		MIMEType:      cfg.Recording.MIMEType,
		Provider:      cfg.STT.Provider,
	}
}

// NewTranscriber returns the post-recording backend. Whisper falls back to
// the synthetic backend when it fails.
func NewTranscriber(cfg config.TranscriptionConfig) transcribe.Transcriber {
	synthetic := transcribe.NewSynthetic(cfg.ProcessingDelay)
	if cfg.Backend != "whisper" || cfg.OpenAIAPIKey == "" {
		return synthetic
	}

	whisper := transcribe.NewWhisper(cfg.OpenAIAPIKey, cfg.Language)
	if cfg.BaseURL != "" {
		oc := openai.DefaultConfig(cfg.OpenAIAPIKey)
		oc.BaseURL = cfg.BaseURL
		whisper = transcribe.NewWhisperWithConfig(oc, cfg.Language)
	}
	return transcribe.NewChain(whisper, synthetic)
}
