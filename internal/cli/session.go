package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/UkralStul/codenode-comments/internal/chain"
	"github.com/UkralStul/codenode-comments/internal/config"
	"github.com/UkralStul/codenode-comments/internal/domain"
	"github.com/UkralStul/codenode-comments/internal/logging"
	"github.com/UkralStul/codenode-comments/internal/storage"
	badgerstore "github.com/UkralStul/codenode-comments/internal/storage/badger"
	"github.com/UkralStul/codenode-comments/internal/storage/inmemory"
	"github.com/UkralStul/codenode-comments/internal/storage/postgres"
	"github.com/UkralStul/codenode-comments/internal/storage/sqlite"
)

// session is everything one command invocation needs.
type session struct {
	out    *OutputFormatter
	store  storage.Store
	engine *chain.Engine
	log    *logging.Logger
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.log.Warn().Err(err).Msg("close store")
	}
	s.log.Close()
}

func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, reportSetup(out, "config", err)
	}

	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	build := logging.New().FromWriter(cmd.ErrOrStderr()).Level(level).Format(cfg.Log.Format)
	if cfg.Log.File != "" {
		build = build.FromPath(cfg.Log.File)
	}
	log, err := build.Make()
	if err != nil {
		return nil, reportSetup(out, "logging", err)
	}

	store, err := openStore(cfg.Storage, log.Logger)
	if err != nil {
		log.Close()
		return nil, reportSetup(out, "storage", err)
	}
	log.Debug().Str("driver", cfg.Storage.Driver).Msg("store opened")

	engine := chain.New(store,
		chain.WithLogger(log.Logger),
		chain.WithOptions(chain.Options{
			MaxRetries:     cfg.Engine.MaxRetries,
			RetryBaseDelay: cfg.Engine.RetryBaseDelay,
			RetryMaxDelay:  cfg.Engine.RetryMaxDelay,
			MaxTextLength:  cfg.Engine.MaxTextLength,
		}),
	)
	return &session{out: out, store: store, engine: engine, log: log}, nil
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if opts.Driver != "" {
		cfg.Storage.Driver = opts.Driver
	}
	if opts.Path != "" {
		cfg.Storage.Path = opts.Path
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func openStore(cfg config.StorageConfig, log zerolog.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return inmemory.New(), nil
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverBadger:
		bc := badgerstore.DefaultConfig(cfg.Path)
		bc.SyncWrites = cfg.SyncWrites
		bc.Logger = &log
		s, err := badgerstore.Open(bc)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		iso, err := postgres.ParseIsolation(cfg.Isolation)
		if err != nil {
			return nil, err
		}
		s, err := postgres.New(cfg.DSN, postgres.WithIsolation(iso), postgres.WithLogger(logging.Gorm(log)))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func reportSetup(out *OutputFormatter, code string, err error) error {
	_ = out.Error(code, err.Error())
	return WrapExitError(ExitCommandError, code, err)
}

// parseKey checks an entity key argument. The engine itself treats keys as opaque.
func parseKey(out *OutputFormatter, arg string) (string, error) {
	key, err := domain.ParseEntityKey(arg)
	if err != nil {
		return "", out.Fail(err)
	}
	return key.String(), nil
}
