package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/diwise/facility-mgmt/internal/pkg/application/events"
	"github.com/diwise/facility-mgmt/internal/pkg/application/facility"
	"github.com/diwise/facility-mgmt/internal/pkg/application/identity"
	"github.com/diwise/facility-mgmt/internal/pkg/application/spatial"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/router"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/tracing"
	"github.com/diwise/facility-mgmt/internal/pkg/presentation/api"
	"github.com/diwise/facility-mgmt/internal/pkg/presentation/api/auth"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const serviceName string = "facility-mgmt"

type flagType int
type flagMap map[flagType]string

const (
	listenAddress flagType = iota
	servicePort

	policiesFile
	configurationFile
	assetsFile

	jwtSecret
	devmode
	sqlitePath
)

func defaultFlags() flagMap {
	return flagMap{
		listenAddress: "0.0.0.0",
		servicePort:   "8080",

		policiesFile:      "",
		configurationFile: "/opt/diwise/config/facility.yaml",
		assetsFile:        "/opt/diwise/config/assets.csv",

		jwtSecret:  "",
		devmode:    "false",
		sqlitePath: "",
	}
}

func main() {
	serviceVersion := version()

	ctx, logger := logging.NewLogger(context.Background(), serviceName, serviceVersion)
	logger.Info().Msg("starting up ...")

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Msg("failed to load .env file")
	}

	flags := parseExternalConfig(defaultFlags())

	cleanup, err := tracing.Init(ctx, logger, serviceName, serviceVersion)
	exitIf(err, logger, "failed to init tracing")
	defer cleanup()

	repo, err := newRepository(ctx, logger, flags)
	exitIf(err, logger, "could not create or connect to database")

	cfg, err := loadConfigurationFile(flags[configurationFile])
	exitIf(err, logger, "could not read configuration file")

	sender, err := newEventSender(logger, cfg)
	exitIf(err, logger, "failed to create event sender")
	defer sender.Close()

	svc, err := initialize(ctx, repo, sender, cfg, flags)
	exitIf(err, logger, "failed to initialize services")

	policies, err := openPolicies(flags[policiesFile])
	exitIf(err, logger, "unable to open opa policy file")
	defer policies.Close()

	r, err := api.RegisterHandlers(ctx, router.New(serviceName, logger), policies, flags[jwtSecret], svc)
	exitIf(err, logger, "failed to register api handlers")

	server := &http.Server{
		Addr:              net.JoinHostPort(flags[listenAddress], flags[servicePort]),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening for requests")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("web server failed")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shut down web server")
	}

	logger.Info().Msg("shut down")
}

type appConfig struct {
	Events   *events.Config
	Identity *identity.Config
}

// loadConfigurationFile reads notification and seed settings from one yaml
// file. A missing file yields an empty configuration.
func loadConfigurationFile(path string) (*appConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			b = []byte{}
		} else {
			return nil, err
		}
	}

	return parseConfiguration(bytes.NewReader(b))
}

func parseConfiguration(r io.Reader) (*appConfig, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	eventsCfg, err := events.LoadConfiguration(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("bad notification configuration: %w", err)
	}

	identityCfg, err := identity.LoadConfiguration(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("bad identity configuration: %w", err)
	}

	return &appConfig{Events: eventsCfg, Identity: identityCfg}, nil
}

func newRepository(ctx context.Context, logger zerolog.Logger, flags flagMap) (database.FacilityRepository, error) {
	if flags[devmode] == "true" {
		logger.Info().Str("path", flags[sqlitePath]).Msg("using sqlite database")
		return database.New(database.NewSQLiteConnector(logger, flags[sqlitePath]))
	}

	return database.New(database.NewPostgreSQLConnector(logger, database.LoadConfigFromEnv(ctx)))
}

func newEventSender(logger zerolog.Logger, cfg *appConfig) (events.EventSender, error) {
	publishers := []events.Publisher{}

	if cfg.Events.AMQP != nil && cfg.Events.AMQP.URL != "" {
		p, err := events.NewAMQPPublisher(logger, *cfg.Events.AMQP)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, p)
	}

	return events.New(cfg.Events, publishers...), nil
}

// initialize seeds roles, users and assets and wires the application services.
func initialize(ctx context.Context, repo database.FacilityRepository, sender events.EventSender, cfg *appConfig, flags flagMap) (api.Services, error) {
	log := logging.GetFromContext(ctx)

	users := identity.New(repo)
	if err := users.Seed(ctx, cfg.Identity); err != nil {
		return api.Services{}, fmt.Errorf("failed to seed roles and users: %w", err)
	}

	if f, err := os.Open(flags[assetsFile]); err == nil {
		defer f.Close()
		if err := database.Seed(ctx, repo, f); err != nil {
			return api.Services{}, err
		}
		log.Info().Str("file", flags[assetsFile]).Msg("seeded assets")
	} else if !errors.Is(err, os.ErrNotExist) {
		return api.Services{}, fmt.Errorf("could not open assets file: %w", err)
	}

	return api.Services{
		Repository: repo,
		Identity:   users,
		Facility:   facility.New(repo, sender),
		Spatial:    spatial.New(repo),
	}, nil
}

// openPolicies falls back to the embedded policy when no file is configured.
func openPolicies(path string) (io.ReadCloser, error) {
	if path == "" {
		return io.NopCloser(auth.DefaultPolicies()), nil
	}
	return os.Open(path)
}

func parseExternalConfig(flags flagMap) flagMap {
	envOrDef := func(name, def string) string {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		return def
	}

	// Allow environment variables to override certain defaults
	flags[listenAddress] = envOrDef("LISTEN_ADDRESS", flags[listenAddress])
	flags[servicePort] = envOrDef("SERVICE_PORT", flags[servicePort])
	flags[policiesFile] = envOrDef("POLICIES_FILE", flags[policiesFile])
	flags[configurationFile] = envOrDef("CONFIG_FILE", flags[configurationFile])
	flags[assetsFile] = envOrDef("ASSETS_FILE", flags[assetsFile])
	flags[jwtSecret] = envOrDef("JWT_SECRET", flags[jwtSecret])
	flags[devmode] = envOrDef("DEVMODE", flags[devmode])
	flags[sqlitePath] = envOrDef("SQLITE_PATH", flags[sqlitePath])

	apply := func(f flagType) func(string) error {
		return func(value string) error {
			flags[f] = value
			return nil
		}
	}

	// Allow command line arguments to override defaults and environment variables
	flag.Func("policies", "an authorization policy file", apply(policiesFile))
	flag.Func("config", "notification and seed configuration file", apply(configurationFile))
	flag.Func("assets", "semicolon separated file of trees and equipment to seed", apply(assetsFile))
	flag.Func("devmode", "use a local sqlite database", apply(devmode))
	flag.Func("sqlite", "path to the sqlite database file in dev mode", apply(sqlitePath))
	flag.Parse()

	return flags
}

func version() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	infoMap := map[string]string{}
	for _, s := range buildInfo.Settings {
		infoMap[s.Key] = s.Value
	}

	sha := infoMap["vcs.revision"]
	if infoMap["vcs.modified"] == "true" {
		sha += "+"
	}

	return sha
}

func exitIf(err error, logger zerolog.Logger, msg string) {
	if err != nil {
		logger.Fatal().Err(err).Msg(msg)
	}
}
