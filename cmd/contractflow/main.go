package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/rocky28r/payment-widget-test/internal/api"
	"github.com/rocky28r/payment-widget-test/internal/httpapi"
	"github.com/rocky28r/payment-widget-test/internal/payment"
	"github.com/rocky28r/payment-widget-test/internal/store"
	"github.com/rocky28r/payment-widget-test/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for contract flow state data
	DefaultStateDir = "/var/lib/contractflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "contractflow.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	client := api.NewClient(buildClientOptions(flags)...)
	if !client.Configured() {
		slog.Warn("Membership API not fully configured; backend calls will fail until base URL and API key are set")
	}

	server := httpapi.NewServer(client, buildServerOptions(flags)...)
	slog.Info("Bootstrapping contract flow server",
		"addr", *flags.apiAddr, "dsn_set", *flags.dbDSN != "", "environment", *flags.widgetEnv)
	if err := server.Run(); err != nil {
		slog.Error("Contract flow server failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Contract flow server exited successfully")
}

// Config holds environment configuration
type Config struct {
	BaseURL     string
	APIKey      string
	DatabaseURL string
	StateDir    string
	APIAddr     string
	WidgetEnv   string
	CountryCode string
	Locale      string
	UseRubiksUI bool
}

// Flags holds command line flag values
type Flags struct {
	baseURL     *string
	apiKey      *string
	stateDir    *string
	dbDSN       *string
	apiAddr     *string
	widgetEnv   *string
	countryCode *string
	locale      *string
	useRubiksUI *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		BaseURL:     os.Getenv("MEMBERSHIP_API_BASE_URL"),
		APIKey:      os.Getenv("MEMBERSHIP_API_KEY"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("CONTRACTFLOW_STATE_DIR"),
		APIAddr:     os.Getenv("API_ADDR"),
		WidgetEnv:   os.Getenv("WIDGET_ENVIRONMENT"),
		CountryCode: os.Getenv("WIDGET_COUNTRY_CODE"),
		Locale:      os.Getenv("WIDGET_LOCALE"),
		UseRubiksUI: util.ParseBoolEnv("WIDGET_USE_RUBIKS_UI", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CONTRACTFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"MEMBERSHIP_API_BASE_URL", config.BaseURL,
		"MEMBERSHIP_API_KEY_SET", config.APIKey != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CONTRACTFLOW_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"WIDGET_ENVIRONMENT", config.WidgetEnv,
		"WIDGET_USE_RUBIKS_UI", config.UseRubiksUI)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		baseURL:     flag.String("api-base-url", config.BaseURL, "membership API base URL (overrides $MEMBERSHIP_API_BASE_URL)"),
		apiKey:      flag.String("api-key", config.APIKey, "membership API key (overrides $MEMBERSHIP_API_KEY)"),
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for contract flow data (overrides $CONTRACTFLOW_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN for flow state storage (overrides $DATABASE_URL)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		widgetEnv:   flag.String("widget-env", config.WidgetEnv, "payment widget environment (overrides $WIDGET_ENVIRONMENT)"),
		countryCode: flag.String("widget-country", config.CountryCode, "payment widget country code (overrides $WIDGET_COUNTRY_CODE)"),
		locale:      flag.String("widget-locale", config.Locale, "payment widget locale (overrides $WIDGET_LOCALE)"),
		useRubiksUI: flag.Bool("widget-rubiks-ui", config.UseRubiksUI, "enable the Rubiks widget UI (overrides $WIDGET_USE_RUBIKS_UI)"),
	}

	flag.Parse()

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"baseURL", *flags.baseURL,
		"apiKeySet", *flags.apiKey != "",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"widgetEnv", *flags.widgetEnv,
		"useRubiksUI", *flags.useRubiksUI)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

// buildClientOptions constructs membership API client options
func buildClientOptions(flags Flags) []api.Option {
	var clientOpts []api.Option
	if *flags.baseURL != "" {
		clientOpts = append(clientOpts, api.WithBaseURL(*flags.baseURL))
	}
	if *flags.apiKey != "" {
		clientOpts = append(clientOpts, api.WithAPIKey(*flags.apiKey))
	}
	return clientOpts
}

// buildStoreFactory selects the storage backend from the DSN. Persistent
// backends are wrapped in a fallback so a database outage degrades to
// in-memory state instead of breaking running flows.
func buildStoreFactory(flags Flags) httpapi.StoreFactory {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Debug("No database DSN provided, using in-memory stores")
		return func(string) (store.Store, error) {
			return store.NewInMemoryStore(), nil
		}
	}

	dsnType := store.DetectDSNType(dsn)
	slog.Debug("Configuring flow storage", "dsn_type", dsnType)
	return func(flowID string) (store.Store, error) {
		opts := []store.Option{
			store.WithDSN(dsn),
			store.WithNamespace("flow-" + flowID),
		}
		var (
			primary store.Store
			err     error
		)
		if dsnType == "postgres" {
			primary, err = store.NewPostgresStore(opts...)
		} else {
			primary, err = store.NewSQLiteStore(opts...)
		}
		if err != nil {
			return nil, err
		}
		return store.NewFallbackStore(primary), nil
	}
}

// buildServerOptions constructs API server configuration options
func buildServerOptions(flags Flags) []httpapi.Option {
	serverOpts := []httpapi.Option{
		httpapi.WithStoreFactory(buildStoreFactory(flags)),
		httpapi.WithPaymentSettings(payment.Settings{
			CountryCode: *flags.countryCode,
			Locale:      *flags.locale,
			Environment: *flags.widgetEnv,
			UseRubiksUI: *flags.useRubiksUI,
		}),
	}
	if *flags.apiAddr != "" {
		serverOpts = append(serverOpts, httpapi.WithAddr(*flags.apiAddr))
	}
	return serverOpts
}
