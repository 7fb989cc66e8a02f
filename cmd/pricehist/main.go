// Price History Collector CLI
// Maintains a local JSON time series of daily asset prices fetched from
// the CoinGecko API.
//
// Usage:
//
//	pricehist sync               incremental update since the last stored point
//	pricehist refresh            re-fetch the entire available history
//	pricehist show [--limit N]   print the stored series
//
// The CoinGecko credential is read from COINGECKO_API_KEY (a .env file in
// the working directory is honored). For detailed help: pricehist --help
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/taometrics/pricehist/internal/coingecko"
	"github.com/taometrics/pricehist/internal/collector"
	"github.com/taometrics/pricehist/internal/config"
	"github.com/taometrics/pricehist/internal/logger"
	"github.com/taometrics/pricehist/internal/storage"
)

const (
	Version = "1.0.0"
	AppName = "pricehist"
)

// Exit codes following standard conventions
const (
	ExitSuccess       = 0
	ExitUsageError    = 1
	ExitConfigError   = 2
	ExitConnectionErr = 3
	ExitDataError     = 4
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "sync":
		os.Exit(runCollect(ctx, args, collector.ModeIncremental))
	case "refresh":
		os.Exit(runCollect(ctx, args, collector.ModeFullRefresh))
	case "show":
		os.Exit(runShow(ctx, args))
	case "--version", "-v":
		fmt.Printf("%s version %s\n", AppName, Version)
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}
}

// commonFlags are shared by all commands.
type commonFlags struct {
	ConfigPath string
	Limit      int
	Format     string
	Help       bool
}

func parseFlags(args []string) (*commonFlags, error) {
	flags := &commonFlags{
		Limit:  20,
		Format: "table",
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--config requires a value")
			}
			flags.ConfigPath = args[i+1]
			i++
		case "--limit", "-l":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--limit requires a value")
			}
			limit, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid limit value: %w", err)
			}
			flags.Limit = limit
			i++
		case "--format", "-f":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--format requires a value")
			}
			if args[i+1] != "table" && args[i+1] != "json" {
				return nil, fmt.Errorf("invalid format, must be: table or json")
			}
			flags.Format = args[i+1]
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// setup loads .env, config and logger shared by every command.
func setup(args []string) (*commonFlags, *config.Config, *slog.Logger, func(), int) {
	flags, err := parseFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, nil, nil, nil, ExitUsageError
	}
	if flags.Help {
		printUsage()
		return nil, nil, nil, nil, ExitSuccess
	}

	// A .env file is optional; real environments set the variable directly.
	_ = godotenv.Load()

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, nil, nil, nil, ExitConfigError
	}

	log, closer, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, nil, nil, nil, ExitConfigError
	}
	log = log.With("run_id", uuid.NewString())

	cleanup := func() { closer.Close() }
	return flags, cfg, log, cleanup, -1
}

// runCollect executes one collection run in the given mode.
func runCollect(ctx context.Context, args []string, mode collector.Mode) int {
	_, cfg, log, cleanup, code := setup(args)
	if code >= 0 {
		return code
	}
	defer cleanup()

	// Credential preflight: fail before any network or file activity.
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		if errors.Is(err, config.ErrMissingAPIKey) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "Set %s in the environment or a .env file.\n", config.EnvAPIKey)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return ExitConfigError
	}

	fallback, err := cfg.FallbackStartTime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	client := coingecko.New(coingecko.Options{
		BaseURL:         cfg.BaseURL,
		APIKey:          cfg.APIKey,
		Timeout:         cfg.Timeout(),
		RateLimitPerSec: cfg.RateLimitPerSec,
		Logger:          log,
	})
	store := storage.NewFileStore(cfg.DataFile, log)

	runner := collector.NewRunner(collector.Config{
		Asset:         cfg.Asset,
		VsCurrency:    cfg.VsCurrency,
		FallbackStart: fallback,
	}, store, client, log)

	summary, err := runner.Run(ctx, mode)
	if err != nil {
		log.Error("run failed", "mode", mode, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}

	switch {
	case summary.Fetched == 0:
		fmt.Printf("No data returned by provider for %s; %d entries unchanged.\n",
			cfg.Asset, summary.Total)
	case summary.Added == 0:
		fmt.Printf("No new data for %s; %d entries unchanged.\n",
			cfg.Asset, summary.Total)
	default:
		fmt.Printf("Added %d new entries for %s; series now holds %d entries.\n",
			summary.Added, cfg.Asset, summary.Total)
	}
	return ExitSuccess
}

// runShow prints the stored series without contacting the provider.
func runShow(ctx context.Context, args []string) int {
	flags, cfg, log, cleanup, code := setup(args)
	if code >= 0 {
		return code
	}
	defer cleanup()

	store := storage.NewFileStore(cfg.DataFile, log)
	points, err := store.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitDataError
	}

	if len(points) == 0 {
		fmt.Printf("No data stored yet in %s. Run: %s sync\n", cfg.DataFile, AppName)
		return ExitSuccess
	}

	if flags.Limit > 0 && len(points) > flags.Limit {
		points = points[len(points)-flags.Limit:]
	}

	if flags.Format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(points); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitDataError
		}
		return ExitSuccess
	}

	fmt.Printf("%-22s %s\n", "Date", "Price")
	for _, p := range points {
		fmt.Printf("%-22s %s\n", p.Time().Format("2006-01-02 15:04:05"), p.Price)
	}
	return ExitSuccess
}

// exitCodeFor maps run failures onto exit codes for scripting use.
func exitCodeFor(err error) int {
	var transportErr *coingecko.TransportError
	var statusErr *coingecko.StatusError
	switch {
	case errors.As(err, &transportErr), errors.As(err, &statusErr):
		return ExitConnectionErr
	default:
		return ExitDataError
	}
}

func printUsage() {
	fmt.Printf(`%s - asset price history collector v%s

USAGE:
    %s <command> [options]

COMMANDS:
    sync        Fetch prices since the last stored point and merge them
    refresh     Re-fetch the entire available history and merge it
    show        Print the stored series

OPTIONS:
    --config, -c <path>    JSON config file
    --limit, -l <n>        Max entries for show (default: 20, 0 = all)
    --format, -f <fmt>     Output format for show: table, json
    --help, -h             Show help information
    --version, -v          Show version information

CONFIGURATION:
    Defaults target the bittensor asset quoted in USD, persisted to
    price_data.json. Override via a config file or PRICEHIST_* environment
    variables. The CoinGecko credential must be present as %s
    (a .env file in the working directory is honored).

EXAMPLES:
    %s sync
    %s refresh --config pricehist.json
    %s show --limit 30 --format json
`, AppName, Version, AppName, config.EnvAPIKey, AppName, AppName, AppName)
}
