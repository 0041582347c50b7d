// RaindropRelay keeps a Chromium-format Bookmarks file and a Raindrop.io
// account in sync, with a choice of one-way and two-way modes.
//
// Usage:
//
//	raindroprelay setup                     # interactive first-run wizard
//	raindroprelay daemon [--config <path>]  # start polling + file watcher
//	raindroprelay sync-once [--config ...]  # single sync pass then exit
//	raindroprelay login [<access> [<refresh>]]  # store API tokens
//	raindroprelay status                    # show daemon & config state
//	raindroprelay uninstall [--purge]       # stop daemon and remove files
//	raindroprelay version                   # print version
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/njoerd114/raindroprelay/internal/bookmarks"
	"github.com/njoerd114/raindroprelay/internal/config"
	"github.com/njoerd114/raindroprelay/internal/raindrop"
	"github.com/njoerd114/raindroprelay/internal/setup"
	"github.com/njoerd114/raindroprelay/internal/state"
	syncp "github.com/njoerd114/raindroprelay/internal/sync"
	"github.com/njoerd114/raindroprelay/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "setup":
		return runSetup()
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "login":
		return runLogin(os.Args[2:])
	case "status":
		return runStatus()
	case "uninstall":
		return runUninstall(os.Args[2:])
	case "version":
		fmt.Println("raindroprelay", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'raindroprelay' for usage", cmd)
	}
}

// printUsage shows help and suggests setup if no config exists.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "RaindropRelay — sync browser bookmarks ↔ Raindrop.io")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  raindroprelay setup                   Interactive first-run wizard")
	fmt.Fprintln(os.Stderr, "  raindroprelay daemon [--config ...]   Run as continuous daemon")
	fmt.Fprintln(os.Stderr, "  raindroprelay sync-once [--config ..] Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  raindroprelay login [<access>]        Store Raindrop.io API tokens")
	fmt.Fprintln(os.Stderr, "  raindroprelay status                  Show daemon & config state")
	fmt.Fprintln(os.Stderr, "  raindroprelay uninstall [--purge]     Stop daemon and remove files")
	fmt.Fprintln(os.Stderr, "  raindroprelay version                 Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintln(os.Stderr, "No config file found. Run 'raindroprelay setup' to get started.")
	}

	os.Exit(1)
	return nil // unreachable
}

// --- Subcommands -------------------------------------------------------------

// runSetup launches the interactive setup wizard.
func runSetup() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := openStateDB()
	if err != nil {
		return err
	}
	defer store.Close()

	cfgPath, err := config.DefaultPath()
	if err != nil {
		return err
	}

	wiz := setup.NewWizard(os.Stdin, os.Stdout, store)
	_, err = wiz.Run(ctx, cfgPath)
	return err
}

// runSync handles both "daemon" and "sync-once" subcommands.
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return startSync(*cfgPath, *verbose, daemon)
}

// runLogin stores API tokens in the state DB. Tokens can be passed as
// arguments or entered on stdin.
func runLogin(args []string) error {
	var access, refresh string
	switch len(args) {
	case 0:
		reader := bufio.NewReader(os.Stdin)
		fmt.Fprint(os.Stderr, "Access token: ")
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading token: %w", err)
		}
		access = strings.TrimSpace(line)
		fmt.Fprint(os.Stderr, "Refresh token (optional): ")
		line, _ = reader.ReadString('\n')
		refresh = strings.TrimSpace(line)
	case 1:
		access = args[0]
	case 2:
		access, refresh = args[0], args[1]
	default:
		return fmt.Errorf("usage: raindroprelay login [<access> [<refresh>]]")
	}
	if access == "" {
		return fmt.Errorf("no access token given")
	}

	store, err := openStateDB()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetTokens(context.Background(), access, refresh); err != nil {
		return fmt.Errorf("storing tokens: %w", err)
	}
	fmt.Println("Tokens stored.")
	return nil
}

// runStatus prints the current daemon and configuration state.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()
	dbPath, _ := config.DefaultStatePath()

	fmt.Println("RaindropRelay Status")
	fmt.Println("────────────────────")

	if setup.IsDaemonActive() {
		fmt.Println("  Daemon:       running (systemd)")
	} else {
		fmt.Println("  Daemon:       not running")
	}

	if _, err := os.Stat(cfgPath); err == nil {
		if cfg, loadErr := config.Load(cfgPath); loadErr == nil {
			fmt.Printf("  Config:       %s ✓\n", cfgPath)
			fmt.Printf("  Mode:         %s\n", cfg.Mode)
			fmt.Printf("  Bookmarks:    %s\n", cfg.BookmarksFile)
			fmt.Printf("  Poll:         %s\n", cfg.PollInterval)
		} else {
			fmt.Printf("  Config:       %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:       not found (%s)\n", cfgPath)
	}

	if info, err := os.Stat(dbPath); err == nil {
		fmt.Printf("  State DB:     %s (%s)\n", dbPath, humanSize(info.Size()))
		if store, openErr := state.Open(dbPath); openErr == nil {
			ctx := context.Background()
			if items, folders, cErr := store.MappingCounts(ctx); cErr == nil {
				fmt.Printf("  Mappings:     %d bookmark(s), %d folder(s)\n", items, folders)
			}
			if last, lErr := store.LastSync(ctx); lErr == nil && !last.IsZero() {
				fmt.Printf("  Last sync:    %s\n", last.Local().Format(time.RFC1123))
			} else {
				fmt.Println("  Last sync:    never")
			}
			_ = store.Close()
		}
	} else {
		fmt.Println("  State DB:     not found")
	}

	return nil
}

// runUninstall stops the daemon and removes installed files.
func runUninstall(args []string) error {
	fs := flag.NewFlagSet("uninstall", flag.ExitOnError)
	purge := fs.Bool("purge", false, "also remove config and state DB")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("Uninstalling RaindropRelay...")

	fmt.Println("  Stopping service...")
	if err := setup.UninstallDaemon(); err != nil {
		fmt.Printf("  ⚠ %v\n", err)
	} else {
		fmt.Println("  ✓ Service removed")
	}

	fmt.Println("  Removing binary...")
	if err := setup.RemoveBinary(); err != nil {
		fmt.Printf("  ⚠ %v\n", err)
	} else {
		fmt.Println("  ✓ Binary removed")
	}

	if *purge {
		fmt.Println("  Purging config and state DB...")
		if err := setup.PurgeUserData(); err != nil {
			fmt.Printf("  ⚠ %v\n", err)
		} else {
			fmt.Println("  ✓ User data purged")
		}
	} else {
		fmt.Println("")
		fmt.Println("  Config and state DB preserved.")
		fmt.Println("  Run with --purge to also remove them:")
		fmt.Println("    raindroprelay uninstall --purge")
	}

	fmt.Println("")
	fmt.Println("✓ RaindropRelay uninstalled.")
	return nil
}

// --- Sync core (shared by daemon and sync-once) ------------------------------

func startSync(cfgPath string, verbose, daemon bool) error {
	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}

	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	var logWriter io.Writer = os.Stderr
	if daemon && cfg.LogFile != "" {
		logWriter = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("config loaded",
		"mode", cfg.Mode,
		"include", cfg.Include,
		"bookmarks_file", cfg.BookmarksFile,
		"poll_interval", cfg.PollInterval,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- State DB ------------------------------------------------------------

	store, err := openStateDB()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("closing state DB", "error", closeErr)
		}
	}()

	// --- Bookmarks file ------------------------------------------------------

	nodes, err := bookmarks.Open(cfg.BookmarksFile, logger)
	if err != nil {
		return fmt.Errorf("opening bookmarks file %q: %w", cfg.BookmarksFile, err)
	}
	logger.Info("bookmarks file loaded", "path", cfg.BookmarksFile)

	// --- Raindrop client -----------------------------------------------------

	client := raindrop.NewClient(cfg.RaindropURL, cfg.RequestsPerMinute, store, cfg.ClientID, cfg.ClientSecret, logger)

	// --- Sync engine ---------------------------------------------------------

	engine := syncp.NewEngine(client, nodes, store, syncp.Settings{
		Mode: cfg.Mode,
		Policy: syncp.InclusionPolicy{
			Include:     cfg.Include,
			SelectedIDs: cfg.SelectedCollections,
		},
		CollectionsSort: cfg.CollectionsSort,
		BookmarksSort:   cfg.BookmarksSort,
		TargetFolderID:  cfg.TargetFolderID,
		UseSubfolder:    cfg.UseSubfolder,
		SubfolderName:   cfg.SubfolderName,
	}, cfg.PollInterval, nodes.Path(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Dispatch mode -------------------------------------------------------

	if !daemon {
		logger.Info("running single sync pass")
		stats, err := engine.SyncOnce(ctx)
		if errors.Is(err, raindrop.ErrAuthRequired) {
			return fmt.Errorf("not logged in — run 'raindroprelay login' or 'raindroprelay setup' first")
		}
		logger.Info("sync complete",
			"created_local", stats.CreatedLocal,
			"created_remote", stats.CreatedRemote,
			"updated", stats.Updated,
			"deleted", stats.Deleted,
			"errors", stats.Errors,
		)
		return err
	}

	logger.Info("daemon starting", "poll_interval", cfg.PollInterval)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func openStateDB() (*state.Store, error) {
	dbPath, err := config.DefaultStatePath()
	if err != nil {
		return nil, fmt.Errorf("resolving state DB path: %w", err)
	}
	store, err := state.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	return store, nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
