package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hirewire/inboxsync/internal/api"
	"github.com/hirewire/inboxsync/internal/config"
	"github.com/hirewire/inboxsync/internal/db"
	"github.com/hirewire/inboxsync/internal/settings"
	"github.com/hirewire/inboxsync/internal/syncer"
	"github.com/hirewire/inboxsync/internal/thread"
	"github.com/hirewire/inboxsync/internal/version"
	"github.com/hirewire/inboxsync/pkg/auth"
)

func main() {
	configPathFlag := flag.String("config", "", "Path to YAML configuration file (default: ~/.config/inboxsync/config.yaml)")
	connectFlag := flag.String("connect", "", "Link a mail provider (gmail, outlook) via OAuth and exit")
	disconnectFlag := flag.String("disconnect", "", "Unlink the given provider ID and exit")
	watchFlag := flag.String("watch", "", "Watch the given provider ID for mailbox changes")
	versionFlag := flag.Bool("version", false, "Show version information and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.GetVersionString())
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s                        # List linked providers and unified stats\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --connect gmail        # Link a Gmail account via OAuth\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --watch acct-1         # Follow mailbox changes for a provider\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --config custom.yaml   # Use custom configuration\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  INBOXSYNC_CONFIG  Override default config file path\n")
		fmt.Fprintf(os.Stderr, "  INBOXSYNC_TOKEN   Override the backend auth token\n")
	}

	flag.Parse()

	if *versionFlag {
		fmt.Println(version.GetDetailedVersionString())
		return
	}

	cfg, err := config.LoadConfig(getConfigPath(*configPathFlag))
	if err != nil {
		log.Printf("Warning: could not load configuration: %v", err)
		cfg = config.DefaultConfig()
	}
	if token := os.Getenv("INBOXSYNC_TOKEN"); token != "" {
		cfg.Backend.AuthToken = token
	}

	logger := newLogger(cfg.LogFile)
	client := api.NewClient(cfg.Backend.BaseURL, cfg.Backend.AuthToken)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *connectFlag != "":
		if err := runConnect(ctx, client, cfg, logger, *connectFlag); err != nil {
			log.Fatalf("Could not link provider: %v", err)
		}
	case *disconnectFlag != "":
		if err := runDisconnect(ctx, client, cfg, *disconnectFlag); err != nil {
			log.Fatalf("Could not unlink provider: %v", err)
		}
	case *watchFlag != "":
		if err := runWatch(ctx, client, cfg, logger, *watchFlag); err != nil {
			log.Fatalf("Watch failed: %v", err)
		}
	default:
		if err := runOverview(ctx, client, cfg); err != nil {
			log.Fatalf("Could not fetch overview: %v", err)
		}
	}
}

// runOverview lists linked providers with their cached connection status
// plus the unified counters.
func runOverview(ctx context.Context, client *api.Client, cfg *config.Config) error {
	cache, closeStore := newStatusCache(ctx, client, cfg)
	defer closeStore()

	providers, err := client.ListProviders(ctx)
	if err != nil {
		return err
	}
	if len(providers) == 0 {
		fmt.Println("No providers linked. Run with --connect gmail to add one.")
		return nil
	}

	for _, p := range providers {
		st, err := cache.Get(ctx, p.ID)
		if err != nil {
			// Backend unreachable: fall back to a recent persisted status
			st, _ = cache.Seed(p.ID)
		}
		state := "disconnected"
		if st.Connected {
			state = "connected"
		}
		expired := ""
		if p.IsExpired {
			expired = " (credentials expired, reconnect required)"
		}
		fmt.Printf("%-12s %-28s %s%s\n", p.Kind, p.Email, state, expired)
	}

	if stats, err := client.UnifiedStats(ctx); err == nil {
		fmt.Printf("\n%d messages, %d unread, %d sent\n", stats.Total, stats.Unread, stats.Sent)
	}
	return nil
}

// runConnect drives one OAuth handshake to its terminal outcome.
func runConnect(ctx context.Context, client *api.Client, cfg *config.Config, logger *log.Logger, providerKind string) error {
	listener, err := auth.NewListener(cfg.OAuth.CallbackAddr, logger)
	if err != nil {
		return fmt.Errorf("failed to start callback listener: %w", err)
	}
	defer func() { _ = listener.Close(context.Background()) }()

	session, err := auth.Start(ctx, client, listener, providerKind, auth.Options{
		PollInterval: cfg.GetOAuthPollInterval(),
		GraceDelay:   cfg.GetOAuthGraceDelay(),
		Timeout:      cfg.GetOAuthTimeout(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	result, err := session.Wait(ctx)
	if err != nil {
		return err
	}
	switch result.Outcome {
	case auth.OutcomeSuccess:
		fmt.Printf("Linked %s account %s\n", providerKind, result.Email)
		// The old cached status is stale now. The cache is keyed by
		// provider ID, so look the linked account up first.
		if id, err := findProviderID(ctx, client, providerKind, result.Email); err != nil {
			logger.Printf("could not resolve linked provider: %v", err)
		} else {
			cache, closeStore := newStatusCache(ctx, client, cfg)
			defer closeStore()
			cache.Invalidate(id)
		}
		return nil
	case auth.OutcomeTimeout:
		return result.Err
	case auth.OutcomeAborted:
		return result.Err
	default:
		return result.Err
	}
}

// findProviderID resolves the linked account to its provider ID.
func findProviderID(ctx context.Context, client *api.Client, kind, email string) (string, error) {
	providers, err := client.ListProviders(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list providers: %w", err)
	}
	for _, p := range providers {
		if p.Kind == kind && p.Email == email {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("no %s provider for %s", kind, email)
}

func runDisconnect(ctx context.Context, client *api.Client, cfg *config.Config, providerID string) error {
	if err := client.DisconnectProvider(ctx, providerID); err != nil {
		return err
	}
	cache, closeStore := newStatusCache(ctx, client, cfg)
	defer closeStore()
	cache.Invalidate(providerID)
	fmt.Printf("Unlinked provider %s\n", providerID)
	return nil
}

// runWatch subscribes to a mailbox and refetches whatever the sync engine
// marks stale, printing a conversation summary after each refresh.
func runWatch(ctx context.Context, client *api.Client, cfg *config.Config, logger *log.Logger, providerID string) error {
	engine := syncer.NewEngine(syncer.Options{
		StreamURL:    cfg.StreamURL(),
		PollInterval: cfg.GetPollInterval(),
		Notifier:     consoleNotifier{},
		Logger:       logger,
	})
	defer engine.Close()

	refetch := make(chan syncer.View, 16)
	cancel := engine.Views().Watch(func(v syncer.View) {
		select {
		case refetch <- v:
		default:
		}
	})
	defer cancel()

	engine.SelectMailbox(providerID, cfg.Backend.AuthToken)
	fmt.Printf("Watching mailbox %s (Ctrl-C to stop)\n", providerID)

	// First paint
	if err := printMailbox(ctx, client, providerID); err != nil {
		logger.Printf("initial fetch failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-refetch:
			engine.Views().MarkFresh(v)
			if v != syncer.MessagesView(providerID) {
				continue
			}
			if err := printMailbox(ctx, client, providerID); err != nil {
				logger.Printf("refetch failed: %v", err)
			}
		}
	}
}

func printMailbox(ctx context.Context, client *api.Client, providerID string) error {
	page, err := client.Messages(ctx, providerID, api.MessageQueryOptions{MaxResults: 50})
	if err != nil {
		return err
	}
	grouped := thread.Group(page.Messages)

	fmt.Printf("\n-- %d messages, %d conversations, %d standalone --\n",
		len(page.Messages), len(grouped.Threads), len(grouped.Standalone))
	for _, th := range grouped.Threads {
		latest := th.LatestMessage
		fmt.Printf("  [%d] %s — %s\n", th.Count, latest.From, latest.Subject)
	}
	for _, m := range grouped.Standalone {
		fmt.Printf("  [1] %s — %s\n", m.From, m.Subject)
	}
	return nil
}

// newStatusCache builds the connection-status cache backed by the local
// sqlite store. A store failure just disables the persisted layer.
func newStatusCache(ctx context.Context, client *api.Client, cfg *config.Config) (*settings.Cache, func()) {
	fetch := func(ctx context.Context, key string) (settings.Status, error) {
		p, err := client.ConnectionStatus(ctx, key)
		if err != nil {
			return settings.Status{}, err
		}
		return settings.Status{Connected: p.IsConnected, Email: p.Email}, nil
	}

	store, err := db.Open(ctx, cfg.Cache.DBPath)
	if err != nil {
		log.Printf("Warning: could not open status store: %v", err)
		return settings.NewCache(fetch, settings.Options{SeedMaxAge: cfg.GetSeedMaxAge()}), func() {}
	}
	cache := settings.NewCache(fetch, settings.Options{
		Store:      db.NewStatusStore(store),
		SeedMaxAge: cfg.GetSeedMaxAge(),
	})
	return cache, func() { _ = store.Close() }
}

type consoleNotifier struct{}

func (consoleNotifier) NotifyProviderExpired(providerID, reason string) {
	fmt.Printf("\n!! Provider %s needs to be reconnected: %s\n", providerID, reason)
}

func newLogger(logFile string) *log.Logger {
	if logFile == "" {
		logFile = filepath.Join(config.DefaultLogDir(), "inboxsync.log")
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err == nil {
		if f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
			return log.New(f, "", log.LstdFlags)
		}
	}
	return log.New(io.Discard, "", 0)
}

// getConfigPath returns the configuration file path using the following priority:
// 1. CLI flag
// 2. Environment variable INBOXSYNC_CONFIG
// 3. Default path ~/.config/inboxsync/config.yaml
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if envPath := os.Getenv("INBOXSYNC_CONFIG"); envPath != "" {
		return expandPath(envPath)
	}

	return config.DefaultConfigPath()
}

// expandPath expands ~ to the user's home directory
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return home
	}

	return filepath.Join(home, path[2:])
}
