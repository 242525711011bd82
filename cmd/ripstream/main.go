// ripstream downloads media from streaming providers with durable dedup,
// per-provider rate limits and atomic file placement.
//
// Usage:
//
//	ripstream [-config path] url <link>...
//	ripstream [-config path] search <provider> <query>
//	ripstream [-config path] repair
//	ripstream [-config path] config <show|path|set-token provider token>
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/ripstream/ripstream/internal/config"
	"github.com/ripstream/ripstream/internal/download"
	apperrors "github.com/ripstream/ripstream/internal/errors"
	"github.com/ripstream/ripstream/internal/monitoring"
	"github.com/ripstream/ripstream/internal/postprocess"
	"github.com/ripstream/ripstream/internal/progress"
	"github.com/ripstream/ripstream/internal/provider"
	"github.com/ripstream/ripstream/internal/ratelimit"
	"github.com/ripstream/ripstream/internal/security"
	"github.com/ripstream/ripstream/internal/store"
)

// encPrefix marks config tokens that are encrypted at rest.
const encPrefix = "enc:"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("ripstream", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path (default: XDG config dir)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		usage()
		return 2
	}

	// config subcommands run without the full pipeline.
	if rest[0] == "config" {
		if err := runConfig(*configPath, rest[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "ripstream: %v\n", err)
			return 1
		}
		return 0
	}

	app, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ripstream: %v\n", err)
		return 1
	}
	defer app.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var summary download.BatchSummary
	switch rest[0] {
	case "url":
		summary, err = app.downloadURLs(ctx, rest[1:])
	case "search":
		summary, err = app.searchAndDownload(ctx, rest[1:])
	case "repair":
		summary, err = app.orch.Repair(ctx)
	default:
		usage()
		return 2
	}
	if err != nil {
		app.logger.Error("command failed", zap.String("command", rest[0]), zap.Error(err))
		fmt.Fprintf(os.Stderr, "ripstream: %v\n", err)
		return 1
	}

	app.bus.Close()
	printSummary(summary)
	if summary.AuthFailed {
		fmt.Fprintln(os.Stderr, "ripstream: some downloads failed to authenticate; check your provider tokens")
	}
	if summary.Failed > 0 {
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: ripstream [-config path] <command>

commands:
  url <link>...                      download items by direct link
  search <provider> <query>          search a provider and download matches
  repair                             retry every download in the failed ledger
  config show                        print the active configuration
  config path                        print the config file path
  config set-token <provider> <tok>  store an encrypted provider token
`)
}

// app holds the wired pipeline for one invocation.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *sql.DB
	bus       *progress.Bus
	orch      *download.Orchestrator
	resolvers map[provider.Source]provider.Resolver
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := monitoring.NewLogger(&monitoring.LogConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, err
	}

	db, err := store.InitDB(cfg.Database.Path)
	if err != nil {
		logger.Sync()
		return nil, err
	}
	ledger := store.NewLedger(db, cfg.Database.CompletedEnabled, cfg.Database.FailedEnabled)

	bus := progress.NewBus(consoleSink{}, logger)

	registry := provider.NewRegistry()
	encryptor := security.NewTokenEncryptor(config.DataDir())
	for name, pcfg := range cfg.Providers() {
		source, err := provider.ParseSource(name)
		if err != nil {
			continue
		}
		token, err := resolveToken(encryptor, pcfg.Token)
		if err != nil {
			logger.Warn("could not decrypt provider token", zap.String("provider", name), zap.Error(err))
			continue
		}
		if token == "" {
			continue
		}
		registry.Register(source, provider.NewHTTPFetcher(provider.HTTPFetcherConfig{
			Source:    source,
			AuthToken: token,
			BuildURL:  directURL,
		}))
	}
	// The generic fetcher serves direct links without credentials.
	registry.Register(provider.Generic, provider.NewHTTPFetcher(provider.HTTPFetcherConfig{
		Source:   provider.Generic,
		BuildURL: directURL,
	}))

	retry := apperrors.DefaultRetryConfig()
	retry.MaxRetries = cfg.Downloads.MaxRetries

	pool, err := download.NewPool(download.PoolConfig{
		Concurrency: cfg.Downloads.Concurrency,
		DownloadDir: cfg.Downloads.Folder,
		Force:       cfg.Downloads.Force,
		Registry:    registry,
		Gate:        ratelimit.NewGate(cfg.RateLimits()),
		Ledger:      ledger,
		Bus:         bus,
		Processor:   postprocess.NewTagger(cfg.Artwork, postprocess.HTTPArtworkFetcher(nil)),
		Retry:       retry,
		Logger:      logger,
	})
	if err != nil {
		db.Close()
		logger.Sync()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		bus:       bus,
		orch:      download.NewOrchestrator(pool, ledger, bus, logger),
		resolvers: map[provider.Source]provider.Resolver{},
	}, nil
}

func (a *app) close() {
	a.bus.Close()
	a.db.Close()
	a.logger.Sync()
}

// downloadURLs treats each link as one item served by the generic fetcher.
// Provider-specific links would come in through a Resolver; direct media
// links need none.
func (a *app) downloadURLs(ctx context.Context, links []string) (download.BatchSummary, error) {
	if len(links) == 0 {
		return download.BatchSummary{}, fmt.Errorf("url: at least one link required")
	}

	var items []provider.Item
	for _, link := range links {
		if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
			return download.BatchSummary{}, fmt.Errorf("url: not a link: %q", link)
		}
		if resolved, ok := a.resolve(ctx, link); ok {
			items = append(items, resolved...)
			continue
		}
		items = append(items, provider.Item{
			Provider: provider.Generic,
			ID:       link,
			Kind:     provider.KindAudio,
			Title:    linkTitle(link),
			Quality:  "mp3",
		})
	}
	return a.orch.Download(ctx, items)
}

// resolve expands a link through a registered resolver when one claims it.
func (a *app) resolve(ctx context.Context, link string) ([]provider.Item, bool) {
	for source, resolver := range a.resolvers {
		items, err := resolver.ResolveURL(ctx, link)
		if err != nil {
			a.logger.Debug("resolver declined link",
				zap.String("provider", string(source)),
				zap.String("link", link),
				zap.Error(err),
			)
			continue
		}
		if len(items) > 0 {
			return items, true
		}
	}
	return nil, false
}

func (a *app) searchAndDownload(ctx context.Context, args []string) (download.BatchSummary, error) {
	if len(args) < 2 {
		return download.BatchSummary{}, fmt.Errorf("search: usage: search <provider> <query>")
	}
	source, err := provider.ParseSource(args[0])
	if err != nil {
		return download.BatchSummary{}, err
	}
	resolver, ok := a.resolvers[source]
	if !ok {
		return download.BatchSummary{}, fmt.Errorf("search: provider %s has no search integration configured", source)
	}

	items, err := resolver.Search(ctx, strings.Join(args[1:], " "), 25)
	if err != nil {
		return download.BatchSummary{}, err
	}
	if len(items) == 0 {
		return download.BatchSummary{}, fmt.Errorf("search: no results for %q", strings.Join(args[1:], " "))
	}
	return a.orch.Download(ctx, items)
}

func runConfig(configPath string, args []string) error {
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	if len(args) == 0 {
		return fmt.Errorf("config: usage: config <show|path|set-token>")
	}

	switch args[0] {
	case "path":
		fmt.Println(configPath)
		return nil

	case "show":
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Printf("downloads.folder       %s\n", cfg.Downloads.Folder)
		fmt.Printf("downloads.concurrency  %d\n", cfg.Downloads.Concurrency)
		fmt.Printf("database.path          %s\n", cfg.Database.Path)
		for name, p := range cfg.Providers() {
			state := "no token"
			if p.Token != "" {
				state = "token set"
			}
			fmt.Printf("%-22s quality=%s rpm=%d (%s)\n", name, p.Quality, p.RequestsPerMinute, state)
		}
		return nil

	case "set-token":
		if len(args) != 3 {
			return fmt.Errorf("config: usage: config set-token <provider> <token>")
		}
		if _, err := provider.ParseSource(args[1]); err != nil {
			return err
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		encryptor := security.NewTokenEncryptor(config.DataDir())
		encrypted, err := encryptor.EncryptToken(args[2])
		if err != nil {
			return fmt.Errorf("config: encrypt token: %w", err)
		}

		stored := encPrefix + encrypted
		switch args[1] {
		case "qobuz":
			cfg.Qobuz.Token = stored
		case "tidal":
			cfg.Tidal.Token = stored
		case "deezer":
			cfg.Deezer.Token = stored
		case "soundcloud":
			cfg.SoundCloud.Token = stored
		}
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Printf("stored encrypted token for %s\n", args[1])
		return nil

	default:
		return fmt.Errorf("config: unknown subcommand %q", args[0])
	}
}

// resolveToken decrypts tokens stored with the enc: prefix; plaintext tokens
// pass through for hand-edited configs.
func resolveToken(encryptor *security.TokenEncryptor, token string) (string, error) {
	if !strings.HasPrefix(token, encPrefix) {
		return token, nil
	}
	return encryptor.DecryptToken(strings.TrimPrefix(token, encPrefix))
}

// directURL serves items whose ID is already a media URL.
func directURL(itemID, quality string) (string, error) {
	return itemID, nil
}

// linkTitle derives a display name from the last path segment of a link.
func linkTitle(link string) string {
	trimmed := strings.TrimRight(link, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && i < len(trimmed)-1 {
		return trimmed[i+1:]
	}
	return trimmed
}

// consoleSink renders progress events as plain lines on stdout.
type consoleSink struct{}

func (consoleSink) Consume(events []progress.Event) {
	for _, e := range events {
		switch e.Type {
		case progress.EventStarted:
			fmt.Printf("  start  %s\n", e.Label)
		case progress.EventProgress:
			if e.Total > 0 {
				fmt.Printf("  %5.1f%%  %s (%.0f KiB/s)\n",
					100*float64(e.Bytes)/float64(e.Total), e.TaskID, e.Rate/1024)
			} else {
				fmt.Printf("  %6d KiB  %s\n", e.Bytes/1024, e.TaskID)
			}
		case progress.EventFinished:
			fmt.Printf("  %-6s %s\n", e.Status, e.TaskID)
		}
	}
}

func printSummary(s download.BatchSummary) {
	fmt.Printf("completed %d, skipped %d, failed %d\n", s.Completed, s.Skipped, s.Failed)
}
