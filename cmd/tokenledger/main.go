// Command tokenledger attaches to a chat host and maintains the token usage
// ledger.
//
// Subcommands:
//
//	tokenledger [run] [-c config.yaml] [-d]   attach and meter (default)
//	tokenledger export [-c config.yaml] [-o file]
//	tokenledger import [-c config.yaml] [--replace] <file>
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/tokenledger/token-ledger/internal/clock"
	"github.com/tokenledger/token-ledger/internal/config"
	"github.com/tokenledger/token-ledger/internal/host"
	"github.com/tokenledger/token-ledger/internal/pricing"
	"github.com/tokenledger/token-ledger/internal/settings"
	"github.com/tokenledger/token-ledger/internal/statsapi"
	"github.com/tokenledger/token-ledger/internal/tokenizer"
	"github.com/tokenledger/token-ledger/internal/tracker"
	"github.com/tokenledger/token-ledger/internal/transfer"
	"github.com/tokenledger/token-ledger/internal/usage"
)

func main() {
	_ = godotenv.Load()

	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "export":
			runExport(args[1:])
			return
		case "import":
			runImport(args[1:])
			return
		case "run":
			args = args[1:]
		case "-h", "--help", "help":
			printHelp()
			return
		}
	}
	runDaemon(args)
}

func printHelp() {
	fmt.Println(`tokenledger - token usage ledger for a chat host

Usage:
  tokenledger [run] [-c config.yaml] [-d]
  tokenledger export [-c config.yaml] [-o file]
  tokenledger import [-c config.yaml] [--replace] <file>

Flags:
  -c, --config   Path to YAML config (optional; defaults apply)
  -d, --debug    Debug logging
  -o, --output   Export destination (default: stdout)
      --replace  Import with replace-on-conflict instead of additive merge`)
}

// core bundles the wired persistence and ledger components shared by every
// subcommand.
type core struct {
	cfg    *config.Config
	blob   *settings.Blob
	clk    *clock.TimeSource
	store  *usage.Store
	prices *pricing.Resolver
}

// openCore loads config and settings and restores the persisted state.
func openCore(cfgPath string) (*core, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	var backend settings.Backend
	if cfg.Settings.Path != "" {
		backend, err = settings.OpenSQLite(cfg.Settings.Path)
		if err != nil {
			return nil, err
		}
	} else {
		backend = settings.NewMemoryBackend()
	}
	blob, err := settings.Open(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	clk := clock.New(cfg.Clock.ReferenceURL, cfg.Clock.ResyncInterval)

	store := usage.NewStore(clk)
	if raw := blob.Get(settings.SectionUsage); raw.Exists() {
		var st usage.State
		if err := json.Unmarshal([]byte(raw.Raw), &st); err != nil {
			log.Warn().Err(err).Msg("persisted usage state unreadable, starting empty")
		} else {
			store.Restore(st)
		}
	}

	fetcher := pricing.NewFetcher(cfg.Catalog.URL)
	prices := pricing.NewResolver(cfg.Catalog.Provider, cfg.Catalog.MaxAge, fetcher, clk)
	if raw := blob.Get(settings.SectionModelPrices); raw.Exists() {
		var overrides map[string]pricing.Price
		if err := json.Unmarshal([]byte(raw.Raw), &overrides); err == nil {
			prices.MergeOverrides(overrides)
		}
	}
	if raw := blob.Get(settings.SectionCatalogCache); raw.Exists() {
		var cache pricing.CatalogCache
		if err := json.Unmarshal([]byte(raw.Raw), &cache); err == nil {
			prices.RestoreCache(cache)
		}
	}

	return &core{cfg: cfg, blob: blob, clk: clk, store: store, prices: prices}, nil
}

// blobPersister writes the ledger into the settings blob after every
// mutation.
type blobPersister struct {
	blob *settings.Blob
}

func (p blobPersister) SaveUsage(st usage.State) error {
	return p.blob.Set(settings.SectionUsage, st)
}

func setupLogging(level string, debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// flagValue returns the value following a flag, exiting on a missing one.
func flagValue(args []string, i int, name string) string {
	if i+1 >= len(args) {
		fmt.Fprintf(os.Stderr, "Error: %s requires a value\n", name)
		os.Exit(1)
	}
	return args[i+1]
}

func runDaemon(args []string) {
	var cfgPath string
	var debug bool
	i := 0
	for i < len(args) {
		switch args[i] {
		case "-c", "--config":
			cfgPath = flagValue(args, i, "--config")
			i += 2
		case "-d", "--debug":
			debug = true
			i++
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown flag %q\n", args[i])
			os.Exit(1)
		}
	}

	c, err := openCore(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer c.blob.Close()
	setupLogging(c.cfg.Logging.Level, debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.clk.Start(ctx)
	c.store.SetPersister(blobPersister{blob: c.blob})

	counter := tokenizer.New(tokenizer.DefaultEncoding)
	chat := host.NewClient(c.cfg.Host.APIURL)
	trk := tracker.New(c.store, counter, chat)

	if c.cfg.Stats.Enabled {
		if err := statsapi.New(c.store, c.prices, c.cfg.Stats.Addr).Start(ctx); err != nil {
			log.Error().Err(err).Msg("stats endpoint failed to start")
		}
	}

	go catalogLoop(ctx, c, chat)

	bridge := host.NewBridge(c.cfg.Host.URL, trk, config.DefaultReconnectBackoff, config.MaxReconnectBackoff)
	if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("bridge stopped")
		os.Exit(1)
	}
	log.Info().Msg("shutting down")
}

// catalogLoop periodically offers the resolver a refresh opportunity and
// persists the cache when a fetch actually happened.
func catalogLoop(ctx context.Context, c *core, chat *host.Client) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		before := c.prices.Health().LastFetched
		c.prices.MaybeRefreshCatalog(ctx, chat.CurrentSourceID())
		after := c.prices.Health().LastFetched
		if after != nil && (before == nil || !after.Equal(*before)) {
			if err := c.blob.Set(settings.SectionCatalogCache, c.prices.Cache()); err != nil {
				log.Error().Err(err).Msg("persist catalog cache failed")
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runExport(args []string) {
	var cfgPath, outPath string
	i := 0
	for i < len(args) {
		switch args[i] {
		case "-c", "--config":
			cfgPath = flagValue(args, i, "--config")
			i += 2
		case "-o", "--output":
			outPath = flagValue(args, i, "--output")
			i += 2
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown flag %q\n", args[i])
			os.Exit(1)
		}
	}

	c, err := openCore(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer c.blob.Close()
	setupLogging("warn", false)

	merger := transfer.NewMerger(c.store, c.prices, c.blob, c.clk)
	data, err := merger.Export()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if outPath == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported to %s\n", outPath)
}

func runImport(args []string) {
	var cfgPath, inPath string
	strategy := transfer.MergeAdd
	i := 0
	for i < len(args) {
		switch args[i] {
		case "-c", "--config":
			cfgPath = flagValue(args, i, "--config")
			i += 2
		case "--replace":
			strategy = transfer.MergeReplace
			i++
		default:
			inPath = args[i]
			i++
		}
	}
	if inPath == "" {
		fmt.Fprintln(os.Stderr, "Error: import requires a file argument")
		os.Exit(1)
	}

	payload, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	c, err := openCore(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer c.blob.Close()
	setupLogging("warn", false)
	c.store.SetPersister(blobPersister{blob: c.blob})

	merger := transfer.NewMerger(c.store, c.prices, c.blob, c.clk)
	if err := merger.Import(payload, strategy); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Imported %s\n", inPath)
}
