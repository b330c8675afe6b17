package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/briangreenhill/baydirectory/cache"
	"github.com/briangreenhill/baydirectory/internal/cachestore"
	"github.com/briangreenhill/baydirectory/internal/config"
	"github.com/briangreenhill/baydirectory/internal/httpclient"
	"github.com/briangreenhill/baydirectory/pkg/directory"
	"github.com/briangreenhill/baydirectory/pkg/translate"
)

const version = "0.1.0"

func main() {
	if err := runCLI(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCLI(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// app is what every subcommand works against. It is built once the flags
// are parsed.
type app struct {
	client       *directory.Client
	translator   *translate.Translator
	translations *cache.TTLCache[[]string]
	store        *cachestore.Store
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

type rootFlags struct {
	apiURL   string
	cacheDir string
	noCache  bool
	verbose  bool
}

func newApp(ctx context.Context, f rootFlags, stderr io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if f.apiURL != "" {
		cfg.APIBaseURL = f.apiURL
	}
	if f.cacheDir != "" {
		cfg.Cache.Dir = f.cacheDir
	}
	// Each invocation is a fresh process, so an in-memory cache would never
	// be hit. Persist to disk unless another backend was chosen.
	if cfg.Cache.Backend == config.BackendMemory {
		cfg.Cache.Backend = config.BackendFile
	}
	if f.noCache {
		cfg.Cache.Backend = config.BackendMemory
	}

	level := zerolog.WarnLevel
	if f.verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	store, err := cachestore.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := cfg.CacheOptions()
	opts.Storage = store.Storage
	opts.Logger = &logger
	responses := cache.New[directory.CachedResponse](opts)

	topts := cfg.CacheOptions()
	topts.Storage = store.Storage
	topts.Namespace = cfg.Cache.Namespace + "-tr"
	topts.TTL = cfg.Cache.TranslationTTL
	topts.Logger = &logger
	translations := cache.New[[]string](topts)

	client, err := directory.New(cfg.APIBaseURL,
		directory.WithHTTPClient(httpclient.New(cfg.APITimeout, cfg.APIToken)),
		directory.WithCache(responses),
		directory.WithFreshness(cfg.Cache.Freshness),
		directory.WithHeader("User-Agent", "baydir-cli/"+version),
		directory.WithLogger(logger),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{
		client:       client,
		translator:   translate.New(client, translate.WithCache(translations), translate.WithTTL(cfg.Cache.TranslationTTL), translate.WithLogger(logger)),
		translations: translations,
		store:        store,
	}, nil
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	var (
		flags rootFlags
		a     *app
	)
	root := &cobra.Command{
		Use:           "baydir",
		Short:         "Browse the Bay Area benefits directory",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			a, err = newApp(cmd.Context(), flags, stderr)
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a == nil {
				return nil
			}
			return a.Close()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.apiURL, "api-url", "", "directory API base URL (default $BAYDIR_API_URL)")
	pf.StringVar(&flags.cacheDir, "cache-dir", "", "response cache directory (default ~/.baydir_cache)")
	pf.BoolVar(&flags.noCache, "no-cache", false, "do not read or write the on-disk cache")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log requests and cache activity to stderr")

	get := func() *app { return a }
	root.AddCommand(
		newProgramsCmd(get),
		newProgramCmd(get),
		newCategoriesCmd(get),
		newAreasCmd(get),
		newStatsCmd(get),
		newTranslateCmd(get),
		newCacheCmd(get),
	)
	return root
}
