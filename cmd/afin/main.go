// Package main is the afin CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/altiplano/afin/internal/cli"
	"github.com/altiplano/afin/internal/config"
	"github.com/altiplano/afin/internal/embedding"
	"github.com/altiplano/afin/internal/indexer"
	"github.com/altiplano/afin/internal/models"
	"github.com/altiplano/afin/internal/search"
	"github.com/altiplano/afin/internal/server"
	"github.com/altiplano/afin/internal/storage"
	"github.com/altiplano/afin/internal/topics"
	"github.com/altiplano/afin/internal/vector"
	"github.com/altiplano/afin/internal/watcher"
	"github.com/altiplano/afin/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/afin/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "afin server" from the project dir uses the project's config (including debug).
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// A local .env supplies environment overrides during development.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "index":
		runIndex()
	case "topics":
		runTopics()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("afin version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	// Load in the background; the API answers 503 until the index is ready.
	loadCtx, loadCancel := context.WithCancel(context.Background())
	defer loadCancel()
	go func() {
		if err := components.Manager.Load(loadCtx); err != nil {
			logger.Error("index load failed", zap.Error(err))
		}
	}()

	var watchSvc *watcher.Watcher
	if cfg.Index.WatchOrDefault() {
		manager := components.Manager
		onReload := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			err := manager.Reload(ctx)
			if errors.Is(err, vector.ErrNotReady) {
				// Never became ready, or a previous load failed; a fresh
				// artifact swap is a chance to recover.
				err = manager.Load(ctx)
			}
			if err != nil {
				logger.Warn("reload after artifact change failed", zap.Error(err))
			}
		}
		watchOpts := []watcher.Option{}
		if cfg.Index.WatchDebounceMS > 0 {
			watchOpts = append(watchOpts,
				watcher.WithDebounce(time.Duration(cfg.Index.WatchDebounceMS)*time.Millisecond))
		}
		watchSvc = watcher.NewWatcher(cfg.Index.Dir, onReload, logger, watchOpts...)
		watchCtx, watchCancel := context.WithCancel(context.Background())
		defer watchCancel()
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
	}

	srv := server.NewServer(
		components.Engine,
		components.Manager,
		components.Resolver,
		components.Store,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	loadCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// printSearchUsage prints search subcommand usage and examples.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: afin search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Results are ranked by cosine similarity between the query and document embeddings.
  • Use -k to control how many results come back.
  • Use -same-topic to also list documents sharing the top hit's topic.
  • Use -abstract to include abstracts in the output.

Examples:
  afin search glacier mass balance
  afin search "glacier mass balance"            # same as above
  afin search -k 5 -same-topic quinoa genomics
  afin search -output json andes hydrology      # structured JSON for other apps
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting (e.g. "andes hydrology" vs andes hydrology).
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "afin search \"query\" -k 5"
// would otherwise leave -k unparsed.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// parseOutputFormat maps the -output flag value to a cli format.
func parseOutputFormat(s string) (cli.OutputFormat, error) {
	switch s {
	case "json":
		return cli.OutputJSON, nil
	case "text", "":
		return cli.OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func runSearch() {
	searchArgs := searchArgsReorder(os.Args[2:])

	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage when server is not running)")
	k := fs.Int("k", 0, "number of results (0 = server default)")
	sameTopic := fs.Bool("same-topic", false, "include same-topic siblings of the top hit")
	includeAbstract := fs.Bool("abstract", false, "include abstracts in results")
	outputFormat := fs.String("output", "text", "output format: text (human-readable) or json (parseable)")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgs)

	if fs.NArg() < 1 {
		printSearchUsage(fs)
		os.Exit(1)
	}
	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}

	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	query := &models.RecommendQuery{
		Text:            queryStr,
		K:               *k,
		SameTopic:       *sameTopic,
		IncludeAbstract: *includeAbstract,
	}

	if *serverURL != "" {
		// Use the HTTP API when the server is running so results come from
		// the live index.
		rec, err := recommendViaHTTP(*serverURL, query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteRecommendation(os.Stdout, rec, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Direct access (when the server is not running).
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	if err := components.Manager.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Index load failed: %v\n", err)
		os.Exit(1)
	}
	if query.K <= 0 {
		query.K = cfg.Search.DefaultK
	}
	rec, err := components.Engine.Recommend(ctx, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteRecommendation(os.Stdout, rec, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func recommendViaHTTP(serverURL string, query *models.RecommendQuery) (*models.Recommendation, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/recommend", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var rec models.Recommendation
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &rec, nil
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	rebuild := fs.Bool("rebuild", false, "re-encode the whole corpus and replace the index artifacts")
	batchSize := fs.Int("batch-size", 0, "encoder batch size (default from config)")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *batchSize > 0 {
		cfg.Indexer.BatchSize = *batchSize
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	if *rebuild {
		stats, err := components.Coordinator.Rebuild(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Rebuilt index: %d vectors from %d documents in %s\n",
			stats.Total, stats.Corpus, stats.Elapsed.Round(time.Millisecond))
		return
	}

	if err := components.Manager.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Index load failed: %v\n", err)
		os.Exit(1)
	}
	stats, err := components.Coordinator.Run(ctx)
	if err != nil {
		if errors.Is(err, vector.ErrCorruptIndexState) {
			fmt.Fprintf(os.Stderr, "Indexing halted: %v\n", err)
			fmt.Fprintln(os.Stderr, "Run `afin index -rebuild` to rebuild the index from the document store.")
		} else {
			fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Printf("Indexed %d new document(s); index holds %d vectors for a corpus of %d in %s\n",
		stats.Indexed, stats.Total, stats.Corpus, stats.Elapsed.Round(time.Millisecond))
}

func runTopics() {
	fs := flag.NewFlagSet("topics", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	limit := fs.Int("limit", 20, "number of topics to list")
	minClusterSize := fs.Int("min-cluster-size", 0, "minimum documents per topic (default from config)")
	minSamples := fs.Int("min-samples", 0, "core point neighborhood size (default from config)")
	epsilon := fs.Float64("epsilon", 0, "cosine distance neighborhood radius (default from config)")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *minClusterSize > 0 {
		cfg.Topics.MinClusterSize = *minClusterSize
	}
	if *minSamples > 0 {
		cfg.Topics.MinSamples = *minSamples
	}
	if *epsilon > 0 {
		cfg.Topics.Epsilon = *epsilon
	}
	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	if err := components.Manager.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Index load failed: %v\n", err)
		os.Exit(1)
	}

	engine, err := topics.NewEngine(components.Manager, components.Store, &cfg.Topics, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize clustering: %v\n", err)
		os.Exit(1)
	}

	run, err := engine.Run(ctx)
	if err != nil {
		// Too few vectors is an expected early-corpus condition, not a failure.
		if errors.Is(err, topics.ErrClusteringUnavailable) {
			fmt.Printf("Clustering skipped: %v\n", err)
			return
		}
		fmt.Fprintf(os.Stderr, "Clustering failed: %v\n", err)
		os.Exit(1)
	}
	if format == cli.OutputText {
		fmt.Printf("Clustered %d documents into %d topics (%d noise) in %s\n",
			run.Total, run.Clusters, run.Noise, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}

	labels, err := components.Store.TopTopics(ctx, components.Manager.Status().Model, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List topics failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteTopics(os.Stdout, labels, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := zap.NewNop()
	if cfg.Debug {
		if l, lerr := utils.NewLogger(true); lerr == nil {
			logger = l
			defer logger.Sync()
		}
	}

	// No rebuild source: status reads what is on disk and never re-encodes.
	// A failed load is reported as a failed state, not an exit code.
	opts := []vector.ManagerOption{}
	if cfg.Index.Model != "" {
		opts = append(opts, vector.WithModel(cfg.Index.Model))
	}
	manager := vector.NewManager(cfg.Index.Dir, logger, opts...)
	_ = manager.Load(context.Background())

	// Only probe the store when the database file exists; opening it would
	// create one.
	documents := -1
	if _, statErr := os.Stat(cfg.Storage.DatabasePath); statErr == nil {
		if store, storeErr := storage.NewSQLiteStore(cfg.Storage.DatabasePath); storeErr == nil {
			if n, countErr := store.CountDocuments(context.Background()); countErr == nil {
				documents = int(n)
			}
			_ = store.Close()
		}
	}

	if err := cli.WriteStatus(os.Stdout, manager.Status(), documents, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Store       storage.Store
	Encoder     embedding.Encoder
	Manager     *vector.Manager
	Resolver    *topics.Resolver
	Engine      *search.Engine
	Coordinator *indexer.Coordinator
}

func (c *Components) Close() {
	if c.Encoder != nil {
		_ = c.Encoder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

// activeModel returns the model identifier that partitions embeddings,
// cluster assignments, and labels. The config override exists for operators
// pointing at artifacts produced under a different encoder alias.
func activeModel(cfg *config.Config, encoder embedding.Encoder) string {
	if cfg.Index.Model != "" {
		return cfg.Index.Model
	}
	return encoder.ModelName()
}

func buildEncoder(cfg *config.Config) (embedding.Encoder, error) {
	switch cfg.Encoder.Kind {
	case "mock":
		return embedding.NewMockEncoder(cfg.Encoder.Dimensions), nil
	case "onnx":
		enc, err := embedding.NewONNXEncoder(
			cfg.Encoder.ModelPath,
			cfg.Encoder.Model,
			cfg.Encoder.Dimensions,
			cfg.Encoder.MaxTokens,
			cfg.Encoder.CacheSize,
		)
		if err != nil {
			return nil, fmt.Errorf("onnx encoder: %w", err)
		}
		return enc, nil
	case "remote", "":
		return embedding.NewRemoteEncoder(
			embedding.WithBaseURL(cfg.Encoder.BaseURL),
			embedding.WithModel(cfg.Encoder.Model),
			embedding.WithDimensions(cfg.Encoder.Dimensions),
			embedding.WithTimeout(time.Duration(cfg.Encoder.TimeoutSeconds)*time.Second),
			embedding.WithRateLimit(cfg.Encoder.RateLimit),
			embedding.WithCacheSize(cfg.Encoder.CacheSize),
		), nil
	default:
		return nil, fmt.Errorf("unknown encoder kind %q", cfg.Encoder.Kind)
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	encoder, err := buildEncoder(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	model := activeModel(cfg, encoder)
	manager := vector.NewManager(cfg.Index.Dir, logger,
		vector.WithModel(model),
		vector.WithDimensions(encoder.Dimensions()),
		vector.WithRebuildSource(store),
	)
	resolver := topics.NewResolver(store, model)
	engine := search.NewEngine(manager, encoder, store, resolver, &cfg.Search)
	coordinator := indexer.NewCoordinator(manager, encoder, store, &cfg.Indexer, logger)

	return &Components{
		Store:       store,
		Encoder:     encoder,
		Manager:     manager,
		Resolver:    resolver,
		Engine:      engine,
		Coordinator: coordinator,
	}, nil
}

func printUsage() {
	fmt.Println(`afin - document recommendations and topic discovery over a local vector index

Usage:
  afin server [flags]            Start the HTTP API server
  afin search [flags] <query>    Recommend documents for a query
  afin index [flags]             Encode new documents into the vector index
  afin topics [flags]            Cluster the index into topics and label them
  afin status [flags]            Show index artifact status
  afin version                   Show version
  afin help                      Show this help

Server Flags:
  -config string    Config file path (default: /usr/local/etc/afin/config.yaml)
  -debug            Enable debug logging

Search Flags:
  -config string    Config file path (for direct access mode)
  -server string    Server URL (default: http://localhost:8080). Use empty (-server "") for direct access when the server is not running.
  -k int            Number of results (0 = server default)
  -same-topic       Include same-topic siblings of the top hit
  -abstract         Include abstracts in results
  -output string    Output format: text or json (default: text)

Index Flags:
  -config string      Config file path
  -rebuild            Re-encode the whole corpus and replace the index artifacts
  -batch-size int     Encoder batch size (default from config)

Topics Flags:
  -config string           Config file path
  -limit int               Number of topics to list (default: 20)
  -min-cluster-size int    Minimum documents per topic (default from config)
  -min-samples int         Core point neighborhood size (default from config)
  -epsilon float           Cosine distance neighborhood radius (default from config)
  -output string           Output format: text or json (default: text)

Status Flags:
  -config string    Config file path
  -output string    Output format: text or json (default: text)

Examples:
  afin server
  afin index
  afin index -rebuild
  afin topics
  afin search "glacier mass balance"
  afin search -k 5 -same-topic quinoa genomics
  afin search -output json andes hydrology   # structured JSON for other apps
  afin status`)
}
