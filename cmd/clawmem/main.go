// cmd/clawmem is a small CLI for exercising the memory engine from the
// shell. It wires the configured storage backend and model provider into the
// engine and exposes one subcommand per engine operation:
//
//	clawmem add    -user u1 "My name is Alex, I use TypeScript."
//	clawmem search -user u1 -keyword "typescript"
//	clawmem list   -user u1
//	clawmem sweep  -user u1 -delete
//	clawmem history <memory-id>
//	clawmem backup -list
//	clawmem watch
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/DeepExtrema/clawmem-sub000/internal/backup"
	"github.com/DeepExtrema/clawmem-sub000/internal/config"
	"github.com/DeepExtrema/clawmem-sub000/internal/engine"
	"github.com/DeepExtrema/clawmem-sub000/internal/llm"
	"github.com/DeepExtrema/clawmem-sub000/internal/notify"
	"github.com/DeepExtrema/clawmem-sub000/internal/storage"
	"github.com/DeepExtrema/clawmem-sub000/internal/storage/postgres"
	"github.com/DeepExtrema/clawmem-sub000/internal/storage/sqlite"
	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("clawmem: ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// backup and watch never touch the live store, so they are handled
	// before it is opened.
	switch os.Args[1] {
	case "backup":
		if err := runBackup(context.Background(), cfg, os.Args[2:]); err != nil {
			log.Fatal(err)
		}
		return
	case "watch":
		if err := runWatch(cfg); err != nil {
			log.Fatal(err)
		}
		return
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	eng, err := buildEngine(cfg, store)
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	writer := notify.NewEventWriter(cfg.Storage.DataPath)
	ctx := context.Background()

	var runErr error
	switch os.Args[1] {
	case "add":
		runErr = runAdd(ctx, eng, writer, os.Args[2:])
	case "search":
		runErr = runSearch(ctx, eng, os.Args[2:])
	case "list":
		runErr = runList(ctx, eng, os.Args[2:])
	case "sweep":
		runErr = runSweep(ctx, eng, writer, os.Args[2:])
	case "history":
		runErr = runHistory(ctx, eng, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if runErr != nil {
		log.Fatal(runErr)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: clawmem <add|search|list|sweep|history|backup|watch> [flags]")
}

// runWatch tails the change feed, printing one JSON line per event until
// interrupted. This is the consumer side host adapters implement.
func runWatch(cfg *config.Config) error {
	feed, err := notify.OpenFeed(cfg.Storage.DataPath)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case evt, ok := <-feed.Events():
			if !ok {
				return nil
			}
			if err := enc.Encode(evt); err != nil {
				_ = feed.Close()
				return err
			}
		case <-sig:
			return feed.Close()
		}
	}
}

func runBackup(ctx context.Context, cfg *config.Config, args []string) error {
	if cfg.Storage.Backend != "sqlite" {
		return fmt.Errorf("backup supports the sqlite backend only")
	}
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	dir := fs.String("dir", filepath.Join(cfg.Storage.DataPath, "backups"), "snapshot directory")
	list := fs.Bool("list", false, "list snapshots instead of creating one")
	restore := fs.String("restore", "", "restore this snapshot over the live database")
	_ = fs.Parse(args)

	dbPath := filepath.Join(cfg.Storage.DataPath, "clawmem.db")
	snapper, err := backup.NewSnapshotter(dbPath, *dir, backup.DefaultKeepPolicy())
	if err != nil {
		return err
	}

	switch {
	case *list:
		snapshots, err := snapper.List()
		if err != nil {
			return err
		}
		return printJSON(snapshots)
	case *restore != "":
		if err := snapper.Restore(ctx, *restore, dbPath); err != nil {
			return err
		}
		log.Printf("restored %s", *restore)
		return nil
	default:
		snap, err := snapper.Create(ctx)
		if err != nil {
			return err
		}
		return printJSON(snap)
	}
}

// openStore selects the storage backend per configuration. Both backends
// implement the same store contracts, so the rest of the wiring is shared.
func openStore(cfg *config.Config) (fullStore, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return postgres.Open(cfg.Storage.PostgresDSN, cfg.Storage.Dimension)
	case "sqlite":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("create data directory %q: %w", cfg.Storage.DataPath, err)
		}
		return sqlite.Open(filepath.Join(cfg.Storage.DataPath, "clawmem.db"), cfg.Storage.Dimension)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// fullStore is what both backends provide: records, ledger and graph.
type fullStore interface {
	storage.VectorStore
	storage.HistoryStore
	storage.GraphStore
}

func buildEngine(cfg *config.Config, store fullStore) (*engine.Engine, error) {
	var completer llm.TextGenerator
	var embedder llm.EmbeddingGenerator
	switch cfg.LLM.Provider {
	case "openai":
		client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:     cfg.LLM.OpenAIAPIKey,
			Model:      cfg.LLM.OpenAIModel,
			EmbedModel: cfg.LLM.OpenAIEmbedModel,
			Timeout:    cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, err
		}
		completer, embedder = client, client
	default:
		client := llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL:    cfg.LLM.OllamaURL,
			Model:      cfg.LLM.OllamaModel,
			EmbedModel: cfg.LLM.OllamaEmbedModel,
			Timeout:    cfg.LLM.Timeout,
		})
		completer, embedder = client, client
	}

	engineCfg := engine.DefaultConfig()
	engineCfg.SemanticThreshold = cfg.Engine.SemanticThreshold
	engineCfg.MaxCandidates = cfg.Engine.MaxCandidates
	engineCfg.SearchLimit = cfg.Engine.SearchLimit
	engineCfg.SearchThreshold = cfg.Engine.SearchThreshold
	engineCfg.MaxMemoriesPerUser = cfg.Engine.MaxMemoriesPerUser
	engineCfg.EnableQueryRewrite = cfg.Engine.EnableQueryRewrite
	engineCfg.EmbedWorkers = cfg.Engine.EmbedWorkers

	return engine.New(engine.Options{
		Config:    engineCfg,
		Store:     store,
		History:   store,
		Graph:     store,
		Extractor: llm.NewExtractor(completer),
		Embedder:  llm.NewBatchEmbedder(embedder, cfg.Engine.EmbedWorkers),
		Completer: completer,
		Retention: cfg.Retention,
	})
}

func runAdd(ctx context.Context, eng *engine.Engine, writer *notify.EventWriter, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	user := fs.String("user", "", "user ID (required)")
	graph := fs.Bool("graph", false, "enable lineage graph enrichment")
	instructions := fs.String("instructions", "", "extra extraction instructions")
	_ = fs.Parse(args)
	if *user == "" || fs.NArg() == 0 {
		return fmt.Errorf("add requires -user and message text")
	}

	result, err := eng.Add(ctx, []types.Message{{Role: "user", Content: fs.Arg(0)}}, engine.AddOptions{
		UserID:             *user,
		CustomInstructions: *instructions,
		EnableGraph:        *graph,
	})
	if err != nil {
		return err
	}

	for i := range result.Added {
		if err := writer.Notify(notify.EventAdded, result.Added[i].ID, *user); err != nil {
			log.Printf("change feed notify failed: %v", err)
		}
	}
	for i := range result.Updated {
		if err := writer.Notify(notify.EventUpdated, result.Updated[i].ID, *user); err != nil {
			log.Printf("change feed notify failed: %v", err)
		}
	}
	return printJSON(result)
}

func runSearch(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	user := fs.String("user", "", "user ID (required)")
	limit := fs.Int("limit", 0, "max results")
	keyword := fs.Bool("keyword", false, "blend keyword search results")
	category := fs.String("category", "", "filter by category")
	memoryType := fs.String("type", "", "filter by memory type")
	_ = fs.Parse(args)
	if *user == "" || fs.NArg() == 0 {
		return fmt.Errorf("search requires -user and query text")
	}

	results, err := eng.Search(ctx, fs.Arg(0), engine.SearchOptions{
		UserID:        *user,
		Limit:         *limit,
		Category:      *category,
		MemoryType:    *memoryType,
		KeywordSearch: *keyword,
	})
	if err != nil {
		return err
	}
	return printJSON(results)
}

func runList(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	user := fs.String("user", "", "user ID (required)")
	limit := fs.Int("limit", 100, "page size")
	offset := fs.Int("offset", 0, "page offset")
	_ = fs.Parse(args)
	if *user == "" {
		return fmt.Errorf("list requires -user")
	}

	records, total, err := eng.GetAll(ctx, engine.GetAllOptions{
		UserID: *user, Limit: *limit, Offset: *offset, OnlyLatest: true,
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"total": total, "memories": records})
}

func runSweep(ctx context.Context, eng *engine.Engine, writer *notify.EventWriter, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	user := fs.String("user", "", "user ID (required)")
	autoDelete := fs.Bool("delete", false, "delete expired records (default dry run)")
	_ = fs.Parse(args)
	if *user == "" {
		return fmt.Errorf("sweep requires -user")
	}

	result, err := eng.RetentionSweep(ctx, *user, *autoDelete)
	if err != nil {
		return err
	}
	for _, id := range result.Removed {
		if err := writer.Notify(notify.EventDeleted, id, *user); err != nil {
			log.Printf("change feed notify failed: %v", err)
		}
	}
	return printJSON(result)
}

func runHistory(ctx context.Context, eng *engine.Engine, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("history requires a memory ID")
	}
	entries, err := eng.History(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(entries)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
