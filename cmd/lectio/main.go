package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/mahesh-hegde/lectio/app/config"
	"github.com/mahesh-hegde/lectio/app/corpus"
	"github.com/mahesh-hegde/lectio/app/docstore"
	"github.com/mahesh-hegde/lectio/app/migration"
	"github.com/mahesh-hegde/lectio/app/scripture"
	"github.com/mahesh-hegde/lectio/app/seeding"
	"github.com/mahesh-hegde/lectio/app/server"
	"github.com/mahesh-hegde/lectio/app/userdata"
	"github.com/spf13/pflag"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "seed":
		runSeed()
	case "server":
		runServer()
	case "export":
		runExport()
	case "import":
		runImport()
	case "migrate":
		runMigrate()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: lectio <command> [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  seed          Load the corpus into the database")
	fmt.Fprintln(os.Stderr, "  server        Start the lectio API server")
	fmt.Fprintln(os.Stderr, "  export        Write bookmarks and notes as JSON")
	fmt.Fprintln(os.Stderr, "  import        Read bookmarks and notes from an export")
	fmt.Fprintln(os.Stderr, "  migrate       Upgrade or rebuild the database schema")
}

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

func dataDirFlag(flags *pflag.FlagSet) *string {
	return flags.StringP("data-dir", "d", "", "data directory holding config.json, the corpus and the database")
}

func loadConfig(dataDir string) *config.LectioConfig {
	if dataDir == "" {
		fatal("--data-dir not provided, stopping")
	}
	conf, err := config.Load(dataDir)
	if err != nil {
		fatal("error while reading config", "err", err)
	}
	return conf
}

// openEngine opens the database, rebuilding it when the stored schema is too
// old to upgrade.
func openEngine(ctx context.Context, conf *config.LectioConfig) *docstore.Engine {
	engine := docstore.NewEngine(conf.DBPath(), docstore.EngineOptions{InitTimeout: conf.InitTimeout()})
	if err := migration.NewManager(engine, migration.Options{}).Ensure(ctx); err != nil {
		fatal("error while opening database", "path", conf.DBPath(), "err", err)
	}
	return engine
}

func runSeed() {
	flags := pflag.NewFlagSet("seed", pflag.ExitOnError)
	dataDir := dataDirFlag(flags)
	force := flags.BoolP("force", "f", false, "reseed even if the stored seed version is current")
	flags.Parse(os.Args[2:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conf := loadConfig(*dataDir)
	engine := openEngine(ctx, conf)
	defer engine.Close()

	src, err := corpus.LoadSource(conf)
	if err != nil {
		fatal("error while loading corpus", "err", err)
	}

	seeder := seeding.NewSeeder(engine, conf)
	if !*force {
		needed, err := seeder.IsSeedingNeeded(ctx)
		if err != nil {
			fatal("error while reading seed version", "err", err)
		}
		if !needed {
			slog.Info("corpus already seeded", "version", seeder.Version)
			return
		}
	}

	err = seeder.SeedBibleData(ctx, src, func(p seeding.Progress) {
		slog.Info("seeding", "status", p.Status, "books", p.BooksProcessed, "total", p.TotalBooks)
	})
	if err != nil {
		fatal("seeding failed", "err", err)
	}
}

func runServer() {
	flags := pflag.NewFlagSet("server", pflag.ExitOnError)
	dataDir := dataDirFlag(flags)
	var serverConf config.ServerRuntimeConfig
	flags.StringVarP(&serverConf.Addr, "address", "a", "localhost", "Server address to bind")
	flags.IntVarP(&serverConf.Port, "port", "p", 8080, "Server port to bind")
	flags.StringVar(&serverConf.CertDir, "cert-dir", "", "directory with fullchain.pem and privkey.pem, or the ACME cache")
	flags.BoolVar(&serverConf.AcmeEnabled, "acme", false, "obtain certificates with ACME for the configured hostnames")
	flags.BoolVar(&serverConf.BehindLoadBalancer, "behind-lb", false, "rate limit by X-Forwarded-For instead of the remote address")
	flags.IntVar(&serverConf.RateLimit, "rate-limit", 0, "requests per second per client, 0 disables")
	flags.IntVar(&serverConf.GzipLevel, "gzip-level", 0, "gzip compression level, 0 disables")
	flags.Parse(os.Args[2:])

	ctx := context.Background()
	conf := loadConfig(*dataDir)
	engine := openEngine(ctx, conf)
	defer engine.Close()

	scriptures := scripture.NewScriptureService(engine, conf)
	seeder := seeding.NewSeeder(engine, conf)

	var books userdata.BookResolver
	src, err := corpus.LoadSource(conf)
	if err != nil {
		slog.Warn("corpus not loaded, serving stored data only", "err", err)
	} else {
		books = src.Books
		updates, cancel := seeder.Status().Subscribe()
		defer cancel()
		go func() {
			for p := range updates {
				if p.Status == seeding.PhaseDone {
					scriptures.Invalidate()
				}
			}
		}()
		if _, err := seeder.Start(ctx, src); err != nil {
			slog.Error("could not start seeding", "err", err)
		}
	}

	controller := server.NewLectioController(scriptures, userdata.NewUserDataStore(engine, books), seeder.Status())
	fmt.Printf("Starting server on %s:%d\n", serverConf.Addr, serverConf.Port)
	server.StartServer(controller, conf, serverConf)
}

func runExport() {
	flags := pflag.NewFlagSet("export", pflag.ExitOnError)
	dataDir := dataDirFlag(flags)
	output := flags.StringP("output", "o", "", "file to write, stdout when empty")
	flags.Parse(os.Args[2:])

	ctx := context.Background()
	conf := loadConfig(*dataDir)
	engine := openEngine(ctx, conf)
	defer engine.Close()

	data, err := userdata.NewUserDataStore(engine, nil).ExportData(ctx)
	if err != nil {
		fatal("export failed", "err", err)
	}
	if *output == "" {
		os.Stdout.Write(append(data, '\n'))
		return
	}
	if err := os.WriteFile(*output, data, 0o644); err != nil {
		fatal("error while writing export", "path", *output, "err", err)
	}
	slog.Info("exported user data", "path", *output)
}

func runImport() {
	flags := pflag.NewFlagSet("import", pflag.ExitOnError)
	dataDir := dataDirFlag(flags)
	input := flags.StringP("input", "i", "", "export file to read, stdin when empty")
	flags.Parse(os.Args[2:])

	ctx := context.Background()
	conf := loadConfig(*dataDir)
	engine := openEngine(ctx, conf)
	defer engine.Close()

	var data []byte
	var err error
	if *input == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(*input)
	}
	if err != nil {
		fatal("error while reading import file", "err", err)
	}

	result, err := userdata.NewUserDataStore(engine, nil).ImportData(ctx, data)
	if err != nil {
		fatal("import failed", "err", err)
	}
	for _, ve := range result.Errors {
		slog.Warn("skipped record", "kind", ve.Kind, "index", ve.Index, "reason", ve.Reason)
	}
}

func runMigrate() {
	flags := pflag.NewFlagSet("migrate", pflag.ExitOnError)
	dataDir := dataDirFlag(flags)
	rebuild := flags.Bool("rebuild", false, "recreate the database, keeping only user data")
	flags.Parse(os.Args[2:])

	ctx := context.Background()
	conf := loadConfig(*dataDir)
	engine := docstore.NewEngine(conf.DBPath(), docstore.EngineOptions{InitTimeout: conf.InitTimeout()})
	defer engine.Close()
	manager := migration.NewManager(engine, migration.Options{})

	if !*rebuild {
		if err := manager.Ensure(ctx); err != nil {
			fatal("migration failed", "err", err)
		}
		slog.Info("database is at the current schema", "version", docstore.SchemaVersion)
		return
	}

	res := manager.Rebuild(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(res)
	if !res.Success {
		os.Exit(1)
	}
}
