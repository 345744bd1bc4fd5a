// Command sentinelctl is the operator CLI for FlowSentinel. It validates
// workflows and evaluates pattern evidence offline, and seeds or syncs the
// persisted node catalog.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"flowsentinel/backend/internal/catalog"
	"flowsentinel/backend/internal/config"
	"flowsentinel/backend/internal/logging"
	"flowsentinel/backend/internal/repository"
	"flowsentinel/backend/pkg/models"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// globals are the flags shared by every subcommand.
type globals struct {
	configFile string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:   "sentinelctl",
		Short: "FlowSentinel operator tool",
		Long: `sentinelctl validates n8n workflows against a node catalog, evaluates
pattern evidence with the promotion engine, and seeds or synchronizes
the catalog snapshot stored in Postgres.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&g.configFile, "config", "", "Path to config file (default: ./config.yaml)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level for diagnostics on stderr")

	cmd.AddCommand(
		newSeedCommand(g),
		newValidateCommand(g),
		newDecideCommand(g),
		newSyncCommand(g),
	)
	return cmd
}

func (g *globals) config() (*config.Config, error) {
	return config.LoadConfig(g.configFile)
}

func (g *globals) logger(w io.Writer) *logging.Logger {
	return logging.New(logging.Options{Level: g.logLevel, Format: "text", Output: w})
}

// openStore connects to the configured database and applies migrations.
// The caller closes the returned pool.
func openStore(ctx context.Context, cfg *config.Config) (*repository.PostgresStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store := repository.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, pool, nil
}

// loadView builds a catalog view from a node-type file when one is given,
// otherwise from the snapshot persisted in the database.
func loadView(ctx context.Context, g *globals, catalogFile string) (*catalog.View, error) {
	if catalogFile != "" {
		snap, err := readSnapshot(catalogFile, "local")
		if err != nil {
			return nil, err
		}
		return catalog.NewView(snap, models.CatalogDiff{}), nil
	}

	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	store, pool, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	snap, diff, err := store.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog snapshot: %w", err)
	}
	if snap == nil {
		return nil, fmt.Errorf("no catalog snapshot stored; run 'sentinelctl sync' or pass --catalog")
	}
	return catalog.NewView(snap, diff), nil
}

// readSnapshot reads a JSON array of node-type descriptors.
func readSnapshot(path, platformVersion string) (*catalog.Snapshot, error) {
	var descriptors []models.NodeTypeDescriptor
	if err := readJSON(path, &descriptors); err != nil {
		return nil, err
	}
	return catalog.NewSnapshot(platformVersion, descriptors, timeNow())
}

func readJSON(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
