package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/JonMunkholm/dataserve/internal/config"
	"github.com/JonMunkholm/dataserve/internal/core"
	"github.com/JonMunkholm/dataserve/internal/engine"
	"github.com/JonMunkholm/dataserve/internal/inspect"
	"github.com/JonMunkholm/dataserve/internal/logging"
	"github.com/JonMunkholm/dataserve/internal/metadata"
	"github.com/JonMunkholm/dataserve/internal/templates"
	"github.com/JonMunkholm/dataserve/internal/web"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	settings    []string
	metadata    string
	inspectFile string
	immutable   []string
	host        string
	port        int
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve [files...]",
		Short: "Serve database files over HTTP",
		Long: `Serve one or more SQLite files, plus an optional PostgreSQL database
configured with DATABASE_URL.

Files passed as arguments are mutable and can be written to by canned
queries. Files passed with --immutable are opened read-only, hashed, and
served with far-future cache headers on hashed URLs.

Example:
  dataserve serve fixtures.db
  dataserve serve -i fixtures.db --setting hash_urls:on --metadata metadata.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.settings, "setting", nil, "override a setting, name:value (repeatable)")
	cmd.Flags().StringVarP(&opts.metadata, "metadata", "m", "", "metadata file (.yaml or .json)")
	cmd.Flags().StringVar(&opts.inspectFile, "inspect-file", "", "precomputed hashes and row counts from the inspect command")
	cmd.Flags().StringArrayVarP(&opts.immutable, "immutable", "i", nil, "database file to serve read-only (repeatable)")
	cmd.Flags().StringVar(&opts.host, "host", "", "interface to bind to (overrides SERVER_HOST)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "port to listen on (overrides SERVER_PORT)")

	return cmd
}

func runServe(ctx context.Context, opts *serveOptions, mutable []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Settings.Apply(opts.settings); err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = opts.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = opts.port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	meta, err := loadMetadata(opts.metadata)
	if err != nil {
		return err
	}

	var info inspect.File
	if opts.inspectFile != "" {
		if info, err = inspect.Read(opts.inspectFile); err != nil {
			return err
		}
	}

	catalog, err := openCatalog(ctx, cfg, opts.immutable, mutable, info)
	if err != nil {
		return err
	}
	if catalog.Len() == 0 {
		catalog.Close()
		return errors.New("no databases to serve: pass files or set DATABASE_URL")
	}

	exports := core.NewExportLimiter(cfg.Export.MaxConcurrent, cfg.Export.MaxWaitTime)
	server := web.NewServer(web.App{
		Catalog:   catalog,
		Metadata:  meta,
		Counts:    info.Count,
		Templates: templates.New(),
		Exports:   exports,
	}, cfg)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if active := exports.ActiveCount(); active > 0 {
			slog.Info("waiting for exports to complete", "active", active)
			if err := exports.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("exports did not complete in time", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	err = server.Start()
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		err = nil
	}
	if cerr := catalog.Close(); cerr != nil {
		slog.Error("close databases", "error", cerr)
	}
	return err
}

func loadMetadata(path string) (*metadata.Metadata, error) {
	if path == "" {
		return nil, nil
	}
	meta, err := metadata.Load(path)
	if err != nil {
		return nil, err
	}
	slog.Info("metadata loaded", "path", path, "databases", len(meta.Databases))
	return meta, nil
}

// openCatalog opens every file and the optional PostgreSQL database.
// Immutable files are hashed unless the inspect file already knows them.
func openCatalog(ctx context.Context, cfg *config.Config, immutable, mutable []string, info inspect.File) (*core.Catalog, error) {
	catalog := core.NewCatalog()

	var toHash []string
	for _, path := range immutable {
		if _, ok := info.Hash(inspect.DatabaseName(path)); !ok {
			toHash = append(toHash, path)
		}
	}
	hashes, err := engine.HashFiles(ctx, toHash, runtime.NumCPU())
	if err != nil {
		return nil, err
	}

	register := func(path string, isMutable bool) error {
		eng, err := engine.OpenSQLite(path, isMutable)
		if err != nil {
			return err
		}
		name := inspect.DatabaseName(path)
		hash := hashes[path]
		if h, ok := info.Hash(name); ok && !isMutable {
			hash = h
		}
		db := &core.Database{
			Name:    name,
			Hash:    hash,
			Mutable: isMutable,
			Path:    path,
			Engine:  eng,
		}
		if err := catalog.Register(db); err != nil {
			eng.Close()
			return err
		}
		slog.Info("database attached", "name", name, "mutable", isMutable, "hash", db.ShortHash())
		return nil
	}

	for _, path := range immutable {
		if err := register(path, false); err != nil {
			catalog.Close()
			return nil, err
		}
	}
	for _, path := range mutable {
		if err := register(path, true); err != nil {
			catalog.Close()
			return nil, err
		}
	}

	if cfg.Postgres.URL != "" {
		pg, err := engine.OpenPostgres(ctx, cfg.Postgres.Name, engine.PostgresOptions{
			URL:             cfg.Postgres.URL,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime,
		})
		if err != nil {
			catalog.Close()
			return nil, err
		}
		if err := catalog.Register(&core.Database{Name: cfg.Postgres.Name, Mutable: true, Engine: pg}); err != nil {
			pg.Close()
			catalog.Close()
			return nil, err
		}
		slog.Info("database attached", "name", cfg.Postgres.Name, "engine", "postgres")
	}
	return catalog, nil
}
