package main

import (
	"fmt"
	"os"
	"path/filepath"

	"starstep/internal/cli"
	"starstep/internal/config"
	"starstep/internal/engine"
	"starstep/internal/imaging"
	"starstep/internal/logging"
	"starstep/internal/storage"
	"starstep/internal/transform"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	var store *storage.Store
	if cfg.Paths.DatabasePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Paths.DatabasePath), 0o755); err != nil {
			return err
		}
		store, err = storage.New(cfg.Paths.DatabasePath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()
	}

	imaging.Start()
	defer imaging.Stop()

	reg := transform.NewRegistry()
	imaging.Register(reg)

	eng := engine.New(cfg, reg, imaging.Opener{}, log, store)
	return cli.NewRootCmd(cfg, log, store, eng).Execute()
}
