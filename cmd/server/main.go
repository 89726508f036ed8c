// Command server runs the request server in front of either the
// log-structured engine or the btree engine, selected by --engine and
// checked against the data directory's recorded choice.
package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dc0d/onexit"
	"github.com/spf13/cobra"

	"github.com/jassi-singh/aether-kv/internal/config"
	"github.com/jassi-singh/aether-kv/internal/engine"
	"github.com/jassi-singh/aether-kv/internal/engine/btreeengine"
	"github.com/jassi-singh/aether-kv/internal/engineselect"
	"github.com/jassi-singh/aether-kv/internal/server"
)

var (
	addr       string
	dataDir    string
	engineName string
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the aether-kv request server",
	RunE:  run,
}

func init() {
	cfg := config.Default()
	rootCmd.Flags().StringVar(&addr, "addr", cfg.ADDR, "address to listen on")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", cfg.DATA_DIR, "data directory")
	rootCmd.Flags().StringVar(&engineName, "engine", cfg.ENGINE, "storage engine: kvs or sled")
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Warn("server: no config file found, using flags and defaults", "error", err)
		cfg = config.Default()
	}
	cfg.ADDR = addr
	cfg.DATA_DIR = dataDir
	cfg.ENGINE = engineName

	resolved, err := engineselect.Resolve(cfg.DATA_DIR, cfg.ENGINE)
	if err != nil {
		return err
	}

	var eng engine.Engine
	switch resolved {
	case engineselect.KVS:
		eng, err = engine.Open(cfg)
	case engineselect.Btree:
		eng, err = btreeengine.Open(cfg.DATA_DIR)
	default:
		slog.Error("server: unrecognized engine", "engine", resolved)
		os.Exit(1)
	}
	if err != nil {
		return err
	}
	onexit.Register(func() {
		if err := eng.Close(); err != nil {
			slog.Error("server: error closing engine", "error", err)
		}
	})

	srv := server.New(cfg.ADDR, eng, cfg.MAX_CONNECTIONS, cfg.MAX_MESSAGE_BYTES)
	onexit.Register(func() {
		if err := srv.Close(); err != nil {
			slog.Error("server: error closing listener", "error", err)
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("server: shutdown signal received")
		onexit.Exit(0)
	}()

	slog.Info("server: starting", "addr", cfg.ADDR, "engine", resolved, "data_dir", cfg.DATA_DIR)
	return srv.ListenAndServe()
}
