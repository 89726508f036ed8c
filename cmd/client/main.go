// Command client is the command-line client for aether-kv: one
// subcommand per store operation, one round trip per invocation.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jassi-singh/aether-kv/internal/cli"
	"github.com/jassi-singh/aether-kv/internal/client"
	"github.com/jassi-singh/aether-kv/internal/config"
)

var addr string

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cfg := config.Default()

	root := &cobra.Command{
		Use:   "client",
		Short: "Talk to an aether-kv server",
	}
	root.PersistentFlags().StringVar(&addr, "addr", cfg.ADDR, "server address")

	root.AddCommand(getCmd(cfg), setCmd(cfg), removeCmd(cfg), replCmd(cfg))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Fetch a key's value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(addr, cfg.MAX_MESSAGE_BYTES)
			value, found, err := c.Get(args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("Key not found")
				return nil
			}
			fmt.Println(value)
			return nil
		},
	}
}

func setCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a key/value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(addr, cfg.MAX_MESSAGE_BYTES)
			if err := c.Set(args[0], args[1]); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			return nil
		},
	}
}

func replCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive session against the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.NewHandler(addr, cfg.MAX_MESSAGE_BYTES).Run()
		},
	}
}

func removeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <key>",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(addr, cfg.MAX_MESSAGE_BYTES)
			found, err := c.Remove(args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintln(os.Stderr, "Key not found")
				os.Exit(1)
			}
			return nil
		},
	}
}
