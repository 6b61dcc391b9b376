// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Thermoquad/espsync/pkg/espsync"
	"github.com/Thermoquad/espsync/pkg/flashfs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the device side of the protocol against a local directory",
	Long: `Act as an ESPSync device on the connection, storing files in a directory.

The directory is presented to the host as a flat flash volume with a fixed
capacity, page rounded space accounting and a maximum name length, the way a
SPIFFS partition behaves on the device. Every command the host sends is
answered on the connection:
  - Ping, set time, format and listing
  - Remove and rename
  - Streamed file uploads, staged under a temporary name

Bytes that are not part of a frame are application console output. They are
dropped unless --console is set, in which case they are copied to stdout.

A lost connection is reopened with exponential backoff (1s up to 30s).
Statistics are printed when the command exits.

Supports both serial and WebSocket connections.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("root", "espsync-data", "Directory holding the volume")
	serveCmd.Flags().Uint32("capacity", flashfs.DefaultCapacity, "Volume capacity in bytes")
	serveCmd.Flags().Int("page-size", flashfs.DefaultPageSize, "Allocation unit in bytes")
	serveCmd.Flags().Int("max-path", flashfs.DefaultMaxPathLength, "Longest accepted file name")
	serveCmd.Flags().Duration("stream-timeout", espsync.DefaultStreamTimeout, "Per-read timeout while receiving a file")
	serveCmd.Flags().String("log-level", "info", "Engine log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("console", false, "Copy non-protocol bytes to stdout")
	bindFlags(serveCmd, "root", "capacity", "page-size", "max-path", "stream-timeout", "log-level", "console")
}

// newLogger builds the engine's structured logger on stderr
func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// openVolume mounts the directory-backed flash volume
func openVolume() (*flashfs.Store, string, error) {
	root := viper.GetString("serve.root")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create %s: %w", root, err)
	}

	store := flashfs.New(afero.NewBasePathFs(afero.NewOsFs(), root),
		flashfs.WithCapacity(viper.GetUint32("serve.capacity")),
		flashfs.WithPageSize(viper.GetInt("serve.page-size")),
		flashfs.WithMaxPathLength(viper.GetInt("serve.max-path")),
	)
	if err := store.Begin(); err != nil {
		return nil, "", err
	}
	return store, root, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(viper.GetString("serve.log-level"))
	if err != nil {
		return err
	}

	store, root, err := openVolume()
	if err != nil {
		return err
	}
	info, err := store.Info()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	fmt.Printf("espsync - Device Engine\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Volume: %s (%d bytes, %d free, max name %d)\n", root, info.TotalBytes, info.FreeBytes(), info.MaxPathLength)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := espsync.NewStatistics()
	opts := []espsync.Option{
		espsync.WithLogger(logger),
		espsync.WithStatistics(stats),
		espsync.WithClock(espsync.NewOffsetClock()),
		espsync.WithStreamTimeout(viper.GetDuration("serve.stream-timeout")),
	}
	if viper.GetBool("serve.console") {
		opts = append(opts, espsync.WithPassthrough(os.Stdout))
	}

	err = serveLoop(ctx, conn, store, opts)

	stats.CalculateRates()
	fmt.Println()
	fmt.Print(stats.String())

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveLoop runs an engine on conn, reopening the connection whenever it
// fails until ctx is done
func serveLoop(ctx context.Context, conn Connection, store espsync.Storage, opts []espsync.Option) error {
	for {
		engine := espsync.New(conn, store, opts...)
		err := engine.Serve(ctx)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("Connection lost: %v - reconnecting...", err)

		conn, err = reconnect(ctx)
		if err != nil {
			return err
		}
	}
}

// reconnect opens a new connection with exponential backoff. Returns the
// context error if shutdown was requested first.
func reconnect(ctx context.Context) (Connection, error) {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		conn, connInfo, err := OpenConnection()
		if err == nil {
			log.Printf("Reconnected: %s", connInfo)
			return conn, nil
		}
		log.Printf("Reconnect failed: %v", err)

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
