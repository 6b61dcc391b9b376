// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Thermoquad/espsync/pkg/espsync"
	"github.com/Thermoquad/espsync/pkg/synchost"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that a device answers ACK frames",
	Long: `Send ping ACK frames to the device and wait for each to be echoed.

The device answers a ping with an ACK carrying the same tag and timeout. This
is useful for verifying:
  - The connection is established
  - HTTP Basic authentication works (WebSocket bridges)
  - The device firmware is running the sync engine
  - Frames flow in both directions

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().Int("count", 3, "Number of pings to send")
	pingCmd.Flags().Duration("interval", 100*time.Millisecond, "Delay between pings")
	bindFlags(pingCmd, "count", "interval")
}

// openClient connects and wraps the connection in a host client
func openClient() (*synchost.Client, Connection, string, error) {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return nil, nil, "", err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client := synchost.NewClient(conn,
		synchost.WithReplyTimeout(viper.GetDuration("reply-timeout")),
		synchost.WithLogger(logger),
	)
	return client, conn, connInfo, nil
}

func runPing(cmd *cobra.Command, args []string) error {
	client, conn, connInfo, err := openClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	count := viper.GetInt("ping.count")
	interval := viper.GetDuration("ping.interval")
	timeout := viper.GetDuration("reply-timeout")

	fmt.Printf("espsync - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %v per ping\n", timeout)
	fmt.Printf("Count: %d pings\n\n", count)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	successCount := 0
	var total time.Duration
	for i := 1; i <= count; i++ {
		fmt.Printf("Ping %d/%d: ", i, count)

		rtt, err := client.Ping(ctx, uint32(timeout.Milliseconds()))
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
		} else {
			fmt.Printf("ACK tag=%d rtt=%v\n", (client.Tag()+espsync.MaxTag)&espsync.MaxTag, rtt.Round(time.Microsecond))
			successCount++
			total += rtt
		}

		if i < count {
			time.Sleep(interval)
		}
	}

	failCount := count - successCount
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		count, successCount, float64(failCount)/float64(max(count, 1))*100)
	if successCount > 0 {
		fmt.Printf("average rtt %v\n", (total / time.Duration(successCount)).Round(time.Microsecond))
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
