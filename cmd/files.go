// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Thermoquad/espsync/pkg/espsync"
	"github.com/Thermoquad/espsync/pkg/synchost"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List files on the device",
	Long: `Request the device's file listing and print one file per line.

--time adds each file's modification timestamp and --checksum adds the
Adler-32 of its contents. Devices without timestamp support ignore --time.`,
	Args: cobra.NoArgs,
	RunE: runLs,
}

var putCmd = &cobra.Command{
	Use:   "put <local file> [remote name]",
	Short: "Upload a file to the device",
	Long: `Upload a local file. The remote name defaults to "/" plus the local base name.

The file's modification time is sent along unless --no-time is set. The
device stages the upload under a temporary name and only replaces an
existing file once the whole payload has passed its checksum.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPut,
}

var rmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a file from the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *synchost.Client) error {
			space, err := c.Remove(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Removed %s (%s)\n", args[0], formatSpace(space))
			return nil
		})
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <from> <to>",
	Short: "Rename a file on the device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *synchost.Client) error {
			space, err := c.Rename(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Renamed %s -> %s (%s)\n", args[0], args[1], formatSpace(space))
			return nil
		})
	},
}

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Erase all files on the device",
	Long: `Erase the device's storage. This can take tens of seconds; the device
announces how long with an ACK and the wait is extended accordingly.

Requires --yes.`,
	Args: cobra.NoArgs,
	RunE: runFormat,
}

var timeCmd = &cobra.Command{
	Use:   "time [RFC3339 time]",
	Short: "Set the device clock",
	Long:  `Set the device clock to the given time, or to the current time if none is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTime,
}

func init() {
	rootCmd.AddCommand(lsCmd, putCmd, rmCmd, mvCmd, formatCmd, timeCmd)

	lsCmd.Flags().Bool("time", false, "Include modification times")
	lsCmd.Flags().Bool("checksum", false, "Include content checksums")
	bindFlags(lsCmd, "time", "checksum")

	putCmd.Flags().Bool("no-time", false, "Upload without a modification time")
	bindFlags(putCmd, "no-time")

	formatCmd.Flags().Bool("yes", false, "Confirm erasing the device")
}

// withClient opens a client for the duration of fn
func withClient(cmd *cobra.Command, fn func(context.Context, *synchost.Client) error) error {
	client, conn, _, err := openClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, client)
}

func formatSpace(s synchost.Space) string {
	return fmt.Sprintf("%d of %d bytes free", s.Free, s.Total)
}

func runLs(cmd *cobra.Command, args []string) error {
	var opts espsync.ListOption
	if viper.GetBool("ls.time") {
		opts |= espsync.ListTimestamp
	}
	if viper.GetBool("ls.checksum") {
		opts |= espsync.ListChecksum
	}

	return withClient(cmd, func(ctx context.Context, c *synchost.Client) error {
		l, err := c.List(ctx, opts)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, ent := range l.Entries {
			fmt.Fprintf(w, "%d\t", ent.Size)
			if l.Options&espsync.ListTimestamp != 0 {
				if ent.ModTime.IsZero() {
					fmt.Fprint(w, "-\t")
				} else {
					fmt.Fprintf(w, "%s\t", ent.ModTime.Format(time.DateTime))
				}
			}
			if ent.HasChecksum {
				fmt.Fprintf(w, "%08x\t", ent.Checksum)
			}
			fmt.Fprintf(w, "%s\n", ent.Name)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("%d files, %d of %d bytes free\n", len(l.Entries), l.Free, l.Total)
		return nil
	})
}

func runPut(cmd *cobra.Command, args []string) error {
	local := args[0]
	remote := "/" + filepath.Base(local)
	if len(args) == 2 {
		remote = args[1]
	}

	fi, err := os.Stat(local)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	modTime := fi.ModTime()
	if viper.GetBool("put.no-time") {
		modTime = time.Time{}
	}

	return withClient(cmd, func(ctx context.Context, c *synchost.Client) error {
		start := time.Now()
		space, err := c.SendFile(ctx, remote, modTime, data)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)
		fmt.Printf("Uploaded %s -> %s: %d bytes in %v (%.1f KiB/s), %s\n",
			local, remote, len(data), elapsed.Round(time.Millisecond),
			float64(len(data))/1024/elapsed.Seconds(), formatSpace(space))
		return nil
	})
}

func runFormat(cmd *cobra.Command, args []string) error {
	if ok, _ := cmd.Flags().GetBool("yes"); !ok {
		return fmt.Errorf("format erases every file on the device; pass --yes to confirm")
	}

	return withClient(cmd, func(ctx context.Context, c *synchost.Client) error {
		fmt.Printf("Formatting...\n")
		res, err := c.Format(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Formatted: %d bytes total, %d used, max name length %d\n", res.Total, res.Used, res.MaxPathLength)
		return nil
	})
}

func runTime(cmd *cobra.Command, args []string) error {
	t := time.Now()
	if len(args) == 1 {
		var err error
		t, err = time.Parse(time.RFC3339, args[0])
		if err != nil {
			return fmt.Errorf("invalid time %q: %w", args[0], err)
		}
	}

	return withClient(cmd, func(ctx context.Context, c *synchost.Client) error {
		if err := c.SetTime(ctx, t); err != nil {
			return err
		}
		fmt.Printf("Device clock set to %s\n", t.UTC().Format(time.DateTime))
		return nil
	})
}
