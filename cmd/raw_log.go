// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Thermoquad/espsync/pkg/espsync"
	"github.com/Thermoquad/espsync/pkg/synchost"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display protocol frames in human-readable format",
	Long: `Continuously decode and display ESPSync frames as they arrive.

Both directions are decoded: commands from the host and ACK, NAK and reply
frames from the device. Each frame is shown on one line with a timestamp,
function name, tag and decoded body. File upload payloads are skipped and
only their header is shown.

Checksum failures are always printed. Bytes outside any frame are counted as
console output and printed when --console is set.

Statistics are printed every --stats-interval seconds (0 disables) and on exit.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().Int("stats-interval", 0, "Statistics update interval (seconds)")
	rawLogCmd.Flags().Bool("console", false, "Print non-protocol bytes")
	bindFlags(rawLogCmd, "stats-interval", "console")
}

// monitor decodes a link carrying traffic in both directions
type monitor struct {
	commands *espsync.Decoder
	replies  *synchost.Decoder
	stats    *espsync.Statistics
	out      io.Writer
	console  io.Writer

	// skip counts FILE payload bytes still to pass by
	skip uint32
}

func newMonitor(out, console io.Writer) *monitor {
	return &monitor{
		commands: espsync.NewDecoder(espsync.DefaultBufferCapacity),
		replies:  synchost.NewDecoder(),
		stats:    espsync.NewStatistics(),
		out:      out,
		console:  console,
	}
}

func (m *monitor) feed(b byte) {
	m.stats.RecordBytes(1)

	if m.skip > 0 {
		m.skip--
		return
	}

	if b != espsync.StartByte && m.commands.State() == espsync.StateWaitStart && !m.replies.Active() {
		m.stats.RecordPassthrough(1)
		if m.console != nil {
			m.console.Write([]byte{b})
		}
		return
	}

	frame, err := m.commands.DecodeByte(b)
	switch {
	case errors.Is(err, espsync.ErrBodyChecksum):
		m.stats.RecordChecksumError()
		fmt.Fprintf(m.out, "[%s] \033[1;31mCHECKSUM ERROR:\033[0m %v\n", time.Now().Format("15:04:05.000"), err)
	case frame != nil:
		m.stats.RecordFrame(frame.Function)
		if frame.Function == espsync.CmdFile {
			m.skip = frame.Size
			m.stats.RecordUpload(int(frame.Size))
		}
		fmt.Fprintln(m.out, espsync.FormatFrameAt(time.Now(), frame))
	}

	reply, err := m.replies.DecodeByte(b)
	switch {
	case errors.Is(err, synchost.ErrReplyChecksum):
		m.stats.RecordChecksumError()
		fmt.Fprintf(m.out, "[%s] \033[1;31mCHECKSUM ERROR:\033[0m %v\n", time.Now().Format("15:04:05.000"), err)
	case reply != nil:
		m.stats.RecordFrame(reply.Function)
		if reply.Function == espsync.FuncNak {
			m.stats.RecordNak(reply.NakCode())
		}
		fmt.Fprintln(m.out, espsync.FormatFrameAt(time.Now(), reply))
	}
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	statsInterval := viper.GetInt("raw_log.stats-interval")

	fmt.Printf("espsync - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if statsInterval > 0 {
		fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var console io.Writer
	if viper.GetBool("raw_log.console") {
		console = os.Stdout
	}
	m := newMonitor(os.Stdout, console)

	if err := conn.SetReadTimeout(200 * time.Millisecond); err != nil {
		return err
	}

	buf := make([]byte, 256)
	lastStats := time.Now()
	for ctx.Err() == nil {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			m.feed(buf[i])
		}
		if err != nil {
			// A read error on either transport means the connection is gone
			log.Printf("Connection closed: %v", err)
			break
		}

		if statsInterval > 0 && time.Since(lastStats) >= time.Duration(statsInterval)*time.Second {
			lastStats = time.Now()
			m.stats.CalculateRates()
			fmt.Println()
			fmt.Print(m.stats.String())
			fmt.Println()
		}
	}

	m.stats.CalculateRates()
	fmt.Println()
	fmt.Print(m.stats.String())
	return nil
}
