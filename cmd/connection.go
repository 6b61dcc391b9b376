// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/viper"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/espsync/pkg/espsync"
)

// Connection is an espsync.Link that can be closed. Reads that time out
// return (0, nil).
type Connection interface {
	espsync.Link
	io.Closer
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// SetReadTimeout maps directly onto the port; a negative timeout blocks
func (s *SerialConnection) SetReadTimeout(t time.Duration) error {
	if t < 0 {
		t = serial.NoTimeout
	}
	return s.port.SetReadTimeout(t)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// WebSocketConnection wraps a WebSocket connection for byte-level reading.
// A background reader feeds binary messages to Read so that read timeouts
// never touch the socket deadline; gorilla/websocket treats an expired read
// deadline as a permanent failure.
type WebSocketConnection struct {
	conn *websocket.Conn
	msgs chan []byte
	buf  []byte

	mu      sync.Mutex
	timeout time.Duration

	failed    chan struct{}
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

func newWebSocketConnection(conn *websocket.Conn) *WebSocketConnection {
	w := &WebSocketConnection{
		conn:    conn,
		msgs:    make(chan []byte, 16),
		timeout: -1,
		failed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocketConnection) readLoop() {
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.err = err
			close(w.failed)
			return
		}

		// Only binary messages carry protocol bytes
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}

		select {
		case w.msgs <- data:
		case <-w.done:
			return
		}
	}
}

// SetReadTimeout sets how long Read waits for the next message
func (w *WebSocketConnection) SetReadTimeout(t time.Duration) error {
	w.mu.Lock()
	w.timeout = t
	w.mu.Unlock()
	return nil
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	// If we have buffered data, return it first
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		return n, nil
	}

	w.mu.Lock()
	timeout := w.timeout
	w.mu.Unlock()

	var expired <-chan time.Time
	switch {
	case timeout == 0:
		select {
		case data := <-w.msgs:
			return w.deliver(p, data), nil
		default:
			return 0, nil
		}
	case timeout > 0:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case data := <-w.msgs:
		return w.deliver(p, data), nil
	case <-w.failed:
		// Hand over anything received before the failure
		select {
		case data := <-w.msgs:
			return w.deliver(p, data), nil
		default:
		}
		return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, w.err)
	case <-w.done:
		return 0, ErrConnectionClosed
	case <-expired:
		return 0, nil
	}
}

func (w *WebSocketConnection) deliver(p, data []byte) int {
	n := copy(p, data)
	w.buf = data[n:]
	return n
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketConnection(conn), nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("ESPSYNC_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal: fall back to a plain line
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// wsPassword is prompted for once and reused when reconnecting
var wsPassword string

// OpenConnection opens either a serial or WebSocket connection based on the
// configured flags
func OpenConnection() (Connection, string, error) {
	if wsURL := viper.GetString("url"); wsURL != "" {
		username := viper.GetString("username")
		if username != "" && wsPassword == "" {
			var err error
			wsPassword, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(wsURL, username, wsPassword, viper.GetBool("no-ssl-verify"))
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName := viper.GetString("port"); portName != "" {
		baudRate := viper.GetInt("baud")
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}
