// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bridge starts a WebSocket server that hands each connection to handle
func bridge(t *testing.T, handle func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		handle(c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketConnection_ReadTimeoutKeepsConnection(t *testing.T) {
	send := make(chan []byte)
	url := bridge(t, func(c *websocket.Conn) {
		for data := range send {
			if err := c.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		}
	})

	defer close(send)

	conn, err := OpenWebSocketConnection(url, "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadTimeout(20*time.Millisecond))
	buf := make([]byte, 4)
	n, err := conn.Read(buf)
	assert.NoError(t, err)
	assert.Zero(t, n, "timed out read should return no bytes")

	send <- []byte{1, 2, 3, 4, 5, 6}
	require.NoError(t, conn.SetReadTimeout(time.Second))
	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf[:n])

	// The rest of the message is returned without waiting
	require.NoError(t, conn.SetReadTimeout(0))
	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6}, buf[:n])
}

func TestWebSocketConnection_SkipsTextMessages(t *testing.T) {
	url := bridge(t, func(c *websocket.Conn) {
		c.WriteMessage(websocket.TextMessage, []byte("hello"))
		c.WriteMessage(websocket.BinaryMessage, []byte{0x02})
		time.Sleep(200 * time.Millisecond)
	})

	conn, err := OpenWebSocketConnection(url, "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadTimeout(time.Second))
	buf := make([]byte, 8)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, buf[:n])
}

func TestWebSocketConnection_Echo(t *testing.T) {
	url := bridge(t, func(c *websocket.Conn) {
		mt, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		c.WriteMessage(mt, data)
	})

	conn, err := OpenWebSocketConnection(url, "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadTimeout(time.Second))
	buf := make([]byte, 8)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
}

func TestWebSocketConnection_PeerClose(t *testing.T) {
	url := bridge(t, func(c *websocket.Conn) {})

	conn, err := OpenWebSocketConnection(url, "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadTimeout(2*time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.True(t, errors.Is(err, ErrConnectionClosed), "error = %v", err)
}

func TestOpenWebSocketConnection_RejectsScheme(t *testing.T) {
	_, err := OpenWebSocketConnection("http://example.com/ws", "", "", false)
	assert.ErrorContains(t, err, "unsupported URL scheme")
}
