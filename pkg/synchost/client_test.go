// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package synchost_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/espsync/pkg/espsync"
	"github.com/Thermoquad/espsync/pkg/espsync/espsynctest"
	"github.com/Thermoquad/espsync/pkg/flashfs"
	"github.com/Thermoquad/espsync/pkg/synchost"
)

type device struct {
	store  *flashfs.Store
	clock  *espsynctest.Clock
	engine *espsync.Engine
}

// connect starts an engine on one end of a pipe and returns a client on
// the other
func connect(t *testing.T) (*synchost.Client, *device) {
	t.Helper()
	host, dev := espsynctest.Pipe()
	store := flashfs.New(afero.NewMemMapFs(),
		flashfs.WithCapacity(64*1024),
		flashfs.WithMaxPathLength(24),
	)
	require.NoError(t, store.Begin())

	d := &device{store: store, clock: &espsynctest.Clock{}}
	d.engine = espsync.New(dev, store,
		espsync.WithClock(d.clock),
		espsync.WithPollInterval(5*time.Millisecond),
		espsync.WithStreamTimeout(50*time.Millisecond),
		espsync.WithFormatDuration(2*time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.engine.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return")
		}
	})

	return synchost.NewClient(host, synchost.WithReplyTimeout(time.Second)), d
}

func TestClient_Ping(t *testing.T) {
	c, _ := connect(t)

	rtt, err := c.Ping(context.Background(), 500)
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
	assert.Equal(t, uint8(1), c.Tag())
}

func TestClient_TagWraps(t *testing.T) {
	c, _ := connect(t)

	for i := 0; i <= espsync.MaxTag; i++ {
		_, err := c.Ping(context.Background(), 10)
		require.NoError(t, err, "ping %d", i)
	}
	assert.Equal(t, uint8(0), c.Tag())
}

func TestClient_SetTime(t *testing.T) {
	c, d := connect(t)

	when := time.Date(2025, 7, 4, 9, 15, 30, 0, time.UTC)
	require.NoError(t, c.SetTime(context.Background(), when))

	got, ok := d.clock.Last()
	require.True(t, ok)
	assert.True(t, got.Equal(when), "clock = %s", got)

	assert.Error(t, c.SetTime(context.Background(), time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestClient_UploadListRenameRemove(t *testing.T) {
	c, d := connect(t)
	ctx := context.Background()
	data := []byte("{\"mode\":\"auto\"}")
	when := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	space, err := c.SendFile(ctx, "/config.json", when, data)
	require.NoError(t, err)
	assert.Equal(t, uint32(64*1024), space.Total)
	assert.Equal(t, uint32(64*1024-256), space.Free)
	assert.True(t, d.store.Exists("/config.json"))

	l, err := c.List(ctx, espsync.ListTimestamp|espsync.ListChecksum)
	require.NoError(t, err)
	assert.Equal(t, 24, l.MaxPathLength)
	require.Len(t, l.Entries, 1)
	ent := l.Entries[0]
	assert.Equal(t, "/config.json", ent.Name)
	assert.Equal(t, uint32(len(data)), ent.Size)
	assert.True(t, ent.ModTime.Equal(when), "ModTime = %s", ent.ModTime)
	assert.Equal(t, espsync.Checksum32(data), ent.Checksum)

	_, err = c.Rename(ctx, "/config.json", "/config.old")
	require.NoError(t, err)
	assert.False(t, d.store.Exists("/config.json"))

	space, err = c.Remove(ctx, "/config.old")
	require.NoError(t, err)
	assert.Equal(t, space.Total, space.Free)

	l, err = c.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, l.Entries)
}

func TestClient_Format(t *testing.T) {
	c, d := connect(t)
	ctx := context.Background()

	_, err := c.SendFile(ctx, "a", time.Time{}, []byte("1"))
	require.NoError(t, err)

	res, err := c.Format(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(64*1024), res.Total)
	assert.Zero(t, res.Used)
	assert.Equal(t, 24, res.MaxPathLength)
	assert.False(t, d.store.Exists("a"))
}

func TestClient_NakBecomesError(t *testing.T) {
	c, _ := connect(t)
	ctx := context.Background()

	_, err := c.Remove(ctx, "/missing")
	var nakErr *espsync.NakError
	require.True(t, errors.As(err, &nakErr), "error = %v", err)
	assert.Equal(t, espsync.NakNotFound, nakErr.Code)
	assert.Equal(t, espsync.CmdRemove, nakErr.Op)

	_, err = c.SendFile(ctx, "a", time.Time{}, []byte("1"))
	require.NoError(t, err)
	_, err = c.SendFile(ctx, "b", time.Time{}, []byte("2"))
	require.NoError(t, err)
	_, err = c.Rename(ctx, "a", "b")
	code, ok := espsync.NakCodeOf(err)
	require.True(t, ok, "error = %v", err)
	assert.Equal(t, espsync.NakExists, code)

	// the link is still usable after a NAK
	_, err = c.Ping(ctx, 100)
	assert.NoError(t, err)
}

func TestClient_NoReply(t *testing.T) {
	host, _ := espsynctest.Pipe()
	c := synchost.NewClient(host, synchost.WithReplyTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := c.Ping(context.Background(), 10)
	assert.ErrorIs(t, err, synchost.ErrNoReply)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_ContextCancelled(t *testing.T) {
	host, _ := espsynctest.Pipe()
	c := synchost.NewClient(host, synchost.WithReplyTimeout(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Ping(ctx, 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_SkipsStaleReplies(t *testing.T) {
	host, dev := espsynctest.Pipe()
	c := synchost.NewClient(host, synchost.WithReplyTimeout(time.Second))

	// a late answer to an earlier tag arrives before the real one
	_, err := dev.Write(espsync.EncodeAck(espsync.FromDevice, 30, 10))
	require.NoError(t, err)
	_, err = dev.Write(espsync.EncodeAck(espsync.FromDevice, 0, 10))
	require.NoError(t, err)

	_, err = c.Ping(context.Background(), 10)
	assert.NoError(t, err)
}
