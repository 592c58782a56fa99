// SPDX-License-Identifier: GPL-3.0-or-later

package daemon_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsb-ucsc/nsb-beta/client"
	"github.com/nsb-ucsc/nsb-beta/config"
	"github.com/nsb-ucsc/nsb-beta/daemon"
	"github.com/nsb-ucsc/nsb-beta/store"
	"github.com/nsb-ucsc/nsb-beta/wire"
)

// startDaemon runs a daemon on an ephemeral loopback port and returns
// its address, stopping it when the test ends.
func startDaemon(t *testing.T, cfg *config.Config) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skip integration test in short mode")
	}
	cfg.ServerPort = 0
	d := daemon.New(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return d.Addr().String()
}

func defaultConfig() *config.Config {
	return &config.Config{SystemMode: wire.SystemModePull, SimulatorMode: wire.SimulatorModeSystemWide}
}

// TestTwoHopHello is spec.md §8 end-to-end scenario 1.
func TestTwoHopHello(t *testing.T) {
	addr := startDaemon(t, defaultConfig())
	ctx := context.Background()

	app1 := client.NewAppClient("node1", nil)
	require.NoError(t, app1.Initialize(ctx, addr))
	defer app1.Close()

	app2 := client.NewAppClient("node2", nil)
	require.NoError(t, app2.Initialize(ctx, addr))
	defer app2.Close()

	sim := client.NewSimClient("sim1", nil)
	require.NoError(t, sim.Initialize(ctx, addr))
	defer sim.Close()

	_, err := app1.Send(ctx, "node2", []byte("hi"))
	require.NoError(t, err)

	timeout := 2 * time.Second
	fetched, ok, err := sim.Fetch(ctx, "", &timeout)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "node1", fetched.Source)
	assert.Equal(t, "node2", fetched.Destination)
	assert.Equal(t, []byte("hi"), fetched.PayloadObj)

	_, err = sim.Post(ctx, fetched.Source, fetched.Destination, fetched.PayloadObj, wire.CodeMessage)
	require.NoError(t, err)

	received, ok, err := app2.Receive(ctx, "", &timeout)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "node1", received.Source)
	assert.Equal(t, "node2", received.Destination)
	assert.Equal(t, []byte("hi"), received.PayloadObj)
}

// TestNoMessageOnEmpty is spec.md §8 end-to-end scenario 3.
func TestNoMessageOnEmpty(t *testing.T) {
	addr := startDaemon(t, defaultConfig())
	ctx := context.Background()

	app := client.NewAppClient("node2", nil)
	require.NoError(t, app.Initialize(ctx, addr))
	defer app.Close()

	timeout := 200 * time.Millisecond
	_, ok, err := app.Receive(ctx, "node2", &timeout)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestPushForwarding is spec.md §8 end-to-end scenario 4.
func TestPushForwarding(t *testing.T) {
	cfg := &config.Config{SystemMode: wire.SystemModePush, SimulatorMode: wire.SimulatorModeSystemWide}
	addr := startDaemon(t, cfg)
	ctx := context.Background()

	app := client.NewAppClient("node1", nil)
	require.NoError(t, app.Initialize(ctx, addr))
	defer app.Close()

	sim := client.NewSimClient("sim1", nil)
	require.NoError(t, sim.Initialize(ctx, addr))
	defer sim.Close()

	fetchErrCh := make(chan error, 1)
	timeout := 2 * time.Second
	type result struct {
		source, dest string
		payload      []byte
		ok           bool
	}
	resultCh := make(chan result, 1)
	go func() {
		e, ok, err := sim.Fetch(ctx, "", &timeout)
		if err != nil {
			fetchErrCh <- err
			return
		}
		resultCh <- result{e.Source, e.Destination, e.PayloadObj, ok}
		fetchErrCh <- nil
	}()

	time.Sleep(50 * time.Millisecond) // let the sim start waiting on RECV
	_, err := app.Send(ctx, "node2", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, <-fetchErrCh)
	got := <-resultCh
	require.True(t, got.ok)
	assert.Equal(t, "node1", got.source)
	assert.Equal(t, "node2", got.dest)
	assert.Equal(t, []byte("x"), got.payload)
}

// TestOffloadRoundTrip is spec.md §8 end-to-end scenario 5, adapted to
// the PEEK-on-FETCH/TAKE-on-RECEIVE policy spec.md §9 recommends: the
// SEND's own offload key is only ever peeked by the sim, never taken,
// so it is the POST's freshly minted key that the store no longer
// holds after RECEIVE — not the original SEND key.
func TestOffloadRoundTrip(t *testing.T) {
	cfg := &config.Config{
		SystemMode: wire.SystemModePull, SimulatorMode: wire.SimulatorModeSystemWide,
		UseDB: true, DBAddress: "unused-in-this-test",
	}
	addr := startDaemon(t, cfg)
	ctx := context.Background()

	shared := store.NewMemStore()

	app := client.NewAppClient("node1", shared)
	require.NoError(t, app.Initialize(ctx, addr))
	defer app.Close()

	sim := client.NewSimClient("sim1", shared)
	require.NoError(t, sim.Initialize(ctx, addr))
	defer sim.Close()

	sendKey, err := app.Send(ctx, "node2", []byte("big"))
	require.NoError(t, err)
	require.NotEmpty(t, sendKey)

	timeout := 2 * time.Second
	fetched, ok, err := sim.Fetch(ctx, "", &timeout)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("big"), fetched.PayloadObj)

	// The original SEND key is still present: FETCH peeked, didn't take.
	_, peekErr := shared.Peek(ctx, sendKey)
	assert.NoError(t, peekErr)

	postKey, err := sim.Post(ctx, fetched.Source, fetched.Destination, fetched.PayloadObj, wire.CodeMessage)
	require.NoError(t, err)
	require.NotEmpty(t, postKey)

	app2 := client.NewAppClient("node2", shared)
	require.NoError(t, app2.Initialize(ctx, addr))
	defer app2.Close()

	received, ok, err := app2.Receive(ctx, "", &timeout)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("big"), received.PayloadObj)

	_, takeErr := shared.Take(ctx, postKey)
	assert.ErrorIs(t, takeErr, store.ErrNotFound, "RECEIVE takes, so the POST key is now gone")
}

// TestSystemWideDuplicateSim is spec.md §8 end-to-end scenario 6.
func TestSystemWideDuplicateSim(t *testing.T) {
	addr := startDaemon(t, defaultConfig())
	ctx := context.Background()

	sim1 := client.NewSimClient("sim1", nil)
	require.NoError(t, sim1.Initialize(ctx, addr))
	defer sim1.Close()

	sim2 := client.NewSimClient("sim2", nil)
	err := sim2.Initialize(ctx, addr)
	assert.Error(t, err)
}
