// SPDX-License-Identifier: GPL-3.0-or-later

package registry

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsb-ucsc/nsb-beta/wire"
)

func fakeConnPair() (net.Conn, net.Conn) {
	return net.Pipe()
}

func TestResolveConnRoundTrip(t *testing.T) {
	r := New(wire.SimulatorModeSystemWide)
	a, b := fakeConnPair()
	defer a.Close()
	defer b.Close()

	key := AddrPortKey("127.0.0.1", 40001)
	r.RegisterConn(key, a)

	got, ok := r.ResolveConn(key)
	require.True(t, ok)
	assert.Equal(t, a, got)

	_, ok = r.ResolveConn(key)
	assert.False(t, ok, "ResolveConn should consume the entry")
}

func TestHasPendingConnDoesNotConsume(t *testing.T) {
	r := New(wire.SimulatorModeSystemWide)
	a, b := fakeConnPair()
	defer a.Close()
	defer b.Close()

	key := AddrPortKey("127.0.0.1", 40002)
	assert.False(t, r.HasPendingConn(key))

	r.RegisterConn(key, a)
	assert.True(t, r.HasPendingConn(key))
	assert.True(t, r.HasPendingConn(key), "HasPendingConn must not consume the entry")

	got, ok := r.ResolveConn(key)
	require.True(t, ok)
	assert.Equal(t, a, got)
	assert.False(t, r.HasPendingConn(key))
}

func TestRegisterClientApp(t *testing.T) {
	r := New(wire.SimulatorModeSystemWide)
	d := &ClientDetails{Identifier: "node1", Originator: wire.OriginatorApp}
	require.NoError(t, r.RegisterClient(d))

	got, ok := r.App("node1")
	require.True(t, ok)
	assert.Equal(t, "node1", got.Identifier)
}

func TestRegisterClientDuplicateAppReplaces(t *testing.T) {
	r := New(wire.SimulatorModeSystemWide)
	first := &ClientDetails{Identifier: "node1", Originator: wire.OriginatorApp, Address: "first"}
	second := &ClientDetails{Identifier: "node1", Originator: wire.OriginatorApp, Address: "second"}
	require.NoError(t, r.RegisterClient(first))
	require.NoError(t, r.RegisterClient(second))

	got, ok := r.App("node1")
	require.True(t, ok)
	assert.Equal(t, "second", got.Address)
}

func TestRegisterClientSystemWideDuplicateSimFails(t *testing.T) {
	r := New(wire.SimulatorModeSystemWide)
	first := &ClientDetails{Identifier: "sim1", Originator: wire.OriginatorSim}
	second := &ClientDetails{Identifier: "sim2", Originator: wire.OriginatorSim}
	require.NoError(t, r.RegisterClient(first))
	assert.Error(t, r.RegisterClient(second))
}

func TestRegisterClientPerNodeAllowsMultipleSims(t *testing.T) {
	r := New(wire.SimulatorModePerNode)
	first := &ClientDetails{Identifier: "sim1", Originator: wire.OriginatorSim}
	second := &ClientDetails{Identifier: "sim2", Originator: wire.OriginatorSim}
	require.NoError(t, r.RegisterClient(first))
	require.NoError(t, r.RegisterClient(second))

	got, ok := r.Sim("sim2")
	require.True(t, ok)
	assert.Equal(t, "sim2", got.Identifier)
}

func TestSimSystemWideIgnoresIdentifier(t *testing.T) {
	r := New(wire.SimulatorModeSystemWide)
	require.NoError(t, r.RegisterClient(&ClientDetails{Identifier: "sim1", Originator: wire.OriginatorSim}))

	got, ok := r.Sim("anything-at-all")
	require.True(t, ok)
	assert.Equal(t, "sim1", got.Identifier)
}

func TestRegisterClientRejectsUnknownOriginator(t *testing.T) {
	r := New(wire.SimulatorModeSystemWide)
	err := r.RegisterClient(&ClientDetails{Identifier: "x", Originator: wire.OriginatorDaemon})
	assert.Error(t, err)
}

func TestRemoveConnRemovesFromAppsAndAddrTable(t *testing.T) {
	r := New(wire.SimulatorModeSystemWide)
	a, b := fakeConnPair()
	defer a.Close()
	defer b.Close()

	r.RegisterConn("leftover", a)
	require.NoError(t, r.RegisterClient(&ClientDetails{
		Identifier: "node1", Originator: wire.OriginatorApp, Ctrl: a,
	}))

	id, og, label, found := r.RemoveConn(a)
	require.True(t, found)
	assert.Equal(t, "node1", id)
	assert.Equal(t, wire.OriginatorApp, og)
	assert.Equal(t, ChannelCtrl, label)

	_, ok := r.App("node1")
	assert.False(t, ok)
}

func TestRemoveConnNotFound(t *testing.T) {
	r := New(wire.SimulatorModeSystemWide)
	a, b := fakeConnPair()
	defer a.Close()
	defer b.Close()

	_, _, _, found := r.RemoveConn(a)
	assert.False(t, found)
}
