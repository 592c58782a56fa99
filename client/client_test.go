// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nsb-ucsc/nsb-beta/wire"
)

// serverSide reads one frame from conn and returns it, used to inspect
// what a client call put on the wire without running a real daemon.
func serverSide(t *testing.T, conn net.Conn) *wire.Message {
	t.Helper()
	msg, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	return msg
}

func newTestAppClient(t *testing.T, st *MockStore, useDB bool) (*AppClient, net.Conn) {
	t.Helper()
	clientSend, serverRecv := net.Pipe()
	t.Cleanup(func() { clientSend.Close(); serverRecv.Close() })

	c := &AppClient{baseClient{
		identifier: "node1",
		originator: wire.OriginatorApp,
		store:      st,
		send:       clientSend,
		config:     &wire.ConfigParams{UseDB: useDB},
	}}
	return c, serverRecv
}

func TestSendInlineWhenOffloadDisabled(t *testing.T) {
	c, server := newTestAppClient(t, nil, false)

	go func() {
		_, err := c.Send(context.Background(), "node2", []byte("hi"))
		assert.NoError(t, err)
	}()

	msg := serverSide(t, server)
	assert.Equal(t, []byte("hi"), msg.Payload)
	assert.Empty(t, msg.MsgKey)
}

func TestSendOffloadsWhenEnabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockStore := NewMockStore(ctrl)
	mockStore.EXPECT().Put(gomock.Any(), "node1", []byte("big")).Return("key-1", nil)

	c, server := newTestAppClient(t, mockStore, true)

	go func() {
		key, err := c.Send(context.Background(), "node2", []byte("big"))
		assert.NoError(t, err)
		assert.Equal(t, "key-1", key)
	}()

	msg := serverSide(t, server)
	assert.Nil(t, msg.Payload)
	assert.Equal(t, "key-1", msg.MsgKey)
}

func TestReceiveTakesFromStoreOnMsgKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockStore := NewMockStore(ctrl)
	mockStore.EXPECT().Take(gomock.Any(), "key-1").Return([]byte("big"), nil)

	clientRecv, serverSend := net.Pipe()
	defer clientRecv.Close()
	defer serverSend.Close()

	c := &AppClient{baseClient{
		identifier: "node2",
		originator: wire.OriginatorApp,
		store:      mockStore,
		recv:       clientRecv,
		config:     &wire.ConfigParams{},
	}}

	go func() {
		// Drain the RECEIVE request the poll loop sends, then answer once.
		_, err := wire.ReadFrame(serverSend)
		assert.NoError(t, err)
		assert.NoError(t, wire.WriteFrame(serverSend, &wire.Message{
			Manifest: wire.Manifest{Op: wire.OpReceive, Og: wire.OriginatorDaemon, Code: wire.CodeMessage},
			Metadata: &wire.Metadata{SrcID: "node1", DestID: "node2", PayloadSize: 3},
			MsgKey:   "key-1",
		}))
	}()

	zero := time.Duration(0)
	entry, ok, err := c.Receive(context.Background(), "node2", &zero)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("big"), entry.PayloadObj)
}

func TestReceiveNoMessageReturnsFalse(t *testing.T) {
	clientRecv, serverSend := net.Pipe()
	defer clientRecv.Close()
	defer serverSend.Close()

	c := &AppClient{baseClient{
		identifier: "node2",
		originator: wire.OriginatorApp,
		recv:       clientRecv,
		config:     &wire.ConfigParams{},
	}}

	go func() {
		_, err := wire.ReadFrame(serverSend)
		assert.NoError(t, err)
		assert.NoError(t, wire.WriteFrame(serverSend, &wire.Message{
			Manifest: wire.Manifest{Op: wire.OpReceive, Og: wire.OriginatorDaemon, Code: wire.CodeNoMessage},
		}))
	}()

	zero := time.Duration(0)
	_, ok, err := c.Receive(context.Background(), "node2", &zero)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPingReportsDaemonCode(t *testing.T) {
	clientCtrl, serverCtrl := net.Pipe()
	defer clientCtrl.Close()
	defer serverCtrl.Close()

	c := &baseClient{originator: wire.OriginatorApp, ctrl: clientCtrl}

	go func() {
		_, err := wire.ReadFrame(serverCtrl)
		assert.NoError(t, err)
		assert.NoError(t, wire.WriteFrame(serverCtrl, &wire.Message{
			Manifest: wire.Manifest{Op: wire.OpPing, Og: wire.OriginatorDaemon, Code: wire.CodeSuccess},
		}))
	}()

	ok, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}
