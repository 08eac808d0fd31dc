// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package engine

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/rapidaai/lkengine/internal/logging"
	"github.com/rapidaai/lkengine/pkg/signaling"
)

func TestQueue_PushFrontJumpsAheadOfPushBack(t *testing.T) {
	q := newQueue(0, logging.NewNop())
	q.pushBack(Event{Kind: EventCmdConnect})
	q.pushBack(Event{Kind: EventCmdClose})
	q.pushFront(Event{Kind: EventTimerExpired})

	ev, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, EventTimerExpired, ev.Kind)

	ev, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, EventCmdConnect, ev.Kind)
}

func TestQueue_OverflowDropsEvent(t *testing.T) {
	q := newQueue(1, logging.NewNop())
	assert.True(t, q.pushBack(Event{Kind: EventCmdConnect}))
	assert.False(t, q.pushBack(Event{Kind: EventCmdClose}))

	ev, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, EventCmdConnect, ev.Kind)
}

func TestQueue_PushAfterCloseFails(t *testing.T) {
	q := newQueue(0, logging.NewNop())
	q.close()
	assert.False(t, q.pushBack(Event{Kind: EventCmdConnect}))

	_, ok := q.pop()
	assert.False(t, ok)
}

func TestQueue_DrainReturnsCountAndEmpties(t *testing.T) {
	q := newQueue(0, logging.NewNop())
	q.pushBack(Event{Kind: EventCmdConnect})
	q.pushBack(Event{Kind: EventCmdClose})

	assert.Equal(t, 2, q.drain())
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestEngine_ConnectRejectsEmptyArgs(t *testing.T) {
	e := newTestEngine(t, Options{})
	assert.ErrorIs(t, e.Connect("", "tok"), ErrInvalidArg)
	assert.ErrorIs(t, e.Connect("ws://host", ""), ErrInvalidArg)
}

func TestEngine_SendDataPacketRejectsNilPacket(t *testing.T) {
	e := newTestEngine(t, Options{})
	err := e.SendDataPacket(nil, true)
	assert.ErrorIs(t, err, ErrInvalidArg)
}

// newJoinEchoServer accepts one WebSocket connection and immediately
// writes a minimal hand-encoded Join response, mirroring
// pkg/signaling's transport_test.go helper so the engine's happy path
// can be driven without a real LiveKit server.
func newJoinEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		participant := appendStringField(nil, 1, "PA_1")
		join := appendEmbedded(nil, 2, participant)
		buf := appendEmbedded(nil, 1, join)
		if err := conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
			return
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func appendEmbedded(b []byte, num protowire.Number, payload []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(len(payload)))
	return append(b, payload...)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// TestEngine_HappyPathReachesConnecting drives the engine through
// Disconnected -> Connecting against a real WebSocket server that answers
// with a Join response. Reaching the publisher/subscriber Connected state
// needs a real remote ICE/DTLS counterpart, out of reach for a unit test
// (spec scenario 1 covers that end-to-end at the integration level); this
// test only checks the engine survives processing the Join without
// faulting back into Backoff/Reconnecting within the window.
func TestEngine_HappyPathReachesConnecting(t *testing.T) {
	srv := newJoinEchoServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	var mu sync.Mutex
	var states []ExternalState
	e := newTestEngine(t, Options{
		OnStateChanged: func(s ExternalState) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s)
		},
	})

	go e.Run()
	defer e.Close()

	require.NoError(t, e.Connect(wsURL, "tok"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) > 0
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, ExternalConnecting)
	assert.NotContains(t, states, ExternalReconnecting)
	assert.NotContains(t, states, ExternalFailed)
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	e := newTestEngine(t, Options{})
	go e.Run()

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestEngine_GetFailureReasonReflectsSignalTransport(t *testing.T) {
	e := newTestEngine(t, Options{})
	assert.Equal(t, signaling.FailureReasonNone, e.GetFailureReason())
}
