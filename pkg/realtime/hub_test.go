package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillforge/quillforge/pkg/auth"
	"github.com/quillforge/quillforge/pkg/events"
	"github.com/quillforge/quillforge/pkg/logging"
	"github.com/quillforge/quillforge/pkg/types"
)

func testGateway(t *testing.T) *auth.Gateway {
	t.Helper()
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)
	limiter := auth.NewRateLimiter(map[string]int{}, time.Minute)
	return auth.NewGateway(issuer, limiter)
}

func issueCredential(t *testing.T, issuer *auth.TokenIssuer, subject types.Subject) string {
	t.Helper()
	token, _, err := issuer.Issue(subject)
	require.NoError(t, err)
	return token
}

func TestHub_AcceptAndDispatch_DeliversWorkspaceEvent(t *testing.T) {
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)
	limiter := auth.NewRateLimiter(map[string]int{}, time.Minute)
	gateway := auth.NewGateway(issuer, limiter)
	bus := events.NewMemoryEventBus()
	logger := logging.NewStdLogger("realtime-test", logging.LevelError)
	hub := NewHub(gateway, bus, logger, nil, 50*time.Millisecond)

	subject := types.Subject{UserID: "u1", WorkspaceID: "w1", Role: types.RoleMember}
	credential := issueCredential(t, issuer, subject)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred := r.URL.Query().Get("token")
		require.NoError(t, hub.Accept(w, r, cred, "w1"))
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=" + credential
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), events.WorkspaceTopic("w1"), &types.EventEnvelope{
		Kind:    types.EventTransformationComplete,
		Payload: map[string]interface{}{"id": "t1"},
	}))

	// Accept publishes presence.join on the workspace topic the session has
	// just subscribed to, so the session may receive its own join first.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var data []byte
	for {
		_, data, err = conn.ReadMessage()
		require.NoError(t, err)
		if !strings.Contains(string(data), string(types.EventPresenceJoin)) {
			break
		}
	}
	assert.Contains(t, string(data), "transformation.completed")
	assert.Contains(t, string(data), "t1")
}

func TestHub_WorkspaceMismatch_RejectsHandshake(t *testing.T) {
	gateway := testGateway(t)
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)
	bus := events.NewMemoryEventBus()
	logger := logging.NewStdLogger("realtime-test", logging.LevelError)
	hub := NewHub(gateway, bus, logger, nil, time.Minute)

	subject := types.Subject{UserID: "u1", WorkspaceID: "w1"}
	credential := issueCredential(t, issuer, subject)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := hub.Accept(w, r, r.URL.Query().Get("token"), "w2")
		assert.Error(t, err)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=" + credential
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSessionEnqueue_DropsOldestNonTerminal_NeverDropsTerminal(t *testing.T) {
	sess := &session{capacity: 2, wake: make(chan struct{}, 1)}

	sess.enqueue(&types.EventEnvelope{Kind: types.EventTransformationStarted})
	sess.enqueue(&types.EventEnvelope{Kind: types.EventTransformationStarted})
	// Queue full of two non-terminal events; a terminal arrival must evict
	// the oldest non-terminal rather than being dropped itself.
	sess.enqueue(&types.EventEnvelope{Kind: types.EventTransformationComplete})

	drained := sess.drain()
	require.Len(t, drained, 2)
	assert.Equal(t, types.EventTransformationStarted, drained[0].Kind)
	assert.Equal(t, types.EventTransformationComplete, drained[1].Kind)
}

func TestSessionEnqueue_AllTerminalQueued_DropsIncomingNonTerminal(t *testing.T) {
	sess := &session{capacity: 1, wake: make(chan struct{}, 1)}

	sess.enqueue(&types.EventEnvelope{Kind: types.EventTransformationComplete})
	sess.enqueue(&types.EventEnvelope{Kind: types.EventTransformationStarted})

	drained := sess.drain()
	require.Len(t, drained, 1)
	assert.Equal(t, types.EventTransformationComplete, drained[0].Kind)
	assert.EqualValues(t, 1, sess.dropped)
}
