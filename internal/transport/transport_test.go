package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamYueHW/advancedReport-server/internal/health"
	"github.com/SamYueHW/advancedReport-server/internal/logger"
	"github.com/SamYueHW/advancedReport-server/internal/session"
)

func testFactory() SessionFactory {
	return func(sender session.Sender) *session.Session {
		return session.New(session.Config{
			Sender: sender,
			Logger: logger.New("transport-test", "test"),
		})
	}
}

func newTestManager(t *testing.T) (*Manager, *httptest.Server) {
	cfg := DefaultConfig()
	cfg.PollSessionTimeout = time.Hour

	m := NewManager(cfg, testFactory(), logger.New("transport-test", "test"))
	mux := http.NewServeMux()
	mux.HandleFunc("/socket", m.handleSocket)
	mux.HandleFunc("/socket/poll/connect", m.handlePollConnect)
	mux.HandleFunc("/socket/poll/send", m.handlePollSend)
	mux.HandleFunc("/socket/poll/recv", m.handlePollRecv)
	mux.HandleFunc("/healthz", m.handleHealth)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return m, srv
}

func TestHandleSocket_PingGetsPong(t *testing.T) {
	_, srv := newTestManager(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Frame{Event: "ping"}))

	var got Frame
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "pong", got.Event)
}

func TestHandleSocket_IdentifyThenSyncDataRoundTrip(t *testing.T) {
	_, srv := newTestManager(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Frame{
		Event: "identify",
		Fields: map[string]interface{}{
			"storeId":     "239",
			"appId":       "A",
			"serviceType": "legacy_bridge",
		},
	}))

	var identified Frame
	require.NoError(t, conn.ReadJSON(&identified))
	assert.Equal(t, "identified", identified.Event)
}

func TestPollSession_ConnectSendRecv(t *testing.T) {
	_, srv := newTestManager(t)

	resp, err := http.Post(srv.URL+"/socket/poll/connect", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()

	var connectBody struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&connectBody))
	require.NotEmpty(t, connectBody.SessionID)

	sendBody, _ := json.Marshal(map[string]interface{}{
		"sessionId": connectBody.SessionID,
		"event":     "identify",
		"fields": map[string]interface{}{
			"storeId":     "239",
			"appId":       "A",
			"serviceType": "legacy_bridge",
		},
	})
	sendResp, err := http.Post(srv.URL+"/socket/poll/send", "application/json", strings.NewReader(string(sendBody)))
	require.NoError(t, err)
	sendResp.Body.Close()

	recvResp, err := http.Get(srv.URL + "/socket/poll/recv?sessionId=" + connectBody.SessionID)
	require.NoError(t, err)
	defer recvResp.Body.Close()

	var recvBody struct {
		Frames []Frame `json:"frames"`
	}
	require.NoError(t, json.NewDecoder(recvResp.Body).Decode(&recvBody))
	require.Len(t, recvBody.Frames, 1)
	assert.Equal(t, "identified", recvBody.Frames[0].Event)
}

func TestPollSession_UnknownSessionRejected(t *testing.T) {
	_, srv := newTestManager(t)

	resp, err := http.Get(srv.URL + "/socket/poll/recv?sessionId=does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleHealth_ReportsCheckerStatus(t *testing.T) {
	m, srv := newTestManager(t)
	checker := health.NewChecker()
	checker.RunCheck("directory", func() error { return nil })
	m.WithHealthChecker(checker)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, string(health.StatusHealthy), body.Status)
}

func TestSweepIdlePolls_ClosesExpiredSessions(t *testing.T) {
	m, _ := newTestManager(t)
	m.config.PollSessionTimeout = time.Millisecond

	sender := &pollSender{}
	sess := testFactory()(sender)
	m.mu.Lock()
	m.polls["stale"] = &pollSession{session: sess, sender: sender, lastActive: time.Now().Add(-time.Hour)}
	m.mu.Unlock()

	m.sweepIdlePolls()

	m.mu.Lock()
	_, exists := m.polls["stale"]
	m.mu.Unlock()
	assert.False(t, exists)

	sender.mu.Lock()
	closed := sender.closed
	sender.mu.Unlock()
	assert.True(t, closed)
}
