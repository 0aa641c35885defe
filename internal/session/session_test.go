package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamYueHW/advancedReport-server/internal/logger"
)

// fakeSender records every event sent to it, standing in for the
// transport layer in tests that don't need a real socket.
type fakeSender struct {
	mu     sync.Mutex
	events []sentEvent
	closed bool
}

type sentEvent struct {
	name   string
	fields map[string]interface{}
}

func (f *fakeSender) Send(event string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{name: event, fields: fields})
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSender) last() sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return sentEvent{}
	}
	return f.events[len(f.events)-1]
}

func (f *fakeSender) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.events))
	for i, e := range f.events {
		names[i] = e.name
	}
	return names
}

func (f *fakeSender) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestSession(sender *fakeSender) *Session {
	return New(Config{
		Sender: sender,
		Logger: logger.New("session-test", "test"),
	})
}

func TestNewSession_StartsInStateNew(t *testing.T) {
	s := newTestSession(&fakeSender{})
	assert.Equal(t, StateNew, s.State())
}

func TestHandleEvent_PingAlwaysAnsweredWithPong(t *testing.T) {
	sender := &fakeSender{}
	s := newTestSession(sender)

	s.HandleEvent(context.Background(), "ping", nil)

	require.Len(t, sender.events, 1)
	assert.Equal(t, "pong", sender.last().name)
}

func TestHandleEvent_NonIdentifyEventRejectedBeforeReady(t *testing.T) {
	sender := &fakeSender{}
	s := newTestSession(sender)

	s.HandleEvent(context.Background(), "sync_data", map[string]interface{}{"tableName": "MenuItem"})

	require.Len(t, sender.events, 1)
	assert.Equal(t, "identification_error", sender.last().name)
	assert.Equal(t, StateNew, s.State())
}

func TestHandleIdentify_MissingFieldsRejected(t *testing.T) {
	sender := &fakeSender{}
	s := newTestSession(sender)

	s.HandleEvent(context.Background(), "identify", map[string]interface{}{"storeId": "239"})

	require.Len(t, sender.events, 1)
	assert.Equal(t, "license_error", sender.last().name)
}

func TestHandleIdentify_LegacyServiceTypeBindsWithoutLicenseCheck(t *testing.T) {
	sender := &fakeSender{}
	s := newTestSession(sender)

	s.HandleEvent(context.Background(), "identify", map[string]interface{}{
		"storeId":     "239",
		"appId":       "A",
		"serviceType": "legacy_bridge",
	})

	require.Len(t, sender.events, 1)
	assert.Equal(t, "identified", sender.last().name)
	assert.Equal(t, StateReady, s.State())

	storeID, appID, bound := s.Identity()
	assert.True(t, bound)
	assert.Equal(t, "239", storeID)
	assert.Equal(t, "A", appID)
}

func TestHandleEvent_ReadyStateRoutesKnownEvent(t *testing.T) {
	sender := &fakeSender{}
	s := newTestSession(sender)

	s.HandleEvent(context.Background(), "identify", map[string]interface{}{
		"storeId":     "239",
		"appId":       "A",
		"serviceType": "legacy_bridge",
	})

	// csv_bulk_upload_start needs no database lookup, so it's routable even
	// with a nil tenantSvc — proof the event reached a READY-state handler
	// rather than being rejected as not-yet-identified.
	s.HandleEvent(context.Background(), "csv_bulk_upload_start", map[string]interface{}{
		"tableName":     "MenuItem",
		"fileName":      "menu.csv",
		"totalChunks":   2,
		"fileSizeBytes": 100,
		"rowCount":      10,
	})

	names := sender.names()
	require.Len(t, names, 1) // just "identified" — no reply expected for upload-start
	assert.Equal(t, "identified", names[0])

	s.mu.Lock()
	_, pending := s.pendingUploads["A:menu.csv"]
	s.mu.Unlock()
	assert.True(t, pending)
}

func TestHandleDisconnect_ClearsPendingStateAndCloses(t *testing.T) {
	sender := &fakeSender{}
	s := newTestSession(sender)
	s.HandleEvent(context.Background(), "identify", map[string]interface{}{
		"storeId":     "239",
		"appId":       "A",
		"serviceType": "legacy_bridge",
	})

	s.mu.Lock()
	s.pendingUploads["A:file.csv"] = nil
	s.fullSyncActive = true
	s.mu.Unlock()

	s.HandleEvent(context.Background(), "disconnect", nil)

	assert.Equal(t, StateClosed, s.State())
	s.mu.Lock()
	pendingCount := len(s.pendingUploads)
	fullSync := s.fullSyncActive
	s.mu.Unlock()
	assert.Zero(t, pendingCount)
	assert.False(t, fullSync)
}

func TestFailIdentification_ClosesSessionAfterGracePeriod(t *testing.T) {
	sender := &fakeSender{}
	s := newTestSession(sender)

	// Missing appId/serviceType drives failIdentification without touching
	// tenantSvc, which is nil in this test session.
	s.HandleEvent(context.Background(), "identify", map[string]interface{}{"storeId": "239"})

	require.Len(t, sender.events, 1)
	assert.Equal(t, StateIdentifying, s.State())
	assert.False(t, sender.isClosed())

	require.Eventually(t, func() bool {
		return sender.isClosed()
	}, 2*identificationGrace, 5*time.Millisecond)
	assert.Equal(t, StateClosed, s.State())
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNew, "new"},
		{StateIdentifying, "identifying"},
		{StateReady, "ready"},
		{StateClosed, "closed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
