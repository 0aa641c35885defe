// Package session implements the Session Controller: one state machine per
// accepted connection, owning identification, the license gate,
// per-event routing, and cancellation on disconnect. Grounded on the
// teacher's per-connection goroutine model in
// services/mesh/internal/transport/ws/transport.go's
// handleConnection/handleVirtualLink pair — read the handshake first,
// bind identity, then loop on events for the life of the connection — and
// on pkg/service.BaseService's mutex-guarded state field, stripped of the
// supervisor-registration steps that don't apply to a peer session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SamYueHW/advancedReport-server/internal/apperr"
	"github.com/SamYueHW/advancedReport-server/internal/csv"
	"github.com/SamYueHW/advancedReport-server/internal/logger"
	"github.com/SamYueHW/advancedReport-server/internal/rowops"
	"github.com/SamYueHW/advancedReport-server/internal/store"
	"github.com/SamYueHW/advancedReport-server/internal/tenant"
)

// State is one node of the session state machine.
type State int

const (
	StateNew State = iota
	StateIdentifying
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateIdentifying:
		return "identifying"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// advancedOnlineReport is the only serviceType that triggers the license
// gate; legacy sessions bind tenant fields without it.
const advancedOnlineReport = "advanced_online_report"

// identificationGrace is how long a session with a failed identification is
// kept open after emitting its error event, so the peer can observe it.
const identificationGrace = time.Second

// Sender delivers one outbound event to this session's peer. Implemented
// by the transport layer; kept as an interface here so the controller has
// no dependency on the websocket library.
type Sender interface {
	Send(event string, fields map[string]interface{}) error
	Close() error
}

// Session is one connected client's state, from accept to disconnect.
type Session struct {
	SocketID string

	mu             sync.Mutex
	state          State
	storeID        string
	appID          string
	serviceType    string
	licenseInfo    *tenant.ValidationResult
	fullSyncActive bool
	pendingUploads map[string]*csv.ChunkAccumulator

	tenantSvc  *tenant.Service
	dispatcher *rowops.Dispatcher
	store      *store.Manager
	sender     Sender
	logger     *logger.Logger

	uploadsDir string
}

// Config configures a new Session's backing services.
type Config struct {
	TenantService *tenant.Service
	Dispatcher    *rowops.Dispatcher
	Store         *store.Manager
	Sender        Sender
	Logger        *logger.Logger
	UploadsDir    string
}

// New creates a Session in StateNew, accepting no events but identify and
// ping until identification completes.
func New(cfg Config) *Session {
	return &Session{
		SocketID:       uuid.NewString(),
		state:          StateNew,
		pendingUploads: make(map[string]*csv.ChunkAccumulator),
		tenantSvc:      cfg.TenantService,
		dispatcher:     cfg.Dispatcher,
		store:          cfg.Store,
		sender:         cfg.Sender,
		logger:         cfg.Logger,
		uploadsDir:     cfg.UploadsDir,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the bound tenant identity, if any.
func (s *Session) Identity() (storeID, appID string, bound bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeID, s.appID, s.storeID != "" && s.appID != ""
}

// HandleEvent dispatches one inbound event to the right handler. Any event
// other than "identify" and "ping" is rejected with a routing error while
// the session has not completed identification, per the dispatcher-entry
// invariant.
func (s *Session) HandleEvent(ctx context.Context, event string, fields map[string]interface{}) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if event == "ping" {
		s.sender.Send("pong", nil)
		return
	}

	if event == "identify" {
		s.handleIdentify(ctx, fields)
		return
	}

	if event == "disconnect" {
		s.handleDisconnect()
		return
	}

	if state != StateReady {
		s.sender.Send("identification_error", map[string]interface{}{
			"reason": "session is not identified",
		})
		return
	}

	s.routeReadyEvent(ctx, event, fields)
}

// handleIdentify runs the identification contract: require storeId, appId,
// serviceType; enforce the license gate only for
// serviceType=="advanced_online_report"; otherwise bind tenant fields
// unconditionally (legacy session).
func (s *Session) handleIdentify(ctx context.Context, fields map[string]interface{}) {
	s.mu.Lock()
	s.state = StateIdentifying
	s.mu.Unlock()

	storeID, _ := fields["storeId"].(string)
	appID, _ := fields["appId"].(string)
	serviceType, _ := fields["serviceType"].(string)

	if storeID == "" || appID == "" || serviceType == "" {
		s.failIdentification(apperr.NewLicenseError("storeId, appId, and serviceType are all required"))
		return
	}

	if serviceType != advancedOnlineReport {
		s.bindIdentity(storeID, appID, serviceType, nil)
		return
	}

	result, err := s.tenantSvc.Validate(ctx, storeID, appID)
	if err != nil {
		s.failIdentification(err)
		return
	}
	if !result.Valid {
		if result.Expired {
			s.failIdentification(apperr.NewLicenseExpired(result.Error))
		} else {
			s.failIdentification(apperr.NewLicenseError(result.Error))
		}
		return
	}

	s.bindIdentity(storeID, appID, serviceType, result)
}

func (s *Session) bindIdentity(storeID, appID, serviceType string, licenseInfo *tenant.ValidationResult) {
	s.mu.Lock()
	s.storeID = storeID
	s.appID = appID
	s.serviceType = serviceType
	s.licenseInfo = licenseInfo
	s.state = StateReady
	s.mu.Unlock()

	s.sender.Send("identified", map[string]interface{}{
		"storeId": storeID,
		"appId":   appID,
	})
}

// failIdentification emits the right wire error for err, then closes the
// session after a short grace period so the peer can observe the reason.
func (s *Session) failIdentification(err error) {
	if we, ok := apperr.AsWireError(err); ok {
		event, fields := we.EventError()
		s.sender.Send(event, fields)
	} else {
		s.sender.Send("identification_error", map[string]interface{}{"reason": err.Error()})
	}

	go func() {
		time.Sleep(identificationGrace)
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.sender.Close()
	}()
}

// handleDisconnect cancels every pending upload and clears the full-sync
// flag. In-flight database operations may complete but must not emit to
// the now-closed peer — callers check State() before sending.
func (s *Session) handleDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	s.pendingUploads = make(map[string]*csv.ChunkAccumulator)
	s.fullSyncActive = false
}
