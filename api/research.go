package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/orchestrator"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionExporter persists a completed session's report. memory.Store
// satisfies this via SaveSession.
type SessionExporter interface {
	SaveSession(ctx context.Context, sess *domain.Session) error
}

// ResearchHandler exposes the session lifecycle: start, status, approve,
// stop, report.
type ResearchHandler struct {
	driver   *orchestrator.Driver
	approval *ApprovalGate
	hub      *StreamHub
	exporter SessionExporter
	clock    func() time.Time
	logger   *zap.Logger

	cancels   map[string]context.CancelFunc
	cancelsMu sync.Mutex
}

// NewResearchHandler wires a ResearchHandler around a running Driver.
func NewResearchHandler(driver *orchestrator.Driver, approval *ApprovalGate, hub *StreamHub, exporter SessionExporter, logger *zap.Logger) *ResearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResearchHandler{
		driver:   driver,
		approval: approval,
		hub:      hub,
		exporter: exporter,
		clock:    time.Now,
		logger:   logger.With(zap.String("component", "research_handler")),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// HandleStart POST /research/start begins a new session and drives it to
// completion in the background.
func (h *ResearchHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required", h.logger, nil)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req StartResearchRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Query == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "query is required", h.logger, nil)
		return
	}

	privacy := domain.PrivacyCloudAllowed
	if domain.PrivacyMode(req.PrivacyMode) == domain.PrivacyLocalOnly {
		privacy = domain.PrivacyLocalOnly
	}

	sess := domain.NewSession(uuid.NewString(), req.Query, privacy, h.clock())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancelsMu.Lock()
	h.cancels[sess.ID] = cancel
	h.cancelsMu.Unlock()

	go func() {
		defer cancel()
		h.driver.Start(ctx, sess, h.export, h.hub.Emit)
	}()

	WriteJSON(w, http.StatusAccepted, Response{
		Success:   true,
		Data:      StartResearchResponse{SessionID: sess.ID, Phase: string(domain.PhaseStarting)},
		Timestamp: h.clock(),
	})
}

func (h *ResearchHandler) export(ctx context.Context, sess *domain.Session) error {
	if h.exporter == nil {
		return nil
	}
	return h.exporter.SaveSession(ctx, sess)
}

// HandleStatus GET /research/{id}/status reports a tracked session's
// current phase and accumulated counts.
func (h *ResearchHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required", h.logger, nil)
		return
	}
	sess, ok := h.lookup(r)
	if !ok {
		WriteError(w, http.StatusNotFound, "not_found", "session not found", h.logger, nil)
		return
	}

	errMsg := ""
	if sess.Err != nil {
		errMsg = sess.Err.Error()
	}
	WriteSuccess(w, SessionStatusResponse{
		SessionID:  sess.ID,
		Phase:      string(sess.Phase),
		Domain:     string(sess.Domain),
		Cycle:      sess.Cycle,
		Entities:   sess.TotalEntities(),
		Facts:      sess.TotalFacts(),
		StopReason: string(sess.StopReason),
		Err:        errMsg,
	})
}

// HandleReport GET /research/{id}/report returns the synthesized report,
// if the session has reached Synthesize.
func (h *ResearchHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required", h.logger, nil)
		return
	}
	sess, ok := h.lookup(r)
	if !ok {
		WriteError(w, http.StatusNotFound, "not_found", "session not found", h.logger, nil)
		return
	}
	if sess.Report == nil {
		WriteError(w, http.StatusConflict, "report_not_ready", "session has not produced a report yet", h.logger, nil)
		return
	}
	WriteSuccess(w, sess.Report)
}

// HandleApprove POST /research/{id}/approve releases a session waiting in
// awaiting_approval.
func (h *ResearchHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required", h.logger, nil)
		return
	}
	id := r.PathValue("id")
	if err := h.approval.Approve(id); err != nil {
		WriteError(w, http.StatusConflict, "not_pending", err.Error(), h.logger, err)
		return
	}
	WriteSuccess(w, map[string]string{"session_id": id, "status": "approved"})
}

// HandleStop POST /research/{id}/stop cancels a running session.
func (h *ResearchHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required", h.logger, nil)
		return
	}
	id := r.PathValue("id")

	h.cancelsMu.Lock()
	cancel, ok := h.cancels[id]
	h.cancelsMu.Unlock()
	if !ok {
		WriteError(w, http.StatusNotFound, "not_found", "session not found", h.logger, nil)
		return
	}
	cancel()
	_ = h.approval.Reject(id, context.Canceled)
	WriteSuccess(w, map[string]string{"session_id": id, "status": "stopping"})
}

func (h *ResearchHandler) lookup(r *http.Request) (*domain.Session, bool) {
	id := r.PathValue("id")
	if id == "" {
		return nil, false
	}
	return h.driver.Get(id)
}
