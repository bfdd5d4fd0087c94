// Package handler exposes the verification session over HTTP.
package handler

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mssola/useragent"

	"livecheck/internal/capture"
	"livecheck/internal/liveness"
	"livecheck/internal/platform/metrics"
	"livecheck/internal/platform/ratelimit"
	"livecheck/internal/submission"
	"livecheck/internal/verification"
	id "livecheck/pkg/domain"
	dErrors "livecheck/pkg/domain-errors"
	"livecheck/pkg/platform/httputil"
	"livecheck/pkg/requestcontext"
)

const (
	maxFrameBytes    = 4 << 20
	maxDocumentBytes = 16 << 20
)

// Service is the verification session service.
type Service interface {
	Start(ctx context.Context, userID id.UserID, client submission.ClientInfo) (*verification.Session, error)
	Get(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*verification.Session, error)
	AttachDevice(ctx context.Context, userID id.UserID, sessionID id.SessionID, facing string) (*verification.Session, error)
	PushFrame(ctx context.Context, userID id.UserID, sessionID id.SessionID, data []byte, ts time.Time) (*capture.Frame, error)
	CheckDocument(ctx context.Context, userID id.UserID, sessionID id.SessionID, images []submission.Image) (*verification.Session, error)
	BeginLiveness(ctx context.Context, userID id.UserID, sessionID id.SessionID, challenges []liveness.Challenge) (*verification.Session, error)
	BeginFaceScan(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*verification.Session, error)
	Decide(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*verification.Session, error)
	Submit(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*verification.Session, error)
	Cancel(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*verification.Session, error)
}

// Handler wires verification endpoints to the service.
type Handler struct {
	service Service
	logger  *slog.Logger
	metrics *metrics.Metrics

	limits     *ratelimit.Middleware
	startRule  ratelimit.Rule
	framesRule ratelimit.Rule
}

type Option func(*Handler)

// WithRateLimits throttles session starts and frame uploads per user.
func WithRateLimits(limits *ratelimit.Middleware, start, frames ratelimit.Rule) Option {
	return func(h *Handler) {
		h.limits = limits
		h.startRule = start
		h.framesRule = frames
	}
}

func New(service Service, logger *slog.Logger, metrics *metrics.Metrics, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the verification routes. Callers are expected to wrap r
// with the auth middleware.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/verifications", func(r chi.Router) {
		r.With(h.limit(h.startRule)).Post("/", h.HandleStart)
		r.Get("/{id}", h.HandleGet)
		r.Delete("/{id}", h.HandleCancel)
		r.Post("/{id}/device", h.HandleAttachDevice)
		r.With(h.limit(h.framesRule)).Post("/{id}/frames", h.HandlePushFrame)
		r.Post("/{id}/document", h.HandleDocument)
		r.Post("/{id}/liveness", h.HandleLiveness)
		r.Post("/{id}/scan", h.HandleScan)
		r.Post("/{id}/decision", h.HandleDecide)
		r.Post("/{id}/submit", h.HandleSubmit)
	})
}

// HandleStart handles POST /v1/verifications.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, ctx)
	if !ok {
		return
	}

	session, err := h.service.Start(ctx, userID, clientInfo(ctx))
	if err != nil {
		h.fail(w, ctx, "failed to start verification", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromSession(session))
}

// HandleGet handles GET /v1/verifications/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, "failed to load verification", func(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*verification.Session, error) {
		return h.service.Get(ctx, userID, sessionID)
	})
}

// HandleCancel handles DELETE /v1/verifications/{id}.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, "failed to cancel verification", func(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*verification.Session, error) {
		return h.service.Cancel(ctx, userID, sessionID)
	})
}

// HandleAttachDevice handles POST /v1/verifications/{id}/device.
func (h *Handler) HandleAttachDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	facing := capture.FacingUser
	if r.ContentLength != 0 {
		req, ok := httputil.DecodeAndPrepare[AttachDeviceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
		if !ok {
			return
		}
		facing = req.Facing
	}
	h.withSession(w, r, "failed to attach capture device", func(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*verification.Session, error) {
		return h.service.AttachDevice(ctx, userID, sessionID, facing)
	})
}

// HandlePushFrame handles POST /v1/verifications/{id}/frames. The body is
// either an encoded image or a JSON FrameRequest.
func (h *Handler) HandlePushFrame(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := h.requireUser(w, ctx)
	if !ok {
		return
	}
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	var (
		data []byte
		ts   = requestcontext.Now(ctx)
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		req, ok := httputil.DecodeAndPrepareLimit[FrameRequest](w, r, h.logger, ctx, requestID, maxFrameBytes)
		if !ok {
			return
		}
		data = req.Image
		if !req.Timestamp.IsZero() {
			ts = req.Timestamp
		}
	} else {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBytes))
		if err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "frame body too large or unreadable"))
			return
		}
		data = body
	}

	frame, err := h.service.PushFrame(ctx, userID, sessionID, data, ts)
	if err != nil {
		h.fail(w, ctx, "failed to ingest frame", err)
		return
	}
	h.metrics.IncrementFramesIngested()
	httputil.WriteJSON(w, http.StatusAccepted, fromFrame(frame))
}

// HandleDocument handles POST /v1/verifications/{id}/document.
func (h *Handler) HandleDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepareLimit[DocumentRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx), maxDocumentBytes)
	if !ok {
		return
	}
	h.withSession(w, r, "document check failed", func(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*verification.Session, error) {
		return h.service.CheckDocument(ctx, userID, sessionID, req.ToImages())
	})
}

// HandleLiveness handles POST /v1/verifications/{id}/liveness. The run
// continues in the background; poll GET for progress.
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var challenges []liveness.Challenge
	if r.ContentLength != 0 {
		req, ok := httputil.DecodeAndPrepare[LivenessRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
		if !ok {
			return
		}
		challenges = req.ParsedChallenges()
	}
	h.withSessionStatus(w, r, http.StatusAccepted, "failed to start liveness", func(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*verification.Session, error) {
		return h.service.BeginLiveness(ctx, userID, sessionID, challenges)
	})
}

// HandleScan handles POST /v1/verifications/{id}/scan.
func (h *Handler) HandleScan(w http.ResponseWriter, r *http.Request) {
	h.withSessionStatus(w, r, http.StatusAccepted, "failed to start face scan", func(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*verification.Session, error) {
		return h.service.BeginFaceScan(ctx, userID, sessionID)
	})
}

// HandleDecide handles POST /v1/verifications/{id}/decision.
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, "failed to decide verification", func(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*verification.Session, error) {
		return h.service.Decide(ctx, userID, sessionID)
	})
}

// HandleSubmit handles POST /v1/verifications/{id}/submit.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, "failed to submit verification", func(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*verification.Session, error) {
		return h.service.Submit(ctx, userID, sessionID)
	})
}

func (h *Handler) limit(rule ratelimit.Rule) func(http.Handler) http.Handler {
	if h.limits == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return h.limits.Limit(rule)
}

type sessionOp func(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*verification.Session, error)

func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, failMsg string, op sessionOp) {
	h.withSessionStatus(w, r, http.StatusOK, failMsg, op)
}

func (h *Handler) withSessionStatus(w http.ResponseWriter, r *http.Request, status int, failMsg string, op sessionOp) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, ctx)
	if !ok {
		return
	}
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	session, err := op(ctx, userID, sessionID)
	if err != nil {
		h.fail(w, ctx, failMsg, err, "session_id", sessionID.String())
		return
	}
	httputil.WriteJSON(w, status, FromSession(session))
}

func (h *Handler) requireUser(w http.ResponseWriter, ctx context.Context) (id.UserID, bool) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return id.UserID{}, false
	}
	return userID, true
}

func sessionParam(w http.ResponseWriter, r *http.Request) (id.SessionID, bool) {
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.SessionID{}, false
	}
	return sessionID, true
}

// fail logs at a level that matches the error class and writes the response.
func (h *Handler) fail(w http.ResponseWriter, ctx context.Context, msg string, err error, attrs ...any) {
	args := append([]any{"request_id", requestcontext.RequestID(ctx), "error", err}, attrs...)
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, args...)
	} else {
		h.logger.WarnContext(ctx, msg, args...)
	}
	httputil.WriteError(w, err)
}

// clientInfo describes the capture client from the request's User-Agent.
func clientInfo(ctx context.Context) submission.ClientInfo {
	info := submission.ClientInfo{IP: requestcontext.ClientIP(ctx)}
	raw := strings.TrimSpace(requestcontext.UserAgent(ctx))
	if raw == "" {
		return info
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	info.Browser = strings.TrimSpace(name + " " + version)
	info.OS = ua.OS()
	info.Mobile = ua.Mobile()
	return info
}
