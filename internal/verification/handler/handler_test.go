package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecheck/internal/capture"
	"livecheck/internal/facescan"
	"livecheck/internal/liveness"
	"livecheck/internal/platform/middleware"
	"livecheck/internal/platform/ratelimit"
	"livecheck/internal/submission"
	"livecheck/internal/verification"
	id "livecheck/pkg/domain"
	"livecheck/pkg/requestcontext"
)

const firefoxAndroid = "Mozilla/5.0 (Android 14; Mobile; rv:125.0) Gecko/125.0 Firefox/125.0"

type instantChallenges struct{}

func (instantChallenges) Run(_ context.Context, _ string, _ capture.FrameSource, challenges []liveness.Challenge, _ func(liveness.Update)) (*liveness.Outcome, error) {
	results := make([]liveness.Result, len(challenges))
	for i, c := range challenges {
		results[i] = liveness.Result{Challenge: c, Status: liveness.StatusCompleted, Detected: true, Confidence: 0.9, Elapsed: time.Second}
	}
	return &liveness.Outcome{Results: results, Score: 100}, nil
}

type instantScan struct{}

func (instantScan) Run(context.Context, string, capture.FrameSource, []facescan.Step, func(facescan.Update)) (*facescan.Result, error) {
	return &facescan.Result{LivenessScore: 85, QualityScore: 72}, nil
}

type acceptingSubmitter struct{}

func (acceptingSubmitter) Submit(_ context.Context, pkg *submission.Package) (*submission.Receipt, error) {
	return &submission.Receipt{
		ID:          id.NewReceiptID(),
		SessionID:   pkg.Applicant.SessionID,
		Accepted:    true,
		ReviewETA:   pkg.Decision.DecidedAt.Add(48 * time.Hour),
		SubmittedAt: pkg.Decision.DecidedAt,
	}, nil
}

var (
	owner    = mustUser("6a1d2c3b-4e5f-4a7b-8c9d-0e1f2a3b4c5d")
	stranger = mustUser("9f8e7d6c-5b4a-4392-8170-6f5e4d3c2b1a")
)

func mustUser(s string) id.UserID {
	u, err := id.ParseUserID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// asUser stands in for the bearer-token middleware.
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if raw := r.Header.Get("X-Test-User"); raw != "" {
			u, err := id.ParseUserID(raw)
			if err == nil {
				ctx = requestcontext.WithUserID(ctx, u)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRouter(t *testing.T, opts ...Option) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := verification.New(verification.NewInMemoryStore(), capture.NewRegistry(capture.WithLogger(logger)),
		instantChallenges{}, instantScan{}, acceptingSubmitter{},
		verification.WithLogger(logger),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	r := chi.NewRouter()
	r.Use(middleware.RequestContext)
	r.Use(asUser)
	New(svc, logger, nil, opts...).Register(r)
	return r
}

func do(t *testing.T, router http.Handler, method, path string, user id.UserID, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if !user.IsNil() {
		req.Header.Set("X-Test-User", user.String())
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", firefoxAndroid)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) SessionResponse {
	t.Helper()
	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp), rec.Body.String())
	return resp
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func start(t *testing.T, router http.Handler) string {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/v1/verifications", owner, "", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeSession(t, rec).ID
}

// awaitIdle polls until no capture run is in progress.
func awaitIdle(t *testing.T, router http.Handler, path string) SessionResponse {
	t.Helper()
	var resp SessionResponse
	require.Eventually(t, func() bool {
		rec := do(t, router, http.MethodGet, path, owner, "", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		resp = decodeSession(t, rec)
		return !resp.Running
	}, 2*time.Second, 5*time.Millisecond)
	return resp
}

func TestStartVerification(t *testing.T) {
	router := newRouter(t)

	t.Run("requires authentication", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/v1/verifications", id.UserID{}, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("creates an idle session", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/v1/verifications", owner, "", nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		resp := decodeSession(t, rec)
		assert.NotEmpty(t, resp.ID)
		assert.Equal(t, verification.PhaseIdle, resp.Phase)
		assert.Zero(t, resp.ProgressPercentage)
		assert.NotEmpty(t, resp.CurrentInstruction)
	})

	t.Run("second session conflicts", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/v1/verifications", owner, "", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestRateLimits(t *testing.T) {
	limits := ratelimit.NewMiddleware(ratelimit.NewSlidingWindow(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	router := newRouter(t, WithRateLimits(limits,
		ratelimit.Rule{Name: "start", Limit: 1, Window: time.Hour},
		ratelimit.Rule{Name: "frames", Limit: 1, Window: time.Hour},
	))
	base := "/v1/verifications/" + start(t, router)

	rec := do(t, router, http.MethodPost, "/v1/verifications", owner, "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = do(t, router, http.MethodPost, "/v1/verifications", stranger, "", nil)
	assert.Equal(t, http.StatusCreated, rec.Code, "quota is per user")

	rec = do(t, router, http.MethodPost, base+"/device", owner, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, router, http.MethodPost, base+"/frames", owner, "image/png", pngBytes(t))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	rec = do(t, router, http.MethodPost, base+"/frames", owner, "image/png", pngBytes(t))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = do(t, router, http.MethodGet, base, owner, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not limited")
}

func TestSessionAccess(t *testing.T) {
	router := newRouter(t)
	sessionID := start(t, router)

	rec := do(t, router, http.MethodGet, "/v1/verifications/"+sessionID, stranger, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/v1/verifications/not-a-uuid", owner, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFrames(t *testing.T) {
	router := newRouter(t)
	base := "/v1/verifications/" + start(t, router)

	rec := do(t, router, http.MethodPost, base+"/frames", owner, "image/png", pngBytes(t))
	assert.Equal(t, http.StatusFailedDependency, rec.Code, "no device granted yet")

	rec = do(t, router, http.MethodPost, base+"/device", owner, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	t.Run("raw body", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, base+"/frames", owner, "image/png", pngBytes(t))
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		var resp FrameResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "png", resp.Format)
		assert.Equal(t, 4, resp.Width)
	})

	t.Run("json body", func(t *testing.T) {
		ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		body, _ := json.Marshal(map[string]any{
			"image":     base64.StdEncoding.EncodeToString(pngBytes(t)),
			"timestamp": ts,
		})
		rec := do(t, router, http.MethodPost, base+"/frames", owner, "application/json", body)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		var resp FrameResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, ts.Equal(resp.Timestamp))
	})

	t.Run("not an image", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, base+"/frames", owner, "image/jpeg", []byte("garbage"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLivenessWithoutDevice(t *testing.T) {
	router := newRouter(t)
	base := "/v1/verifications/" + start(t, router)

	rec := do(t, router, http.MethodPost, base+"/liveness", owner, "", nil)
	assert.Equal(t, http.StatusFailedDependency, rec.Code)

	rec = do(t, router, http.MethodGet, base, owner, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, verification.PhaseIdle, decodeSession(t, rec).Phase)
}

func TestLivenessRejectsUnknownChallenge(t *testing.T) {
	router := newRouter(t)
	base := "/v1/verifications/" + start(t, router)

	body := []byte(`{"challenges":[{"kind":"wink","max_duration_ms":3000}]}`)
	rec := do(t, router, http.MethodPost, base+"/liveness", owner, "application/json", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body = []byte(`{"challenges":[{"kind":"blink","max_duration_ms":0}]}`)
	rec = do(t, router, http.MethodPost, base+"/liveness", owner, "application/json", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDocumentWithoutChecker(t *testing.T) {
	router := newRouter(t)
	base := "/v1/verifications/" + start(t, router)

	body, _ := json.Marshal(map[string]any{"images": []map[string]any{{
		"name": "front.jpg", "content_type": "image/jpeg", "data": base64.StdEncoding.EncodeToString([]byte("front")),
	}}})
	rec := do(t, router, http.MethodPost, base+"/document", owner, "application/json", body)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, router, http.MethodPost, base+"/document", owner, "application/json", []byte(`{"images":[]}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestFullFlow(t *testing.T) {
	router := newRouter(t)
	sessionID := start(t, router)
	base := "/v1/verifications/" + sessionID

	rec := do(t, router, http.MethodPost, base+"/device", owner, "application/json", []byte(`{"facing":"user"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := []byte(`{"challenges":[{"kind":"blink","max_duration_ms":3000},{"kind":"smile","max_duration_ms":3000}]}`)
	rec = do(t, router, http.MethodPost, base+"/liveness", owner, "application/json", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, verification.PhaseLiveness, decodeSession(t, rec).Phase)

	resp := awaitIdle(t, router, base)
	require.Len(t, resp.Challenges, 2)
	assert.Equal(t, "blink", resp.Challenges[0].Kind)
	assert.Equal(t, "completed", resp.Challenges[0].Status)
	assert.Equal(t, 60.0, resp.ProgressPercentage)

	rec = do(t, router, http.MethodPost, base+"/scan", owner, "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp = awaitIdle(t, router, base)
	require.NotNil(t, resp.Scan)
	assert.Equal(t, 85.0, resp.Scan.LivenessScore)

	rec = do(t, router, http.MethodPost, base+"/decision", owner, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decodeSession(t, rec)
	assert.Equal(t, verification.PhaseReview, resp.Phase)
	require.NotNil(t, resp.Decision)
	assert.True(t, resp.Decision.Passed)
	assert.Equal(t, 94.0, resp.Decision.LivenessScore)
	assert.Empty(t, resp.Decision.FailureReasons)

	rec = do(t, router, http.MethodPost, base+"/submit", owner, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decodeSession(t, rec)
	assert.Equal(t, verification.PhaseComplete, resp.Phase)
	assert.Equal(t, 100.0, resp.ProgressPercentage)
	require.NotNil(t, resp.Receipt)
	assert.True(t, resp.Receipt.Accepted)

	rec = do(t, router, http.MethodDelete, base, owner, "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "finished sessions cannot be cancelled")
}

func TestCancel(t *testing.T) {
	router := newRouter(t)
	base := "/v1/verifications/" + start(t, router)

	rec := do(t, router, http.MethodDelete, base, owner, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeSession(t, rec)
	assert.Equal(t, verification.PhaseFailed, resp.Phase)
	assert.Equal(t, verification.ReasonCancelled, resp.FailureReason)
	assert.True(t, strings.Contains(resp.CurrentInstruction, "cancelled"))
}

func TestClientInfo(t *testing.T) {
	ctx := requestcontext.WithClientMetadata(context.Background(), "203.0.113.7", firefoxAndroid)
	info := clientInfo(ctx)
	assert.Equal(t, "203.0.113.7", info.IP)
	assert.True(t, strings.HasPrefix(info.Browser, "Firefox"))
	assert.True(t, info.Mobile)

	assert.Equal(t, submission.ClientInfo{IP: "10.0.0.1"}, clientInfo(requestcontext.WithClientMetadata(context.Background(), "10.0.0.1", "")))
}
