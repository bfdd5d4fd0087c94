// Package boundary is the HTTP client for the external review service.
package boundary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"livecheck/internal/submission"
	dErrors "livecheck/pkg/domain-errors"
)

const submitPath = "/v1/submissions"

// DefaultReviewWindow is used as the ETA when the service does not send one.
const DefaultReviewWindow = 48 * time.Hour

// Client posts submission bundles as multipart/form-data.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

func withNow(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// New creates a client for the review service at baseURL.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type submitResponse struct {
	Accepted  bool      `json:"accepted"`
	ReviewETA time.Time `json:"review_eta"`
}

// Submit sends the bundle. Transport failures, timeouts, throttling and
// server errors are CodeSubmissionNetwork; any other rejection is
// CodeSubmissionValidation.
func (c *Client) Submit(ctx context.Context, bundle *submission.Bundle) (*submission.BoundaryResponse, error) {
	body, contentType, err := encode(bundle)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSubmissionValidation, "failed to encode submission")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitPath, bytes.NewReader(body))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSubmissionValidation, "failed to create submission request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Idempotency-Key", bundle.Record.Applicant.SessionID.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSubmissionNetwork, "submission request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case retryable(resp.StatusCode):
		return nil, dErrors.New(dErrors.CodeSubmissionNetwork,
			fmt.Sprintf("review service unavailable: status %d", resp.StatusCode))
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.WarnContext(ctx, "submission rejected by review service",
			"session_id", bundle.Record.Applicant.SessionID.String(),
			"status", resp.StatusCode,
			"body", string(msg),
		)
		return nil, dErrors.New(dErrors.CodeSubmissionValidation,
			fmt.Sprintf("review service rejected submission: status %d", resp.StatusCode))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSubmissionNetwork, "failed to decode submission response")
	}
	if out.Accepted && out.ReviewETA.IsZero() {
		out.ReviewETA = c.now().Add(DefaultReviewWindow)
	}
	return &submission.BoundaryResponse{Accepted: out.Accepted, ReviewETA: out.ReviewETA}, nil
}

func retryable(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

// encode writes the metadata part followed by every file part.
func encode(bundle *submission.Bundle) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	meta, err := json.Marshal(bundle.Record)
	if err != nil {
		return nil, "", err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="metadata"`)
	h.Set("Content-Type", "application/json")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(meta); err != nil {
		return nil, "", err
	}

	for _, f := range bundle.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.Name))
		h.Set("Content-Type", f.ContentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
