// Package adapters holds outbound clients used by the verification service.
package adapters

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"livecheck/internal/submission"
	"livecheck/internal/verification/ports"
	dErrors "livecheck/pkg/domain-errors"
)

const documentPath = "/v1/documents/check"

// DocumentClient checks identity documents against a remote service.
type DocumentClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type DocumentOption func(*DocumentClient)

func WithHTTPClient(c *http.Client) DocumentOption {
	return func(d *DocumentClient) { d.httpClient = c }
}

func WithLogger(logger *slog.Logger) DocumentOption {
	return func(d *DocumentClient) { d.logger = logger }
}

func NewDocumentClient(baseURL string, timeout time.Duration, opts ...DocumentOption) *DocumentClient {
	d := &DocumentClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type documentImage struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}

type documentRequest struct {
	Images []documentImage `json:"images"`
}

// Check posts the images and returns the service verdict. Anything but a
// 2xx answer is reported as unavailable, except 4xx which marks the
// images themselves as unusable.
func (d *DocumentClient) Check(ctx context.Context, images []submission.Image) (*ports.DocumentResult, error) {
	payload := documentRequest{Images: make([]documentImage, len(images))}
	for i, img := range images {
		payload.Images[i] = documentImage{
			Name:        img.Name,
			ContentType: img.ContentType,
			Data:        base64.StdEncoding.EncodeToString(img.Data),
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+documentPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create document request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "document service request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		d.logger.WarnContext(ctx, "document images rejected",
			"status", resp.StatusCode,
			"body", string(msg),
		)
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("document service rejected images: status %d", resp.StatusCode))
	default:
		return nil, dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("document service failed with status %d", resp.StatusCode))
	}

	var out ports.DocumentResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to decode document response")
	}
	return &out, nil
}
