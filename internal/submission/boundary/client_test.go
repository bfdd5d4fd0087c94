package boundary

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecheck/internal/submission"
	id "livecheck/pkg/domain"
	dErrors "livecheck/pkg/domain-errors"
)

func testBundle() *submission.Bundle {
	return &submission.Bundle{
		Record: submission.Record{
			Applicant: submission.Applicant{SessionID: id.NewSessionID()},
			Decision:  submission.DecisionRecord{Passed: true, LivenessScore: 90, QualityScore: 75},
		},
		Files: []submission.File{
			{Field: "document", Name: "front.jpg", ContentType: "image/jpeg", Data: []byte("front")},
			{Field: "selfie", Name: "selfie.jpg", ContentType: "image/jpeg", Data: []byte("selfie")},
			{Field: "evidence", Name: "evidence-00.png", ContentType: "image/png", Data: []byte("e0")},
		},
	}
}

func TestSubmitSendsMultipartPayload(t *testing.T) {
	bundle := testBundle()
	eta := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, submitPath, r.URL.Path)
		assert.Equal(t, bundle.Record.Applicant.SessionID.String(), r.Header.Get("Idempotency-Key"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		var rec submission.Record
		assert.NoError(t, json.Unmarshal([]byte(r.FormValue("metadata")), &rec))
		assert.True(t, rec.Decision.Passed)
		assert.Equal(t, bundle.Record.Applicant.SessionID, rec.Applicant.SessionID)

		assert.Len(t, r.MultipartForm.File["document"], 1)
		assert.Len(t, r.MultipartForm.File["selfie"], 1)
		if !assert.Len(t, r.MultipartForm.File["evidence"], 1) {
			return
		}
		fh := r.MultipartForm.File["evidence"][0]
		assert.Equal(t, "evidence-00.png", fh.Filename)
		assert.Equal(t, "image/png", fh.Header.Get("Content-Type"))
		f, err := fh.Open()
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(f)
		assert.Equal(t, "e0", string(data))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": true, "review_eta": eta})
	}))
	defer srv.Close()

	resp, err := New(srv.URL, time.Second).Submit(context.Background(), bundle)
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.True(t, eta.Equal(resp.ReviewETA))
}

func TestSubmitDefaultsReviewETA(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accepted": true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, withNow(func() time.Time { return now }))
	resp, err := c.Submit(context.Background(), testBundle())
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultReviewWindow), resp.ReviewETA)
}

func TestSubmitClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   dErrors.Code
	}{
		{"server error is transient", http.StatusBadGateway, dErrors.CodeSubmissionNetwork},
		{"throttling is transient", http.StatusTooManyRequests, dErrors.CodeSubmissionNetwork},
		{"request timeout is transient", http.StatusRequestTimeout, dErrors.CodeSubmissionNetwork},
		{"bad request is a validation failure", http.StatusBadRequest, dErrors.CodeSubmissionValidation},
		{"unprocessable is a validation failure", http.StatusUnprocessableEntity, dErrors.CodeSubmissionValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := New(srv.URL, time.Second).Submit(context.Background(), testBundle())
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, tt.code), "got %v", err)
		})
	}

	t.Run("unreachable service is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := New(url, time.Second).Submit(context.Background(), testBundle())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeSubmissionNetwork))
	})

	t.Run("garbled response is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}))
		defer srv.Close()

		_, err := New(srv.URL, time.Second).Submit(context.Background(), testBundle())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeSubmissionNetwork))
	})
}
