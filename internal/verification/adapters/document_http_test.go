package adapters

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecheck/internal/submission"
	dErrors "livecheck/pkg/domain-errors"
)

var frontImage = []submission.Image{{Name: "front.jpg", ContentType: "image/jpeg", Data: []byte("front")}}

func TestDocumentClientCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, documentPath, r.URL.Path)
		var req documentRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		if assert.Len(t, req.Images, 1) {
			data, err := base64.StdEncoding.DecodeString(req.Images[0].Data)
			assert.NoError(t, err)
			assert.Equal(t, "front", string(data))
			assert.Equal(t, "image/jpeg", req.Images[0].ContentType)
		}
		_, _ = w.Write([]byte(`{"is_valid": true, "confidence": 0.93, "extracted_fields": {"country": "NL"}}`))
	}))
	defer srv.Close()

	res, err := NewDocumentClient(srv.URL, time.Second).Check(context.Background(), frontImage)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.InDelta(t, 0.93, res.Confidence, 1e-9)
	assert.Equal(t, "NL", res.ExtractedFields["country"])
}

func TestDocumentClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   dErrors.Code
	}{
		{"server failure", http.StatusInternalServerError, dErrors.CodeUnavailable},
		{"throttled", http.StatusTooManyRequests, dErrors.CodeUnavailable},
		{"unreadable images", http.StatusUnprocessableEntity, dErrors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewDocumentClient(srv.URL, time.Second).Check(context.Background(), frontImage)
			assert.True(t, dErrors.HasCode(err, tt.code), "got %v", err)
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		_, err := NewDocumentClient(url, time.Second).Check(context.Background(), frontImage)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	})
}
