package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perspective-engine/backend/pkg/models"
)

func TestHTTPReasoner_Run(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody runRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"Weigh the risk."}`))
	}))
	defer server.Close()

	reasoner := NewHTTPReasoner(server.URL+"/", "secret", time.Second)
	msgs := []models.Message{{Role: models.RoleUser, Content: "Decision: quit?"}}
	out, err := reasoner.Run(context.Background(), "@cf/meta/llama-3.1-8b-instruct", msgs)
	require.NoError(t, err)

	assert.Equal(t, "Weigh the risk.", out)
	assert.Equal(t, "/run/@cf/meta/llama-3.1-8b-instruct", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, msgs, gotBody.Messages)
}

func TestHTTPReasoner_ResultEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"success":true,"result":{"response":"From the envelope."}}`))
	}))
	defer server.Close()

	out, err := NewHTTPReasoner(server.URL, "", time.Second).Run(context.Background(), "m", nil)
	require.NoError(t, err)
	assert.Equal(t, "From the envelope.", out)
}

func TestHTTPReasoner_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "server error", status: http.StatusServiceUnavailable, body: "overloaded"},
		{name: "bad json", status: http.StatusOK, body: "not json"},
		{name: "empty response", status: http.StatusOK, body: `{"response":""}`, wantErr: ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewHTTPReasoner(server.URL, "", time.Second).Run(context.Background(), "m", nil)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
