package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hthome/hiot/pkg/hiot"
	"github.com/hthome/hiot/pkg/log"
	"github.com/hthome/hiot/pkg/metrics"
)

func TestAuthMiddleware(t *testing.T) {
	api := &mockAPI{}
	api.On("Authenticated").Return(true)

	server := &Server{
		api:       api,
		snapshots: testSnapshots(),
		metrics:   metrics.New(),
		verifier: func(ctx context.Context, token string) (user, error) {
			if token == "valid-token" {
				return user{Subject: "12345", Email: "user@example.com"}, nil
			}
			return user{}, assert.AnError
		},
	}
	h := server.setupHandler()

	tests := []struct {
		name   string
		header string
		cookie string
		code   int
	}{
		{name: "Bearer Token", header: "Bearer valid-token", code: http.StatusOK},
		{name: "Cookie", cookie: "valid-token", code: http.StatusOK},
		{name: "Invalid Token", header: "Bearer nope", code: http.StatusUnauthorized},
		{name: "Invalid Cookie", cookie: "nope", code: http.StatusUnauthorized},
		{name: "Wrong Scheme", header: "Basic dXNlcjpwYXNz", code: http.StatusUnauthorized},
		{name: "Empty Bearer", header: "Bearer ", code: http.StatusUnauthorized},
		{name: "Missing", code: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: authTokenCookie, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
		})
	}

	t.Run("Healthz Is Public", func(t *testing.T) {
		w := serve(h, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("User In Context", func(t *testing.T) {
		var (
			got user
			ok  bool
		)
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok = userFromContext(r.Context())
		})
		req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		server.authMiddleware(next).ServeHTTP(httptest.NewRecorder(), req)
		assert.True(t, ok)
		assert.Equal(t, user{Subject: "12345", Email: "user@example.com"}, got)
	})

	t.Run("Control Logs Caller", func(t *testing.T) {
		commands := []hiot.Status{{Command: "power", Value: "on"}}
		api.On("ControlDevice", mock.Anything, "lights", "L1", commands).Return(map[string]any{}, nil).Once()

		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		body, err := json.Marshal(controlRequest{CommandList: commands})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPut, "/api/devices/lights/L1", bytes.NewReader(body))
		req = req.WithContext(log.With(req.Context(), logger))
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var found bool
		for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
			var rec map[string]any
			require.NoError(t, json.Unmarshal(line, &rec))
			if rec["msg"] != "device control requested" {
				continue
			}
			found = true
			assert.Equal(t, "user@example.com", rec["email"])
			assert.Equal(t, "12345", rec["subject"])
			assert.Equal(t, "lights", rec["category"])
			assert.Equal(t, "L1", rec["deviceID"])
		}
		assert.True(t, found)
		api.AssertExpectations(t)
	})
}

func TestUserFromContextMissing(t *testing.T) {
	_, ok := userFromContext(context.Background())
	assert.False(t, ok)
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	_, h := testServer(&mockAPI{}, testSnapshots(), nil)
	w := serve(h, http.MethodGet, "/api/devices", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
