package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dxpops/conductor/internal/core"
	apperrors "github.com/dxpops/conductor/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2/clientcredentials"
)

func TestSender_Send(t *testing.T) {
	t.Run("posts body and headers", func(t *testing.T) {
		var got *http.Request
		var body []byte
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Clone(context.Background())
			body, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(" ok \n"))
		}))
		defer srv.Close()

		s := NewSender(SenderOptions{AllowPrivate: true})
		resp, err := s.Send(context.Background(), core.WebhookRequest{
			URL:     srv.URL + "/hook",
			Headers: map[string]string{"X-Signature": "abc"},
			Body:    []byte(`{"type":"job.completed"}`),
			EventID: "evt-1",
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, "ok", resp.Body)
		assert.Zero(t, resp.RetryAfter)

		require.NotNil(t, got)
		assert.Equal(t, http.MethodPost, got.Method)
		assert.Equal(t, "/hook", got.URL.Path)
		assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
		assert.Equal(t, "evt-1", got.Header.Get(EventIDHeader))
		assert.Equal(t, "abc", got.Header.Get("X-Signature"))
		assert.Equal(t, defaultUserAgent, got.Header.Get("User-Agent"))
		assert.JSONEq(t, `{"type":"job.completed"}`, string(body))
	})

	t.Run("registered headers cannot replace the content type", func(t *testing.T) {
		headers := make(chan http.Header, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers <- r.Header.Clone()
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		_, err := NewSender(SenderOptions{AllowPrivate: true}).Send(context.Background(), core.WebhookRequest{
			URL: srv.URL,
			Headers: map[string]string{
				"Content-Type":  "text/plain",
				EventIDHeader:   "spoofed",
				"User-Agent":    "custom-agent/2",
				"Authorization": "Bearer hook-secret",
			},
			Body:    []byte(`{}`),
			EventID: "evt-2",
		})
		require.NoError(t, err)

		got := <-headers
		assert.Equal(t, "application/json", got.Get("Content-Type"))
		assert.Equal(t, "evt-2", got.Get(EventIDHeader))
		assert.Equal(t, "custom-agent/2", got.Get("User-Agent"))
		assert.Equal(t, "Bearer hook-secret", got.Get("Authorization"))
	})

	t.Run("non-2xx is a response not an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		resp, err := NewSender(SenderOptions{AllowPrivate: true}).Send(context.Background(), core.WebhookRequest{URL: srv.URL})
		require.NoError(t, err)
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, 3*time.Second, resp.RetryAfter)
	})

	t.Run("response body is capped", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(strings.Repeat("x", 3*maxResponseBody)))
		}))
		defer srv.Close()

		resp, err := NewSender(SenderOptions{AllowPrivate: true}).Send(context.Background(), core.WebhookRequest{URL: srv.URL})
		require.NoError(t, err)
		assert.Len(t, resp.Body, maxResponseBody)
	})

	t.Run("network failure is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewSender(SenderOptions{AllowPrivate: true, Timeout: time.Second}).Send(context.Background(), core.WebhookRequest{URL: url})
		require.Error(t, err)
		assert.Equal(t, apperrors.KindTransient, apperrors.KindOf(err))
	})

	t.Run("private destination is permanent", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits.Add(1) }))
		defer srv.Close()

		_, err := NewSender(SenderOptions{}).Send(context.Background(), core.WebhookRequest{URL: srv.URL})
		require.Error(t, err)
		assert.Equal(t, apperrors.KindFatal, apperrors.KindOf(err))
		assert.Zero(t, hits.Load())
	})

	t.Run("bad url is permanent", func(t *testing.T) {
		for _, u := range []string{"ftp://example.com/x", "http://", "::nope"} {
			_, err := NewSender(SenderOptions{}).Send(context.Background(), core.WebhookRequest{URL: u})
			require.Error(t, err, u)
			assert.Equal(t, apperrors.KindFatal, apperrors.KindOf(err), u)
		}
	})

	t.Run("pacing respects context", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))
		defer srv.Close()

		s := NewSender(SenderOptions{AllowPrivate: true, MaxPerSecond: 0.01})
		_, err := s.Send(context.Background(), core.WebhookRequest{URL: srv.URL})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = s.Send(ctx, core.WebhookRequest{URL: srv.URL})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "webhook pacing")
	})
}

func TestSender_OAuth2(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	var auth atomic.Value
	mux.HandleFunc("POST /hook", func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSender(SenderOptions{
		AllowPrivate: true,
		OAuth2: &clientcredentials.Config{
			ClientID:     "conductor",
			ClientSecret: "secret",
			TokenURL:     srv.URL + "/token",
		},
	})
	for range 2 {
		resp, err := s.Send(context.Background(), core.WebhookRequest{URL: srv.URL + "/hook"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
	assert.Equal(t, "Bearer tok-123", auth.Load())
	assert.Equal(t, int32(1), tokenCalls.Load(), "token is reused until expiry")
}
