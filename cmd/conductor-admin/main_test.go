package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dxpops/conductor/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL, "--token", "secret"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestJobsList(t *testing.T) {
	created := time.Now().Add(-90 * time.Second)
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"jobs": []model.Job{{
			ID:        "job-1",
			Kind:      model.JobKind("transfer"),
			Status:    model.JobStatus("running"),
			Tenant:    "t1",
			Progress:  model.Progress{ItemsDone: 2, ItemsTotal: 5},
			CreatedAt: created,
		}}})
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "jobs", "list", "--status", "running,queued", "--active", "--limit", "10")
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Contains(t, gotQuery, "status=running%2Cqueued")
	assert.Contains(t, gotQuery, "active=true")
	assert.Contains(t, gotQuery, "limit=10")
	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "2/5 items")
	assert.Contains(t, out, "1m30s")
}

func TestJobsList_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jobs":[]}`))
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "--json", "jobs", "list")
	require.NoError(t, err)
	assert.JSONEq(t, `{"jobs":[]}`, out)
}

func TestJobsGet_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found","message":"job nope not found"}`))
	}))
	defer srv.Close()

	_, err := runCLI(t, srv, "jobs", "get", "nope")
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "not_found", apiErr.Code)
	assert.Contains(t, err.Error(), "job nope not found")
}

func TestJobsCancelAll_RequiresConfirmation(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"cancelled":3}`))
	}))
	defer srv.Close()

	_, err := runCLI(t, srv, "jobs", "cancel-all")
	require.ErrorContains(t, err, "--yes")
	assert.Zero(t, hits)

	out, err := runCLI(t, srv, "jobs", "cancel-all", "--yes")
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
	assert.Contains(t, out, "3 job(s)")
}

func TestWatchesInterval(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/watches/w1/interval", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"interval":"45s"}`))
	}))
	defer srv.Close()

	_, err := runCLI(t, srv, "watches", "interval", "w1", "0s")
	require.Error(t, err)

	out, err := runCLI(t, srv, "watches", "interval", "w1", "45s")
	require.NoError(t, err)
	assert.Equal(t, "45s", body["interval"])
	assert.Contains(t, out, "every 45s")
}

func TestWatchesStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		_, _ = w.Write([]byte(`{"stopped":true,"last_state":"deploying"}`))
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "watches", "stop", "w1")
	require.NoError(t, err)
	assert.Contains(t, out, "last state deploying")
}

func TestAuditQuery(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := auditOptions{Since: time.Hour, Tenant: "t1", Status: "failure", Limit: 5}.query(now)
	assert.Equal(t, "2026-03-01T11:00:00Z", q.Get("from"))
	assert.Equal(t, "t1", q.Get("tenant"))
	assert.Equal(t, "failure", q.Get("status"))
	assert.Equal(t, "5", q.Get("limit"))
	assert.Empty(t, q.Get("operation"))

	var out bytes.Buffer
	err := printAudit(&out, &model.AuditPage{
		Entries: []model.AuditEntry{{
			Operation: "cancel_job", Kind: "job", Tenant: "t1", StartedAt: now,
			DurationMs: 12, Status: model.AuditFailure, Error: "job j1 not found",
		}},
		Total:   3,
		HasMore: true,
	}, 0)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "cancel_job")
	assert.Contains(t, out.String(), "12ms")
	assert.Contains(t, out.String(), "Showing 1-1 of 3 entries")
}

func TestRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tenants/acme/rate-limit", r.URL.Path)
		_, _ = w.Write([]byte(`{"tenant":"t1","throttled":true,"retry_after_ms":1500,` +
			`"requests_last_minute":60,"requests_last_hour":100,"max_per_minute":60,"max_per_hour":1000}`))
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "rate-limit", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "60/60")
	assert.Contains(t, out, "1.5s")
}

func TestNewAPIClient_Validation(t *testing.T) {
	_, err := newAPIClient("localhost:8080", "", 0)
	require.Error(t, err)

	c, err := newAPIClient("http://localhost:8080/", "", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultRequestTimeout, c.hc.Timeout)
}

func TestPrintEmptyTables(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printJobs(&out, nil, time.Now()))
	require.NoError(t, printWatches(&out, nil, time.Now()))
	require.NoError(t, printAudit(&out, &model.AuditPage{}, 0))
	assert.Equal(t, 3, strings.Count(out.String(), "found"))
}
