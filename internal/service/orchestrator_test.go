package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dxpops/conductor/internal/domain/event"
	"github.com/dxpops/conductor/internal/domain/model"
	"github.com/dxpops/conductor/internal/domain/ratelimit"
	apperrors "github.com/dxpops/conductor/internal/errors"
	"github.com/dxpops/conductor/internal/mocks"
	"github.com/dxpops/conductor/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type orchestratorFixture struct {
	orch       *Orchestrator
	remote     *testutil.ScriptedRemote
	sender     *scriptedSender
	dispatcher *Dispatcher
	registry   *JobRegistry
	monitor    *DeploymentMonitor

	mu    sync.Mutex
	audit []model.AuditEntry
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &orchestratorFixture{remote: testutil.NewScriptedRemote(), sender: &scriptedSender{}}

	creds := mocks.NewMockCredentialResolver(ctrl)
	creds.EXPECT().Resolve(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, ref string) (string, error) {
			if ref == "proj-a" {
				return "tenant-a", nil
			}
			return "", apperrors.NotFoundf("no tenant for %q", ref)
		}).AnyTimes()

	store := mocks.NewMockAuditStore(ctrl)
	store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e model.AuditEntry) error {
			f.mu.Lock()
			f.audit = append(f.audit, e)
			f.mu.Unlock()
			return nil
		}).AnyTimes()

	gate := MustNewRemoteGate(RemoteGateOptions{
		Client:      f.remote,
		Credentials: creds,
		Limiter: ratelimit.New(ratelimit.Limits{
			MaxPerMinute: 100000,
			MaxPerHour:   100000,
			BackoffBase:  time.Millisecond,
			BackoffCap:   2,
		}, nil),
		MaxAttempts: 1,
	})
	f.dispatcher = MustNewDispatcher(DispatcherOptions{
		Hub:    event.NewHub(64),
		Sender: f.sender,
		Sleep:  func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	f.registry = NewJobRegistry(JobRegistryOptions{Publisher: f.dispatcher, Pinner: f.dispatcher})
	f.monitor = MustNewDeploymentMonitor(DeploymentMonitorOptions{
		Remote:              gate,
		Publisher:           f.dispatcher,
		Pinner:              f.dispatcher,
		MinPollInterval:     testPoll,
		DefaultPollInterval: testPoll,
	})
	f.orch = MustNewOrchestrator(OrchestratorOptions{
		Registry:   f.registry,
		Monitor:    f.monitor,
		Dispatcher: f.dispatcher,
		Gate:       gate,
		Audit:      MustNewAuditRecorder(AuditRecorderOptions{Store: store}),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.orch.Shutdown(ctx)
	})
	return f
}

func (f *orchestratorFixture) AuditEntries() []model.AuditEntry {
	f.orch.audit.Flush()
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AuditEntry(nil), f.audit...)
}

func (f *orchestratorFixture) deliveredTypes(t *testing.T) []model.EventType {
	t.Helper()
	var out []model.EventType
	for _, req := range f.sender.Requests() {
		var body struct {
			Type model.EventType `json:"type"`
		}
		require.NoError(t, json.Unmarshal(req.Body, &body))
		out = append(out, body.Type)
	}
	return out
}

func TestNewOrchestrator(t *testing.T) {
	_, err := NewOrchestrator(OrchestratorOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JobRegistry is required")
}

func TestOrchestrator_StartTransfer(t *testing.T) {
	t.Run("runs the job and notifies the webhook", func(t *testing.T) {
		f := newOrchestratorFixture(t)

		job, err := f.orch.StartTransfer(context.Background(), model.TransferRequest{
			TenantRef: "proj-a",
			Source:    "s3://in",
			Items:     []model.TransferItem{{Name: "a.bin", Size: 64}},
			Metadata:  map[string]string{"ticket": "OPS-1"},
			Webhook:   &model.WebhookSpec{URL: "https://hooks.example.com/jobs", EventTypes: []model.EventType{model.EventJobStarted, model.EventJobCompleted}},
		})
		require.NoError(t, err)
		assert.Equal(t, "tenant-a", job.Tenant)
		assert.Equal(t, model.JobKindTransfer, job.Kind)

		final := waitForJob(t, f.registry, job.ID)
		assert.Equal(t, model.JobStatusCompleted, final.Status)

		f.dispatcher.DeliverPending(context.Background())
		assert.Equal(t, []model.EventType{model.EventJobStarted, model.EventJobCompleted}, f.deliveredTypes(t))

		entries := f.AuditEntries()
		require.Len(t, entries, 1)
		assert.Equal(t, "start_transfer", entries[0].Operation)
		assert.Equal(t, "tenant-a", entries[0].Tenant)
		assert.Equal(t, model.AuditSuccess, entries[0].Status)
	})

	t.Run("invalid request", func(t *testing.T) {
		f := newOrchestratorFixture(t)

		_, err := f.orch.StartTransfer(context.Background(), model.TransferRequest{TenantRef: "proj-a"})

		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		entries := f.AuditEntries()
		require.Len(t, entries, 1)
		assert.Equal(t, model.AuditFailure, entries[0].Status)
		assert.Empty(t, f.registry.List(model.JobFilter{}))
	})

	t.Run("invalid webhook", func(t *testing.T) {
		f := newOrchestratorFixture(t)

		_, err := f.orch.StartTransfer(context.Background(), model.TransferRequest{
			TenantRef: "proj-a",
			Source:    "s3://in",
			Items:     []model.TransferItem{{Name: "a", Size: 1}},
			Webhook:   &model.WebhookSpec{URL: "not a url"},
		})

		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("unknown tenant", func(t *testing.T) {
		f := newOrchestratorFixture(t)

		_, err := f.orch.StartTransfer(context.Background(), model.TransferRequest{
			TenantRef: "proj-x",
			Source:    "s3://in",
			Items:     []model.TransferItem{{Name: "a", Size: 1}},
		})

		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestOrchestrator_RegisterWebhookOnFinishedJob(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	job, err := f.orch.StartTransfer(ctx, model.TransferRequest{
		TenantRef: "proj-a",
		Source:    "s3://in",
		Items:     []model.TransferItem{{Name: "a.bin", Size: 8}},
	})
	require.NoError(t, err)
	require.Equal(t, model.JobStatusCompleted, waitForJob(t, f.registry, job.ID).Status)

	_, err = f.orch.RegisterWebhook(ctx, job.ID, model.WebhookSpec{URL: "https://hooks.example.com/late"})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Empty(t, f.dispatcher.ListWebhooks())

	hook, err := f.orch.RegisterWebhook(ctx, "job:"+job.ID, model.WebhookSpec{
		URL:        "https://hooks.example.com/late",
		Persistent: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SubjectJob, hook.SubjectKind)
	assert.Equal(t, job.ID, hook.SubjectID)
}

func TestOrchestrator_Jobs(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	job, err := f.orch.StartTransfer(ctx, model.TransferRequest{
		TenantRef: "proj-a",
		Kind:      model.JobKindExport,
		Source:    "db://orders",
		Items:     []model.TransferItem{{Name: "orders.csv", Size: 10}},
	})
	require.NoError(t, err)
	waitForJob(t, f.registry, job.ID)

	got, err := f.orch.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobKindExport, got.Kind)

	jobs, err := f.orch.ListJobs(ctx, model.JobFilter{Kind: model.JobKindExport})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = f.orch.GetJob(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrJobNotFound)

	_, err = f.orch.CancelJob(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrJobNotFound)

	n, err := f.orch.CancelAllJobs(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOrchestrator_WatchDeployment(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	f.remote.Script("dep-1", model.DeploymentInProgress)

	w, err := f.orch.WatchDeployment(ctx, model.WatchRequest{
		TenantRef:    "proj-a",
		DeploymentID: "dep-1",
		Webhook:      &model.WebhookSpec{URL: "https://hooks.example.com/deploys", Persistent: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", w.Tenant)

	t.Run("duplicate watch is a conflict naming the existing watch", func(t *testing.T) {
		dup, err := f.orch.WatchDeployment(ctx, model.WatchRequest{TenantRef: "proj-a", DeploymentID: "dep-1"})
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
		assert.Contains(t, err.Error(), w.ID)
		require.NotNil(t, dup)
		assert.Equal(t, w.ID, dup.ID)
	})

	t.Run("webhook on known subject", func(t *testing.T) {
		hook, err := f.orch.RegisterWebhook(ctx, "dep-1", model.WebhookSpec{URL: "https://hooks.example.com/other"})
		require.NoError(t, err)
		assert.Equal(t, "dep-1", hook.SubjectID)

		_, err = f.orch.RegisterWebhook(ctx, "dep-unknown", model.WebhookSpec{URL: "https://hooks.example.com/other"})
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))

		qualified, err := f.orch.RegisterWebhook(ctx, "deployment:dep-1", model.WebhookSpec{URL: "https://hooks.example.com/q"})
		require.NoError(t, err)
		assert.Equal(t, model.SubjectDeployment, qualified.SubjectKind)
		assert.Equal(t, "dep-1", qualified.SubjectID)

		_, err = f.orch.RegisterWebhook(ctx, "job:dep-1", model.WebhookSpec{URL: "https://hooks.example.com/q"})
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("interval and reset", func(t *testing.T) {
		require.NoError(t, f.orch.UpdateWatchInterval(ctx, w.ID, 50*time.Millisecond))
		got, err := f.orch.GetWatch(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, 50*time.Millisecond, got.PollInterval)

		require.NoError(t, f.orch.ResetDeployment(ctx, w.ID))
		assert.Equal(t, 1, f.remote.Resets("dep-1"))
	})

	t.Run("stop", func(t *testing.T) {
		require.Eventually(t, func() bool { return f.remote.Polls("dep-1") > 0 }, time.Second, 5*time.Millisecond)
		state, err := f.orch.StopWatch(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DeploymentInProgress, state)

		active, err := f.orch.ListWatches(ctx, false)
		require.NoError(t, err)
		assert.Empty(t, active)
		all, err := f.orch.ListWatches(ctx, true)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		f.dispatcher.DeliverPending(ctx)
		types := f.deliveredTypes(t)
		require.NotEmpty(t, types)
		assert.Equal(t, model.EventDeploymentWatchStarted, types[0])
		assert.Contains(t, types, model.EventDeploymentFinished)
	})
}

func TestOrchestrator_Subscriptions(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	id, err := f.orch.Subscribe(ctx, "job:*")
	require.NoError(t, err)

	job, err := f.orch.StartTransfer(ctx, model.TransferRequest{
		TenantRef: "proj-a",
		Source:    "s3://in",
		Items:     []model.TransferItem{{Name: "a", Size: 1}},
	})
	require.NoError(t, err)
	waitForJob(t, f.registry, job.ID)

	events, err := f.orch.PollEvents(ctx, id, 100, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, model.EventJobCreated, events[0].Type)
	assert.Equal(t, model.EventJobCompleted, events[len(events)-1].Type)

	require.NoError(t, f.orch.Unsubscribe(ctx, id))
	_, err = f.orch.PollEvents(ctx, id, 1, 0)
	require.ErrorIs(t, err, apperrors.ErrSubscriptionNotFound)

	_, err = f.orch.Subscribe(ctx, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestOrchestrator_RateLimitStatus(t *testing.T) {
	f := newOrchestratorFixture(t)

	st, err := f.orch.RateLimitStatus(context.Background(), "proj-a")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", st.Tenant)
	assert.Equal(t, 100000, st.MaxPerMinute)
	assert.False(t, st.Throttled)

	_, err = f.orch.RateLimitStatus(context.Background(), "proj-x")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestOrchestrator_QueryAudit(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newOrchestratorFixture(t)
	store := mocks.NewMockAuditStore(ctrl)
	store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().Query(gomock.Any(), gomock.Any()).Return(&model.AuditPage{Total: 3}, nil)
	f.orch.audit = MustNewAuditRecorder(AuditRecorderOptions{Store: store})

	page, err := f.orch.QueryAudit(context.Background(), model.AuditFilter{Operation: "get_job"})

	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
}
