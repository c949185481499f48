package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendhub-io/vendhub/internal/hub/core"
	"github.com/vendhub-io/vendhub/internal/hub/core/model"
	"github.com/vendhub-io/vendhub/internal/hub/queue"
	"github.com/vendhub-io/vendhub/internal/hub/store/memory"
	"github.com/vendhub-io/vendhub/pkg/options"
)

// fakeNotifier records publishes and can be told to fail.
type fakeNotifier struct {
	mu        sync.Mutex
	published []*model.Command
	fail      bool
}

func (f *fakeNotifier) Notify(ctx context.Context, cmd *model.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return core.ErrTransportUnavailable
	}
	f.published = append(f.published, cmd.Clone())
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// recordingSink collects audit events.
type recordingSink struct {
	mu     sync.Mutex
	events []model.StateChangeEvent
}

func (r *recordingSink) CommandStateChanged(ctx context.Context, ev model.StateChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, string(ev.From)+">"+string(ev.To))
	}
	return out
}

// fakeResolver maps artifact keys to fixed URLs.
type fakeResolver struct{}

func (fakeResolver) ResolveURL(ctx context.Context, objectKey string) (string, error) {
	return "https://artifacts.test/" + objectKey + "?sig=abc", nil
}

type fixture struct {
	svc      *Service
	repo     core.Repository
	queue    *queue.Queue
	notifier *fakeNotifier
	sink     *recordingSink
}

func newFixture(t *testing.T, withNotifier bool) *fixture {
	t.Helper()

	repo := memory.New()
	q := queue.New()
	sink := &recordingSink{}
	var notifier *fakeNotifier
	cfg := Config{
		Repository: repo,
		Queue:      q,
		Resolver:   fakeResolver{},
		Events:     sink,
		Options:    options.NewDispatchOptions(),
	}
	if withNotifier {
		notifier = &fakeNotifier{}
		cfg.Notifier = notifier
	}
	svc := New(cfg)

	require.NoError(t, repo.Devices().Register(context.Background(),
		&model.Device{ID: "VM-001", TenantID: "acme", RegisteredAt: time.Now()}))

	return &fixture{svc: svc, repo: repo, queue: q, notifier: notifier, sink: sink}
}

func TestCreateRejectsUnknownDevice(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.svc.CreateCommand(context.Background(), CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-404", Kind: model.KindReboot,
	})
	assert.ErrorIs(t, err, core.ErrInvalidTarget)
	assert.Zero(t, f.queue.Len(), "rejected command must not be enqueued")
}

func TestCreateRejectsForeignDevice(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.svc.CreateCommand(context.Background(), CreateCommandInput{
		TenantID: "rival", DeviceID: "VM-001", Kind: model.KindReboot,
	})
	assert.ErrorIs(t, err, core.ErrInvalidTarget)
}

func TestCreateRejectsBadPayload(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.svc.CreateCommand(context.Background(), CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindDispense,
		Payload: json.RawMessage(`{"quantity":2}`),
	})
	assert.ErrorIs(t, err, core.ErrInvalidPayload)
}

func TestCreatePublishesAndEnqueues(t *testing.T) {
	f := newFixture(t, true)

	cmd, err := f.svc.CreateCommand(context.Background(), CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindDispense,
		Payload: json.RawMessage(`{"slot":"A1","quantity":1}`),
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(cmd.ID, "cmd-"))
	assert.Equal(t, model.StateCreated, cmd.State, "publish must not change state")
	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, 1, f.queue.Len())

	stored, err := f.repo.Commands().Lookup(context.Background(), cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)
}

func TestCreateWithoutBrokerIsPollOnly(t *testing.T) {
	f := newFixture(t, false)

	cmd, err := f.svc.CreateCommand(context.Background(), CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
	})
	require.NoError(t, err)

	due := f.queue.DueForFallback(time.Now())
	require.Len(t, due, 1, "without a broker the entry is immediately poll-eligible")
	assert.Equal(t, cmd.ID, due[0].CommandID)
}

func TestPublishFailureFallsBackToPolling(t *testing.T) {
	f := newFixture(t, true)
	f.notifier.fail = true

	// Device recently live on pub/sub, so the selector would normally delay
	// the fallback.
	require.NoError(t, f.repo.Devices().UpdateChannelState(
		context.Background(), "VM-001", model.ChannelPubSub, time.Now()))

	cmd, err := f.svc.CreateCommand(context.Background(), CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
	})
	require.NoError(t, err, "a failed publish is not a creation failure")

	due := f.queue.DueForFallback(time.Now())
	require.Len(t, due, 1, "publish failure promotes the entry immediately")
	assert.Equal(t, cmd.ID, due[0].CommandID)
}

func TestUpdateRecipeResolvesArtifact(t *testing.T) {
	f := newFixture(t, true)

	cmd, err := f.svc.CreateCommand(context.Background(), CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindUpdateRecipe,
		Payload: json.RawMessage(`{"recipeId":"r-7","artifactKey":"recipes/r-7.tar.gz"}`),
	})
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(cmd.Payload, &payload))
	assert.Equal(t, "https://artifacts.test/recipes/r-7.tar.gz?sig=abc", payload["packageUrl"])
	assert.Equal(t, "recipes/r-7.tar.gz", payload["artifactKey"])
}

func TestPollDeliversAndMarksDispatched(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, err := f.svc.CreateCommand(ctx, CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
	})
	require.NoError(t, err)
	second, err := f.svc.CreateCommand(ctx, CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindDiagnostics,
	})
	require.NoError(t, err)

	got, err := f.svc.PollCommands(ctx, "VM-001")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID, "earliest command first")
	assert.Equal(t, second.ID, got[1].ID)
	for _, cmd := range got {
		assert.Equal(t, model.StateDispatched, cmd.State)
	}

	st, err := f.repo.Devices().ChannelState(ctx, "VM-001")
	require.NoError(t, err)
	assert.Equal(t, model.ChannelHTTP, st.LastChannel)
}

func TestPollIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	cmd, err := f.svc.CreateCommand(ctx, CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
	})
	require.NoError(t, err)

	first, err := f.svc.PollCommands(ctx, "VM-001")
	require.NoError(t, err)
	second, err := f.svc.PollCommands(ctx, "VM-001")
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1, "unresolved commands are re-delivered")
	assert.Equal(t, cmd.ID, second[0].ID)

	stored, err := f.repo.Commands().Lookup(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempts)
	assert.Equal(t, model.StateDispatched, stored.State)
}

func TestResultCompletesCommand(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	cmd, err := f.svc.CreateCommand(ctx, CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
	})
	require.NoError(t, err)
	_, err = f.svc.PollCommands(ctx, "VM-001")
	require.NoError(t, err)

	err = f.svc.ReportResult(ctx, model.ResultReport{
		CommandID: cmd.ID, DeviceID: "VM-001", Outcome: model.OutcomeSuccess,
		Detail:     json.RawMessage(`{"rebooted":true}`),
		ReportedAt: time.Now(), Transport: model.ChannelHTTP,
	})
	require.NoError(t, err)

	stored, err := f.repo.Commands().Lookup(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, stored.State)
	assert.NotNil(t, stored.ResultAt)
	assert.Zero(t, f.queue.Len())
	assert.Equal(t, []string{"created>dispatched", "dispatched>completed"}, f.sink.transitions())
}

func TestDuplicateResultIsAcknowledgedOnce(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	cmd, err := f.svc.CreateCommand(ctx, CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
	})
	require.NoError(t, err)
	_, err = f.svc.PollCommands(ctx, "VM-001")
	require.NoError(t, err)

	report := model.ResultReport{
		CommandID: cmd.ID, DeviceID: "VM-001", Outcome: model.OutcomeSuccess,
		ReportedAt: time.Now(), Transport: model.ChannelHTTP,
	}
	require.NoError(t, f.svc.ReportResult(ctx, report))

	// Second delivery of the same report: acknowledged, no state change.
	report.Outcome = model.OutcomeFailure
	require.NoError(t, f.svc.ReportResult(ctx, report))

	stored, err := f.repo.Commands().Lookup(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, stored.State, "first outcome sticks")
}

func TestResultSuccessFromCreatedWalksBothEdges(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	cmd, err := f.svc.CreateCommand(ctx, CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
	})
	require.NoError(t, err)

	// Result arrives over pub/sub before any poll or dispatch mark.
	err = f.svc.ReportResult(ctx, model.ResultReport{
		CommandID: cmd.ID, DeviceID: "VM-001", Outcome: model.OutcomeSuccess,
		ReportedAt: time.Now(), Transport: model.ChannelPubSub,
	})
	require.NoError(t, err)

	stored, err := f.repo.Commands().Lookup(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, stored.State)
	assert.Equal(t, []string{"created>dispatched", "dispatched>completed"}, f.sink.transitions())
}

func TestResultForUnknownCommandRejected(t *testing.T) {
	f := newFixture(t, false)

	err := f.svc.ReportResult(context.Background(), model.ResultReport{
		CommandID: "cmd-ghost", DeviceID: "VM-001", Outcome: model.OutcomeSuccess,
	})
	assert.ErrorIs(t, err, core.ErrUnknownCommand)
}

func TestResultFromWrongDeviceRejected(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	cmd, err := f.svc.CreateCommand(ctx, CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
	})
	require.NoError(t, err)

	err = f.svc.ReportResult(ctx, model.ResultReport{
		CommandID: cmd.ID, DeviceID: "VM-999", Outcome: model.OutcomeSuccess,
	})
	assert.ErrorIs(t, err, core.ErrUnknownCommand)

	stored, err := f.repo.Commands().Lookup(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCreated, stored.State)
}

func TestCancelPendingCommand(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	cmd, err := f.svc.CreateCommand(ctx, CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
	})
	require.NoError(t, err)

	cancelled, err := f.svc.CancelCommand(ctx, "acme", cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, cancelled.State)
	assert.Zero(t, f.queue.Len())

	var result map[string]any
	require.NoError(t, json.Unmarshal(cancelled.Result, &result))
	assert.Equal(t, true, result["cancelled"])

	// The device no longer sees the command.
	got, err := f.svc.PollCommands(ctx, "VM-001")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCancelTerminalCommandFails(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	cmd, err := f.svc.CreateCommand(ctx, CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
	})
	require.NoError(t, err)
	_, err = f.svc.CancelCommand(ctx, "acme", cmd.ID)
	require.NoError(t, err)

	_, err = f.svc.CancelCommand(ctx, "acme", cmd.ID)
	assert.ErrorIs(t, err, core.ErrStaleTransition)
}

func TestConcurrentCancelAndResultExactlyOneWins(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		cmd, err := f.svc.CreateCommand(ctx, CreateCommandInput{
			TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
		})
		require.NoError(t, err)
		_, err = f.svc.PollCommands(ctx, "VM-001")
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.svc.CancelCommand(ctx, "acme", cmd.ID)
		}()
		go func() {
			defer wg.Done()
			_ = f.svc.ReportResult(ctx, model.ResultReport{
				CommandID: cmd.ID, DeviceID: "VM-001", Outcome: model.OutcomeSuccess,
				ReportedAt: time.Now(), Transport: model.ChannelHTTP,
			})
		}()
		wg.Wait()

		stored, err := f.repo.Commands().Lookup(ctx, cmd.ID)
		require.NoError(t, err)
		assert.True(t, stored.State.Terminal())
		assert.Contains(t, []model.CommandState{model.StateCompleted, model.StateFailed}, stored.State)
	}
}

func TestSweepExpiresOverdueCommands(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	cmd, err := f.svc.CreateCommand(ctx, CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
		Deadline: time.Millisecond,
	})
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().Add(time.Second) }
	f.svc.SweepOnce(ctx)

	stored, err := f.repo.Commands().Lookup(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateExpired, stored.State)
	assert.Zero(t, f.queue.Len())

	// A late result after expiry is a duplicate, not an error.
	err = f.svc.ReportResult(ctx, model.ResultReport{
		CommandID: cmd.ID, DeviceID: "VM-001", Outcome: model.OutcomeSuccess,
		ReportedAt: time.Now(), Transport: model.ChannelHTTP,
	})
	require.NoError(t, err)
	stored, err = f.repo.Commands().Lookup(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateExpired, stored.State)
}

func TestSweepRetriesUnattemptedPublish(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.notifier.fail = true
	cmd, err := f.svc.CreateCommand(ctx, CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
	})
	require.NoError(t, err)
	require.Equal(t, 0, f.notifier.count())

	// Queue entry was already marked pubsub-attempted by the failed publish,
	// so the sweep does not spam the broker.
	f.notifier.fail = false
	f.svc.SweepOnce(ctx)
	assert.Equal(t, 0, f.notifier.count())

	// An entry never attempted anywhere does get pushed by the sweep.
	f.queue.Remove(cmd.ID)
	f.queue.Enqueue(queue.Entry{
		CommandID: cmd.ID, DeviceID: "VM-001",
		FallbackAt: time.Now().Add(-time.Second), ExpireAt: cmd.Deadline,
	})
	f.svc.SweepOnce(ctx)
	assert.Equal(t, 1, f.notifier.count())
}

func TestRebuildQueueFromStore(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	created, err := f.svc.CreateCommand(ctx, CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
	})
	require.NoError(t, err)
	done, err := f.svc.CreateCommand(ctx, CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindDiagnostics,
	})
	require.NoError(t, err)
	_, err = f.svc.PollCommands(ctx, "VM-001")
	require.NoError(t, err)
	require.NoError(t, f.svc.ReportResult(ctx, model.ResultReport{
		CommandID: done.ID, DeviceID: "VM-001", Outcome: model.OutcomeSuccess,
		ReportedAt: time.Now(), Transport: model.ChannelHTTP,
	}))

	// Simulate a restart: fresh queue, same store.
	rebuilt := New(Config{
		Repository: f.repo,
		Queue:      queue.New(),
		Options:    options.NewDispatchOptions(),
	})
	require.NoError(t, rebuilt.RebuildQueue(ctx))

	got, err := rebuilt.PollCommands(ctx, "VM-001")
	require.NoError(t, err)
	require.Len(t, got, 1, "only non-terminal commands are requeued")
	assert.Equal(t, created.ID, got[0].ID)
}

func TestGetCommandTenantScoped(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	cmd, err := f.svc.CreateCommand(ctx, CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
	})
	require.NoError(t, err)

	got, err := f.svc.GetCommand(ctx, "acme", cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, cmd.ID, got.ID)

	_, err = f.svc.GetCommand(ctx, "rival", cmd.ID)
	assert.ErrorIs(t, err, core.ErrForbidden)

	_, err = f.svc.GetCommand(ctx, "acme", "cmd-ghost")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}
