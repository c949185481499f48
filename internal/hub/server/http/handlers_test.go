package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendhub-io/vendhub/internal/hub/core/model"
	"github.com/vendhub-io/vendhub/internal/hub/core/service"
	"github.com/vendhub-io/vendhub/internal/hub/queue"
	"github.com/vendhub-io/vendhub/internal/hub/store/memory"
	"github.com/vendhub-io/vendhub/internal/pkg/metrics"
	"github.com/vendhub-io/vendhub/pkg/log"
	"github.com/vendhub-io/vendhub/pkg/options"
)

func newTestServer(t *testing.T) (*Server, *service.Service) {
	t.Helper()

	repo := memory.New()
	svc := service.New(service.Config{
		Repository: repo,
		Queue:      queue.New(),
		Options:    options.NewDispatchOptions(),
	})
	require.NoError(t, repo.Devices().Register(context.Background(),
		&model.Device{ID: "VM-001", TenantID: "acme", RegisteredAt: time.Now()}))

	srv := NewServer(svc, metrics.New(), log.NewNopLogger(), options.NewHttpOptions(), nil)
	return srv, svc
}

func doJSON(t *testing.T, router http.Handler, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if tenant != "" {
		req.Header.Set(tenantHeader, tenant)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateCommandEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/commands", "acme", createCommandRequest{
		DeviceID: "VM-001",
		Kind:     "dispense",
		Payload:  json.RawMessage(`{"slot":"A1","quantity":1}`),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var cmd model.Command
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cmd))
	assert.NotEmpty(t, cmd.ID)
	assert.Equal(t, model.StateCreated, cmd.State)
}

func TestCreateCommandRequiresTenant(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/commands", "", createCommandRequest{
		DeviceID: "VM-001", Kind: "reboot",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateCommandErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	tests := []struct {
		name string
		req  createCommandRequest
		want int
	}{
		{"unknown device", createCommandRequest{DeviceID: "VM-404", Kind: "reboot"}, http.StatusBadRequest},
		{"unknown kind", createCommandRequest{DeviceID: "VM-001", Kind: "explode"}, http.StatusBadRequest},
		{"bad payload", createCommandRequest{DeviceID: "VM-001", Kind: "dispense", Payload: json.RawMessage(`{}`)}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/v1/commands", "acme", tt.req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestGetCommandScoping(t *testing.T) {
	srv, svc := newTestServer(t)
	router := srv.Router()

	cmd, err := svc.CreateCommand(context.Background(), service.CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/commands/"+cmd.ID, "acme", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/commands/"+cmd.ID, "rival", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/commands/cmd-ghost", "acme", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPollAndResultRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	created := doJSON(t, router, http.MethodPost, "/api/v1/commands", "acme", createCommandRequest{
		DeviceID: "VM-001", Kind: "reboot",
	})
	require.Equal(t, http.StatusCreated, created.Code)
	var cmd model.Command
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &cmd))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/devices/VM-001/commands/pending", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending pendingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending.Commands, 1)
	assert.Equal(t, model.StateDispatched, pending.Commands[0].State)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/devices/VM-001/command_result", "", resultRequest{
		CommandID: cmd.ID, Outcome: "success", Detail: json.RawMessage(`{"ok":true}`),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The queue is drained; the next poll is empty.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/devices/VM-001/commands/pending", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending = pendingResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.Empty(t, pending.Commands)

	// Operator read-back sees the terminal state.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/commands/"+cmd.ID, "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var final model.Command
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &final))
	assert.Equal(t, model.StateCompleted, final.State)
}

func TestResultForUnknownCommandIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/devices/VM-001/command_result", "", resultRequest{
		CommandID: "cmd-ghost", Outcome: "success",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelConflictMapping(t *testing.T) {
	srv, svc := newTestServer(t)
	router := srv.Router()

	cmd, err := svc.CreateCommand(context.Background(), service.CreateCommandInput{
		TenantID: "acme", DeviceID: "VM-001", Kind: model.KindReboot,
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/commands/"+cmd.ID+"/cancel", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/commands/"+cmd.ID+"/cancel", "acme", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterDeviceEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/devices", "acme", registerDeviceRequest{DeviceID: "VM-002"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/commands", "acme", createCommandRequest{
		DeviceID: "VM-002", Kind: "reboot",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vendhub_dispatch_queue_depth")
}
