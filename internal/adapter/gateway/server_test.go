package gateway_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"setupwiz/internal/adapter/authority/httpclient"
	"setupwiz/internal/adapter/authority/sqlite"
	"setupwiz/internal/adapter/authority/wire"
	"setupwiz/internal/adapter/gateway"
	"setupwiz/internal/domain"
	"setupwiz/internal/infra/config"
	"setupwiz/internal/infra/metrics"
	"setupwiz/internal/usecase/eventbus"
)

const testToken = "test-token"

type stubValidator struct{}

func (stubValidator) Validate(_ context.Context, cfg map[string]any) (domain.ValidationResult, error) {
	if cfg["domain"] == nil {
		return domain.ValidationResult{Errors: []domain.FieldError{{Field: "domain", Message: "required"}}}, nil
	}
	return domain.ValidationResult{Valid: true, Config: cfg}, nil
}

type testEnv struct {
	srv    *httptest.Server
	client *httpclient.Client
	store  *sqlite.Store
}

func newTestEnv(t *testing.T, validator domain.ConfigValidator) *testEnv {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "authority.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := eventbus.New(slog.Default())
	t.Cleanup(bus.Close)

	deps := gateway.Deps{
		Resume:      store,
		Versions:    store,
		Checkpoints: store.Checkpoints(),
		Install:     store,
		Validator:   validator,
		Bus:         bus,
		Metrics:     metrics.New(nil),
	}
	s := gateway.NewServer(deps, config.ServerConfig{Token: testToken}, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewServer(s.Handler(ctx))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { s.Stop(context.Background()) })

	client, err := httpclient.New(config.AuthorityConfig{BaseURL: srv.URL, Token: testToken, Timeout: 2 * time.Second}, nil)
	require.NoError(t, err)
	return &testEnv{srv: srv, client: client, store: store}
}

func TestVersionRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	c := env.client

	first, err := c.SaveVersion(ctx, domain.VersionInput{
		Profiles: []string{"core"},
		Config:   map[string]any{"domain": "a.example"},
		Metadata: domain.VersionMetadata{Action: "step:profiles"},
	})
	require.NoError(t, err)
	_, err = c.SaveVersion(ctx, domain.VersionInput{
		Profiles: []string{"core", "monitoring"},
		Metadata: domain.VersionMetadata{Action: "manual-save"},
	})
	require.NoError(t, err)

	hist, err := c.ListHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "manual-save", hist[0].Metadata.Action)

	undo, err := c.Undo(ctx)
	require.NoError(t, err)
	assert.True(t, undo.Success)
	assert.Equal(t, []string{"core"}, undo.Profiles)

	res, err := c.Restore(ctx, first)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "a.example", res.Config["domain"])
}

func TestCheckpointRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	cps := env.client.Checkpoints()

	cp, err := cps.Create(ctx, "before-building", map[string]any{domain.CheckpointKeyCurrentStep: 7})
	require.NoError(t, err)
	assert.NotEmpty(t, cp.ID)

	list, err := cps.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	got, err := cps.Restore(ctx, cp.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 7, got.Data[domain.CheckpointKeyCurrentStep])

	_, err = cps.Restore(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.CodeCheckpointNotFound, domain.ErrorCodeOf(err))

	_, err = cps.Create(ctx, "", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestResumeStateRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	c := env.client

	st, err := c.CanResume(ctx)
	require.NoError(t, err)
	assert.False(t, st.CanResume)

	require.NoError(t, c.SaveState(ctx, domain.ResumeState{CanResume: true, CurrentStep: 4, NavigationPath: domain.PathTemplate}))
	st, err = c.CanResume(ctx)
	require.NoError(t, err)
	assert.True(t, st.CanResume)
	assert.Equal(t, 4, st.CurrentStep)
	assert.Equal(t, domain.PathTemplate, st.NavigationPath)

	require.NoError(t, c.ClearState(ctx))
	st, err = c.CanResume(ctx)
	require.NoError(t, err)
	assert.False(t, st.CanResume)
}

func TestRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.srv.URL + wire.PathCheckpoints)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	anon, err := httpclient.New(config.AuthorityConfig{BaseURL: env.srv.URL}, nil)
	require.NoError(t, err)
	_, err = anon.CanResume(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthorityUnavailable)
}

func TestMetricsAndHealthAreOpen(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/metrics", "/healthz"} {
		resp, err := http.Get(env.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestValidate(t *testing.T) {
	env := newTestEnv(t, stubValidator{})
	ctx := context.Background()

	res, err := env.client.Validate(ctx, map[string]any{})
	require.NoError(t, err)
	assert.False(t, res.Valid)

	res, err = env.client.Validate(ctx, map[string]any{"domain": "x.example"})
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestValidateNotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.client.Validate(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, domain.ErrAuthorityUnavailable, "501 degrades like an outage")
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t, nil)
	req, err := http.NewRequest(http.MethodPost, env.srv.URL+wire.PathVersions, strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInstallStatusIsPushed(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	got := make(chan domain.InstallationStatus, 4)
	go func() {
		_ = env.client.Listen(ctx, func(_ context.Context, ev domain.Event) {
			if ev.Type != domain.EventInstallationStatus {
				return
			}
			var st domain.InstallationStatus
			if ev.Decode(&st) != nil {
				return
			}
			select {
			case got <- st:
			default:
			}
		})
	}()

	// The subscriber registers asynchronously; keep reporting until it
	// sees an update.
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case st := <-got:
			assert.Equal(t, domain.PhaseBuilding, st.Phase)
			stored, err := env.client.Status(context.Background())
			require.NoError(t, err)
			assert.Equal(t, domain.PhaseBuilding, stored.Phase)
			return
		case <-tick.C:
			require.NoError(t, env.client.PutStatus(context.Background(), domain.InstallationStatus{Phase: domain.PhaseBuilding}))
		case <-deadline:
			t.Fatal("no installation.status event received")
		}
	}
}
