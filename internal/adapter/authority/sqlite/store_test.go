package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"setupwiz/internal/domain"
	"setupwiz/internal/infra/secrets"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "authority.db")
	store, err := Open(dbPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dbPath
}

func save(t *testing.T, s *Store, profiles []string, cfg map[string]any) string {
	t.Helper()
	id, err := s.SaveVersion(context.Background(), domain.VersionInput{
		Profiles: profiles,
		Config:   cfg,
		Metadata: domain.VersionMetadata{Action: "manual-save"},
	})
	require.NoError(t, err)
	return id
}

func TestVersionsHistoryNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a := save(t, s, []string{"web"}, map[string]any{"domain": "a.example"})
	b := save(t, s, []string{"web", "db"}, map[string]any{"domain": "b.example"})
	assert.NotEqual(t, a, b)

	hist, err := s.ListHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, b, hist[0].ID)
	assert.True(t, hist[0].Current)
	assert.False(t, hist[1].Current)
	assert.Equal(t, []string{"web", "db"}, hist[0].Profiles)
	assert.Equal(t, "manual-save", hist[0].Metadata.Action)

	hist, err = s.ListHistory(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestUndoReturnsNewCurrent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	res, err := s.Undo(ctx)
	require.NoError(t, err)
	assert.False(t, res.Success, "empty log")
	assert.NotEmpty(t, res.Message)

	save(t, s, []string{"web"}, map[string]any{"domain": "a.example"})
	save(t, s, []string{"db"}, map[string]any{"domain": "b.example"})

	res, err = s.Undo(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"web"}, res.Profiles)
	assert.Equal(t, "a.example", res.Config["domain"])

	// The first version has no predecessor; it stays.
	res, err = s.Undo(ctx)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Message)

	hist, err := s.ListHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, []string{"web"}, hist[0].Profiles)
}

func TestRestoreVersionKeepsLog(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a := save(t, s, []string{"web"}, map[string]any{"replicas": 2})
	save(t, s, []string{"db"}, nil)

	res, err := s.Restore(ctx, a)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 2, res.Config["replicas"])

	res, err = s.Restore(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, res.Success)

	hist, _ := s.ListHistory(ctx, 0)
	assert.Len(t, hist, 2)
}

func TestCheckpointsRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	cps := s.Checkpoints()
	ctx := context.Background()

	data := map[string]any{
		domain.CheckpointKeyCurrentStep:   7,
		domain.CheckpointKeyConfiguration: map[string]any{"domain": "x.example"},
	}
	first, err := cps.Create(ctx, "before-building", data)
	require.NoError(t, err)
	second, err := cps.Create(ctx, "before-starting", data)
	require.NoError(t, err)

	list, err := cps.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	got, err := cps.Restore(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "before-building", got.Stage)
	assert.EqualValues(t, 7, got.Data[domain.CheckpointKeyCurrentStep])
	cfg, ok := got.Data[domain.CheckpointKeyConfiguration].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "x.example", cfg["domain"])
}

func TestCheckpointErrors(t *testing.T) {
	s, _ := newTestStore(t)
	cps := s.Checkpoints()
	ctx := context.Background()

	_, err := cps.Create(ctx, "", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = cps.Restore(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.CodeCheckpointNotFound, domain.ErrorCodeOf(err))
}

func TestResumeStateHoursSinceActivity(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	st, err := s.CanResume(ctx)
	require.NoError(t, err)
	assert.False(t, st.CanResume)

	require.NoError(t, s.SaveState(ctx, domain.ResumeState{
		CanResume:      true,
		CurrentStep:    5,
		NavigationPath: domain.PathCustom,
		Phase:          domain.PhaseBuilding,
	}))

	now = now.Add(3 * time.Hour)
	st, err = s.CanResume(ctx)
	require.NoError(t, err)
	assert.True(t, st.CanResume)
	assert.Equal(t, 5, st.CurrentStep)
	assert.Equal(t, domain.PathCustom, st.NavigationPath)
	assert.InDelta(t, 3.0, st.HoursSinceActivity, 0.001)

	require.NoError(t, s.ClearState(ctx))
	st, err = s.CanResume(ctx)
	require.NoError(t, err)
	assert.False(t, st.CanResume)
}

func TestSecretsSealedAtRest(t *testing.T) {
	sealer := secrets.NewSealer("correct horse", []string{"password"})
	s, dbPath := newTestStore(t, WithSealer(sealer))
	ctx := context.Background()

	id := save(t, s, []string{"db"}, map[string]any{"db_password": "hunter2", "domain": "x.example"})
	require.NoError(t, s.SaveState(ctx, domain.ResumeState{
		CanResume:     true,
		CurrentStep:   3,
		Configuration: map[string]any{"db_password": "hunter2"},
	}))

	raw, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer raw.Close()
	var cfgJSON, stateJSON string
	require.NoError(t, raw.QueryRow("SELECT config FROM versions WHERE id = ?", id).Scan(&cfgJSON))
	require.NoError(t, raw.QueryRow("SELECT state FROM resume_state").Scan(&stateJSON))
	assert.NotContains(t, cfgJSON, "hunter2")
	assert.True(t, strings.Contains(cfgJSON, secrets.Prefix))
	assert.NotContains(t, stateJSON, "hunter2")

	res, err := s.Restore(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", res.Config["db_password"])

	st, err := s.CanResume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", st.Configuration["db_password"])
}

func TestInstallStatus(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseNotStarted, st.Phase)

	require.NoError(t, s.PutStatus(ctx, domain.InstallationStatus{
		Phase: domain.PhaseBuilding,
		Tasks: []domain.TaskRef{{ID: "t1", Name: "build", Status: "running"}},
	}))
	st, err = s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseBuilding, st.Phase)
	require.Len(t, st.Tasks, 1)
	assert.Equal(t, "build", st.Tasks[0].Name)
}

func TestReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "authority.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	id := save(t, s, []string{"web"}, nil)
	require.NoError(t, s.Close())

	s, err = Open(dbPath)
	require.NoError(t, err)
	defer s.Close()
	hist, err := s.ListHistory(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, id, hist[0].ID)
}

func TestAuthoritiesBundle(t *testing.T) {
	s, _ := newTestStore(t)
	a := s.Authorities()
	assert.NotNil(t, a.Resume)
	assert.NotNil(t, a.Versions)
	assert.NotNil(t, a.Checkpoints)
	assert.NotNil(t, a.Install)
}
