package versioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"setupwiz/internal/domain"
	"setupwiz/internal/infra/config"
	"setupwiz/internal/infra/metrics"
	"setupwiz/internal/usecase/eventbus"
	"setupwiz/internal/usecase/session"
	"setupwiz/internal/usecase/wizard"
)

// memAuthority is an in-memory version and checkpoint log.
type memAuthority struct {
	mu          sync.Mutex
	versions    []domain.Version
	checkpoints []domain.Checkpoint
	seq         int
	saves       int
	err         error
	block       chan struct{}
	entered     chan struct{}
}

func (a *memAuthority) nextID(prefix string) string {
	a.seq++
	return fmt.Sprintf("%s-%03d", prefix, a.seq)
}

func (a *memAuthority) SaveVersion(_ context.Context, in domain.VersionInput) (string, error) {
	if a.entered != nil {
		a.entered <- struct{}{}
	}
	if a.block != nil {
		<-a.block
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saves++
	if a.err != nil {
		return "", a.err
	}
	v := domain.Version{ID: a.nextID("v"), Profiles: in.Profiles, Config: in.Config, Metadata: in.Metadata}
	a.versions = append(a.versions, v)
	return v.ID, nil
}

func (a *memAuthority) Undo(context.Context) (domain.UndoResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return domain.UndoResult{}, a.err
	}
	if len(a.versions) < 2 {
		return domain.UndoResult{Message: "no earlier version to return to"}, nil
	}
	a.versions = a.versions[:len(a.versions)-1]
	cur := a.versions[len(a.versions)-1]
	return domain.UndoResult{Success: true, Profiles: cur.Profiles, Config: cur.Config}, nil
}

func (a *memAuthority) ListHistory(_ context.Context, limit int) ([]domain.VersionEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	var out []domain.VersionEntry
	for i := len(a.versions) - 1; i >= 0; i-- {
		out = append(out, domain.VersionEntry{Version: a.versions[i], Current: i == len(a.versions)-1})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (a *memAuthority) Restore(_ context.Context, id string) (domain.RestoreResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return domain.RestoreResult{}, a.err
	}
	for _, v := range a.versions {
		if v.ID == id {
			return domain.RestoreResult{Success: true, Profiles: v.Profiles, Config: v.Config}, nil
		}
	}
	return domain.RestoreResult{}, nil
}

type memCheckpoints struct{ *memAuthority }

func (c memCheckpoints) Create(_ context.Context, stage string, data map[string]any) (domain.Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return domain.Checkpoint{}, c.err
	}
	cp := domain.Checkpoint{ID: c.nextID("cp"), Stage: stage, Data: domain.CloneConfig(data), Timestamp: time.Now()}
	c.checkpoints = append(c.checkpoints, cp)
	return cp, nil
}

func (c memCheckpoints) List(context.Context) ([]domain.Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Checkpoint, 0, len(c.checkpoints))
	for i := len(c.checkpoints) - 1; i >= 0; i-- {
		out = append(out, c.checkpoints[i])
	}
	return out, c.err
}

func (c memCheckpoints) Restore(_ context.Context, id string) (domain.Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return domain.Checkpoint{}, c.err
	}
	for _, cp := range c.checkpoints {
		if cp.ID == id {
			return cp, nil
		}
	}
	return domain.Checkpoint{}, domain.NewSubSystemError("checkpoint", "Restore", domain.ErrNotFound, id)
}

type harness struct {
	mgr     *Manager
	ctl     *wizard.Controller
	auth    *memAuthority
	metrics *metrics.Metrics
	pointer *Pointer
	events  []domain.EventType
	prompts []string
}

func newHarness(t *testing.T, confirm bool) *harness {
	t.Helper()
	bus := eventbus.New(slog.Default(), eventbus.WithSynchronous())
	t.Cleanup(bus.Close)

	store := session.New(bus, slog.Default())
	ctl, err := wizard.NewController(store, wizard.Options{
		Catalog: wizard.NewCatalog([]config.TemplateConfig{
			{ID: "minimal", Profiles: []string{"core"}, Config: map[string]any{"domain": "localhost"}},
		}),
		Bus: bus,
	})
	require.NoError(t, err)

	ptr, err := OpenPointer(filepath.Join(t.TempDir(), "latest-checkpoint"))
	require.NoError(t, err)

	h := &harness{ctl: ctl, auth: &memAuthority{}, pointer: ptr, metrics: metrics.New(prometheus.NewRegistry())}
	h.mgr = NewManager(ctl, Options{
		Versions:    h.auth,
		Checkpoints: memCheckpoints{h.auth},
		Pointer:     ptr,
		Confirmer: domain.ConfirmFunc(func(_ context.Context, prompt string) (bool, error) {
			h.prompts = append(h.prompts, prompt)
			return confirm, nil
		}),
		Bus:     bus,
		Metrics: h.metrics,
	})
	ctl.SetRecorder(h.mgr)
	bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
		if ev.Type != domain.EventSessionChanged {
			h.events = append(h.events, ev.Type)
		}
	})
	return h
}

func TestRecordSkipsEmptySnapshot(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	res, err := h.mgr.Record(ctx, nil, map[string]any{}, domain.VersionMetadata{Action: "test"})
	require.NoError(t, err)
	assert.Equal(t, SaveSkipped, res.Status)
	assert.Empty(t, res.VersionID)
	assert.Equal(t, 0, h.auth.saves, "no authority call for an empty snapshot")
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.VersionsSkipped), 0)
}

func TestRecordReturnsFreshIDs(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		res, err := h.mgr.Record(ctx, []string{"core"}, map[string]any{"n": i}, domain.VersionMetadata{Action: "test"})
		require.NoError(t, err)
		require.Equal(t, SaveWritten, res.Status)
		assert.False(t, seen[res.VersionID], "id %s reused", res.VersionID)
		seen[res.VersionID] = true
	}
	assert.InDelta(t, 5, testutil.ToFloat64(h.metrics.VersionsSaved), 0)
	assert.Contains(t, h.events, domain.EventVersionSaved)
}

func TestRecordUnavailable(t *testing.T) {
	h := newHarness(t, true)
	h.auth.err = errors.New("connection refused")

	_, err := h.mgr.Record(context.Background(), []string{"core"}, nil, domain.VersionMetadata{})
	assert.ErrorIs(t, err, domain.ErrAuthorityUnavailable)
}

func TestSaveVersionUsesSession(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.ctl.SelectProfiles(ctx, []string{"monitoring", "core"}))

	res, err := h.mgr.SaveVersion(ctx, "before lunch")
	require.NoError(t, err)

	require.Len(t, h.auth.versions, 1)
	v := h.auth.versions[0]
	assert.Equal(t, res.VersionID, v.ID)
	assert.Equal(t, []string{"core", "monitoring"}, v.Profiles)
	assert.Equal(t, "manual-save", v.Metadata.Action)
	assert.False(t, v.Metadata.Timestamp.IsZero())
}

func TestTransitionRecordsVersion(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.ctl.Restore(ctx, domain.RestorePoint{Step: 3}))
	require.NoError(t, h.ctl.ChooseTemplate(ctx, "minimal"))

	out, err := h.ctl.Next(ctx)
	require.NoError(t, err)
	require.True(t, out.Moved)
	require.NoError(t, out.SaveErr)
	require.NotEmpty(t, out.VersionID)
	assert.Equal(t, "step:templates", h.auth.versions[0].Metadata.Action)
}

func TestUndoEmptyLogIsInformational(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.ctl.SelectProfiles(ctx, []string{"core"}))
	before := h.ctl.Session()

	out, err := h.mgr.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, UndoNothing, out.Status)
	assert.NotEmpty(t, out.Message)
	assert.Equal(t, before, h.ctl.Session())
}

func TestUndoAppliesPreviousVersion(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.mgr.Record(ctx, []string{"core"}, map[string]any{"a": "1"}, domain.VersionMetadata{})
	require.NoError(t, err)
	_, err = h.mgr.Record(ctx, []string{"core", "monitoring"}, map[string]any{"a": "2"}, domain.VersionMetadata{})
	require.NoError(t, err)
	require.NoError(t, h.ctl.SelectProfiles(ctx, []string{"core", "monitoring"}))

	out, err := h.mgr.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, UndoApplied, out.Status)

	sess := h.ctl.Session()
	assert.Equal(t, []string{"core"}, sess.SelectedProfiles)
	assert.Equal(t, "1", sess.Configuration["a"])
	assert.Len(t, h.auth.versions, 1)
	assert.Contains(t, h.events, domain.EventVersionUndone)
}

func TestUndoOnlyVersionKeepsSessionConsistent(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.ctl.Restore(ctx, domain.RestorePoint{Step: 3}))
	require.NoError(t, h.ctl.ChooseTemplate(ctx, "minimal"))
	out, err := h.ctl.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StepConfigure, out.To)
	require.Len(t, h.auth.versions, 1)
	before := h.ctl.Session()

	undo, err := h.mgr.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, UndoNothing, undo.Status)
	assert.NotEmpty(t, undo.Message)

	sess := h.ctl.Session()
	assert.Equal(t, before, sess)
	assert.Empty(t, wizard.CheckConsistency(sess))
	assert.Len(t, h.auth.versions, 1)
}

type emptyUndoAuthority struct{ *memAuthority }

func (emptyUndoAuthority) Undo(context.Context) (domain.UndoResult, error) {
	return domain.UndoResult{Success: true}, nil
}

func TestUndoIgnoresEmptyResult(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.ctl.SelectProfiles(ctx, []string{"core"}))
	mgr := NewManager(h.ctl, Options{
		Versions:    emptyUndoAuthority{h.auth},
		Checkpoints: memCheckpoints{h.auth},
		Pointer:     h.pointer,
		Confirmer:   domain.AlwaysConfirm,
	})

	out, err := mgr.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, UndoNothing, out.Status)
	assert.Equal(t, []string{"core"}, h.ctl.Session().SelectedProfiles)
}

func TestUndoDeclinedSkipsAuthority(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.mgr.Record(context.Background(), []string{"core"}, nil, domain.VersionMetadata{})
	require.NoError(t, err)

	out, err := h.mgr.Undo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UndoDeclined, out.Status)
	assert.Len(t, h.auth.versions, 1)
	assert.Len(t, h.prompts, 1)
}

func TestUndoUnavailableLeavesState(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.ctl.SelectProfiles(ctx, []string{"core"}))
	h.auth.err = errors.New("timeout")

	out, err := h.mgr.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, UndoUnavailable, out.Status)
	assert.Error(t, out.Err)
	assert.Equal(t, []string{"core"}, h.ctl.Session().SelectedProfiles)
}

func TestRestoreVersionKeepsLog(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	first, err := h.mgr.Record(ctx, []string{"core"}, map[string]any{"a": "1"}, domain.VersionMetadata{})
	require.NoError(t, err)
	_, err = h.mgr.Record(ctx, []string{"monitoring"}, map[string]any{"a": "2"}, domain.VersionMetadata{})
	require.NoError(t, err)

	require.NoError(t, h.mgr.RestoreVersion(ctx, first.VersionID))
	assert.Equal(t, []string{"core"}, h.ctl.Session().SelectedProfiles)
	assert.Len(t, h.auth.versions, 2, "restore never rewrites the log")
	assert.Contains(t, h.events, domain.EventVersionRestored)

	err = h.mgr.RestoreVersion(ctx, "v-999")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.CodeVersionNotFound, domain.ErrorCodeOf(err))
}

func TestRestoreVersionDeclined(t *testing.T) {
	h := newHarness(t, false)
	err := h.mgr.RestoreVersion(context.Background(), "v-001")
	assert.ErrorIs(t, err, domain.ErrDeclined)
}

func TestHistoryNewestFirst(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.mgr.Record(ctx, []string{"core"}, map[string]any{"i": i}, domain.VersionMetadata{})
		require.NoError(t, err)
	}

	entries, err := h.mgr.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "v-003", entries[0].ID)
	assert.True(t, entries[0].Current)
	assert.Equal(t, "v-002", entries[1].ID)
}

func TestOverlappingWritesAreRejected(t *testing.T) {
	h := newHarness(t, true)
	h.auth.block = make(chan struct{})
	h.auth.entered = make(chan struct{}, 1)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := h.mgr.Record(ctx, []string{"core"}, nil, domain.VersionMetadata{})
		errc <- err
	}()
	<-h.auth.entered

	_, err := h.mgr.Record(ctx, []string{"core"}, nil, domain.VersionMetadata{})
	assert.ErrorIs(t, err, domain.ErrOperationInFlight)

	// Checkpoints are a separate log and stay writable.
	_, err = h.mgr.CreateCheckpoint(ctx, "manual", nil)
	assert.NoError(t, err)

	close(h.auth.block)
	require.NoError(t, <-errc)
}

func TestCreateCheckpointWritesPointer(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.ctl.Restore(ctx, domain.RestorePoint{Step: 5, Profiles: []string{"core"}}))

	cp, err := h.mgr.CreateCheckpoint(ctx, "before-building", map[string]any{"note": "x", "currentStep": 99})
	require.NoError(t, err)

	assert.Equal(t, cp.ID, h.mgr.LatestCheckpointID())
	assert.EqualValues(t, 5, cp.Data[domain.CheckpointKeyCurrentStep], "session keys win over extra data")
	assert.Equal(t, "x", cp.Data["note"])
	for _, k := range []string{
		domain.CheckpointKeyCurrentStep, domain.CheckpointKeyConfiguration,
		domain.CheckpointKeySelectedProfiles, domain.CheckpointKeyNavigationPath,
	} {
		assert.Contains(t, cp.Data, k)
	}

	reopened, err := OpenPointer(h.pointer.path)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, reopened.ID())
	assert.Contains(t, h.events, domain.EventCheckpointCreated)
}

func TestRestoreCheckpointIsExact(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	path := domain.PathCustom
	require.NoError(t, h.ctl.Restore(ctx, domain.RestorePoint{
		Step:     6,
		Profiles: []string{"core", "monitoring"},
		Config:   map[string]any{"domain": "a.example"},
		Path:     &path,
		Template: &domain.TemplateChoice{Custom: true},
	}))
	cp, err := h.mgr.CreateCheckpoint(ctx, "before-starting", nil)
	require.NoError(t, err)

	// Drift away from the checkpoint.
	other := domain.PathTemplate
	require.NoError(t, h.ctl.Restore(ctx, domain.RestorePoint{
		Step:     2,
		Profiles: []string{"other"},
		Config:   map[string]any{"domain": "b.example", "extra": true},
		Path:     &other,
	}))

	_, err = h.mgr.RestoreCheckpoint(ctx, cp.ID)
	require.NoError(t, err)

	sess := h.ctl.Session()
	assert.Equal(t, 6, sess.CurrentStep)
	assert.Equal(t, []string{"core", "monitoring"}, sess.SelectedProfiles)
	assert.Equal(t, map[string]any{"domain": "a.example"}, sess.Configuration)
	assert.Equal(t, domain.PathCustom, sess.NavigationPath)
	assert.True(t, sess.Template.Custom)
}

func TestRestoreCheckpointIgnoresStalePointer(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.ctl.Restore(ctx, domain.RestorePoint{Step: 4}))

	cp, err := h.mgr.CreateCheckpoint(ctx, "manual", nil)
	require.NoError(t, err)
	require.NoError(t, h.pointer.Set("cp-stale"))

	_, err = h.mgr.RestoreCheckpoint(ctx, cp.ID)
	assert.NoError(t, err)

	_, err = h.mgr.RestoreCheckpoint(ctx, "cp-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.CodeCheckpointNotFound, domain.ErrorCodeOf(err))
}

func TestRestoreCheckpointDeclined(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.mgr.RestoreCheckpoint(context.Background(), "cp-001")
	assert.ErrorIs(t, err, domain.ErrDeclined)
}

func TestListCheckpoints(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.ctl.Restore(ctx, domain.RestorePoint{Step: 1}))
	_, err := h.mgr.CreateCheckpoint(ctx, "a", nil)
	require.NoError(t, err)
	_, err = h.mgr.CreateCheckpoint(ctx, "b", nil)
	require.NoError(t, err)

	list, err := h.mgr.ListCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].Stage)
}

func TestPointerClear(t *testing.T) {
	p, err := OpenPointer(filepath.Join(t.TempDir(), "nested", "ptr"))
	require.NoError(t, err)
	assert.Empty(t, p.ID())

	require.NoError(t, p.Set("cp-1"))
	assert.Equal(t, "cp-1", p.ID())
	require.NoError(t, p.Clear())
	assert.Empty(t, p.ID())
	require.NoError(t, p.Clear())

	var nilPtr *Pointer
	assert.Empty(t, nilPtr.ID())
	assert.NoError(t, nilPtr.Set("x"))
}
