// Package session holds the wizard session aggregate and enforces that each
// field has exactly one writer component.
package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"setupwiz/internal/domain"
)

// Session field keys reported in Change notifications.
const (
	KeyCurrentStep          = "currentStep"
	KeyNavigationPath       = "navigationPath"
	KeyHistory              = "history"
	KeySelectedProfiles     = "selectedProfiles"
	KeyConfiguration        = "configuration"
	KeyTemplate             = "template"
	KeyPrerequisites        = "prerequisites"
	KeyResourceOverride     = "resourceOverride"
	KeyReconfiguring        = "reconfiguring"
	KeyInstallationPhase    = "installationPhase"
	KeyInstallationComplete = "installationComplete"
	KeyBackgroundTasks      = "backgroundTasks"
	keyCleared              = "*"
)

// Change describes one mutation. For KV entries Key is the caller's key.
// Old and New are shared with the store and must be treated as read-only.
type Change struct {
	Key string
	Old any
	New any
}

// Store owns the only live Session plus a free-form key/value area for
// per-step scratch data. Readers get clones.
type Store struct {
	mu      sync.RWMutex
	sess    domain.Session
	kv      map[string]any
	subs    map[uint64]func(Change)
	nextSub uint64

	bus    domain.EventBus
	logger *slog.Logger

	navClaimed  atomic.Bool
	selClaimed  atomic.Bool
	instClaimed atomic.Bool
}

// New creates an empty Store. bus may be nil.
func New(bus domain.EventBus, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kv:     make(map[string]any),
		subs:   make(map[uint64]func(Change)),
		bus:    bus,
		logger: logger,
	}
}

// Snapshot returns a deep copy of the session.
func (s *Store) Snapshot() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess.Clone()
}

// Get returns a KV entry.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key]
	return v, ok
}

// Set stores a KV entry.
func (s *Store) Set(key string, v any) {
	s.mu.Lock()
	old := s.kv[key]
	s.kv[key] = v
	s.mu.Unlock()
	s.notify(Change{Key: key, Old: old, New: v})
}

// Update replaces a KV entry with fn(old) atomically.
func (s *Store) Update(key string, fn func(old any) any) {
	s.mu.Lock()
	old := s.kv[key]
	v := fn(old)
	s.kv[key] = v
	s.mu.Unlock()
	s.notify(Change{Key: key, Old: old, New: v})
}

// Remove deletes a KV entry.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	old, ok := s.kv[key]
	delete(s.kv, key)
	s.mu.Unlock()
	if ok {
		s.notify(Change{Key: key, Old: old})
	}
}

// Clear resets the session and the KV area. Writer claims are kept.
func (s *Store) Clear() {
	s.mu.Lock()
	old := s.sess
	s.sess = domain.Session{}
	s.kv = make(map[string]any)
	s.mu.Unlock()
	s.logger.Debug("session cleared", "step", old.CurrentStep)
	s.notify(Change{Key: keyCleared, Old: old})
}

// Subscribe registers fn for every change. fn runs on the mutating goroutine
// after the store lock is released. Returns an unsubscribe function.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
	if s.bus != nil && c.Key != "" {
		s.bus.Publish(context.Background(), domain.NewEvent(domain.EventSessionChanged, map[string]string{"key": c.Key}))
	}
}

// set swaps the field selected by get for v and reports the change.
func set[T any](s *Store, key string, get func(*domain.Session) *T, v T) {
	s.mu.Lock()
	p := get(&s.sess)
	old := *p
	*p = v
	s.mu.Unlock()
	s.notify(Change{Key: key, Old: old, New: v})
}

// ClaimNavigation hands out the single writer of CurrentStep, NavigationPath
// and History.
func (s *Store) ClaimNavigation() (*Navigation, error) {
	if s.navClaimed.Swap(true) {
		return nil, domain.NewDomainError("Store.ClaimNavigation", domain.ErrWriterClaimed, "navigation")
	}
	return &Navigation{s: s}, nil
}

// ClaimSelection hands out the single writer of user selections.
func (s *Store) ClaimSelection() (*Selection, error) {
	if s.selClaimed.Swap(true) {
		return nil, domain.NewDomainError("Store.ClaimSelection", domain.ErrWriterClaimed, "selection")
	}
	return &Selection{s: s}, nil
}

// ClaimInstallation hands out the single writer of installation progress.
func (s *Store) ClaimInstallation() (*Installation, error) {
	if s.instClaimed.Swap(true) {
		return nil, domain.NewDomainError("Store.ClaimInstallation", domain.ErrWriterClaimed, "installation")
	}
	return &Installation{s: s}, nil
}

// Navigation writes the fields owned by the navigation controller.
type Navigation struct{ s *Store }

func (n *Navigation) SetCurrentStep(pos int) {
	set(n.s, KeyCurrentStep, func(x *domain.Session) *int { return &x.CurrentStep }, pos)
}

func (n *Navigation) SetPath(p domain.NavigationPath) {
	set(n.s, KeyNavigationPath, func(x *domain.Session) *domain.NavigationPath { return &x.NavigationPath }, p)
}

func (n *Navigation) SetHistory(h []int) {
	set(n.s, KeyHistory, func(x *domain.Session) *[]int { return &x.History }, slices.Clone(h))
}

// Selection writes user choices.
type Selection struct{ s *Store }

func (w *Selection) SetProfiles(profiles []string) {
	set(w.s, KeySelectedProfiles, func(x *domain.Session) *[]string { return &x.SelectedProfiles }, domain.NormalizeProfiles(profiles))
}

func (w *Selection) SetConfiguration(cfg map[string]any) {
	set(w.s, KeyConfiguration, func(x *domain.Session) *map[string]any { return &x.Configuration }, domain.CloneConfig(cfg))
}

func (w *Selection) SetTemplate(t domain.TemplateChoice) {
	set(w.s, KeyTemplate, func(x *domain.Session) *domain.TemplateChoice { return &x.Template }, t)
}

func (w *Selection) SetPrerequisites(r *domain.PrerequisiteReport) {
	if r != nil {
		c := *r
		c.Ports = slices.Clone(r.Ports)
		r = &c
	}
	set(w.s, KeyPrerequisites, func(x *domain.Session) **domain.PrerequisiteReport { return &x.Prerequisites }, r)
}

func (w *Selection) SetResourceOverride(v bool) {
	set(w.s, KeyResourceOverride, func(x *domain.Session) *bool { return &x.ResourceOverride }, v)
}

func (w *Selection) SetReconfiguring(v bool) {
	set(w.s, KeyReconfiguring, func(x *domain.Session) *bool { return &x.Reconfiguring }, v)
}

// Installation writes installation progress reported out of band.
type Installation struct{ s *Store }

func (w *Installation) SetPhase(p domain.InstallationPhase) {
	set(w.s, KeyInstallationPhase, func(x *domain.Session) *domain.InstallationPhase { return &x.InstallationPhase }, p)
}

func (w *Installation) SetComplete(v bool) {
	set(w.s, KeyInstallationComplete, func(x *domain.Session) *bool { return &x.InstallationComplete }, v)
}

func (w *Installation) SetTasks(tasks []domain.TaskRef) {
	set(w.s, KeyBackgroundTasks, func(x *domain.Session) *[]domain.TaskRef { return &x.BackgroundTasks }, slices.Clone(tasks))
}
