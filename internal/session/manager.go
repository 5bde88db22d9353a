package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/tvinput/internal/models"
)

// Options tunes session behaviour.
type Options struct {
	// DefaultStreamKind is used for fallback playback info.
	// Default: HLS
	DefaultStreamKind models.StreamKind

	// FallbackWindow is how long fallback playback info lasts.
	// Default: 1 hour
	FallbackWindow time.Duration

	// BoundaryGrace is added to a program's end before re-resolving.
	// Default: 1 second
	BoundaryGrace time.Duration

	// DefaultVolume is the volume of a new session.
	// Default: 1.0
	DefaultVolume float32
}

// DefaultOptions returns the default session options.
func DefaultOptions() Options {
	return Options{
		DefaultStreamKind: models.StreamKindHLS,
		FallbackWindow:    time.Hour,
		BoundaryGrace:     time.Second,
		DefaultVolume:     1.0,
	}
}

// Dependencies are the collaborators shared by every session.
type Dependencies struct {
	Directory Directory
	Engines   EngineFactory
	Sync      SyncRequester
	Parental  ParentalControls
	// Worker runs resolutions for all sessions.
	Worker Scheduler
	// Foreground applies resolution results and issues the host
	// notifications they cause. Nil applies them on Worker.
	Foreground Scheduler
	// Clock defaults to SystemClock.
	Clock Clock
}

// Manager creates sessions and keeps the registry of live ones.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	deps   Dependencies
	opts   Options
	logger *slog.Logger
}

// NewManager creates a session manager.
func NewManager(deps Dependencies) *Manager {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	return &Manager{
		sessions: make(map[string]*Session),
		deps:     deps,
		opts:     DefaultOptions(),
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger
	return m
}

// WithOptions applies options. Zero durations and volumes keep their
// defaults.
func (m *Manager) WithOptions(opts Options) *Manager {
	m.opts.DefaultStreamKind = opts.DefaultStreamKind
	if opts.FallbackWindow > 0 {
		m.opts.FallbackWindow = opts.FallbackWindow
	}
	if opts.BoundaryGrace > 0 {
		m.opts.BoundaryGrace = opts.BoundaryGrace
	}
	if opts.DefaultVolume > 0 {
		m.opts.DefaultVolume = opts.DefaultVolume
	}
	return m
}

// CreateSession creates a live session for inputID reporting to host.
func (m *Manager) CreateSession(inputID string, host Host) *Session {
	id := uuid.NewString()
	s := &Session{
		id:        id,
		inputID:   inputID,
		directory: m.deps.Directory,
		engines:   m.deps.Engines,
		syncer:    m.deps.Sync,
		parental:  m.deps.Parental,
		host:      host,
		worker:    m.deps.Worker,
		fg:        m.deps.Foreground,
		clock:     m.deps.Clock,
		opts:      m.opts,
		onRelease: m.remove,
		logger: m.logger.With(
			slog.String("session_id", id),
			slog.String("input_id", inputID)),
		unblocked: make(map[models.ContentRating]struct{}),
		volume:    m.opts.DefaultVolume,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	s.logger.Info("session created")
	return s
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
}

// Get returns a live session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Sessions returns the live sessions ordered by ID.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].id < sessions[j].id
	})
	return sessions
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RecheckBlocking re-runs the content block check on every live session.
// Call it whenever parental controls or the blocked ratings change.
// Sessions released during the broadcast are skipped.
func (m *Manager) RecheckBlocking() {
	sessions := m.Sessions()
	m.logger.Debug("rechecking content blocking", slog.Int("sessions", len(sessions)))
	for _, s := range sessions {
		s.RecheckBlocking()
	}
}

// ReleaseAll releases every live session.
func (m *Manager) ReleaseAll() {
	for _, s := range m.Sessions() {
		s.Release()
	}
}
