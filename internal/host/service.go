// Package host adapts the session controller to the outside world. It
// stands in for the TV platform: it creates sessions, records everything
// they report and holds the parental control settings.
package host

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/tvinput/internal/models"
	"github.com/jmylchreest/tvinput/internal/session"
)

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Status is what a session has reported to its host.
type Status struct {
	VideoAvailable    bool                 `json:"video_available"`
	UnavailableReason string               `json:"unavailable_reason,omitempty"`
	ContentBlocked    bool                 `json:"content_blocked"`
	BlockedRating     models.ContentRating `json:"blocked_rating,omitempty"`
	Tracks            []session.Track      `json:"tracks"`
	SelectedTracks    map[string]string    `json:"selected_tracks"`
	LastError         string               `json:"last_error,omitempty"`
	CueCount          int                  `json:"cue_count"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// View combines a session's state with its host status.
type View struct {
	session.Snapshot
	Status Status `json:"status"`
}

// Service creates sessions and tracks their host status.
type Service struct {
	manager *session.Manager
	now     func() time.Time
	logger  *slog.Logger

	mu    sync.RWMutex
	hosts map[string]*sessionHost
}

// NewService creates a host service over manager.
func NewService(manager *session.Manager) *Service {
	return &Service{
		manager: manager,
		now:     time.Now,
		logger:  slog.Default(),
		hosts:   make(map[string]*sessionHost),
	}
}

// WithLogger sets the logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// CreateSession starts a session for inputID.
func (s *Service) CreateSession(inputID string) *session.Session {
	h := &sessionHost{now: s.now}
	h.status.SelectedTracks = make(map[string]string)

	sess := s.manager.CreateSession(inputID, h)
	h.logger = s.logger.With(slog.String("session_id", sess.ID()))

	s.mu.Lock()
	s.hosts[sess.ID()] = h
	s.mu.Unlock()
	return sess
}

// Session returns a live session.
func (s *Service) Session(id string) (*session.Session, error) {
	sess, ok := s.manager.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// View returns a live session's state and host status.
func (s *Service) View(id string) (View, error) {
	sess, err := s.Session(id)
	if err != nil {
		return View{}, err
	}
	return s.view(sess), nil
}

// List returns every live session ordered by ID.
func (s *Service) List() []View {
	sessions := s.manager.Sessions()
	views := make([]View, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, s.view(sess))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

func (s *Service) view(sess *session.Session) View {
	v := View{Snapshot: sess.Snapshot()}
	s.mu.RLock()
	h := s.hosts[sess.ID()]
	s.mu.RUnlock()
	if h != nil {
		v.Status = h.snapshot()
	}
	return v
}

// Release releases a session and forgets its status.
func (s *Service) Release(id string) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}
	sess.Release()

	s.mu.Lock()
	delete(s.hosts, id)
	s.mu.Unlock()
	return nil
}

// Close releases every session.
func (s *Service) Close() {
	s.manager.ReleaseAll()
	s.mu.Lock()
	s.hosts = make(map[string]*sessionHost)
	s.mu.Unlock()
}

// sessionHost implements session.Host for one session.
type sessionHost struct {
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	status Status
}

var _ session.Host = (*sessionHost)(nil)

func (h *sessionHost) snapshot() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.status
	st.Tracks = append([]session.Track(nil), h.status.Tracks...)
	st.SelectedTracks = make(map[string]string, len(h.status.SelectedTracks))
	for k, v := range h.status.SelectedTracks {
		st.SelectedTracks[k] = v
	}
	return st
}

func (h *sessionHost) update(fn func(st *Status)) {
	h.mu.Lock()
	fn(&h.status)
	h.status.UpdatedAt = h.now()
	h.mu.Unlock()
}

func (h *sessionHost) NotifyVideoAvailable() {
	h.update(func(st *Status) {
		st.VideoAvailable = true
		st.UnavailableReason = ""
	})
	h.logger.Debug("video available")
}

func (h *sessionHost) NotifyVideoUnavailable(reason session.VideoUnavailableReason) {
	h.update(func(st *Status) {
		st.VideoAvailable = false
		st.UnavailableReason = reason.String()
	})
	h.logger.Debug("video unavailable", slog.String("reason", reason.String()))
}

func (h *sessionHost) NotifyContentAllowed() {
	h.update(func(st *Status) {
		st.ContentBlocked = false
		st.BlockedRating = ""
	})
	h.logger.Debug("content allowed")
}

func (h *sessionHost) NotifyContentBlocked(rating models.ContentRating) {
	h.update(func(st *Status) {
		st.ContentBlocked = true
		st.BlockedRating = rating
	})
	h.logger.Info("content blocked", slog.String("rating", string(rating)))
}

func (h *sessionHost) NotifyTracksChanged(tracks []session.Track) {
	h.update(func(st *Status) {
		st.Tracks = append([]session.Track(nil), tracks...)
		st.SelectedTracks = make(map[string]string)
	})
	h.logger.Debug("tracks changed", slog.Int("tracks", len(tracks)))
}

func (h *sessionHost) NotifyTrackSelected(kind session.TrackType, id string) {
	h.update(func(st *Status) {
		if id == "" {
			delete(st.SelectedTracks, kind.String())
			return
		}
		st.SelectedTracks[kind.String()] = id
	})
	h.logger.Debug("track selected", slog.String("type", kind.String()), slog.String("track_id", id))
}

func (h *sessionHost) NotifyCues(cues []session.Cue) {
	h.update(func(st *Status) {
		st.CueCount += len(cues)
	})
}

func (h *sessionHost) NotifyError(err error) {
	h.update(func(st *Status) {
		st.LastError = err.Error()
	})
	h.logger.Warn("playback error", slog.String("error", err.Error()))
}
