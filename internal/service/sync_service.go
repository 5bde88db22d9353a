package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/tvinput/internal/ingestor"
	"github.com/jmylchreest/tvinput/internal/models"
	"github.com/jmylchreest/tvinput/internal/observability"
	"github.com/jmylchreest/tvinput/internal/repository"
	"github.com/jmylchreest/tvinput/pkg/m3u"
	"github.com/jmylchreest/tvinput/pkg/xmltv"
)

// ErrNoChannelsURL is returned when a sync runs without a channel feed.
var ErrNoChannelsURL = errors.New("input has no channels url")

// currentWindow is the width of the window a current-program sync writes.
const currentWindow = time.Millisecond

// FeedLoader fetches feed listings, bypassing any cache.
type FeedLoader interface {
	Refresh(ctx context.Context, url string, format ingestor.Format) (*ingestor.Listing, error)
}

// SyncSource describes the feed an input is synced from.
type SyncSource struct {
	InputID        string
	ChannelsURL    string
	ChannelsFormat ingestor.Format
	// EPGURL is an optional XMLTV guide matched to channels by tvg-id.
	EPGURL string
	// DefaultStreamKind applies to programmes without a video type.
	DefaultStreamKind models.StreamKind
	// Window is how far ahead a full sync stores programs.
	Window time.Duration
}

// SyncResult summarises a finished sync.
type SyncResult struct {
	InputID         string        `json:"input_id"`
	CurrentOnly     bool          `json:"current_program_only"`
	Channels        int           `json:"channels"`
	Programs        int           `json:"programs"`
	RemovedChannels int64         `json:"removed_channels"`
	ExpiredPrograms int64         `json:"expired_programs"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
}

// SyncService imports an input's channels and programs into the directory.
// Requests are queued and coalesced; a pending full sync absorbs any
// current-program request.
type SyncService struct {
	channelRepo repository.ChannelRepository
	programRepo repository.ProgramRepository
	loader      FeedLoader
	source      SyncSource
	now         func() time.Time
	logger      *slog.Logger

	// syncMu serialises sync runs.
	syncMu sync.Mutex

	mu          sync.Mutex
	pending     bool
	pendingFull bool
	last        *SyncResult
	wake        chan struct{}
}

// NewSyncService creates a sync service for source.
func NewSyncService(
	channelRepo repository.ChannelRepository,
	programRepo repository.ProgramRepository,
	loader FeedLoader,
	source SyncSource,
) *SyncService {
	return &SyncService{
		channelRepo: channelRepo,
		programRepo: programRepo,
		loader:      loader,
		source:      source,
		now:         time.Now,
		logger:      slog.Default(),
		wake:        make(chan struct{}, 1),
	}
}

// WithLogger sets the logger for the service.
func (s *SyncService) WithLogger(logger *slog.Logger) *SyncService {
	s.logger = logger
	return s
}

// RequestSync queues an expedited sync of inputID. It never blocks.
// Requests for other inputs are ignored.
func (s *SyncService) RequestSync(inputID string, currentProgramOnly bool) {
	if inputID != s.source.InputID {
		s.logger.Warn("sync requested for unknown input", slog.String("input_id", inputID))
		return
	}

	s.mu.Lock()
	s.pending = true
	if !currentProgramOnly {
		s.pendingFull = true
	}
	s.mu.Unlock()

	s.logger.Debug("sync requested",
		slog.String("input_id", inputID),
		slog.Bool("current_program_only", currentProgramOnly))

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending reports whether a requested sync has not started yet.
func (s *SyncService) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Run executes queued sync requests until ctx is done.
func (s *SyncService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}

		currentOnly, ok := s.takePending()
		if !ok {
			continue
		}
		if _, err := s.Sync(ctx, currentOnly); err != nil && ctx.Err() == nil {
			s.logger.Error("requested sync failed", slog.String("error", err.Error()))
		}
	}
}

func (s *SyncService) takePending() (currentOnly, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return false, false
	}
	currentOnly = !s.pendingFull
	s.pending = false
	s.pendingFull = false
	return currentOnly, true
}

// LastResult returns the result of the last successful sync, or nil.
func (s *SyncService) LastResult() *SyncResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Sync imports the feed now. A full sync stores programs for the next
// window and removes channels gone from the feed; a current-program sync
// only writes programs overlapping now.
func (s *SyncService) Sync(ctx context.Context, currentOnly bool) (*SyncResult, error) {
	if s.source.ChannelsURL == "" {
		return nil, ErrNoChannelsURL
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	start := s.now()
	result := &SyncResult{
		InputID:     s.source.InputID,
		CurrentOnly: currentOnly,
		StartedAt:   start,
	}

	catalog, guide, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	channels, err := s.storeChannels(ctx, catalog.Channels)
	if err != nil {
		return nil, err
	}
	result.Channels = len(channels)

	if !currentOnly {
		keep := make([]int64, len(channels))
		for i, ch := range channels {
			keep[i] = ch.ID
		}
		removed, err := s.channelRepo.DeleteMissing(ctx, s.source.InputID, keep)
		if err != nil {
			return nil, fmt.Errorf("removing stale channels: %w", err)
		}
		result.RemovedChannels = removed
	}

	windowStart := start.UTC()
	windowEnd := windowStart.Add(s.source.Window)
	if currentOnly {
		windowEnd = windowStart.Add(currentWindow)
	}

	programmes := mergeProgrammes(catalog.Programmes, guide)
	if programmes != nil {
		n, err := s.storePrograms(ctx, channels, programmes, windowStart, windowEnd)
		if err != nil {
			return nil, err
		}
		result.Programs = n
	}

	if !currentOnly {
		expired, err := s.programRepo.DeleteExpired(ctx, windowStart)
		if err != nil {
			return nil, fmt.Errorf("removing expired programs: %w", err)
		}
		result.ExpiredPrograms = expired
	}

	result.Duration = s.now().Sub(start)

	s.mu.Lock()
	s.last = result
	s.mu.Unlock()

	logger := s.logger
	if id := observability.CorrelationIDFromContext(ctx); id != "" {
		logger = observability.WithCorrelationID(logger, id)
	}
	logger.Info("sync completed",
		slog.String("input_id", result.InputID),
		slog.Bool("current_program_only", currentOnly),
		slog.Int("channels", result.Channels),
		slog.Int("programs", result.Programs),
		slog.Int64("removed_channels", result.RemovedChannels),
		slog.Duration("duration", result.Duration))

	return result, nil
}

// load fetches the channel feed and the optional guide concurrently.
func (s *SyncService) load(ctx context.Context) (*ingestor.Listing, *ingestor.Listing, error) {
	var catalog, guide *ingestor.Listing

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		catalog, err = s.loader.Refresh(gctx, s.source.ChannelsURL, s.source.ChannelsFormat)
		if err != nil {
			return fmt.Errorf("loading channels: %w", err)
		}
		return nil
	})
	if s.source.EPGURL != "" {
		g.Go(func() error {
			var err error
			guide, err = s.loader.Refresh(gctx, s.source.EPGURL, ingestor.FormatXMLTV)
			if err != nil {
				return fmt.Errorf("loading guide: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return catalog, guide, nil
}

func (s *SyncService) storeChannels(ctx context.Context, entries []m3u.Channel) ([]*models.Channel, error) {
	channels := make([]*models.Channel, 0, len(entries))
	for _, e := range entries {
		if e.Number <= 0 || e.DisplayName == "" {
			continue
		}
		channels = append(channels, &models.Channel{
			InputID:           s.source.InputID,
			OriginalNetworkID: e.Number,
			DisplayNumber:     e.DisplayNumber,
			DisplayName:       e.DisplayName,
			TvgID:             e.TvgID,
			StreamURL:         e.StreamURL,
			LogoURL:           e.LogoURL,
		})
	}
	if err := s.channelRepo.UpsertBatch(ctx, channels); err != nil {
		return nil, fmt.Errorf("storing channels: %w", err)
	}
	return channels, nil
}

// storePrograms replaces each channel's programs in [start, end) with the
// guide's. Channels without a tvg-id are left alone.
func (s *SyncService) storePrograms(
	ctx context.Context,
	channels []*models.Channel,
	programmes map[string][]*xmltv.Programme,
	start, end time.Time,
) (int, error) {
	total := 0
	for _, ch := range channels {
		if ch.TvgID == "" {
			continue
		}
		var programs []*models.Program
		for _, p := range programmes[ch.TvgID] {
			program := s.toProgram(p)
			if !program.Covers(start, end) {
				continue
			}
			programs = append(programs, program)
		}
		if err := s.programRepo.ReplaceWindow(ctx, ch.ID, start, end, programs); err != nil {
			return total, fmt.Errorf("storing programs of channel %d: %w", ch.OriginalNetworkID, err)
		}
		total += len(programs)
	}
	return total, nil
}

func (s *SyncService) toProgram(p *xmltv.Programme) *models.Program {
	kind := s.source.DefaultStreamKind
	if p.VideoType != "" {
		if parsed, err := models.ParseStreamKind(p.VideoType); err == nil {
			kind = parsed
		} else {
			s.logger.Debug("unknown video type", slog.String("video_type", p.VideoType))
		}
	}

	var ratings models.ContentRatings
	for _, r := range p.Ratings {
		if r.System == "" || r.Value == "" {
			continue
		}
		ratings = append(ratings, models.NewContentRating(models.DefaultRatingDomain, r.System, r.Value))
	}

	stop := p.Stop
	if stop.IsZero() {
		stop = p.Start
	}

	return &models.Program{
		Title:       p.Title,
		Description: p.Description,
		Category:    p.Category,
		IconURL:     p.Icon,
		StartTime:   p.Start.UTC(),
		EndTime:     stop.UTC(),
		StreamURL:   p.VideoSrc,
		StreamKind:  kind,
		Ratings:     ratings,
	}
}

// mergeProgrammes combines the catalog's own programmes with the guide's.
// It returns nil when neither carried any guide data.
func mergeProgrammes(catalog map[string][]*xmltv.Programme, guide *ingestor.Listing) map[string][]*xmltv.Programme {
	if catalog == nil && guide == nil {
		return nil
	}
	merged := make(map[string][]*xmltv.Programme, len(catalog))
	for id, progs := range catalog {
		merged[id] = append(merged[id], progs...)
	}
	if guide != nil {
		for id, progs := range guide.Programmes {
			merged[id] = append(merged[id], progs...)
		}
	}
	return merged
}
