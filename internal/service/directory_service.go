// Package service implements the channel directory: lookups for sessions
// and synchronisation from the configured feed.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/tvinput/internal/models"
	"github.com/jmylchreest/tvinput/internal/repository"
)

// DirectoryService answers the channel and program lookups sessions make
// while resolving what to play.
type DirectoryService struct {
	channelRepo repository.ChannelRepository
	programRepo repository.ProgramRepository
	logger      *slog.Logger
}

// NewDirectoryService creates a new directory service.
func NewDirectoryService(channelRepo repository.ChannelRepository, programRepo repository.ProgramRepository) *DirectoryService {
	return &DirectoryService{
		channelRepo: channelRepo,
		programRepo: programRepo,
		logger:      slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *DirectoryService) WithLogger(logger *slog.Logger) *DirectoryService {
	s.logger = logger
	return s
}

// GetChannel returns the channel behind uri, or nil when there is none.
func (s *DirectoryService) GetChannel(ctx context.Context, uri models.ChannelURI) (*models.Channel, error) {
	id, err := uri.ChannelID()
	if err != nil {
		return nil, err
	}
	channel, err := s.channelRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting channel %d: %w", id, err)
	}
	return channel, nil
}

// GetProgramPlaybackInfo returns the playback info of up to limit programs
// of the channel overlapping [start, end), in start order. Programs without
// their own stream inherit the channel's.
func (s *DirectoryService) GetProgramPlaybackInfo(ctx context.Context, uri models.ChannelURI, start, end time.Time, limit int) ([]models.PlaybackInfo, error) {
	channel, err := s.GetChannel(ctx, uri)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return []models.PlaybackInfo{}, nil
	}

	programs, err := s.programRepo.ListInWindow(ctx, channel.ID, start.UTC(), end.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing programs of channel %d: %w", channel.ID, err)
	}

	infos := make([]models.PlaybackInfo, 0, len(programs))
	for _, p := range programs {
		infos = append(infos, p.PlaybackInfo(channel.StreamURL))
	}

	s.logger.Debug("resolved program playback info",
		slog.Int64("channel_id", channel.ID),
		slog.Int("programs", len(infos)),
	)
	return infos, nil
}

// ListChannels returns the channels of an input ordered by channel number.
func (s *DirectoryService) ListChannels(ctx context.Context, inputID string) ([]*models.Channel, error) {
	channels, err := s.channelRepo.ListByInput(ctx, inputID)
	if err != nil {
		return nil, fmt.Errorf("listing channels of %s: %w", inputID, err)
	}
	return channels, nil
}

// CurrentPlaybackInfo returns what the channel plays at now, or nil when no
// program covers it.
func (s *DirectoryService) CurrentPlaybackInfo(ctx context.Context, uri models.ChannelURI, now time.Time) (*models.PlaybackInfo, error) {
	infos, err := s.GetProgramPlaybackInfo(ctx, uri, now, now.Add(time.Millisecond), 1)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return &infos[0], nil
}
