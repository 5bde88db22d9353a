// Package repository defines data access for the channel/program directory.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/tvinput/internal/models"
)

// ChannelRepository defines operations for channel persistence.
type ChannelRepository interface {
	// Upsert creates or updates a channel keyed by (input_id,
	// original_network_id). The channel ID is set on return and stays
	// stable across upserts.
	Upsert(ctx context.Context, channel *models.Channel) error
	// UpsertBatch upserts channels in a single transaction.
	UpsertBatch(ctx context.Context, channels []*models.Channel) error
	// GetByID retrieves a channel by ID. Returns nil, nil if not found.
	GetByID(ctx context.Context, id int64) (*models.Channel, error)
	// GetByNetworkID retrieves a channel by its feed number.
	GetByNetworkID(ctx context.Context, inputID string, originalNetworkID int) (*models.Channel, error)
	// GetByTvgID retrieves the channels of an input sharing an EPG id.
	GetByTvgID(ctx context.Context, inputID, tvgID string) ([]*models.Channel, error)
	// ListByInput returns the channels of an input in feed number order.
	ListByInput(ctx context.Context, inputID string) ([]*models.Channel, error)
	// CountByInput returns the number of channels of an input.
	CountByInput(ctx context.Context, inputID string) (int64, error)
	// DeleteMissing removes the channels of an input whose IDs are not in
	// keep, together with their programs.
	DeleteMissing(ctx context.Context, inputID string, keep []int64) (int64, error)
}

// ProgramRepository defines operations for program persistence.
type ProgramRepository interface {
	// ReplaceWindow deletes the channel's programs overlapping [start, end)
	// and inserts programs, atomically.
	ReplaceWindow(ctx context.Context, channelID int64, start, end time.Time, programs []*models.Program) error
	// ListInWindow returns up to limit programs overlapping [start, end)
	// ordered by start time. A limit <= 0 means no limit.
	ListInWindow(ctx context.Context, channelID int64, start, end time.Time, limit int) ([]*models.Program, error)
	// DeleteExpired deletes programs that ended before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	// CountByChannel returns the number of stored programs of a channel.
	CountByChannel(ctx context.Context, channelID int64) (int64, error)
}
