package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/tvinput/internal/models"
)

// channelRepo implements ChannelRepository using GORM.
type channelRepo struct {
	db *gorm.DB
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *gorm.DB) ChannelRepository {
	return &channelRepo{db: db}
}

// Upsert creates or updates a channel keyed by input and feed number.
func (r *channelRepo) Upsert(ctx context.Context, channel *models.Channel) error {
	return upsertChannel(r.db.WithContext(ctx), channel)
}

func upsertChannel(db *gorm.DB, channel *models.Channel) error {
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "input_id"}, {Name: "original_network_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_number", "display_name", "tvg_id", "stream_url", "logo_url", "updated_at",
		}),
	}).Create(channel).Error; err != nil {
		return fmt.Errorf("upserting channel %d: %w", channel.OriginalNetworkID, err)
	}

	// The conflict path does not report the existing row's ID on every
	// driver, so read it back.
	var ids []int64
	if err := db.Model(&models.Channel{}).
		Where("input_id = ? AND original_network_id = ?", channel.InputID, channel.OriginalNetworkID).
		Limit(1).
		Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("reading channel id: %w", err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("upserted channel %d not found", channel.OriginalNetworkID)
	}
	channel.ID = ids[0]
	return nil
}

// UpsertBatch upserts channels in a single transaction.
func (r *channelRepo) UpsertBatch(ctx context.Context, channels []*models.Channel) error {
	if len(channels) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ch := range channels {
			if err := upsertChannel(tx, ch); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID retrieves a channel by ID.
func (r *channelRepo) GetByID(ctx context.Context, id int64) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by ID: %w", err)
	}
	return &channel, nil
}

// GetByNetworkID retrieves a channel by input and feed number.
func (r *channelRepo) GetByNetworkID(ctx context.Context, inputID string, originalNetworkID int) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).
		Where("input_id = ? AND original_network_id = ?", inputID, originalNetworkID).
		First(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by network ID: %w", err)
	}
	return &channel, nil
}

// GetByTvgID retrieves channels by EPG ID (for matching with programs).
func (r *channelRepo) GetByTvgID(ctx context.Context, inputID, tvgID string) ([]*models.Channel, error) {
	var channels []*models.Channel
	if err := r.db.WithContext(ctx).
		Where("input_id = ? AND tvg_id = ?", inputID, tvgID).
		Order("original_network_id ASC").
		Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting channels by tvg_id: %w", err)
	}
	return channels, nil
}

// ListByInput returns the channels of an input in feed number order.
func (r *channelRepo) ListByInput(ctx context.Context, inputID string) ([]*models.Channel, error) {
	var channels []*models.Channel
	if err := r.db.WithContext(ctx).
		Where("input_id = ?", inputID).
		Order("original_network_id ASC").
		Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	return channels, nil
}

// CountByInput returns the number of channels of an input.
func (r *channelRepo) CountByInput(ctx context.Context, inputID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Channel{}).Where("input_id = ?", inputID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting channels: %w", err)
	}
	return count, nil
}

// DeleteMissing removes channels that disappeared from the feed together
// with their programs.
func (r *channelRepo) DeleteMissing(ctx context.Context, inputID string, keep []int64) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&models.Channel{}).Select("id").Where("input_id = ?", inputID)
		if len(keep) > 0 {
			stale = stale.Where("id NOT IN ?", keep)
		}

		if err := tx.Where("channel_id IN (?)", stale).Delete(&models.Program{}).Error; err != nil {
			return fmt.Errorf("deleting programs of removed channels: %w", err)
		}

		q := tx.Where("input_id = ?", inputID)
		if len(keep) > 0 {
			q = q.Where("id NOT IN ?", keep)
		}
		result := q.Delete(&models.Channel{})
		if result.Error != nil {
			return fmt.Errorf("deleting removed channels: %w", result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}
