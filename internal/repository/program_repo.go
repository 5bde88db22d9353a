package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/tvinput/internal/models"
)

const programBatchSize = 500

// programRepo implements ProgramRepository using GORM.
type programRepo struct {
	db *gorm.DB
}

// NewProgramRepository creates a new ProgramRepository.
func NewProgramRepository(db *gorm.DB) ProgramRepository {
	return &programRepo{db: db}
}

// ReplaceWindow swaps the programs of a channel overlapping [start, end).
func (r *programRepo) ReplaceWindow(ctx context.Context, channelID int64, start, end time.Time, programs []*models.Program) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("channel_id = ? AND start_time < ? AND end_time > ?", channelID, end, start).
			Delete(&models.Program{}).Error; err != nil {
			return fmt.Errorf("deleting programs in window: %w", err)
		}
		if len(programs) == 0 {
			return nil
		}
		for _, p := range programs {
			p.ChannelID = channelID
		}
		if err := tx.CreateInBatches(programs, programBatchSize).Error; err != nil {
			return fmt.Errorf("creating programs: %w", err)
		}
		return nil
	})
}

// ListInWindow returns programs overlapping [start, end) ordered by start.
func (r *programRepo) ListInWindow(ctx context.Context, channelID int64, start, end time.Time, limit int) ([]*models.Program, error) {
	var programs []*models.Program

	// A program overlaps if it starts before the end and ends after the start
	q := r.db.WithContext(ctx).
		Where("channel_id = ? AND start_time < ? AND end_time > ?", channelID, end, start).
		Order("start_time ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&programs).Error; err != nil {
		return nil, fmt.Errorf("listing programs in window: %w", err)
	}
	return programs, nil
}

// DeleteExpired deletes programs that ended before the given time.
func (r *programRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("end_time < ?", before).Delete(&models.Program{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting expired programs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountByChannel returns the number of stored programs of a channel.
func (r *programRepo) CountByChannel(ctx context.Context, channelID int64) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Program{}).Where("channel_id = ?", channelID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting programs: %w", err)
	}
	return count, nil
}
