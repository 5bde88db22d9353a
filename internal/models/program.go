package models

import (
	"time"

	"gorm.io/gorm"
)

// Program is a scheduled program on a channel together with the stream
// that plays it.
type Program struct {
	ID ULID `gorm:"primaryKey" json:"id"`

	ChannelID int64 `gorm:"not null;index:idx_program_channel_start" json:"channel_id"`

	Title       string `gorm:"size:512" json:"title"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	Category    string `gorm:"size:255" json:"category,omitempty"`
	IconURL     string `gorm:"size:2048" json:"icon_url,omitempty"`

	StartTime time.Time `gorm:"not null;index:idx_program_channel_start" json:"start_time"`
	EndTime   time.Time `gorm:"not null;index" json:"end_time"`

	// StreamURL overrides the channel stream for this program. Empty means
	// the channel stream plays.
	StreamURL  string         `gorm:"size:4096" json:"stream_url,omitempty"`
	StreamKind StreamKind     `gorm:"not null" json:"stream_kind"`
	Ratings    ContentRatings `json:"ratings"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for Program.
func (Program) TableName() string {
	return "programs"
}

// Validate performs basic validation on the program.
func (p *Program) Validate() error {
	if p.ChannelID == 0 {
		return ErrChannelIDRequired
	}
	if p.StartTime.IsZero() {
		return ErrStartTimeRequired
	}
	if p.EndTime.IsZero() {
		return ErrEndTimeRequired
	}
	if p.EndTime.Before(p.StartTime) {
		return ErrInvalidTimeRange
	}
	return nil
}

// BeforeCreate is a GORM hook that assigns an ID and validates.
func (p *Program) BeforeCreate(_ *gorm.DB) error {
	if p.ID.IsZero() {
		p.ID = NewULID()
	}
	return p.Validate()
}

// Covers reports whether the program overlaps [start, end).
func (p *Program) Covers(start, end time.Time) bool {
	return p.StartTime.Before(end) && p.EndTime.After(start)
}

// PlaybackInfo converts the program into a playback descriptor. The
// channel stream is used when the program has none of its own.
func (p *Program) PlaybackInfo(channelStreamURL string) PlaybackInfo {
	url := p.StreamURL
	if url == "" {
		url = channelStreamURL
	}
	ratings := make(ContentRatings, len(p.Ratings))
	copy(ratings, p.Ratings)
	return PlaybackInfo{
		Start:      p.StartTime,
		End:        p.EndTime,
		StreamURL:  url,
		StreamKind: p.StreamKind,
		Ratings:    ratings,
	}
}
