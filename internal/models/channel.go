package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Channel is a tunable channel in the directory. Channels are keyed by
// (InputID, OriginalNetworkID) so repeated syncs keep their ID stable.
type Channel struct {
	// ID is the stable identifier used in channel URIs.
	ID int64 `gorm:"primaryKey" json:"id"`

	// InputID names the input (feed) this channel was imported from.
	InputID string `gorm:"size:255;not null;uniqueIndex:idx_channel_input_network" json:"input_id"`

	// OriginalNetworkID is the numeric tag from the feed.
	OriginalNetworkID int `gorm:"not null;uniqueIndex:idx_channel_input_network" json:"original_network_id"`

	// DisplayNumber is the tune key shown to users, without leading zeros.
	DisplayNumber string `gorm:"size:32;index" json:"display_number"`

	DisplayName string `gorm:"size:512;not null" json:"display_name"`

	// TvgID links the channel to XMLTV programme data.
	TvgID string `gorm:"size:255;index" json:"tvg_id,omitempty"`

	// StreamURL is the raw stream locator, possibly with |Header=Value
	// parameters. It backs the fallback playback info.
	StreamURL string `gorm:"size:4096" json:"stream_url"`

	LogoURL string `gorm:"size:2048" json:"logo_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for Channel.
func (Channel) TableName() string {
	return "channels"
}

// URI returns the directory key for this channel.
func (c *Channel) URI() ChannelURI {
	return ChannelURIFor(c.ID)
}

// Validate performs basic validation on the channel.
func (c *Channel) Validate() error {
	if c.InputID == "" {
		return ErrInputIDRequired
	}
	if c.OriginalNetworkID == 0 {
		return ErrValidation{Field: "original_network_id", Message: "must be non-zero"}
	}
	if c.DisplayName == "" {
		return ErrNameRequired
	}
	return nil
}

// BeforeSave is a GORM hook that validates the channel.
func (c *Channel) BeforeSave(_ *gorm.DB) error {
	return c.Validate()
}

const channelURIPrefix = "content://tvinput/channel/"

// ChannelURI is the opaque key the host uses to tune a channel.
type ChannelURI string

// ChannelURIFor builds the URI for a channel ID.
func ChannelURIFor(id int64) ChannelURI {
	return ChannelURI(channelURIPrefix + strconv.FormatInt(id, 10))
}

// ChannelID extracts the channel ID from the URI.
func (u ChannelURI) ChannelID() (int64, error) {
	raw, ok := strings.CutPrefix(string(u), channelURIPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChannelURI, string(u))
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChannelURI, string(u))
	}
	return id, nil
}

func (u ChannelURI) String() string {
	return string(u)
}
