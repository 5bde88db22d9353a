package host

import (
	"slices"
	"sync"

	"github.com/jmylchreest/tvinput/internal/models"
	"github.com/jmylchreest/tvinput/internal/session"
)

// ParentalSettings holds the parental control switch and the blocked
// ratings. Changes are published to the OnChange hook so live sessions can
// re-check what they show.
type ParentalSettings struct {
	mu       sync.RWMutex
	enabled  bool
	blocked  map[models.ContentRating]struct{}
	onChange func()
}

var _ session.ParentalControls = (*ParentalSettings)(nil)

// ParentalSnapshot is the serialisable form of the settings.
type ParentalSnapshot struct {
	Enabled        bool                   `json:"enabled"`
	BlockedRatings []models.ContentRating `json:"blocked_ratings"`
}

// NewParentalSettings creates settings seeded with the given values.
func NewParentalSettings(enabled bool, blocked []models.ContentRating) *ParentalSettings {
	p := &ParentalSettings{
		enabled: enabled,
		blocked: make(map[models.ContentRating]struct{}, len(blocked)),
	}
	for _, r := range blocked {
		p.blocked[r] = struct{}{}
	}
	return p
}

// OnChange sets the hook called after every change.
func (p *ParentalSettings) OnChange(fn func()) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// IsParentalControlsEnabled implements session.ParentalControls.
func (p *ParentalSettings) IsParentalControlsEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// IsRatingBlocked implements session.ParentalControls. A rating with
// sub-ratings is also blocked when its main rating is.
func (p *ParentalSettings) IsRatingBlocked(rating models.ContentRating) bool {
	if rating.IsZero() {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.blocked[rating]; ok {
		return true
	}
	if len(rating.SubRatings()) > 0 {
		main := models.NewContentRating(rating.Domain(), rating.System(), rating.Rating())
		_, ok := p.blocked[main]
		return ok
	}
	return false
}

// Snapshot returns the current settings with ratings sorted.
func (p *ParentalSettings) Snapshot() ParentalSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ratings := make([]models.ContentRating, 0, len(p.blocked))
	for r := range p.blocked {
		ratings = append(ratings, r)
	}
	slices.Sort(ratings)
	return ParentalSnapshot{Enabled: p.enabled, BlockedRatings: ratings}
}

// SetEnabled switches parental controls on or off.
func (p *ParentalSettings) SetEnabled(enabled bool) {
	p.update(func() bool {
		changed := p.enabled != enabled
		p.enabled = enabled
		return changed
	})
}

// Apply replaces both settings with a single notification.
func (p *ParentalSettings) Apply(s ParentalSnapshot) {
	p.update(func() bool {
		p.enabled = s.Enabled
		p.blocked = make(map[models.ContentRating]struct{}, len(s.BlockedRatings))
		for _, r := range s.BlockedRatings {
			p.blocked[r] = struct{}{}
		}
		return true
	})
}

// BlockRating adds a blocked rating.
func (p *ParentalSettings) BlockRating(rating models.ContentRating) {
	p.update(func() bool {
		if _, ok := p.blocked[rating]; ok {
			return false
		}
		p.blocked[rating] = struct{}{}
		return true
	})
}

// UnblockRating removes a blocked rating.
func (p *ParentalSettings) UnblockRating(rating models.ContentRating) {
	p.update(func() bool {
		if _, ok := p.blocked[rating]; !ok {
			return false
		}
		delete(p.blocked, rating)
		return true
	})
}

// update applies fn under the lock and publishes the change outside it.
func (p *ParentalSettings) update(fn func() bool) {
	p.mu.Lock()
	changed := fn()
	hook := p.onChange
	p.mu.Unlock()

	if changed && hook != nil {
		hook()
	}
}
