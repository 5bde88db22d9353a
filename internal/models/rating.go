package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// DefaultRatingDomain is the domain used for ratings imported from XMLTV
// feeds, which only carry a system and a value.
const DefaultRatingDomain = "com.android.tv"

const (
	ratingSeparator     = "/"
	ratingListSeparator = ","
)

// ContentRating is a flattened content rating of the form
// domain/system/rating[/subrating...], for example
// "com.android.tv/US_TV/US_TV_PG".
type ContentRating string

// NewContentRating builds a flattened rating from its parts.
func NewContentRating(domain, system, rating string, subRatings ...string) ContentRating {
	parts := append([]string{domain, system, rating}, subRatings...)
	return ContentRating(strings.Join(parts, ratingSeparator))
}

// IsZero reports whether r is the empty rating.
func (r ContentRating) IsZero() bool {
	return r == ""
}

func (r ContentRating) part(i int) string {
	parts := strings.Split(string(r), ratingSeparator)
	if i < len(parts) {
		return parts[i]
	}
	return ""
}

// Domain returns the rating domain.
func (r ContentRating) Domain() string { return r.part(0) }

// System returns the rating system, for example "US_TV".
func (r ContentRating) System() string { return r.part(1) }

// Rating returns the main rating value, for example "US_TV_PG".
func (r ContentRating) Rating() string { return r.part(2) }

// SubRatings returns the optional sub-ratings.
func (r ContentRating) SubRatings() []string {
	parts := strings.Split(string(r), ratingSeparator)
	if len(parts) <= 3 {
		return nil
	}
	return parts[3:]
}

// Validate checks that the rating has at least domain, system and value.
func (r ContentRating) Validate() error {
	if r.Domain() == "" || r.System() == "" || r.Rating() == "" {
		return ErrValidation{Field: "rating", Message: fmt.Sprintf("%q is not domain/system/rating", string(r))}
	}
	return nil
}

// ContentRatings is an ordered rating list stored as a comma separated
// column.
type ContentRatings []ContentRating

// ParseContentRatings parses a comma separated rating list. Blank entries
// are dropped.
func ParseContentRatings(s string) ContentRatings {
	var ratings ContentRatings
	for _, part := range strings.Split(s, ratingListSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			ratings = append(ratings, ContentRating(part))
		}
	}
	return ratings
}

func (rs ContentRatings) String() string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = string(r)
	}
	return strings.Join(parts, ratingListSeparator)
}

// Value implements driver.Valuer.
func (rs ContentRatings) Value() (driver.Value, error) {
	return rs.String(), nil
}

// Scan implements sql.Scanner.
func (rs *ContentRatings) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*rs = nil
	case string:
		*rs = ParseContentRatings(v)
	case []byte:
		*rs = ParseContentRatings(string(v))
	default:
		return fmt.Errorf("unsupported type for ContentRatings: %T", value)
	}
	return nil
}

// GormDataType returns the column type used for rating lists.
func (ContentRatings) GormDataType() string {
	return "text"
}
