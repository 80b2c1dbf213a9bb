package metadata

import (
	"fmt"
	"strings"
)

// SizeClass selects one of the fixed target resolutions.
type SizeClass int

const (
	// Thumbnail is 500 pixels wide. Smaller widths are served noticeably
	// slower by the catalog.
	Thumbnail SizeClass = iota
	// Large is 1300 pixels wide.
	Large
	// Full uses the record's native width.
	Full
)

// Target widths for the fixed size classes.
const (
	ThumbnailWidth = 500
	LargeWidth     = 1300
)

// String returns the lower-case size name.
func (s SizeClass) String() string {
	switch s {
	case Thumbnail:
		return "thumbnail"
	case Large:
		return "large"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("size(%d)", int(s))
	}
}

// TargetWidth returns the requested pixel width for a record.
func (s SizeClass) TargetWidth(r Record) (int, error) {
	switch s {
	case Thumbnail:
		return ThumbnailWidth, nil
	case Large:
		return LargeWidth, nil
	case Full:
		if r.Width <= 0 {
			return 0, fmt.Errorf("record %s has no native width", r.ID)
		}
		return r.Width, nil
	default:
		return 0, fmt.Errorf("unknown size class %d", int(s))
	}
}

// ParseSizeClass parses "thumbnail", "large" or "full" (case-insensitive).
func ParseSizeClass(s string) (SizeClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "thumbnail", "thumb", "":
		return Thumbnail, nil
	case "large":
		return Large, nil
	case "full":
		return Full, nil
	default:
		return 0, fmt.Errorf("unknown size class %q", s)
	}
}
