package record

import (
	"time"

	"github.com/google/uuid"
)

// ID prefixes for the three queue areas.
const (
	PrefixProposal   = "prop_"
	PrefixStaging    = "stg_"
	PrefixValidation = "val_"
	PrefixCycle      = "cyc_"
)

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 identifiers, so directory
// listings of the queue sort roughly by creation time.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Clock supplies wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Timestamp formats t for use in file names.
func Timestamp(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}
