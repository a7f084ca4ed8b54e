package store

import (
	"errors"
	"time"
)

// DefaultWorkshop is the workshop tag used when none is configured.
const DefaultWorkshop = "def"

// ErrNotFound is returned when a violation uid does not exist.
var ErrNotFound = errors.New("violation not found")

// Violation is one persisted safety violation. Records are append-only.
type Violation struct {
	UID        int64     `json:"uid"`
	OccurredAt time.Time `json:"violation_time"`
	Class      string    `json:"violation_name"`
	Image      []byte    `json:"violation_image,omitempty"`
	Workshop   string    `json:"workshop_name"`
}

// NewViolation holds the fields supplied on insert; the uid is assigned by the store.
type NewViolation struct {
	OccurredAt time.Time
	Class      string
	Image      []byte
	Workshop   string
}

func (n NewViolation) normalized() NewViolation {
	if n.Workshop == "" {
		n.Workshop = DefaultWorkshop
	}
	return n
}
