package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageEntityDone    Stage = "ENTITY_DONE"
	StageEntityFailed  Stage = "ENTITY_FAILED"
	StageEntitySkipped Stage = "ENTITY_SKIPPED"
	StageRunDone       Stage = "RUN_DONE"
)

// Event captures a single milestone of a crawl run.
type Event struct {
	// RunID identifies the crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which run or entity milestone occurred.
	Stage Stage
	// Symbol scopes entity events to one ticker.
	Symbol string
	// Locator is the address the entity was fetched from.
	Locator string
	// Rows is the number of records written for ENTITY_DONE, or the entity
	// count for RUN_START.
	Rows int64
	// Dur captures entity processing time or total run time.
	Dur time.Duration
	// Note carries low-volume context such as the failure text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageEntityDone, StageEntityFailed, StageEntitySkipped:
		if e.Symbol == "" {
			return fmt.Errorf("%s requires symbol", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Rows < 0 {
		return errors.New("rows must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID decodes a textual run ID into the Event form.
func ParseRunID(runID string) ([16]byte, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id: %w", err)
	}
	return UUIDToBytes(id), nil
}
