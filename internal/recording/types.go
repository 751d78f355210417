package recording

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"recsched/pkg/capturecmd"
)

// CaptureSettings are the per-recording capture parameters.
type CaptureSettings = capturecmd.Settings

// Intent is a request to capture one channel over a time window.
//
// Intents are immutable values: an edit is a new Intent with the same ID.
type Intent struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Filename    string    `json:"filename"`
	ChannelURI  string    `json:"channel_uri"`
	ChannelName string    `json:"channel_name,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`

	// Settings overrides the process defaults as a whole when non-nil.
	Settings *CaptureSettings `json:"settings,omitempty"`
}

// NewIntent returns an empty intent with a fresh random ID.
func NewIntent() Intent {
	return Intent{ID: uuid.New()}
}

// Duration is the capture window length.
func (in Intent) Duration() time.Duration { return in.End.Sub(in.Start) }

// Validate checks required fields and the time window.
func (in Intent) Validate() error {
	var problems []string
	if in.ID == uuid.Nil {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(in.ChannelURI) == "" {
		problems = append(problems, "channel uri is required")
	}
	if strings.TrimSpace(in.Filename) == "" {
		problems = append(problems, "filename is required")
	}
	// Both reach the job script verbatim; metadata is sanitized on its own.
	if hasControl(in.ChannelURI) {
		problems = append(problems, "channel uri contains control characters")
	}
	if hasControl(in.Filename) {
		problems = append(problems, "filename contains control characters")
	}
	if in.Start.IsZero() || in.End.IsZero() {
		problems = append(problems, "start and end are required")
	} else if !in.End.After(in.Start) {
		problems = append(problems, "end must be after start")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

// EffectiveSettings returns the override when present, else defaults.
// There is no field-level merge.
func (in Intent) EffectiveSettings(defaults CaptureSettings) CaptureSettings {
	if in.Settings != nil {
		return *in.Settings
	}
	return defaults
}

// ScheduledJob is the OS-scheduler view of an Intent.
type ScheduledJob struct {
	ID uuid.UUID
	// Handle is the scheduler-native job number. It is transient.
	Handle  string
	Name    string
	Command string
	// FireAt is interpreted in the host's local time zone.
	FireAt  time.Time
	Payload []byte
}
