package recording

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"recsched/pkg/capturecmd"
)

// PayloadVersion is the envelope version written by ToTask.
const PayloadVersion = 1

type envelope struct {
	V         int     `json:"v"`
	Recording *Intent `json:"recording"`
}

// TaskOptions tune command synthesis.
type TaskOptions struct {
	// Binary is the ffmpeg path; empty means capturecmd.DefaultBinary.
	Binary string
}

// ToTask validates in and translates it into a schedulable job.
//
// The payload carries the whole intent, ID included, so FromTask can rebuild
// it from the job alone.
func ToTask(in Intent, defaults CaptureSettings, opts TaskOptions) (ScheduledJob, error) {
	if err := in.Validate(); err != nil {
		return ScheduledJob{}, err
	}

	cmd := capturecmd.Synthesize(capturecmd.Input{
		Binary:      opts.Binary,
		SourceURI:   in.ChannelURI,
		Start:       in.Start,
		End:         in.End,
		Title:       in.Name,
		Description: in.Description,
		Filename:    in.Filename,
	}, in.EffectiveSettings(defaults))
	line := cmd.String()
	if strings.ContainsAny(line, "\r\n") {
		return ScheduledJob{}, fmt.Errorf("%w: capture settings contain a line break", ErrValidation)
	}

	payload, err := EncodePayload(in)
	if err != nil {
		return ScheduledJob{}, err
	}

	return ScheduledJob{
		ID:      in.ID,
		Name:    in.Name,
		Command: line,
		FireAt:  in.Start,
		Payload: payload,
	}, nil
}

// FromTask rebuilds the intent carried by job. Any failure wraps
// ErrCorruptTaskPayload.
func FromTask(job ScheduledJob) (Intent, error) {
	in, err := DecodePayload(job.Payload)
	if err != nil {
		return Intent{}, err
	}
	if job.ID != uuid.Nil && job.ID != in.ID {
		return Intent{}, fmt.Errorf("%w: payload id %s does not match job id %s", ErrCorruptTaskPayload, in.ID, job.ID)
	}
	return in, nil
}

// EncodePayload serializes in into the versioned envelope.
func EncodePayload(in Intent) ([]byte, error) {
	b, err := json.Marshal(envelope{V: PayloadVersion, Recording: &in})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// DecodePayload parses and validates a payload produced by EncodePayload.
func DecodePayload(b []byte) (Intent, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return Intent{}, fmt.Errorf("%w: empty payload", ErrCorruptTaskPayload)
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrCorruptTaskPayload, err)
	}
	if env.V != PayloadVersion {
		return Intent{}, fmt.Errorf("%w: unsupported payload version %d", ErrCorruptTaskPayload, env.V)
	}
	if env.Recording == nil {
		return Intent{}, fmt.Errorf("%w: missing recording", ErrCorruptTaskPayload)
	}
	if err := env.Recording.Validate(); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrCorruptTaskPayload, err)
	}
	return *env.Recording, nil
}
