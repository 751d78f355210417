package ossched

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"recsched/internal/recording"
)

const (
	markerID      = "# recsched:id="
	markerPayload = "# recsched:payload="
	execPrefix    = "exec "

	// atTimeLayout is the -t format accepted by at(1): [[CC]YY]MMDDhhmm[.ss].
	atTimeLayout = "200601021504.05"
)

var submitJobRe = regexp.MustCompile(`(?m)^job\s+(\S+)\s+at\b`)

// renderScript renders the /bin/sh job body. The markers make the job
// self-describing: the payload alone reconstructs the recording.
func renderScript(job recording.ScheduledJob) []byte {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString(markerID + job.ID.String() + "\n")
	b.WriteString(markerPayload + base64.StdEncoding.EncodeToString(job.Payload) + "\n")
	b.WriteString(execPrefix + job.Command + "\n")
	return []byte(b.String())
}

type parsedScript struct {
	ID         uuid.UUID
	Payload    []byte
	Command    string
	hasMarker  bool
	payloadErr error
}

// parseScript extracts the markers from an `at -c` dump. Jobs without the
// id marker were not created by us and report hasMarker=false.
func parseScript(body string) parsedScript {
	var p parsedScript
	var (
		rawID      string
		rawPayload string
		seenPay    bool
	)
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, markerID):
			rawID = strings.TrimSpace(strings.TrimPrefix(line, markerID))
			p.hasMarker = true
		case strings.HasPrefix(line, markerPayload):
			rawPayload = strings.TrimSpace(strings.TrimPrefix(line, markerPayload))
			seenPay = true
		case strings.HasPrefix(line, execPrefix) && p.hasMarker && p.Command == "":
			p.Command = strings.TrimPrefix(line, execPrefix)
		}
	}
	if !p.hasMarker {
		return p
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		p.payloadErr = fmt.Errorf("%w: bad id marker %q", recording.ErrCorruptTaskPayload, rawID)
		return p
	}
	p.ID = id
	if !seenPay {
		p.payloadErr = fmt.Errorf("%w: payload marker missing", recording.ErrCorruptTaskPayload)
		return p
	}
	payload, err := base64.StdEncoding.DecodeString(rawPayload)
	if err != nil {
		p.payloadErr = fmt.Errorf("%w: payload is not base64: %v", recording.ErrCorruptTaskPayload, err)
		return p
	}
	p.Payload = payload
	return p
}

// parseSubmitHandle finds the job number in at's "job N at ..." notice.
func parseSubmitHandle(out string) (string, bool) {
	m := submitJobRe.FindStringSubmatch(out)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

type queuedJob struct {
	Handle string
	Queue  string
}

// parseAtq parses atq output:
//
//	17	Thu Mar  5 20:00:00 2026 a root
//
// Jobs in the "=" queue are executing and are treated as fired.
func parseAtq(out, queue string) []queuedJob {
	var jobs []queuedJob
	seen := make(map[string]struct{})
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		j := queuedJob{Handle: fields[0], Queue: fields[len(fields)-2]}
		if j.Queue == "=" {
			continue
		}
		if queue != "" && j.Queue != queue {
			continue
		}
		if _, dup := seen[j.Handle]; dup {
			continue
		}
		seen[j.Handle] = struct{}{}
		jobs = append(jobs, j)
	}
	return jobs
}

func formatAtTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(atTimeLayout)
}

var notFoundRe = regexp.MustCompile(`(?i)cannot find|no such|not found|does not exist`)

func looksNotFound(out string) bool { return notFoundRe.MatchString(out) }

// infraRe matches at/atrm failures that come from the scheduler itself
// (spool, lock file, permissions, a missing daemon) rather than the request.
var infraRe = regexp.MustCompile(`(?i)lock ?file|spool|permission|not permitted|not allowed to use|cannot change|can't open|cannot open|\batd\b`)

func looksInfra(out string) bool { return infraRe.MatchString(out) }
