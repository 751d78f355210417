package ossched

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"recsched/internal/procexec"
)

// fakeAt simulates at/atq/atrm in memory.
type fakeAt struct {
	mu     sync.Mutex
	next   int
	jobs   map[string]string // handle -> script body
	calls  []procexec.Command
	ghosts []string // handles listed by atq but unknown to at -c

	unavailable bool
	block       bool
	rejectAll   bool
	// submitErr, when set, is printed by at with exit status 1.
	submitErr string
	// stuck maps handles atrm fails to remove to the error it prints.
	stuck map[string]string
}

func newFakeAt() *fakeAt {
	return &fakeAt{next: 1, jobs: make(map[string]string), stuck: make(map[string]string)}
}

func (f *fakeAt) handles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.jobs))
	for h := range f.jobs {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

func (f *fakeAt) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// inject stores a raw job body, as if created by something else.
func (f *fakeAt) inject(body string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := strconv.Itoa(f.next)
	f.next++
	f.jobs[h] = body
	return h
}

// fire removes a job as atd would after running it.
func (f *fakeAt) fire(handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, handle)
}

func (f *fakeAt) Run(ctx context.Context, cmd procexec.Command) (procexec.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	unavailable, block := f.unavailable, f.block
	f.mu.Unlock()

	if unavailable {
		return procexec.Result{}, fmt.Errorf("%w: %s", procexec.ErrNotFound, cmd.Name)
	}
	if block {
		<-ctx.Done()
		return procexec.Result{}, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Name {
	case "at":
		if len(cmd.Args) == 2 && cmd.Args[0] == "-c" {
			body, ok := f.jobs[cmd.Args[1]]
			if !ok {
				return procexec.Result{Stderr: []byte("Cannot find jobid " + cmd.Args[1]), ExitCode: 1}, nil
			}
			preamble := "#!/bin/sh\n# atrun uid=1000 gid=1000\n# mail user 0\numask 22\nHOME=/home/user; export HOME\ncd /home/user || {\n\t echo 'Execution directory inaccessible' >&2\n\t exit 1\n}\n"
			return procexec.Result{Stdout: []byte(preamble + body)}, nil
		}
		if f.submitErr != "" {
			return procexec.Result{Stderr: []byte(f.submitErr), ExitCode: 1}, nil
		}
		if f.rejectAll {
			return procexec.Result{Stderr: []byte("at: refusing to create job destined in the past"), ExitCode: 1}, nil
		}
		h := strconv.Itoa(f.next)
		f.next++
		f.jobs[h] = string(cmd.Stdin)
		msg := "warning: commands will be executed using /bin/sh\njob " + h + " at Thu Mar  5 20:00:00 2026\n"
		return procexec.Result{Stderr: []byte(msg)}, nil

	case "atq":
		handles := make([]string, 0, len(f.jobs)+len(f.ghosts))
		for h := range f.jobs {
			handles = append(handles, h)
		}
		handles = append(handles, f.ghosts...)
		sort.Strings(handles)
		var b strings.Builder
		for _, h := range handles {
			b.WriteString(h + "\tThu Mar  5 20:00:00 2026 a user\n")
		}
		return procexec.Result{Stdout: []byte(b.String())}, nil

	case "atrm":
		var missing []string
		for _, h := range cmd.Args {
			if msg, ok := f.stuck[h]; ok {
				missing = append(missing, msg)
				continue
			}
			if _, ok := f.jobs[h]; !ok {
				missing = append(missing, "Cannot find jobid "+h)
				continue
			}
			delete(f.jobs, h)
		}
		if len(missing) > 0 {
			return procexec.Result{Stderr: []byte(strings.Join(missing, "\n")), ExitCode: 1}, nil
		}
		return procexec.Result{}, nil
	}
	return procexec.Result{}, fmt.Errorf("%w: %s", procexec.ErrNotFound, cmd.Name)
}
