// Package capturecmd builds canonical ffmpeg invocations for IPTV captures.
//
// This layer is pure command construction: no execution, no I/O. It returns
// two projections of the same intent: argv (process argument vector) and a
// shell-quoted command string (for `at` job scripts and logs).
//
// Emission policy:
//
//   - Codec flags are ALWAYS emitted; an unset codec becomes "copy".
//   - Optional strings are emitted only when non-empty.
//   - argv[0] is always the configured ffmpeg binary.
//
// Usage:
//
//	cmd := capturecmd.Synthesize(in, settings)
//	cmd.Argv()   // []string{"ffmpeg", "-hide_banner", ...}
//	cmd.String() // "'ffmpeg' '-hide_banner' ..."
package capturecmd

import "strings"

// Builder constructs argv and shell-safe command strings.
//
// The Builder implements a fluent API; it is NOT concurrency-safe.
type Builder struct {
	args []string // argv including binary name at index 0
}

// NewBuilder returns a Builder pre-seeded with the binary name.
func NewBuilder(binary string) *Builder {
	if strings.TrimSpace(binary) == "" {
		binary = DefaultBinary
	}
	return &Builder{args: []string{binary}}
}

// WithFlag appends a bare flag.
func (b *Builder) WithFlag(flag string) *Builder {
	b.args = append(b.args, flag)
	return b
}

// WithStringFlag appends a flag with a string value if non-empty.
func (b *Builder) WithStringFlag(flag, val string) *Builder {
	if val != "" {
		b.args = append(b.args, flag, val)
	}
	return b
}

// WithDefaultFlag appends a flag with val, or def when val is empty.
func (b *Builder) WithDefaultFlag(flag, val, def string) *Builder {
	if val == "" {
		val = def
	}
	b.args = append(b.args, flag, val)
	return b
}

// WithString appends a positional argument, even when empty.
func (b *Builder) WithString(arg string) *Builder {
	b.args = append(b.args, arg)
	return b
}

// Build freezes the builder into a Command.
func (b *Builder) Build() Command {
	out := make([]string, len(b.args))
	copy(out, b.args)
	return Command{argv: out}
}

// Command is an immutable, synthesized capture invocation.
type Command struct {
	argv []string
}

// Argv returns a copy of the argument vector; argv[0] is the binary.
func (c Command) Argv() []string {
	out := make([]string, len(c.argv))
	copy(out, c.argv)
	return out
}

// String returns a single shell-quoted command line.
//
// Every token is single-quoted with inner quotes escaped as ' -> '\'' so
// the result is safe for /bin/sh regardless of token content.
func (c Command) String() string {
	quoted := make([]string, len(c.argv))
	for i, a := range c.argv {
		quoted[i] = ShellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// IsZero reports whether the command was never built.
func (c Command) IsZero() bool { return len(c.argv) == 0 }

// ShellQuote returns a POSIX-safe single-quoted token.
//
// Empty strings become '' to preserve round-trippability.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
