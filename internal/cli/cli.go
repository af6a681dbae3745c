package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/raysh454/reconcile/internal/textdiff"
)

// Commands understood by ParseArgs.
const (
	CommandDiff   = "diff"
	CommandMerge  = "merge"
	CommandDetect = "detect"
)

// Output formats of the diff command.
const (
	FormatText     = "text"
	FormatSegments = "segments"
	FormatUnified  = "unified"
	FormatHTML     = "html"
	FormatStats    = "stats"
)

// ErrUsage wraps every argument error.
var ErrUsage = errors.New("usage")

// CLIArgs are the parsed arguments of one invocation.
type CLIArgs struct {
	Command string

	// Files are the positional arguments: OLD NEW for diff, BASE A B for merge and detect.
	Files []string

	Granularity textdiff.Granularity
	Format      string
	Context     int
	StripHTML   bool

	// NameA and NameB label the two sides in conflict markers.
	NameA string
	NameB string

	// Output is where merge writes its result; empty means stdout.
	Output string

	// RawArgs is the original args slice (useful for debugging/tests).
	RawArgs []string
}

// Usage describes the command line.
const Usage = `usage:
  reconcile diff   [-granularity word|line|char] [-format text|segments|unified|html|stats] [-context N] [-strip-html] OLD NEW
  reconcile merge  [-name-a A] [-name-b B] [-o FILE] BASE A B
  reconcile detect [-name-a A] [-name-b B] BASE A B
`

// ParseArgs parses a slice of args and returns CLIArgs. Use in tests by passing
// arbitrary slices. The function is deterministic and does not read os.Args.
func ParseArgs(args []string) (*CLIArgs, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: missing command", ErrUsage)
	}
	cmd, rest := args[0], args[1:]

	fs := flag.NewFlagSet("reconcile "+cmd, flag.ContinueOnError)
	// Ensure Parse doesn't write to stdout/stderr in tests
	fs.SetOutput(io.Discard)

	out := &CLIArgs{Command: cmd, RawArgs: args}
	var granularity string
	wantFiles := 3

	switch cmd {
	case CommandDiff:
		fs.StringVar(&granularity, "granularity", "word", "Token unit: word|line|char")
		fs.StringVar(&out.Format, "format", FormatText, "Output: text|segments|unified|html|stats")
		fs.IntVar(&out.Context, "context", textdiff.DefaultContext, "Unchanged lines around unified hunks")
		fs.BoolVar(&out.StripHTML, "strip-html", false, "Diff the visible text of HTML inputs")
		wantFiles = 2
	case CommandMerge, CommandDetect:
		fs.StringVar(&out.NameA, "name-a", "", "Label of the first edit in conflict markers")
		fs.StringVar(&out.NameB, "name-b", "", "Label of the second edit in conflict markers")
		if cmd == CommandMerge {
			fs.StringVar(&out.Output, "o", "", "Write the merged text to FILE instead of stdout")
		}
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}

	if err := fs.Parse(rest); err != nil {
		// Flag parsing errors are useful to return to caller
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	out.Files = fs.Args()
	if len(out.Files) != wantFiles {
		return nil, fmt.Errorf("%w: %s needs %d files, got %d", ErrUsage, cmd, wantFiles, len(out.Files))
	}

	if cmd == CommandDiff {
		g, err := textdiff.ParseGranularity(granularity)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUsage, err)
		}
		out.Granularity = g
		switch strings.ToLower(out.Format) {
		case FormatText, FormatSegments, FormatUnified, FormatHTML, FormatStats:
			out.Format = strings.ToLower(out.Format)
		default:
			return nil, fmt.Errorf("%w: unknown format %q", ErrUsage, out.Format)
		}
		if out.Context < 0 {
			return nil, fmt.Errorf("%w: negative -context", ErrUsage)
		}
	}
	return out, nil
}
