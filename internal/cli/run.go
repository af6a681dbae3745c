package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raysh454/reconcile/internal/conflict"
	"github.com/raysh454/reconcile/internal/logging"
	"github.com/raysh454/reconcile/internal/textdiff"
)

// Exit codes follow diff(1): 0 for identical or cleanly merged input, 1 when
// differences or conflicts were found, 2 on trouble.
const (
	ExitClean    = 0
	ExitChanges  = 1
	ExitTrouble  = 2
	stdinPath    = "-"
	maxInputSize = 64 << 20
)

// Runner executes parsed commands against its streams.
type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger logging.Logger

	// ReadFile defaults to os.ReadFile.
	ReadFile func(string) ([]byte, error)
	// WriteFile defaults to os.WriteFile with mode 0644.
	WriteFile func(string, []byte) error
	// MaxStdin caps the bytes read from stdin; zero means 64 MiB.
	MaxStdin int64
}

// NewRunner wires a Runner to the process streams.
func NewRunner(logger logging.Logger) *Runner {
	return &Runner{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: logger,
	}
}

// Main parses args, runs the command and returns the exit code.
func (r *Runner) Main(args []string) int {
	parsed, err := ParseArgs(args)
	if err != nil {
		fmt.Fprintln(r.Stderr, err)
		fmt.Fprint(r.Stderr, Usage)
		return ExitTrouble
	}
	code, err := r.Run(parsed)
	if err != nil {
		r.logger().Error("command failed", logging.Field{Key: "command", Value: parsed.Command}, logging.Field{Key: "error", Value: err})
		fmt.Fprintln(r.Stderr, "reconcile:", err)
		return ExitTrouble
	}
	return code
}

// Run executes a parsed command.
func (r *Runner) Run(args *CLIArgs) (int, error) {
	if args == nil {
		return ExitTrouble, errors.New("nil arguments")
	}
	inputs, err := r.readAll(args.Files)
	if err != nil {
		return ExitTrouble, err
	}

	switch args.Command {
	case CommandDiff:
		return r.diff(args, inputs[0], inputs[1])
	case CommandMerge:
		return r.merge(args, inputs[0], inputs[1], inputs[2])
	case CommandDetect:
		return r.detect(args, inputs[0], inputs[1], inputs[2])
	default:
		return ExitTrouble, fmt.Errorf("unknown command %q", args.Command)
	}
}

func (r *Runner) diff(args *CLIArgs, oldText, newText string) (int, error) {
	if args.StripHTML {
		var err error
		if oldText, err = textdiff.ExtractText(oldText); err != nil {
			return ExitTrouble, fmt.Errorf("extract %s: %w", args.Files[0], err)
		}
		if newText, err = textdiff.ExtractText(newText); err != nil {
			return ExitTrouble, fmt.Errorf("extract %s: %w", args.Files[1], err)
		}
	}

	cfg := textdiff.DefaultConfig()
	cfg.Granularity = args.Granularity
	res := textdiff.NewDiffer(cfg).Compare(oldText, newText)
	r.logger().Debug("diff computed",
		logging.Field{Key: "engine", Value: res.Engine},
		logging.Field{Key: "segments", Value: len(res.Segments)},
	)

	code := ExitClean
	if textdiff.Changed(res.Segments) {
		code = ExitChanges
	}

	var err error
	switch args.Format {
	case FormatSegments:
		err = r.writeJSON(res)
	case FormatUnified:
		var out string
		out, err = textdiff.Unified(args.Files[0], args.Files[1], oldText, newText, args.Context)
		if err == nil {
			_, err = io.WriteString(r.Stdout, out)
		}
	case FormatHTML:
		_, err = fmt.Fprintln(r.Stdout, textdiff.RenderHTML(res.Segments))
	case FormatStats:
		_, err = fmt.Fprintf(r.Stdout, "+%d -%d\n", res.Stats.Additions, res.Stats.Deletions)
	default:
		_, err = fmt.Fprintln(r.Stdout, wordDiff(res.Segments))
	}
	if err != nil {
		return ExitTrouble, fmt.Errorf("write diff: %w", err)
	}
	return code, nil
}

func (r *Runner) merge(args *CLIArgs, base, a, b string) (int, error) {
	res := conflict.Merge(base, snapshot(args.NameA, a), snapshot(args.NameB, b))

	if args.Output != "" {
		if err := r.writeFile(args.Output, []byte(res.Content)); err != nil {
			return ExitTrouble, fmt.Errorf("write %s: %w", args.Output, err)
		}
	} else if _, err := io.WriteString(r.Stdout, res.Content); err != nil {
		return ExitTrouble, fmt.Errorf("write merge: %w", err)
	}

	if res.HasConflicts {
		fmt.Fprintf(r.Stderr, "%d conflicting region(s)\n", len(res.Regions))
		return ExitChanges, nil
	}
	return ExitClean, nil
}

func (r *Runner) detect(args *CLIArgs, base, a, b string) (int, error) {
	c := conflict.Detect(base, snapshot(args.NameA, a), snapshot(args.NameB, b))
	if c == nil {
		_, err := fmt.Fprintln(r.Stdout, "no conflict")
		return ExitClean, err
	}
	if err := r.writeJSON(c); err != nil {
		return ExitTrouble, err
	}
	return ExitChanges, nil
}

// wordDiff renders segments inline as [-deleted-]{+inserted+}.
func wordDiff(segments []textdiff.Segment) string {
	var b strings.Builder
	for _, s := range segments {
		switch s.Type {
		case textdiff.OpDelete:
			b.WriteString("[-" + s.Text + "-]")
		case textdiff.OpInsert:
			b.WriteString("{+" + s.Text + "+}")
		default:
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

func snapshot(name, content string) conflict.EditSnapshot {
	return conflict.EditSnapshot{UserName: name, Content: content}
}

func (r *Runner) readAll(paths []string) ([]string, error) {
	out := make([]string, len(paths))
	usedStdin := false
	for i, p := range paths {
		if p == stdinPath {
			if usedStdin {
				return nil, errors.New("stdin can be used for one input only")
			}
			usedStdin = true
			data, err := io.ReadAll(io.LimitReader(r.Stdin, r.stdinLimit()+1))
			if err != nil {
				return nil, fmt.Errorf("read stdin: %w", err)
			}
			if int64(len(data)) > r.stdinLimit() {
				return nil, fmt.Errorf("stdin exceeds %d bytes", r.stdinLimit())
			}
			out[i] = string(data)
			continue
		}
		read := r.ReadFile
		if read == nil {
			read = os.ReadFile
		}
		data, err := read(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		out[i] = string(data)
	}
	return out, nil
}

func (r *Runner) stdinLimit() int64 {
	if r.MaxStdin > 0 {
		return r.MaxStdin
	}
	return maxInputSize
}

func (r *Runner) writeFile(path string, data []byte) error {
	if r.WriteFile != nil {
		return r.WriteFile(path, data)
	}
	return os.WriteFile(path, data, 0o644)
}

func (r *Runner) writeJSON(v any) error {
	enc := json.NewEncoder(r.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *Runner) logger() logging.Logger {
	if r.Logger == nil {
		return logging.Nop()
	}
	return r.Logger
}
