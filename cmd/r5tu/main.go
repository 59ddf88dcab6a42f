// r5tu builds and inspects r5tu files.
//
// build-graph converts N-Triples files into one graph each, build-dataset
// converts N-Quads files keeping their graph labels, and stat reports on
// an existing file.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bsm/r5tu"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		var coder interface{ ExitCode() int }
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

const usage = `r5tu (build-graph|build-dataset|stat) [options]

Commands:
  build-graph   --input <file> [--input <file> ...] --output <file> [--id <str>] [--graphname <str>] [--compress <codec>] [--no-crc]
  build-dataset --input <file> [--input <file> ...] --output <file> [--id <str>] [--default-graphname <str>] [--compress <codec>] [--no-crc]
  stat          --file <r5tu file> [--verbose] [--graphname <g>] [--id <str>] [--list] [--verify]
`

// usageError is reported with exit code 2.
type usageError struct{ err error }

func usagef(format string, args ...interface{}) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }
func (e usageError) ExitCode() int { return 2 }

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return usagef("missing command")
	}

	switch cmd := args[0]; cmd {
	case "build-graph":
		return runBuild(cmd, args[1:], stdout, stderr, buildGraph)
	case "build-dataset":
		return runBuild(cmd, args[1:], stdout, stderr, buildDataset)
	case "stat":
		return runStat(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return usagef("unknown command %q", cmd)
	}
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseFlags(flagSet *pflag.FlagSet, args []string, stderr io.Writer) error {
	flagSet.SetOutput(stderr)
	if err := flagSet.Parse(args); err != nil {
		return usageError{err: err}
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return usagef("unexpected argument: %s", rest[0])
	}
	return nil
}

func parseCompression(name string) (r5tu.Compression, error) {
	switch name {
	case "", "none":
		return r5tu.NoCompression, nil
	case "zstd":
		return r5tu.ZstdCompression, nil
	case "snappy":
		return r5tu.SnappyCompression, nil
	case "lz4":
		return r5tu.LZ4Compression, nil
	}
	return 0, usagef("unknown compression codec %q (want zstd, snappy, lz4 or none)", name)
}
