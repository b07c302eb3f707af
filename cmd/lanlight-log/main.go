// Command lanlight-log views and analyzes lanlight protocol capture files.
//
// Capture files are written by lanlight when run with -protocol-log.
//
// Usage:
//
//	lanlight-log <command> [flags] <file.llog>
//
// Commands:
//
//	view     View capture file in human-readable format
//	export   Export capture file to JSONL or CSV
//	stats    Show statistics about the capture file
//
// Examples:
//
//	# View all events
//	lanlight-log view capture.llog
//
//	# View only incoming wire-layer messages from one device
//	lanlight-log view -layer wire -direction in -target d073d5010203 capture.llog
//
//	# Show statistics
//	lanlight-log stats capture.llog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lanlight/lanlight-go/cmd/lanlight-log/commands"
	"github.com/lanlight/lanlight-go/pkg/version"
)

const usage = `lanlight-log - lanlight Protocol Capture Analyzer

Usage:
  lanlight-log <command> [flags] <file.llog>

Commands:
  view     View capture file in human-readable format
  export   Export capture file to JSONL or CSV
  stats    Show statistics about the capture file
  version  Print version

Use "lanlight-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	case "version", "-version", "--version":
		fmt.Println(version.Info("lanlight-log"))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `lanlight-log view - View capture file in human-readable format

Usage:
  lanlight-log view [flags] <file.llog>

Flags:
`)
		fs.PrintDefaults()
	}

	var opts commands.ViewOptions
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, wire, service)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, state, error)")
	fs.StringVar(&opts.Target, "target", "", "Filter by device target (hex)")
	fs.StringVar(&opts.Type, "type", "", "Filter by message type (name or number)")

	path := parseWithPath(fs, args)

	filter, err := opts.Filter()
	if err != nil {
		fail(err)
	}
	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `lanlight-log export - Export capture file to JSONL or CSV

Usage:
  lanlight-log export [flags] <file.llog>

Flags:
`)
		fs.PrintDefaults()
	}

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	path := parseWithPath(fs, args)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `lanlight-log stats - Show statistics about the capture file

Usage:
  lanlight-log stats <file.llog>

`)
	}

	path := parseWithPath(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}

// parseWithPath parses fs and returns the single positional file argument.
func parseWithPath(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
