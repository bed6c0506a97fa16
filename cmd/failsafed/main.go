// Command failsafed runs the failsafe core daemon: the HTTP submission
// surface, the escalation scheduler, and the audit ledger. Subcommands export
// evidence packs and verify the audit chain offline.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands; no argument starts the server.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stderr)
	}
	switch args[1] {
	case "server", "serve":
		return runServer(stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: failsafed [command]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  server    Start the failsafe daemon (default)")
	fmt.Fprintln(w, "  export    Export an audit evidence pack")
	fmt.Fprintln(w, "  verify    Verify the audit chain of a ledger database")
	fmt.Fprintln(w, "  help      Show this help")
}
