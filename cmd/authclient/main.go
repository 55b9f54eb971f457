// Package main is the entrypoint for the authclient command.
// It logs in against the document service API, keeps the token pair in the
// configured backend between invocations, and issues authenticated calls.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/aelexs/authclient/internal/domain"
	"github.com/aelexs/authclient/internal/errmap"
	"github.com/aelexs/authclient/internal/runner"
)

// Exit codes.
const (
	exitOK            = 0
	exitError         = 1
	exitLoginRequired = 2
)

// errUsage marks bad invocations; the usage text has already been printed.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(context.Background(), os.Args[1:], runner.Params{Name: "authclient"}, os.Stderr))
}

// run dispatches args and maps the outcome to an exit code.
func run(ctx context.Context, args []string, p runner.Params, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage(stderr)
		if len(args) == 0 {
			return exitError
		}
		return exitOK
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		printUsage(stderr)
		return exitError
	}
	rest := args[1:]
	if len(rest) < cmd.minArgs || (cmd.maxArgs >= 0 && len(rest) > cmd.maxArgs) {
		fmt.Fprintf(stderr, "usage: authclient %s %s\n", args[0], cmd.usage)
		return exitError
	}

	err := runner.Run(ctx, p, func(ctx context.Context, env *runner.Env) error {
		return cmd.run(ctx, env, rest)
	})
	return exitCode(err, stderr)
}

func exitCode(err error, stderr io.Writer) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage):
		return exitError
	case domain.IsSessionCleared(err):
		fmt.Fprintln(stderr, "session expired: run `authclient login <email> <password>`")
		return exitLoginRequired
	default:
		fmt.Fprintf(stderr, "error: %s\n", errmap.Message(err))
		return exitError
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: authclient <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := commands[name]
		fmt.Fprintf(w, "  %-10s %-48s %s\n", name, c.usage, c.summary)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "configuration is read from AUTHCLIENT_* environment variables,")
	fmt.Fprintln(w, "e.g. AUTHCLIENT_API_BASE_URL, AUTHCLIENT_TOKENS_BACKEND, AUTHCLIENT_LOG_LEVEL.")
}
