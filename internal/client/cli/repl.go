package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// errUsage makes the REPL print the command's usage line.
var errUsage = errors.New("usage")

type requirement int

const (
	anyState requirement = iota
	signedIn
	unlocked
)

type command struct {
	name  string
	args  string
	help  string
	needs requirement
	run   func(ctx context.Context, args []string) error
}

func (c command) usage() string {
	if c.args == "" {
		return c.name
	}
	return c.name + " " + c.args
}

// runREPL reads commands from reader until EOF, "exit" or "quit". check
// runs before every command and may refuse it; errors are reported and the
// loop goes on.
func runREPL(ctx context.Context, cmds []command, check func(command) error, statusFn func() string, reader *bufio.Reader, out io.Writer) {
	byName := make(map[string]command, len(cmds))
	for _, c := range cmds {
		byName[c.name] = c
	}

	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Fprintf(out, "chatvault (%s)> ", statusFn())
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(out)
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		name, args := parts[0], parts[1:]
		switch name {
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return
		case "help":
			printHelp(out, cmds)
			continue
		}

		c, ok := byName[name]
		if !ok {
			fmt.Fprintln(out, "Unknown command:", name)
			continue
		}
		if err := check(c); err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		runErr := c.run(ctx, args)
		if errors.Is(runErr, errUsage) {
			fmt.Fprintln(out, "Usage:", c.usage())
		} else if runErr != nil {
			fmt.Fprintln(out, "Error:", runErr)
		}
	}
}

func printHelp(out io.Writer, cmds []command) {
	sorted := append([]command(nil), cmds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })

	fmt.Fprintln(out, "Available commands:")
	for _, c := range sorted {
		fmt.Fprintf(out, "  %-40s %s\n", c.usage(), c.help)
	}
	fmt.Fprintf(out, "  %-40s %s\n", "exit", "leave the program")
}

// subcommands dispatches on the first argument.
func subcommands(subs map[string]func(ctx context.Context, args []string) error) func(context.Context, []string) error {
	return func(ctx context.Context, args []string) error {
		if len(args) == 0 {
			return errUsage
		}
		fn, ok := subs[args[0]]
		if !ok {
			return errUsage
		}
		return fn(ctx, args[1:])
	}
}

func rest(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
