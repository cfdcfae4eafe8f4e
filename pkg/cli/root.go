package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// app carries what every subcommand writes to.
type app struct {
	out    io.Writer
	logger *logrus.Logger
}

// NewRootCommand creates the root command. Results are written to out, diagnostics to logger.
func NewRootCommand(out io.Writer, logger *logrus.Logger) *Command {
	a := &app{out: out, logger: logger}
	root := &Command{
		Name:        "turnstile-token",
		Description: "Mint and inspect gateway credentials",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("turnstile-token", flag.ContinueOnError),
	}

	root.Subcommands["jwt"] = a.newJWTCommand()
	root.Subcommands["forward"] = a.newForwardCommand()
	root.Subcommands["inspect"] = a.newInspectCommand()

	return root
}

// Execute runs the subcommand named by args[0].
func (c *Command) Execute(out io.Writer, args []string) error {
	if len(args) == 0 {
		return c.usage(out)
	}

	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage(out)
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage(out io.Writer) error {
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
