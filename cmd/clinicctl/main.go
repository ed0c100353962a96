// Command clinicctl performs one-off administrative tasks against the
// authorization database: seeding the permission vocabulary and creating the
// first administrator.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

const usage = `Usage: clinicctl <command> [flags]

Commands:
  seed          migrate the schema and upsert the permission vocabulary
  create-admin  create a user holding the admin role

Run "clinicctl <command> --help" for command flags.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := &cli{stdin: os.Stdin, stdout: os.Stdout, readPassword: terminalPassword}
	if err := cli.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type cli struct {
	stdin        io.Reader
	stdout       io.Writer
	readPassword func(prompt string, stdin io.Reader, stdout io.Writer) (string, error)
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.stdout, usage)
		return errors.New("missing command")
	}

	switch args[0] {
	case "seed":
		return c.seed(ctx, args[1:])
	case "create-admin":
		return c.createAdmin(ctx, args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(c.stdout, usage)
		return nil
	default:
		fmt.Fprint(c.stdout, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}
