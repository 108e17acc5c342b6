package notify

import (
	"context"
	"io"
	"os"

	"github.com/fatih/color"
)

// Console renders workflow messages to a terminal. It is the CLI binding of
// the notifier contract: proposals show up as text, and confirmation happens
// out of band (the audit command runs non-interactively and prints what it
// would propose).
type Console struct {
	out io.Writer
}

// NewConsole creates a console sender writing to stdout
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter creates a console sender writing to w
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Send renders the message; the response URL is ignored
func (c *Console) Send(_ context.Context, _ string, msg Message) error {
	bold := color.New(color.Bold)

	if msg.Text != "" {
		if _, err := bold.Fprintln(c.out, msg.Text); err != nil {
			return err
		}
	}
	for _, block := range msg.Blocks {
		switch block.Type {
		case "section":
			if block.Text != nil {
				if _, err := color.New().Fprintln(c.out, block.Text.Text); err != nil {
					return err
				}
			}
		case "actions":
			// Buttons have no terminal equivalent; surface the choice instead.
			if _, err := color.New(color.FgYellow).Fprintln(c.out,
				"confirmation required: re-run with the server callback surface, or create the endpoint manually"); err != nil {
				return err
			}
		}
	}
	return nil
}
