package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Command plays each ad by running an external program
type Command struct {
	argv []string
}

// NewCommand parses a template such as "gst-play-1.0 --no-interactive {path}".
// The {path} token is replaced with the ad path as a single argument.
func NewCommand(template string) (*Command, error) {
	argv := strings.Fields(template)
	if len(argv) == 0 {
		return nil, errors.New("empty player command")
	}
	found := false
	for _, a := range argv {
		if strings.Contains(a, "{path}") {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("player command %q has no {path}", template)
	}
	return &Command{argv: argv}, nil
}

// Args returns the argument vector for path
func (c *Command) Args(path string) []string {
	out := make([]string, len(c.argv))
	for i, a := range c.argv {
		out[i] = strings.ReplaceAll(a, "{path}", path)
	}
	return out
}

func (c *Command) Play(ctx context.Context, path string) error {
	args := c.Args(path)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return nil
}
