// Package render applies an optional external transform to page
// source before it is committed. The transform is any executable
// reading the raw source on stdin and writing the derived form on
// stdout, so users can plug in converters without recompiling.
package render

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mirrorkit/wikidot-mirror/internal/domain"
)

// Command runs a fixed external program per snapshot.
type Command struct {
	name string
	args []string
}

// NewCommand parses a command line into a renderer. The line is split
// on whitespace; no shell is involved.
func NewCommand(line string) (*Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty render command")
	}
	return &Command{name: fields[0], args: fields[1:]}, nil
}

// Render pipes source through the command and returns its stdout.
func (c *Command) Render(ctx context.Context, source string) (string, error) {
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	cmd.Stdin = strings.NewReader(source)

	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(errb.String())
		if msg != "" {
			return "", fmt.Errorf("render command %s: %w: %s", c.name, err, msg)
		}
		return "", fmt.Errorf("render command %s: %w", c.name, err)
	}
	return out.String(), nil
}

// FromSpec builds a renderer from a command line; an empty line means
// no transform and yields a nil renderer.
func FromSpec(line string) (domain.Renderer, error) {
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}
	return NewCommand(line)
}
