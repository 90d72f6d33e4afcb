package secrets

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the operator for values the store does not hold.
type Prompter interface {
	// Ask reads one line. Masked input is not echoed.
	Ask(ctx context.Context, message string, masked bool) (string, error)
	// Choose lists options and returns the 0-based index picked.
	Choose(ctx context.Context, message string, options []string) (int, error)
}

// Terminal prompts on a terminal.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool
}

// NewTerminal prompts on stdin/stderr.
func NewTerminal() *Terminal {
	fd := int(os.Stdin.Fd())
	return &Terminal{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stderr,
		fd:  fd,
		tty: term.IsTerminal(fd),
	}
}

// NewReaderPrompter prompts on arbitrary streams. Masking is not available.
func NewReaderPrompter(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out, fd: -1}
}

func (t *Terminal) Ask(ctx context.Context, message string, masked bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprintf(t.out, "%s: ", message)
	if masked && t.tty {
		b, err := term.ReadPassword(t.fd)
		fmt.Fprintln(t.out)
		if err != nil {
			return "", fmt.Errorf("secrets: read password: %w", err)
		}
		return string(b), nil
	}
	line, err := t.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("secrets: read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *Terminal) Choose(ctx context.Context, message string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, fmt.Errorf("secrets: no options for %q", message)
	}
	fmt.Fprintln(t.out)
	for i, o := range options {
		fmt.Fprintf(t.out, " %d. %s\n", i+1, o)
	}
	for {
		answer, err := t.Ask(ctx, fmt.Sprintf("%s (1-%d)", message, len(options)), false)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(answer))
		if err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
	}
}
