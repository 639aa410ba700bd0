// Package extcmd runs collaborator programs that speak JSON over stdin and
// stdout, translating exit codes into classified service errors.
//
// Exit code contract:
//   - 0: success, stdout carries the JSON response (or JSON lines when streaming)
//   - 75 (EX_TEMPFAIL): transient, retried per policy
//   - 69 (EX_UNAVAILABLE): collaborator unavailable, aborts the run
//   - 78 (EX_CONFIG): configuration invalid, aborts the run
//   - anything else: permanent for the job being processed
package extcmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"

	"applypilot/internal/services"
)

const (
	exitTempFail    = 75
	exitUnavailable = 69
	exitConfig      = 78

	maxLineBytes   = 4 << 20
	maxStderrBytes = 300
)

// ErrStop ends a stream early without being reported as a failure.
var ErrStop = errors.New("stop stream")

// Command describes one collaborator program.
type Command struct {
	name string
	argv []string
	env  []string
}

// New validates argv and returns a command labelled name for error messages.
func New(name string, argv []string, env ...string) (*Command, error) {
	cleaned := make([]string, 0, len(argv))
	for _, arg := range argv {
		if trimmed := strings.TrimSpace(arg); trimmed != "" || len(cleaned) > 0 {
			cleaned = append(cleaned, arg)
		}
	}
	if len(cleaned) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, name, "command", "no command configured", nil)
	}
	return &Command{name: name, argv: cleaned, env: env}, nil
}

// Name returns the collaborator label.
func (c *Command) Name() string {
	return c.name
}

// Binary returns the executable the command launches.
func (c *Command) Binary() string {
	return c.argv[0]
}

// Call writes req as JSON to stdin and decodes stdout into resp.
func (c *Command) Call(ctx context.Context, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return services.Wrap(services.ErrValidation, c.name, "encode request", "", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := c.command(ctx)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return c.classify(ctx, err, stderr.String())
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), resp); err != nil {
		return services.Wrap(services.ErrValidation, c.name, "decode response", "malformed JSON on stdout", err)
	}
	return nil
}

// Stream writes req as JSON to stdin and hands each non-blank stdout line to
// fn while the program is still running. Returning ErrStop from fn kills the
// program and ends the stream cleanly.
func (c *Command) Stream(ctx context.Context, req any, fn func(line []byte) error) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return services.Wrap(services.ErrValidation, c.name, "encode request", "", err)
	}

	var stderr bytes.Buffer
	cmd := c.command(ctx)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return c.classify(ctx, err, "")
	}

	stopped, fnErr := scanLines(stdout, fn)
	if fnErr != nil || stopped {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fnErr
	}
	if err := cmd.Wait(); err != nil {
		return c.classify(ctx, err, stderr.String())
	}
	return nil
}

func scanLines(r io.Reader, fn func([]byte) error) (bool, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			if errors.Is(err, ErrStop) {
				return true, nil
			}
			return false, err
		}
	}
	if err := scanner.Err(); err != nil {
		return false, services.Wrap(services.ErrTransient, "", "scan output", "", err)
	}
	return false, nil
}

func (c *Command) command(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...) //nolint:gosec
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	return cmd
}

func (c *Command) classify(ctx context.Context, err error, stderr string) error {
	detail := tail(stderr)
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, c.name, "run", "deadline exceeded", ctxErr)
		}
		return services.Wrap(services.ErrTransient, c.name, "run", "canceled", ctxErr)
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return services.Wrap(services.ErrUnavailable, c.name, "start", c.argv[0], err)
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return services.Wrap(services.ErrTransient, c.name, "run", detail, err)
	}
	switch exitErr.ExitCode() {
	case exitTempFail:
		return services.Wrap(services.ErrTransient, c.name, "run", detail, err)
	case exitUnavailable:
		return services.Wrap(services.ErrUnavailable, c.name, "run", detail, err)
	case exitConfig:
		return services.Wrap(services.ErrConfiguration, c.name, "run", detail, err)
	}
	if services.IsFatalMessage(detail) {
		return services.Wrap(services.ErrConfiguration, c.name, "run", detail, err)
	}
	return services.Wrap(services.ErrRejected, c.name, "run", detail, err)
}

func tail(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if len(stderr) <= maxStderrBytes {
		return stderr
	}
	return stderr[len(stderr)-maxStderrBytes:]
}
