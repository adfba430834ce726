// Package wpcli drives a WordPress install through the wp command line
// tool. It provides the package manager, site information and cache
// commands the maintenance run needs.
package wpcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const defaultCommandTimeout = 5 * time.Minute

// Config configures the wp invocation
type Config struct {
	Binary    string        `toml:"binary"`
	Path      string        `toml:"path"`
	URL       string        `toml:"url"`
	AllowRoot bool          `toml:"allow_root"`
	Timeout   time.Duration `toml:"timeout"`
}

// Runner executes a command and returns its standard output. A non-zero
// exit must be reported as a *CommandError.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// CommandError is a wp invocation that exited unsuccessfully
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "no output"
	}
	return fmt.Sprintf("wp %s: exit status %d: %s", strings.Join(e.Args, " "), e.ExitCode, msg)
}

// Messages splits stderr into non-empty lines
func (e *CommandError) Messages() []string {
	var out []string
	for _, line := range strings.Split(e.Stderr, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// IsUnknownCommand reports whether err means the subcommand does not exist,
// typically because the plugin that provides it is not installed.
func IsUnknownCommand(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce) && strings.Contains(ce.Stderr, "is not a registered wp command")
}

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), &CommandError{Args: args, ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
	}
	return nil, fmt.Errorf("run %s: %w", name, err)
}

// Client runs wp subcommands against one install
type Client struct {
	cfg    Config
	run    Runner
	logger *slog.Logger
}

// New creates a Client. run may be nil to use ExecRunner.
func New(cfg Config, run Runner, logger *slog.Logger) *Client {
	if cfg.Binary == "" {
		cfg.Binary = "wp"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCommandTimeout
	}
	if run == nil {
		run = ExecRunner
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, run: run, logger: logger}
}

// Run executes one wp subcommand with the global flags appended
func (c *Client) Run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	full := append([]string{}, args...)
	if c.cfg.Path != "" {
		full = append(full, "--path="+c.cfg.Path)
	}
	if c.cfg.URL != "" {
		full = append(full, "--url="+c.cfg.URL)
	}
	if c.cfg.AllowRoot {
		full = append(full, "--allow-root")
	}

	c.logger.Debug("running wp", "args", full)
	return c.run(ctx, c.cfg.Binary, full...)
}

// text runs a subcommand and returns its trimmed output
func (c *Client) text(ctx context.Context, args ...string) (string, error) {
	out, err := c.Run(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
