// Package browser controls the target browser process: detection through the
// process table, graceful quit through AppleScript, and relaunch through open(1).
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/teamcutter/ublock-chrome/internal/domain"
	"github.com/teamcutter/ublock-chrome/internal/logger"
)

const (
	quitPollInterval = 500 * time.Millisecond
	// 30 polls at 500ms gives the browser 15s to exit on its own.
	quitPollAttempts = 30
	killSettle       = time.Second
)

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	Start(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Start does not wait: the browser outlives this process.
func (execRunner) Start(_ context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

type Chrome struct {
	processName  string
	runner       Runner
	processes    func() ([]ps.Process, error)
	kill         func(pid int) error
	pollInterval time.Duration
	pollAttempts int
	settle       time.Duration
}

type Option func(*Chrome)

func WithRunner(r Runner) Option {
	return func(c *Chrome) { c.runner = r }
}

func WithProcesses(list func() ([]ps.Process, error), kill func(pid int) error) Option {
	return func(c *Chrome) {
		c.processes = list
		c.kill = kill
	}
}

func WithPolling(interval time.Duration, attempts int, settle time.Duration) Option {
	return func(c *Chrome) {
		c.pollInterval = interval
		c.pollAttempts = attempts
		c.settle = settle
	}
}

func New(processName string, opts ...Option) *Chrome {
	c := &Chrome{
		processName:  processName,
		runner:       execRunner{},
		processes:    ps.Processes,
		kill:         killPID,
		pollInterval: quitPollInterval,
		pollAttempts: quitPollAttempts,
		settle:       killSettle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chrome) IsRunning(_ context.Context) (bool, error) {
	pids, err := c.pids()
	if err != nil {
		return false, err
	}
	return len(pids) > 0, nil
}

// Quit asks the browser to exit and kills whatever is left after the poll
// budget. It is a no-op when the browser is not running.
func (c *Chrome) Quit(ctx context.Context) error {
	pids, err := c.pids()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}
	if len(pids) == 0 {
		return nil
	}

	script := fmt.Sprintf("tell application %q to quit", c.processName)
	if err := c.runner.Run(ctx, "osascript", "-e", script); err != nil {
		logger.WarnKV(ctx, "graceful quit failed", "process", c.processName, "error", err)
	}

	for range c.pollAttempts {
		if pids, err = c.pids(); err == nil && len(pids) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}

	pids, err = c.pids()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	var errs []error
	for _, pid := range pids {
		logger.DebugKV(ctx, "killing browser process", "pid", pid)
		errs = append(errs, c.kill(pid))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.settle):
	}
	return nil
}

func (c *Chrome) Start(ctx context.Context, spec domain.LaunchSpec) error {
	args := append([]string{"-a", spec.BrowserApp, "--args"}, spec.Args...)
	logger.DebugKV(ctx, "starting browser", "app", spec.BrowserApp, "args", spec.Args)

	if err := c.runner.Start(ctx, "open", args...); err != nil {
		return fmt.Errorf("start %s: %w", spec.BrowserApp, err)
	}
	return nil
}

func (c *Chrome) pids() ([]int, error) {
	list, err := c.processes()
	if err != nil {
		return nil, err
	}

	self := os.Getpid()

	var pids []int
	for _, p := range list {
		if p.Pid() == self || p.Executable() != c.processName {
			continue
		}
		pids = append(pids, p.Pid())
	}
	return pids, nil
}

func killPID(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
