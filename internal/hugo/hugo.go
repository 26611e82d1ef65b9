// Package hugo triggers the static site build and deployment after a sync
// pass. Both steps shell out to external commands.
package hugo

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

// Builder runs the hugo binary over a site directory.
type Builder struct {
	Binary  string
	SiteDir string
	Args    []string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Build runs "<binary> --source <site> <args...>".
func (b *Builder) Build(ctx context.Context) error {
	if b.SiteDir == "" {
		return errors.New("hugo: site dir is required")
	}
	bin := b.Binary
	if bin == "" {
		bin = "hugo"
	}
	args := append([]string{"--source", b.SiteDir}, b.Args...)
	return run(ctx, b.Timeout, logger(b.Logger), "build", "", bin, args...)
}

// Deployer runs the configured deploy command, "hugo deploy" by default,
// inside the site directory.
type Deployer struct {
	Command []string
	SiteDir string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Deploy executes the deploy command.
func (d *Deployer) Deploy(ctx context.Context) error {
	cmd := d.Command
	if len(cmd) == 0 {
		cmd = []string{"hugo", "deploy"}
	}
	return run(ctx, d.Timeout, logger(d.Logger), "deploy", d.SiteDir, cmd[0], cmd[1:]...)
}

func run(ctx context.Context, timeout time.Duration, log *slog.Logger, step, dir, bin string, args ...string) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.WaitDelay = 2 * time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	log.Info("hugo: "+step+" started", slog.String("command", bin), slog.String("args", strings.Join(args, " ")))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("hugo: %s: %w: %s", step, err, tail(out.String(), 2048))
	}
	log.Info("hugo: "+step+" finished", slog.Duration("duration", time.Since(start)))
	return nil
}

// tail keeps the last n bytes of combined output for error messages.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
