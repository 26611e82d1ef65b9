package internal

import (
	"io"

	"github.com/starford/pagesync/internal/reconciler"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	source reconciler.Source
	stdout io.Writer
	logOut io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithSource replaces the Notion client, e.g. with a fixture source.
func WithSource(src reconciler.Source) Option {
	return func(a *application) {
		a.source = src
	}
}

// WithStdout sets where command output such as summaries is printed.
func WithStdout(w io.Writer) Option {
	return func(a *application) {
		a.stdout = w
	}
}

// WithLogOutput sets the console log destination. The MCP server passes
// stderr because stdout carries the protocol.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOut = w
	}
}
