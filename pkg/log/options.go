package log

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// Options configures the process logger.
type Options struct {
	Level  string // debug, info, warn or error
	Format string // json or console
	// Service is attached to every entry so server and CLI output can be
	// told apart in a shared sink.
	Service string
}

// NewOptions returns JSON output at info level.
func NewOptions() *Options {
	return &Options{Level: "info", Format: "json"}
}

// Validate reports every invalid option.
func (o *Options) Validate() error {
	var errs []error
	if _, err := zapcore.ParseLevel(o.Level); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if o.Format != "json" && o.Format != "console" {
		errs = append(errs, fmt.Errorf("log format %q: want json or console", o.Format))
	}
	return errors.Join(errs...)
}

// AddFlags binds the options to fs.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Level, "log-level", o.Level, "Minimum level logged: debug, info, warn or error.")
	fs.StringVar(&o.Format, "log-format", o.Format, "Log encoding: json or console.")
}
