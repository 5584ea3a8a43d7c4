package logger

import (
	"io"
	"os"
)

// Options configures a Logger. Output overrides every file setting when set.
type Options struct {
	Level       string // debug, info, warn, error
	Format      string // json, text
	ServiceName string
	Output      io.Writer

	// Environment "local" always logs to stdout and never rotates to a file.
	Environment string
	File        string
	FileOnly    bool

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultOptions returns stdout JSON logging at info level.
func DefaultOptions() *Options {
	return &Options{
		Level:       "info",
		Format:      "json",
		ServiceName: "dotabank",
		Output:      os.Stdout,
		Environment: "local",
	}
}

func (o *Options) writesFile() bool {
	return o.Output == nil && o.Environment != "local" && o.File != ""
}
