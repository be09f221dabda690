// Package buildinfo carries build-time metadata injected via -ldflags.
package buildinfo

var (
	Version   = "dev"
	Revision  = "unknown"
	BuildDate = "unknown"
)
