// Package version holds build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X pplxchat/internal/version.Version=v1.0.0"
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("pplxchat %s (commit %s, built %s)", Version, Commit, Date)
}
