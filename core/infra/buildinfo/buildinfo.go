package buildinfo

import (
	"fmt"
	"runtime"

	"github.com/any-listen/any-listen-extension-store/core/infra/logging"
)

// Set at link time with -ldflags "-X .../buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a single-line build summary.
func Info() string {
	return fmt.Sprintf("version=%s commit=%s date=%s go=%s", Version, Commit, Date, runtime.Version())
}

// Log writes the build summary for the named command.
func Log(command string) {
	logging.Info(command, "build info", "version", Version, "commit", Commit, "date", Date)
}
