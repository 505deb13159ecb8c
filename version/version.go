// Package version reports build metadata for remote-agent binaries.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time through -ldflags "-X ..."; a plain `go build`
// produces a dev binary with these defaults.
var (
	Version   = "dev"
	Commit    = "none"
	Branch    = "unknown"
	BuildDate = "unknown"
)

// Info bundles the linker-set values with the toolchain details of the
// running binary. It is served by the daemon health endpoint and printed
// by the version command.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Branch    string `json:"branch"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Compiler  string `json:"compiler"`
	Platform  string `json:"platform"`
}

// GetInfo snapshots the build description of the current binary.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Branch:    Branch,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Compiler:  runtime.Compiler,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders the info as an aligned multi-line block.
func (i Info) String() string {
	return fmt.Sprintf(
		"Version:    %s\nCommit:     %s\nBranch:     %s\nBuilt:      %s\nGo:         %s (%s)\nPlatform:   %s",
		i.Version, i.Commit, i.Branch, i.BuildDate, i.GoVersion, i.Compiler, i.Platform,
	)
}
