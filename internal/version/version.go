// Package version holds build metadata injected with ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/tvinput/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/tvinput/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/tvinput/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "tvinput"

const shortCommitLen = 8

// Info contains structured version information.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	return Info{
		Name:      ApplicationName,
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// ShortCommit returns the abbreviated commit, or "" when unknown.
func ShortCommit() string {
	if Commit == "unknown" || len(Commit) < shortCommitLen {
		return ""
	}
	return Commit[:shortCommitLen]
}

// String returns a human-readable version line.
func String() string {
	info := GetInfo()
	if c := ShortCommit(); c != "" {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			info.Name, info.Version, c, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", info.Name, info.Version, info.GoVersion, info.Platform)
}

// UserAgent returns the User-Agent sent when fetching feeds.
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s/%s)", ApplicationName, Version, runtime.GOOS, runtime.GOARCH)
}
