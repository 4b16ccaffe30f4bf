// Package version exposes build version information. Variables can be
// overridden at build time:
//
//	go build -ldflags "-X github.com/MercatoLabs/dealkit/version.version=1.0.0"
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

const (
	devVersion     = "dev"
	shortCommitLen = 7
)

// Build-time variables, overridable with -ldflags.
var (
	version   = devVersion
	gitCommit = ""
	buildDate = ""
)

// Get returns the version string, falling back to module build info when
// no ldflags were set.
func Get() string {
	if version != devVersion {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return devVersion
}

// Info returns the multi-line human-readable version report.
func Info() string {
	var b strings.Builder
	fmt.Fprintf(&b, "dealkit version %s", Get())
	if commit := commitHash(); commit != "" {
		fmt.Fprintf(&b, "\ncommit: %s", commit)
	}
	if buildDate != "" {
		fmt.Fprintf(&b, "\nbuilt: %s", buildDate)
	}
	return b.String()
}

// BuildAttrs returns version details as structured log attributes.
func BuildAttrs() []any {
	attrs := []any{"version", Get()}
	if commit := commitHash(); commit != "" {
		attrs = append(attrs, "commit", commit)
	}
	if gitCommit == "" && isDirty() {
		attrs = append(attrs, "dirty", true)
	}
	if buildDate != "" {
		attrs = append(attrs, "built", buildDate)
	}
	return attrs
}

func commitHash() string {
	if gitCommit != "" {
		return gitCommit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			if len(setting.Value) > shortCommitLen {
				return setting.Value[:shortCommitLen]
			}
			return setting.Value
		}
	}
	return ""
}

func isDirty() bool {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return false
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.modified" {
			return setting.Value == "true"
		}
	}
	return false
}
