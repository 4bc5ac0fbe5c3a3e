// Package version reports the build identity of the histree binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the release version, set with -ldflags "-X ...version.Version=v1.2.3".
var Version = "dev"

// BinaryGitHash is the Git hash of the executing histree binary.
var BinaryGitHash = "<unknown>"

// Info is the resolved build identity.
type Info struct {
	Version   string `json:"version"   yaml:"version"`
	GitHash   string `json:"git_hash"  yaml:"git_hash"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Get resolves the build identity, falling back to the VCS revision embedded
// by the Go toolchain when no hash was set at link time.
func Get() Info {
	info := Info{Version: Version, GitHash: BinaryGitHash, GoVersion: runtime.Version()}

	if info.GitHash != "<unknown>" {
		return info
	}

	build, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}

	for _, setting := range build.Settings {
		if setting.Key == "vcs.revision" {
			info.GitHash = setting.Value
		}
	}

	return info
}

// String renders the build identity on one line.
func (i Info) String() string {
	return fmt.Sprintf("histree %s (%s, %s)", i.Version, i.GitHash, i.GoVersion)
}
