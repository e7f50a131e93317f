// Package version reports the build version of the binaries.
package version

import (
	"runtime/debug"
	"strings"
)

// Version can be set at build time:
//
//	go build -ldflags "-X github.com/fortuned/stepseq/version.Version=$(git describe --dirty)"
var Version string

// Info is what the build info tells about the running binary.
type Info struct {
	Module   string // module version, "(devel)" for local builds
	Revision string // short VCS hash, with -dirty if modified
	Go       string
}

func read() (info Info) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.Module = bi.Main.Version
	info.Go = bi.GoVersion
	modified := false
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Revision = s.Value[:min(7, len(s.Value))]
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if modified && info.Revision != "" {
		info.Revision += "-dirty"
	}
	return info
}

// Build describes the running binary, read from its build info.
var Build = read()

// String returns Version if set, otherwise the module version and the VCS
// revision, whichever are known.
func String() string {
	if Version != "" {
		return Version
	}
	var parts []string
	if Build.Module != "" && Build.Module != "(devel)" {
		parts = append(parts, Build.Module)
	}
	if Build.Revision != "" {
		parts = append(parts, Build.Revision)
	}
	if len(parts) == 0 {
		return "devel"
	}
	return strings.Join(parts, " ")
}
