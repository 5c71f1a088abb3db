// Package version reports build metadata stamped at link time.
package version

import "runtime/debug"

// Set via -ldflags, e.g.
//
//	-X github.com/samcharles93/sumi/internal/version.Version=v0.4.0
var (
	Version = ""
	Commit  = ""
	Date    = ""
)

// Info is the resolved build description.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
}

// Resolve fills unset fields from the build info embedded in the
// binary, so module-built and go-install binaries still report
// something useful.
func Resolve() Info {
	info := Info{Version: Version, Commit: Commit, Date: Date}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.Date == "" {
					info.Date = s.Value
				}
			}
		}
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	return info
}

// String renders the version the way `sumi version` prints it.
func String() string {
	info := Resolve()
	if info.Commit == "" {
		return info.Version
	}
	return info.Version + " (" + shortCommit(info.Commit) + ")"
}

func shortCommit(c string) string {
	if len(c) <= 12 {
		return c
	}
	return c[:12]
}
