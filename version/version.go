package version

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Set at build time with -ldflags -X.
var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// Info describes one build. The daemon registers Version as instance
// metadata so registries can tell rollouts apart.
type Info struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit,omitempty"`
	BuildTime time.Time `json:"build_time,omitempty"`
	GoVersion string    `json:"go_version"`
	Dirty     bool      `json:"dirty,omitempty"`
}

// Get merges the -ldflags values with the embedded build info.
func Get() Info {
	info := Info{Version: Version, Commit: Commit}
	if BuildTime != "" {
		info.BuildTime, _ = time.Parse(time.RFC3339, BuildTime)
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		case "vcs.time":
			if info.BuildTime.IsZero() {
				info.BuildTime, _ = time.Parse(time.RFC3339, s.Value)
			}
		}
	}
	return info
}

// String formats the build as "<version>[-<short commit>][-dirty]".
func (i Info) String() string {
	s := i.Version
	if i.Commit != "" {
		c := i.Commit
		if len(c) > 7 {
			c = c[:7]
		}
		s = fmt.Sprintf("%s-%s", s, c)
	}
	if i.Dirty {
		s += "-dirty"
	}
	return s
}
