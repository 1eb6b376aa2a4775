package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Engine is the name reported by runners and the introspection endpoint.
const Engine = "flowkit"

// Set at build time with -ldflags "-X".
var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// Info describes the running engine build.
type Info struct {
	Engine    string `json:"engine"`
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	Release   bool   `json:"release"`
	Dirty     bool   `json:"dirty"`
}

// Get returns the build information. Values missing from -ldflags are taken
// from the VCS stamp of the binary when there is one.
func Get() Info {
	info := Info{
		Engine:    Engine,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
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
				if info.BuildTime == "" {
					info.BuildTime = s.Value
				}
			}
		}
	}
	if len(info.Commit) > 7 {
		info.Commit = info.Commit[:7]
	}
	info.Release = info.Version != "dev" && !info.Dirty && !strings.Contains(info.Version, "dirty")
	return info
}

// String renders the info as "flowkit 1.2.0 (abc1234, dirty)".
func (i Info) String() string {
	var extra []string
	if i.Commit != "" {
		extra = append(extra, i.Commit)
	}
	if i.Dirty {
		extra = append(extra, "dirty")
	}
	s := fmt.Sprintf("%s %s", i.Engine, i.Version)
	if len(extra) > 0 {
		s += " (" + strings.Join(extra, ", ") + ")"
	}
	return s
}
