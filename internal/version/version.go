package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/kconsole"

// buildVersion is set via -ldflags "-X pkt.systems/kconsole/internal/version.buildVersion=...".
var buildVersion = ""

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Module    string `json:"module"`
	Revision  string `json:"revision,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
}

type vcsInfo struct {
	revision string
	time     time.Time
	modified bool
}

// Current returns the best available version string without a dirty suffix.
func Current() string {
	return Describe().Version
}

// Describe collects version details from ldflags and build info.
func Describe() Info {
	info := Info{
		Version:   "v0.0.0-unknown",
		Module:    defaultModule,
		GoVersion: runtime.Version(),
	}
	build, ok := readBuildInfo()
	var vcs vcsInfo
	if ok {
		if path := strings.TrimSpace(build.Main.Path); path != "" {
			info.Module = path
		}
		vcs = readVCS(build)
		info.Revision = vcs.revision
		info.Modified = vcs.modified
	}
	switch {
	case strings.TrimSpace(buildVersion) != "":
		info.Version = strings.TrimSpace(buildVersion)
	case ok && build.Main.Version != "" && build.Main.Version != "(devel)":
		info.Version = build.Main.Version
	case vcs.revision != "" && !vcs.time.IsZero():
		info.Version = pseudoVersion(vcs)
	}
	info.Version = strings.TrimSuffix(info.Version, "+dirty")
	return info
}

// String renders the info on one line for the version command.
func (i Info) String() string {
	var b strings.Builder
	b.WriteString(i.Module)
	b.WriteByte(' ')
	b.WriteString(i.Version)
	if i.Revision != "" {
		b.WriteString(" (")
		b.WriteString(shortRevision(i.Revision))
		if i.Modified {
			b.WriteString(", modified")
		}
		b.WriteByte(')')
	}
	b.WriteByte(' ')
	b.WriteString(i.GoVersion)
	return b.String()
}

func readVCS(build *debug.BuildInfo) vcsInfo {
	var out vcsInfo
	if build == nil {
		return out
	}
	for _, setting := range build.Settings {
		switch setting.Key {
		case "vcs.revision":
			out.revision = setting.Value
		case "vcs.time":
			if parsed, err := time.Parse(time.RFC3339, setting.Value); err == nil {
				out.time = parsed.UTC()
			}
		case "vcs.modified":
			out.modified = setting.Value == "true"
		}
	}
	return out
}

func pseudoVersion(vcs vcsInfo) string {
	return "v0.0.0-" + vcs.time.Format("20060102150405") + "-" + shortRevision(vcs.revision)
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
