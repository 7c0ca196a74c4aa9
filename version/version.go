// Package version describes the running docsync binary and the store it
// was pointed at.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time with -ldflags "-X github.com/teranos/docsync/version.Release=...".
// Commit and Built fall back to the VCS stamp the Go toolchain embeds.
var (
	Release = "dev"
	Commit  = ""
	Built   = ""
)

// Info is what `docsync version` reports.
type Info struct {
	Release  string `json:"release"`
	Commit   string `json:"commit,omitempty"`
	Built    string `json:"built,omitempty"`
	Modified bool   `json:"modified,omitempty"`
	Go       string `json:"go"`
	Platform string `json:"platform"`
	// Schema is the migration level of the local database, empty when
	// none has been created yet.
	Schema string `json:"schema,omitempty"`
}

// Get collects build information for the running binary.
func Get() Info {
	info := Info{
		Release:  Release,
		Commit:   Commit,
		Built:    Built,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info = info.withVCS(bi.Settings)
	}
	return info
}

// withVCS fills commit details the linker flags left empty.
func (i Info) withVCS(settings []debug.BuildSetting) Info {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if i.Commit == "" {
				i.Commit = s.Value
			}
		case "vcs.time":
			if i.Built == "" {
				i.Built = s.Value
			}
		case "vcs.modified":
			i.Modified = s.Value == "true"
		}
	}
	return i
}

// WithSchema returns a copy of i annotated with the local schema version.
func (i Info) WithSchema(schema string) Info {
	i.Schema = schema
	return i
}

// ShortCommit is the abbreviated commit, with a "+" for a dirty tree.
func (i Info) ShortCommit() string {
	c := i.Commit
	if c == "" {
		return "unknown"
	}
	if len(c) > 7 {
		c = c[:7]
	}
	if i.Modified {
		c += "+"
	}
	return c
}

func (i Info) String() string {
	s := fmt.Sprintf("docsync %s (%s", i.Release, i.ShortCommit())
	if i.Built != "" {
		s += ", " + i.Built
	}
	s += ")"
	if i.Schema != "" {
		s += " schema " + i.Schema
	}
	return s
}
