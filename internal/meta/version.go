package meta

import (
	"fmt"
	"runtime"
)

// DevVersion is reported when the binary was built without a version
const DevVersion = "0.0.0-dev"

// Info describes the build context of a courier binary or library.
//
// The fields are filled in at build time by the Go linker, see the vars
// below.
type Info struct {
	Version   string
	Build     string
	Branch    string
	BuildTime string
	Platform  string
	GoVersion string
}

// These will be filled in using the linker -X flag
var (
	// Version as an arbitrary string
	Version string

	// Build is the Git sha from when we are building
	Build string

	// Branch is the Git branch that we are building from
	Branch string

	// BuildTimeUTC is the build time in UTC (year/month/day hour:min:sec)
	BuildTimeUTC string

	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
)

// GetInfo returns an Info struct populated with the build information.
func GetInfo() Info {
	return Info{
		GoVersion: runtime.Version(),
		Version:   Version,
		Build:     Build,
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		Platform:  platform,
	}
}

// ClientVersion is the version reported to servers in CONNECT
func (i Info) ClientVersion() string {
	if i.Version == "" {
		return DevVersion
	}

	return i.Version
}

func (i Info) String() string {
	s := fmt.Sprintf("courier %s (%s)", i.ClientVersion(), i.Platform)

	if i.Build != "" {
		s += fmt.Sprintf(" build %s", i.Build)
	}

	if i.BuildTime != "" {
		s += fmt.Sprintf(" at %s", i.BuildTime)
	}

	return s + " " + i.GoVersion
}
