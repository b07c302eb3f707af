// Package version reports the build version of the lanlight tools.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/lanlight/lanlight-go/pkg/wire"
)

// Version is the release version. Release builds override it with
// -ldflags "-X github.com/lanlight/lanlight-go/pkg/version.Version=1.2".
var Version = "0.1"

// Release is a parsed "major.minor" version.
type Release struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string. A leading "v" is accepted.
func Parse(s string) (Release, error) {
	major, minor, ok := strings.Cut(strings.TrimPrefix(s, "v"), ".")
	if !ok {
		return Release{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	majorN, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return Release{}, fmt.Errorf("invalid version %q: bad major component", s)
	}
	minorN, err := strconv.ParseUint(minor, 10, 16)
	if err != nil {
		return Release{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}
	return Release{Major: uint16(majorN), Minor: uint16(minorN)}, nil
}

// String returns the version as "major.minor".
func (r Release) String() string {
	return fmt.Sprintf("%d.%d", r.Major, r.Minor)
}

// Info returns a one-line description of the binary for -version output.
// A Version that is not "major.minor" is reported as a development build.
func Info(program string) string {
	v := Version
	if r, err := Parse(Version); err == nil {
		v = r.String()
	} else {
		v += "-dev"
	}

	rev := "unknown"
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				rev = s.Value[:7]
			}
		}
	}
	return fmt.Sprintf("%s %s (protocol %d, rev %s, %s)", program, v, wire.ProtocolNumber, rev, runtime.Version())
}
