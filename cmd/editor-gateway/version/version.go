package version

import (
	"runtime/debug"
)

// Version is set by -ldflags "-X .../version.Version=..." or taken from the
// module build information
var Version string = "unable to get version"

func init() {
	if Version != "unable to get version" {
		return
	}
	inf, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	Version = inf.Main.Version
}
