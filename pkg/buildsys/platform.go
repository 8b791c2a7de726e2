package buildsys

import (
	"runtime"
)

// Platform bundles every OS specific decision the runner has to make. The runner only
// consults this struct and never checks runtime.GOOS itself.
type Platform struct {
	Name string
	// MultiConfig is set if the native generator keeps all modes in one build tree and
	// selects the mode at build time (Visual Studio)
	MultiConfig bool
	// DefaultGenerator is passed as -G to cmake; empty means CMake's default
	DefaultGenerator string
	Symlinks         bool
	ExeExt           string
}

// WindowsPlatform describes a Windows host using the Visual Studio generator
var WindowsPlatform = Platform{
	Name:        "windows",
	MultiConfig: true,
	ExeExt:      ".exe",
}

// PosixPlatform describes Linux, macOS and other Unix-like hosts
var PosixPlatform = Platform{
	Name:             "posix",
	DefaultGenerator: "Ninja",
	Symlinks:         true,
}

// NinjaGenerator is the generator used when Ninja is forced on multi-config platforms
const NinjaGenerator = "Ninja"

// Host returns the Platform for the OS this binary was built for
func Host() Platform {
	var p Platform
	if runtime.GOOS == "windows" {
		p = WindowsPlatform
	} else {
		p = PosixPlatform
	}

	p.Name = runtime.GOOS
	return p
}

// Generator returns the generator for a configure run or "" for CMake's default
func (p Platform) Generator(forceNinja bool) string {
	if forceNinja {
		return NinjaGenerator
	}
	return p.DefaultGenerator
}

// SharedBuildDir reports whether all modes share the build root
func (p Platform) SharedBuildDir(forceNinja bool) bool {
	return p.MultiConfig && !forceNinja
}
