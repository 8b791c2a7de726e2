package buildsys

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
)

// Mode selects a CMake build configuration
type Mode int

const (
	Release Mode = iota
	Debug
	RelWithDebInfo
	MinSizeRel
)

// DefaultMode is used whenever no mode was passed
const DefaultMode = Release

// Modes lists all known modes in declaration order
var Modes = []Mode{Release, Debug, RelWithDebInfo, MinSizeRel}

var modeNames = map[Mode]string{
	Release:        "Release",
	Debug:          "Debug",
	RelWithDebInfo: "RelWithDebInfo",
	MinSizeRel:     "MinSizeRel",
}

var _ pflag.Value = (*Mode)(nil)

// ParseMode looks up a mode by its name, ignoring case
func ParseMode(name string) (Mode, error) {
	for _, m := range Modes {
		if strings.EqualFold(modeNames[m], name) {
			return m, nil
		}
	}

	return DefaultMode, eris.Errorf("unknown mode %q (must be one of Release, Debug, RelWithDebInfo or MinSizeRel)", name)
}

// String returns the CMake name of the mode which is also used for the build directory
func (m Mode) String() string {
	name, ok := modeNames[m]
	if !ok {
		return "Mode(" + strconv.Itoa(int(m)) + ")"
	}
	return name
}

// BuildType returns the value for -DCMAKE_BUILD_TYPE
func (m Mode) BuildType() string {
	return m.String()
}

// Valid reports whether m is one of the declared modes
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// Set implements pflag.Value
func (m *Mode) Set(value string) error {
	parsed, err := ParseMode(value)
	if err != nil {
		return err
	}

	*m = parsed
	return nil
}

// Type implements pflag.Value
func (m *Mode) Type() string {
	return "mode"
}
