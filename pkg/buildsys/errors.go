package buildsys

import (
	"fmt"
	"strings"
)

// ExitError is returned when an external command exits with a non-zero status
type ExitError struct {
	Args   []string
	Status int
}

var _ error = (*ExitError)(nil)

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", strings.Join(e.Args, " "), e.Status)
}

// NotBuiltError is returned by tasks which need the output of a build that hasn't run, yet
type NotBuiltError struct {
	Mode Mode
	Path string
}

var _ error = (*NotBuiltError)(nil)

func (e *NotBuiltError) Error() string {
	return fmt.Sprintf("%s does not exist, build the project first (task build --mode %s)", e.Path, e.Mode)
}
