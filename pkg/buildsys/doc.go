// Package buildsys implements the task runner for the nEngine native build. It configures,
// builds, runs and cleans a CMake project in per-mode build directories, using
// mvdan.cc/sh for the shell runtime and an optional Starlark script to prepare the
// environment.
package buildsys
