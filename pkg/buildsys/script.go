package buildsys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

type scriptCtx struct {
	ctx          context.Context
	platform     Platform
	options      map[string]ScriptOption
	optionValues map[string]string
	envOverrides map[string]string
	defines      map[string]string
	yamlCache    map[string]interface{}
	filepath     string
	projectRoot  string
}

func getCtx(thread *starlark.Thread) *scriptCtx {
	return thread.Local("scriptCtx").(*scriptCtx)
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	filepath := simplifyPath(ctx, ctx.filepath)

	log(ctx.ctx).Info().
		Msgf("%s:%d:%d: %s", filepath, pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	filepath := simplifyPath(ctx, ctx.filepath)

	log(ctx.ctx).Warn().
		Msgf("%s:%d:%d: %s", filepath, pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

// RunProjectScript executes the Starlark project script and collects the environment
// overrides and CMake defines it declares. options contains the key=value pairs passed on
// the command line. A missing script is not an error and yields an empty result.
func RunProjectScript(ctx context.Context, platform Platform, filename, projectRoot string, options map[string]string) (*ScriptResult, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, err
	}

	script, err := os.ReadFile(filename)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			log(ctx).Debug().Str("path", filename).Msg("No project script found")
			return emptyScriptResult(), nil
		}
		return nil, eris.Wrapf(err, "failed to read file %s", filename)
	}

	if options == nil {
		options = map[string]string{}
	}

	builtins := starlark.StringDict{
		"OS":           starlark.String(platform.Name),
		"ARCH":         starlark.String(runtime.GOARCH),
		"info":         starlark.NewBuiltin("info", starInfo),
		"warn":         starlark.NewBuiltin("warn", starWarn),
		"error":        starlark.NewBuiltin("error", starError),
		"resolve_path": starlark.NewBuiltin("resolve_path", resolvePath),
		"option":       starlark.NewBuiltin("option", option),
		"getenv":       starlark.NewBuiltin("getenv", getenv),
		"setenv":       starlark.NewBuiltin("setenv", setenv),
		"prepend_path": starlark.NewBuiltin("prepend_path", prependPathDir),
		"read_yaml":    starlark.NewBuiltin("read_yaml", readYaml),
		"isdir":        starlark.NewBuiltin("isdir", starIsdir),
		"isfile":       starlark.NewBuiltin("isfile", starIsfile),
		"execute":      starlark.NewBuiltin("execute", starExec),
		"load_vcvars":  starlark.NewBuiltin("load_vcvars", starLoadVcvars),
		"cmake_define": starlark.NewBuiltin("cmake_define", cmakeDefine),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	threadCtx := scriptCtx{
		ctx:          ctx,
		platform:     platform,
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      make(map[string]ScriptOption),
		optionValues: options,
		envOverrides: make(map[string]string),
		defines:      make(map[string]string),
		yamlCache:    make(map[string]interface{}),
	}
	thread.SetLocal("scriptCtx", &threadCtx)

	_, err = starlark.ExecFile(thread, simplifyPath(&threadCtx, filename), script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.Errorf("failed to execute %s:\n%s", simplifyPath(&threadCtx, filename), evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed to execute %s", simplifyPath(&threadCtx, filename))
	}

	for name := range options {
		if _, declared := threadCtx.options[name]; !declared {
			log(ctx).Warn().Msgf("Option %s was passed but %s doesn't declare it", name, simplifyPath(&threadCtx, filename))
		}
	}

	return &ScriptResult{
		Env:     threadCtx.envOverrides,
		Defines: threadCtx.defines,
		Options: threadCtx.options,
	}, nil
}
