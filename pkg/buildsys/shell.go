package buildsys

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/nengine/build-tools/pkg/posix"
)

// Command describes a single invocation of an external program
type Command struct {
	Dir  string
	Args []string
	Env  map[string]string
}

// Executor runs external commands. Exec blocks until the command exits.
type Executor interface {
	Exec(ctx context.Context, cmd Command) error
}

// ShellExecutor runs commands through the mvdan.cc/sh interpreter
type ShellExecutor struct {
	Stdin          io.Reader
	Stdout, Stderr io.Writer
	DryRun         bool
}

var _ Executor = (*ShellExecutor)(nil)

// NewShellExecutor returns an executor attached to the process' stdio
func NewShellExecutor(dryRun bool) *ShellExecutor {
	return &ShellExecutor{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		DryRun: dryRun,
	}
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "mv", "rm", "mkdir":
			// always use our cross-platform implementation for these operations to make sure
			// they behave consistently
			hc := interp.HandlerCtx(ctx)
			err := runPosixHelper(hc.Dir, args)
			if err != nil {
				fmt.Fprintf(hc.Stderr, "%s: %s\n", args[0], err)
				return interp.NewExitStatus(1)
			}
			return nil
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func runPosixHelper(dir string, args []string) error {
	flags := map[rune]bool{}
	operands := make([]string, 0, len(args))
	for _, arg := range args[1:] {
		if len(arg) > 1 && arg[0] == '-' && len(operands) == 0 {
			for _, f := range arg[1:] {
				flags[f] = true
			}
			continue
		}

		if !filepath.IsAbs(arg) {
			arg = filepath.Join(dir, arg)
		}
		operands = append(operands, arg)
	}

	switch args[0] {
	case "rm":
		return posix.Rm(posix.RmOptions{
			Recursive: flags['r'] || flags['R'],
			Force:     flags['f'],
		}, operands...)
	case "mkdir":
		return posix.Mkdir(flags['p'], operands...)
	case "mv":
		return posix.Mv(operands...)
	}
	return eris.Errorf("unsupported helper %s", args[0])
}

// envList merges the process environment with the overrides. Overridden keys are dropped
// from the process environment to avoid duplicates.
func envList(overrides map[string]string) []string {
	return mergeEnv(os.Environ(), overrides, runtime.GOOS == "windows")
}

// mergeEnv appends the overrides to base. With foldCase set keys are compared case-insensitively
// and override keys are upper-cased, since Windows treats Path and PATH as the same variable.
func mergeEnv(base []string, overrides map[string]string, foldCase bool) []string {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	merged := make(map[string]string, len(overrides))
	order := make([]string, 0, len(keys))
	for _, k := range keys {
		name := k
		if foldCase {
			name = strings.ToUpper(k)
		}
		if _, seen := merged[name]; !seen {
			order = append(order, name)
		}
		merged[name] = overrides[k]
	}

	result := make([]string, 0, len(base)+len(order))
	for _, item := range base {
		key := strings.SplitN(item, "=", 2)[0]
		if foldCase {
			key = strings.ToUpper(key)
		}

		if _, present := merged[key]; !present {
			result = append(result, item)
		}
	}

	for _, name := range order {
		result = append(result, fmt.Sprintf("%s=%s", name, merged[name]))
	}
	return result
}

// quoteWord turns an argument into a shell word which expands to exactly that argument
func quoteWord(value string) *syntax.Word {
	word := new(syntax.Word)
	plain := value != "" &&
		!strings.ContainsAny(value, " \t\n$'\"\\`*?[{},;&|<>()") &&
		!strings.HasPrefix(value, "~") && !strings.HasPrefix(value, "#")
	if plain {
		word.Parts = []syntax.WordPart{&syntax.Lit{Value: value}}
		return word
	}

	// single quotes can't contain single quotes; split around them and escape them instead
	chunks := strings.Split(value, "'")
	for idx, chunk := range chunks {
		if idx > 0 {
			word.Parts = append(word.Parts, &syntax.Lit{Value: `\'`})
		}
		if chunk != "" || len(chunks) == 1 {
			word.Parts = append(word.Parts, &syntax.SglQuoted{Value: chunk})
		}
	}
	return word
}

// CallExpr converts an argument list into a shell call expression
func CallExpr(args []string) *syntax.CallExpr {
	cmd := new(syntax.CallExpr)
	cmd.Args = make([]*syntax.Word, len(args))
	for idx, arg := range args {
		cmd.Args[idx] = quoteWord(arg)
	}
	return cmd
}

// Render returns the minified shell representation of an argument list
func Render(args []string) string {
	strBuffer := strings.Builder{}
	printer := syntax.NewPrinter(syntax.Minify(true))
	if err := printer.Print(&strBuffer, &syntax.Stmt{Cmd: CallExpr(args)}); err != nil {
		return strings.Join(args, " ")
	}
	return strings.TrimRight(strBuffer.String(), "\n")
}

// Exec implements Executor
func (e *ShellExecutor) Exec(ctx context.Context, cmd Command) error {
	if len(cmd.Args) == 0 {
		return eris.New("empty command")
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	log(ctx).Info().
		Bool("command", true).
		Str("dir", cmd.Dir).
		Msg(Render(cmd.Args))

	if e.DryRun {
		return nil
	}

	runner, err := interp.New(
		interp.Dir(cmd.Dir),
		interp.Env(expand.ListEnviron(envList(cmd.Env)...)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(e.Stdin, e.Stdout, e.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "Failed to initialize runner")
	}

	err = runner.Run(ctx, &syntax.Stmt{Cmd: CallExpr(cmd.Args)})
	if err != nil {
		if status, ok := interp.IsExitStatus(err); ok {
			return eris.Wrap(&ExitError{Args: cmd.Args, Status: int(status)}, "command failed")
		}
		return eris.Wrapf(err, "failed to run %s", cmd.Args[0])
	}

	return nil
}

// RunScript parses and runs a shell snippet. Output goes to stdout and stderr.
func RunScript(ctx context.Context, dir, script string, env map[string]string, stdout, stderr io.Writer) error {
	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(script), "execute")
	if err != nil {
		return eris.Wrapf(err, "failed to parse command %s", script)
	}

	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(envList(env)...)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, stdout, stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize runner")
	}

	for _, stmt := range file.Stmts {
		if err = runner.Run(ctx, stmt); err != nil {
			return err
		}

		if runner.Exited() {
			return nil
		}
	}
	return nil
}
