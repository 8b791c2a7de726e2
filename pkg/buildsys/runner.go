package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/nengine/build-tools/pkg/archive"
	"github.com/nengine/build-tools/pkg/compdb"
	"github.com/nengine/build-tools/pkg/config"
	"github.com/nengine/build-tools/pkg/posix"
)

// Runner implements the configure, build, run and clean tasks
type Runner struct {
	Config   *config.Config
	Platform Platform
	Exec     Executor
	Script   *ScriptResult
	// Progress enables progress bars for asset copies and packing
	Progress bool
	// DryRun logs filesystem changes instead of performing them
	DryRun bool
}

// ModeStatus summarizes the state of a single mode's build directory
type ModeStatus struct {
	Mode       Mode
	Dir        string
	Configured bool
	Stamp      *Stamp
	Executable string
	Built      bool
}

// NewRunner returns a Runner for the given settings. A nil script result is treated as
// an empty one.
func NewRunner(cfg *config.Config, platform Platform, exec Executor, script *ScriptResult) *Runner {
	if script == nil {
		script = emptyScriptResult()
	}

	return &Runner{
		Config:   cfg,
		Platform: platform,
		Exec:     exec,
		Script:   script,
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Runner) cacheFile() string {
	return filepath.Join(r.Config.BuildDir, CacheFile)
}

// ModeDir returns the CMake build tree for mode
func (r *Runner) ModeDir(mode Mode, forceNinja bool) string {
	if r.Platform.SharedBuildDir(forceNinja) {
		return r.Config.BuildDir
	}
	return filepath.Join(r.Config.BuildDir, mode.String())
}

// OutputDir returns the directory which receives the executable and the assets
func (r *Runner) OutputDir(mode Mode, forceNinja bool) string {
	dir := r.ModeDir(mode, forceNinja)
	if r.Platform.MultiConfig {
		dir = filepath.Join(dir, mode.String())
	}
	return dir
}

// ExePath returns the location of the built executable
func (r *Runner) ExePath(mode Mode) string {
	return filepath.Join(r.Config.BuildDir, mode.String(), r.Config.Binary+r.Platform.ExeExt)
}

func (r *Runner) command(dir string, args ...string) Command {
	return Command{
		Dir:  dir,
		Args: args,
		Env:  r.Script.Env,
	}
}

// ConfigureArgs returns the cmake invocation for a configure run
func (r *Runner) ConfigureArgs(mode Mode, forceNinja bool) []string {
	args := []string{
		r.Config.CMake,
		"-S", r.Config.SourceDir,
		"-B", r.ModeDir(mode, forceNinja),
		"-DCMAKE_BUILD_TYPE=" + mode.BuildType(),
		"-DCMAKE_EXPORT_COMPILE_COMMANDS=1",
	}

	for _, key := range sortedKeys(r.Script.Defines) {
		args = append(args, "-D"+key+"="+r.Script.Defines[key])
	}

	if generator := r.Platform.Generator(forceNinja); generator != "" {
		args = append(args, "-G"+generator)
	}
	return args
}

// BuildArgs returns the cmake invocation for a build run
func (r *Runner) BuildArgs(mode Mode, forceNinja bool) []string {
	args := []string{r.Config.CMake, "--build", r.ModeDir(mode, forceNinja)}
	if r.Platform.MultiConfig {
		args = append(args, "--config", mode.String())
	}
	return args
}

// Configure generates the build tree for mode and links the compilation database into
// the source root.
func (r *Runner) Configure(ctx context.Context, mode Mode, forceNinja bool) error {
	ctx = withTask(ctx, "configure")
	modeDir := r.ModeDir(mode, forceNinja)

	if !r.DryRun {
		if err := os.MkdirAll(modeDir, 0o770); err != nil {
			return eris.Wrapf(err, "failed to create %s", modeDir)
		}
	}

	err := r.Exec.Exec(ctx, r.command(r.Config.SourceDir, r.ConfigureArgs(mode, forceNinja)...))
	if err != nil {
		return eris.Wrapf(err, "failed to configure %s", mode)
	}

	if r.DryRun {
		log(ctx).Info().Msgf("Would link %s and record the configure stamp", compdb.FileName)
		return nil
	}

	r.linkCompileCommands(ctx, modeDir)

	err = updateCache(r.cacheFile(), func(stamps Stamps) {
		stamps[mode.String()] = Stamp{
			Mode:       mode.String(),
			ForceNinja: forceNinja,
			Generator:  r.Platform.Generator(forceNinja),
			Defines:    r.Script.Defines,
			Time:       time.Now(),
		}
	})
	if err != nil {
		log(ctx).Warn().Err(err).Msg("Failed to record configure stamp")
	}

	return nil
}

func (r *Runner) linkCompileCommands(ctx context.Context, modeDir string) {
	target := filepath.Join(r.Config.SourceDir, compdb.FileName)
	source := filepath.Join(modeDir, compdb.FileName)

	if err := compdb.RemoveStale(target); err != nil {
		log(ctx).Warn().Err(err).Msgf("Could not remove old %s", compdb.FileName)
	}

	method, err := compdb.Install(source, target, r.Platform.Symlinks)
	if err != nil {
		log(ctx).Warn().Err(err).Msgf("Could not install %s", compdb.FileName)
		return
	}

	if method == compdb.Skipped {
		log(ctx).Warn().Str("path", source).Msg("CMake did not generate a compilation database")
		return
	}

	log(ctx).Debug().Str("path", target).Msgf("%s %s", compdb.FileName, method)
}

// Build compiles mode and copies the assets next to the executable. If mode hasn't been
// configured yet, Build only logs a hint.
func (r *Runner) Build(ctx context.Context, mode Mode, forceNinja bool) error {
	ctx = withTask(ctx, "build")
	modeDir := r.ModeDir(mode, forceNinja)

	if !isDir(modeDir) {
		log(ctx).Warn().Msgf("%s does not exist, please run configure first (task configure --mode %s)", modeDir, mode)
		return nil
	}

	err := r.Exec.Exec(ctx, r.command(r.Config.SourceDir, r.BuildArgs(mode, forceNinja)...))
	if err != nil {
		return eris.Wrapf(err, "failed to build %s", mode)
	}

	outputDir := r.OutputDir(mode, forceNinja)
	if r.DryRun {
		log(ctx).Info().Strs("assets", r.Config.Assets).Msgf("Would copy assets to %s", outputDir)
		return nil
	}

	return copyAssets(ctx, r.Config.SourceDir, outputDir, r.Config.Assets, r.Progress)
}

// Run starts the executable for mode from the source root. A missing executable is
// built first.
func (r *Runner) Run(ctx context.Context, mode Mode, args ...string) error {
	exe := r.ExePath(mode)

	if !isFile(exe) {
		log(withTask(ctx, "run")).Info().Msgf("%s is missing, building %s first", exe, mode)
		if err := r.Build(ctx, mode, false); err != nil {
			return err
		}

		if !isFile(exe) && !r.DryRun {
			return &NotBuiltError{Mode: mode, Path: exe}
		}
	}

	ctx = withTask(ctx, "run")
	err := r.Exec.Exec(ctx, r.command(r.Config.SourceDir, append([]string{exe}, args...)...))
	return eris.Wrapf(err, "failed to run %s", r.Config.Binary)
}

// Clean removes everything inside the mode's output directory but keeps the directory.
func (r *Runner) Clean(ctx context.Context, mode Mode) error {
	ctx = withTask(ctx, "clean")
	dir := filepath.Join(r.Config.BuildDir, mode.String())

	if !isDir(dir) {
		log(ctx).Info().Msgf("%s does not exist, nothing to do", dir)
		return nil
	}

	if r.DryRun {
		log(ctx).Info().Msgf("Would empty %s", dir)
		return nil
	}

	count, err := posix.EmptyDir(dir)
	if err != nil {
		return eris.Wrapf(err, "failed to clean %s", dir)
	}
	log(ctx).Info().Int("entries", count).Msgf("Emptied %s", dir)

	stamps, err := ReadCache(r.cacheFile())
	if err != nil {
		log(ctx).Warn().Err(err).Msg("Failed to read configure stamps")
		return nil
	}

	if _, ok := stamps[mode.String()]; ok {
		delete(stamps, mode.String())
		if err = WriteCache(r.cacheFile(), stamps); err != nil {
			log(ctx).Warn().Err(err).Msg("Failed to update configure stamps")
		}
	}
	return nil
}

// Status reports the state of every mode
func (r *Runner) Status(ctx context.Context) ([]ModeStatus, error) {
	stamps, err := ReadCache(r.cacheFile())
	if err != nil {
		return nil, err
	}

	result := make([]ModeStatus, 0, len(Modes))
	for _, mode := range Modes {
		status := ModeStatus{
			Mode:       mode,
			Executable: r.ExePath(mode),
		}

		forceNinja := false
		if stamp, ok := stamps[mode.String()]; ok {
			stamp := stamp
			status.Stamp = &stamp
			forceNinja = stamp.ForceNinja
		}

		status.Dir = r.ModeDir(mode, forceNinja)
		status.Configured = isDir(status.Dir)
		status.Built = isFile(status.Executable)
		result = append(result, status)
	}

	return result, nil
}

// PackPath returns the archive location for mode
func (r *Runner) PackPath(mode Mode, format archive.Format) string {
	name := r.Config.Binary + "-" + mode.String() + "-" + r.Platform.Name + "-" + runtime.GOARCH + format.Ext()
	return filepath.Join(r.Config.BuildDir, "dist", name)
}

// Pack archives the executable and the assets of mode and returns the archive's path
func (r *Runner) Pack(ctx context.Context, mode Mode, format archive.Format) (string, error) {
	ctx = withTask(ctx, "pack")
	exe := r.ExePath(mode)
	outputDir := filepath.Dir(exe)
	dest := r.PackPath(mode, format)

	if !isFile(exe) {
		return "", &NotBuiltError{Mode: mode, Path: exe}
	}

	if r.DryRun {
		log(ctx).Info().Msgf("Would pack %s into %s", outputDir, dest)
		return dest, nil
	}

	total := 1
	folders := make([]string, 0, len(r.Config.Assets))
	for _, folder := range r.Config.Assets {
		src := filepath.Join(outputDir, folder)
		if !isDir(src) {
			log(ctx).Warn().Msgf("Asset folder %s is missing, skipping it", src)
			continue
		}

		count, err := countFiles(src)
		if err != nil {
			return "", eris.Wrapf(err, "failed to scan %s", src)
		}
		total += count
		folders = append(folders, folder)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o770); err != nil {
		return "", eris.Wrapf(err, "failed to create %s", filepath.Dir(dest))
	}

	writer, err := archive.NewWriter(dest, format)
	if err != nil {
		return "", err
	}

	bar := newProgressBar(total, "packing", r.Progress)
	writer.OnFile = func(string) {
		bar.Add(1)
	}

	err = writer.AddFile(filepath.Base(exe), exe)
	for _, folder := range folders {
		if err != nil {
			break
		}
		if err = ctx.Err(); err == nil {
			err = writer.AddDir(folder, filepath.Join(outputDir, folder))
		}
	}
	bar.Finish()

	if err != nil {
		writer.Close()
		os.Remove(dest)
		return "", err
	}

	if err = writer.Close(); err != nil {
		return "", err
	}

	log(ctx).Info().Int("files", total).Msgf("Packed %s", dest)
	return dest, nil
}
