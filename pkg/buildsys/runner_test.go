package buildsys

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/nengine/build-tools/pkg/archive"
	"github.com/nengine/build-tools/pkg/compdb"
	"github.com/nengine/build-tools/pkg/config"
)

type fakeExecutor struct {
	commands []Command
	onExec   func(cmd Command) error
}

func (f *fakeExecutor) Exec(ctx context.Context, cmd Command) error {
	f.commands = append(f.commands, cmd)
	if f.onExec != nil {
		return f.onExec(cmd)
	}
	return nil
}

func (f *fakeExecutor) count(arg string) int {
	n := 0
	for _, cmd := range f.commands {
		for _, a := range cmd.Args {
			if a == arg {
				n++
				break
			}
		}
	}
	return n
}

var testAssets = map[string]string{
	"textures/stone.png":      "png",
	"shaders/basic.vert":      "void main() {}",
	"shaders/post/bloom.frag": "out vec4 color;",
	"models/cube/cube.obj":    "v 0 0 0",
	"models/.keep":            "",
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestRunner(t *testing.T, platform Platform) (*Runner, *fakeExecutor) {
	t.Helper()

	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFiles(t, src, testAssets)

	cfg := &config.Config{
		SourceDir: src,
		BuildDir:  filepath.Join(root, "build"),
		Binary:    "nEngine",
		Assets:    []string{"textures", "shaders", "models"},
		CMake:     "cmake",
	}

	exec := &fakeExecutor{}
	return NewRunner(cfg, platform, exec, nil), exec
}

func TestModeDir(t *testing.T) {
	for _, mode := range Modes {
		r, _ := newTestRunner(t, PosixPlatform)
		want := filepath.Join(r.Config.BuildDir, mode.String())
		if got := r.ModeDir(mode, false); got != want {
			t.Errorf("posix ModeDir(%s) = %s, want %s", mode, got, want)
		}
		if got := r.OutputDir(mode, false); got != want {
			t.Errorf("posix OutputDir(%s) = %s, want %s", mode, got, want)
		}

		r.Platform = WindowsPlatform
		if got := r.ModeDir(mode, false); got != r.Config.BuildDir {
			t.Errorf("windows ModeDir(%s) = %s, want shared root %s", mode, got, r.Config.BuildDir)
		}
		if got := r.ModeDir(mode, true); got != want {
			t.Errorf("windows ModeDir(%s, forceNinja) = %s, want %s", mode, got, want)
		}
		if got := r.OutputDir(mode, false); got != want {
			t.Errorf("windows OutputDir(%s) = %s, want %s", mode, got, want)
		}

		exe := filepath.Join(r.Config.BuildDir, mode.String(), "nEngine.exe")
		if got := r.ExePath(mode); got != exe {
			t.Errorf("windows ExePath(%s) = %s, want %s", mode, got, exe)
		}
	}
}

func TestConfigureArgs(t *testing.T) {
	tests := []struct {
		name       string
		platform   Platform
		forceNinja bool
		generator  string
	}{
		{"posix", PosixPlatform, false, "-GNinja"},
		{"posix forced", PosixPlatform, true, "-GNinja"},
		{"windows", WindowsPlatform, false, ""},
		{"windows forced", WindowsPlatform, true, "-GNinja"},
	}

	for _, tt := range tests {
		for _, mode := range Modes {
			r, exec := newTestRunner(t, tt.platform)
			if err := r.Configure(context.Background(), mode, tt.forceNinja); err != nil {
				t.Fatalf("%s: Configure(%s): %v", tt.name, mode, err)
			}

			modeDir := r.ModeDir(mode, tt.forceNinja)
			if !isDir(modeDir) {
				t.Errorf("%s: mode dir %s was not created", tt.name, modeDir)
			}

			if len(exec.commands) != 1 {
				t.Fatalf("%s: got %d commands, want 1", tt.name, len(exec.commands))
			}

			want := []string{
				"cmake", "-S", r.Config.SourceDir, "-B", modeDir,
				"-DCMAKE_BUILD_TYPE=" + mode.String(),
				"-DCMAKE_EXPORT_COMPILE_COMMANDS=1",
			}
			if tt.generator != "" {
				want = append(want, tt.generator)
			}

			got := exec.commands[0]
			if !reflect.DeepEqual(got.Args, want) {
				t.Errorf("%s: configure args = %q, want %q", tt.name, got.Args, want)
			}
			if got.Dir != r.Config.SourceDir {
				t.Errorf("%s: configure ran in %s, want %s", tt.name, got.Dir, r.Config.SourceDir)
			}
		}
	}
}

func TestConfigurePassesScriptResult(t *testing.T) {
	r, exec := newTestRunner(t, PosixPlatform)
	r.Script = &ScriptResult{
		Env:     map[string]string{"CC": "clang"},
		Defines: map[string]string{"WITH_VULKAN": "ON", "ASSET_ROOT": "/data"},
	}

	if err := r.Configure(context.Background(), Debug, false); err != nil {
		t.Fatal(err)
	}

	cmd := exec.commands[0]
	if cmd.Env["CC"] != "clang" {
		t.Errorf("env overrides = %v, want CC=clang", cmd.Env)
	}

	args := strings.Join(cmd.Args, " ")
	if !strings.Contains(args, "-DASSET_ROOT=/data -DWITH_VULKAN=ON -GNinja") {
		t.Errorf("defines missing or unsorted in %s", args)
	}
}

func TestConfigureFailure(t *testing.T) {
	r, exec := newTestRunner(t, PosixPlatform)
	exec.onExec = func(cmd Command) error {
		return &ExitError{Args: cmd.Args, Status: 1}
	}

	if err := r.Configure(context.Background(), Release, false); err == nil {
		t.Fatal("Configure succeeded despite a failing cmake")
	}

	stamps, err := ReadCache(r.cacheFile())
	if err != nil {
		t.Fatal(err)
	}
	if len(stamps) != 0 {
		t.Errorf("failed configure recorded stamps %v", stamps)
	}
}

func TestConfigureCompileCommands(t *testing.T) {
	for _, platform := range []Platform{PosixPlatform, WindowsPlatform} {
		r, exec := newTestRunner(t, platform)
		exec.onExec = func(cmd Command) error {
			modeDir := cmd.Args[4]
			return os.WriteFile(filepath.Join(modeDir, compdb.FileName), []byte(`[{"file":"`+modeDir+`"}]`), 0o644)
		}

		target := filepath.Join(r.Config.SourceDir, compdb.FileName)
		for _, mode := range []Mode{Debug, Release, Debug} {
			if err := r.Configure(context.Background(), mode, true); err != nil {
				t.Fatal(err)
			}

			content, err := os.ReadFile(target)
			if err != nil {
				t.Fatalf("%s: %v", platform.Name, err)
			}

			want := `[{"file":"` + r.ModeDir(mode, true) + `"}]`
			if string(content) != want {
				t.Errorf("%s: %s = %s, want %s", platform.Name, compdb.FileName, content, want)
			}
		}

		info, err := os.Lstat(target)
		if err != nil {
			t.Fatal(err)
		}
		if !platform.Symlinks && info.Mode()&os.ModeSymlink != 0 {
			t.Errorf("%s: %s is a symlink on a platform without symlinks", platform.Name, compdb.FileName)
		}

		matches, err := filepath.Glob(filepath.Join(r.Config.SourceDir, "compile_commands*"))
		if err != nil {
			t.Fatal(err)
		}
		if len(matches) != 1 {
			t.Errorf("%s: found %v, want exactly one artifact", platform.Name, matches)
		}
	}
}

func TestConfigureWithoutDatabase(t *testing.T) {
	r, _ := newTestRunner(t, WindowsPlatform)
	target := filepath.Join(r.Config.SourceDir, compdb.FileName)
	writeFiles(t, r.Config.SourceDir, map[string]string{compdb.FileName: "[]"})

	if err := r.Configure(context.Background(), Release, false); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Lstat(target); !os.IsNotExist(err) {
		t.Errorf("stale %s survived: %v", compdb.FileName, err)
	}
}

func TestConfigureStamp(t *testing.T) {
	r, _ := newTestRunner(t, PosixPlatform)
	r.Script.Defines["WITH_AUDIO"] = "OFF"

	if err := r.Configure(context.Background(), RelWithDebInfo, true); err != nil {
		t.Fatal(err)
	}

	stamps, err := ReadCache(r.cacheFile())
	if err != nil {
		t.Fatal(err)
	}

	stamp, ok := stamps["RelWithDebInfo"]
	if !ok {
		t.Fatalf("no stamp recorded: %v", stamps)
	}
	if !stamp.ForceNinja || stamp.Generator != "Ninja" || stamp.Defines["WITH_AUDIO"] != "OFF" || stamp.Time.IsZero() {
		t.Errorf("unexpected stamp %+v", stamp)
	}
}

func TestBuildBeforeConfigure(t *testing.T) {
	for _, platform := range []Platform{PosixPlatform, WindowsPlatform} {
		r, exec := newTestRunner(t, platform)
		for _, mode := range Modes {
			if err := r.Build(context.Background(), mode, false); err != nil {
				t.Errorf("%s: Build(%s) before configure failed: %v", platform.Name, mode, err)
			}
		}

		if len(exec.commands) != 0 {
			t.Errorf("%s: build ran %v", platform.Name, exec.commands)
		}
		if _, err := os.Stat(r.Config.BuildDir); !os.IsNotExist(err) {
			t.Errorf("%s: build dir was created: %v", platform.Name, err)
		}
	}
}

func assertMirror(t *testing.T, dir string) {
	t.Helper()
	for name, content := range testAssets {
		got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
		if err != nil {
			t.Errorf("asset %s: %v", name, err)
			continue
		}
		if string(got) != content {
			t.Errorf("asset %s = %q, want %q", name, got, content)
		}
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		platform Platform
		args     []string
	}{
		{PosixPlatform, []string{"--build", "Debug"}},
		{WindowsPlatform, []string{"--build", "", "--config", "Debug"}},
	}

	for _, tt := range tests {
		r, exec := newTestRunner(t, tt.platform)
		ctx := context.Background()
		if err := r.Configure(ctx, Debug, false); err != nil {
			t.Fatal(err)
		}

		for i := 0; i < 2; i++ {
			if err := r.Build(ctx, Debug, false); err != nil {
				t.Fatalf("%s: %v", tt.platform.Name, err)
			}
			assertMirror(t, r.OutputDir(Debug, false))
		}

		want := append([]string{"cmake"}, tt.args...)
		want[2] = r.ModeDir(Debug, false)
		got := exec.commands[len(exec.commands)-1].Args
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s: build args = %q, want %q", tt.platform.Name, got, want)
		}
	}
}

func TestBuildOverwritesAssets(t *testing.T) {
	r, _ := newTestRunner(t, PosixPlatform)
	ctx := context.Background()
	if err := r.Configure(ctx, Release, false); err != nil {
		t.Fatal(err)
	}

	out := r.OutputDir(Release, false)
	writeFiles(t, out, map[string]string{
		"shaders/basic.vert": "stale",
		"shaders/extra.vert": "kept",
	})

	if err := r.Build(ctx, Release, false); err != nil {
		t.Fatal(err)
	}
	assertMirror(t, out)

	if _, err := os.Stat(filepath.Join(out, "shaders", "extra.vert")); err != nil {
		t.Errorf("existing file was removed: %v", err)
	}
}

func TestBuildMissingAssets(t *testing.T) {
	r, _ := newTestRunner(t, PosixPlatform)
	r.Config.Assets = append(r.Config.Assets, "sounds")
	ctx := context.Background()
	if err := r.Configure(ctx, Release, false); err != nil {
		t.Fatal(err)
	}

	if err := r.Build(ctx, Release, false); err == nil {
		t.Error("Build succeeded with a missing asset folder")
	}
}

func TestRunBuildsOnce(t *testing.T) {
	r, exec := newTestRunner(t, PosixPlatform)
	ctx := context.Background()
	if err := r.Configure(ctx, Debug, false); err != nil {
		t.Fatal(err)
	}

	exe := r.ExePath(Debug)
	exec.onExec = func(cmd Command) error {
		if len(cmd.Args) > 1 && cmd.Args[1] == "--build" {
			writeFiles(t, filepath.Dir(exe), map[string]string{"nEngine": "#!"})
		}
		return nil
	}
	exec.commands = nil

	if err := r.Run(ctx, Debug, "--windowed"); err != nil {
		t.Fatal(err)
	}

	if n := exec.count("--build"); n != 1 {
		t.Errorf("got %d builds, want 1", n)
	}

	last := exec.commands[len(exec.commands)-1]
	if !reflect.DeepEqual(last.Args, []string{exe, "--windowed"}) || last.Dir != r.Config.SourceDir {
		t.Errorf("run command = %+v", last)
	}

	if err := r.Run(ctx, Debug); err != nil {
		t.Fatal(err)
	}
	if n := exec.count("--build"); n != 1 {
		t.Errorf("second run rebuilt, got %d builds", n)
	}
}

func TestRunNotBuilt(t *testing.T) {
	r, exec := newTestRunner(t, PosixPlatform)

	err := r.Run(context.Background(), MinSizeRel)
	var notBuilt *NotBuiltError
	if !errors.As(err, &notBuilt) {
		t.Fatalf("Run returned %v, want a NotBuiltError", err)
	}
	if notBuilt.Mode != MinSizeRel {
		t.Errorf("NotBuiltError.Mode = %s", notBuilt.Mode)
	}
	if len(exec.commands) != 0 {
		t.Errorf("unexpected commands %v", exec.commands)
	}
}

func TestClean(t *testing.T) {
	r, _ := newTestRunner(t, PosixPlatform)
	ctx := context.Background()
	if err := r.Configure(ctx, Debug, false); err != nil {
		t.Fatal(err)
	}
	if err := r.Configure(ctx, Release, false); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(r.Config.BuildDir, "Debug")
	writeFiles(t, dir, map[string]string{
		"nEngine":            "bin",
		".ninja_log":         "log",
		"CMakeFiles/a/b.o":   "obj",
		"shaders/basic.vert": "x",
	})

	if err := r.Clean(ctx, Debug); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("mode dir is gone: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("mode dir still contains %d entries", len(entries))
	}

	stamps, err := ReadCache(r.cacheFile())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := stamps["Debug"]; ok {
		t.Error("Debug stamp survived clean")
	}
	if _, ok := stamps["Release"]; !ok {
		t.Error("Release stamp was dropped by cleaning Debug")
	}

	if err := r.Clean(ctx, MinSizeRel); err != nil {
		t.Errorf("cleaning an unconfigured mode failed: %v", err)
	}
}

func TestStatus(t *testing.T) {
	r, _ := newTestRunner(t, PosixPlatform)
	ctx := context.Background()
	if err := r.Configure(ctx, Debug, true); err != nil {
		t.Fatal(err)
	}
	writeFiles(t, filepath.Dir(r.ExePath(Debug)), map[string]string{"nEngine": "bin"})

	status, err := r.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(status) != len(Modes) {
		t.Fatalf("got %d entries, want %d", len(status), len(Modes))
	}

	for _, s := range status {
		isDebug := s.Mode == Debug
		if s.Configured != isDebug || s.Built != isDebug || (s.Stamp != nil) != isDebug {
			t.Errorf("unexpected status %+v", s)
		}
	}
}

func TestPack(t *testing.T) {
	r, _ := newTestRunner(t, PosixPlatform)
	ctx := context.Background()

	_, err := r.Pack(ctx, Release, archive.Xz)
	var notBuilt *NotBuiltError
	if !errors.As(err, &notBuilt) {
		t.Fatalf("Pack without a build returned %v", err)
	}

	out := filepath.Dir(r.ExePath(Release))
	writeFiles(t, out, map[string]string{"nEngine": "bin"})
	writeFiles(t, out, testAssets)

	for _, format := range []archive.Format{archive.Xz, archive.Brotli} {
		dest, err := r.Pack(ctx, Release, format)
		if err != nil {
			t.Fatal(err)
		}

		if dest != r.PackPath(Release, format) || !strings.HasSuffix(dest, format.Ext()) {
			t.Errorf("unexpected archive path %s", dest)
		}

		info, err := os.Stat(dest)
		if err != nil {
			t.Fatal(err)
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", dest)
		}
	}
}

func TestDryRun(t *testing.T) {
	r, exec := newTestRunner(t, PosixPlatform)
	r.DryRun = true
	ctx := context.Background()

	if err := r.Configure(ctx, Release, false); err != nil {
		t.Fatal(err)
	}
	if len(exec.commands) != 1 {
		t.Errorf("dry run still has to pass the command to the executor, got %d", len(exec.commands))
	}
	if _, err := os.Stat(r.Config.BuildDir); !os.IsNotExist(err) {
		t.Errorf("dry run created the build dir: %v", err)
	}
}
