package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/cobra"
)

func TestSplitArgs(t *testing.T) {
	cmd := &cobra.Command{}
	if err := cmd.Flags().Parse([]string{"renderer=vulkan", "empty=", "--", "--windowed", "a=b"}); err != nil {
		t.Fatal(err)
	}

	options, extra, err := splitArgs(cmd, cmd.Flags().Args())
	if err != nil {
		t.Fatal(err)
	}

	wantOptions := map[string]string{"renderer": "vulkan", "empty": ""}
	if !reflect.DeepEqual(options, wantOptions) {
		t.Errorf("options = %v, want %v", options, wantOptions)
	}
	if !reflect.DeepEqual(extra, []string{"--windowed", "a=b"}) {
		t.Errorf("extra = %v", extra)
	}

	for _, bad := range []string{"release", "=value"} {
		if _, _, err := splitArgs(&cobra.Command{}, []string{bad}); err == nil {
			t.Errorf("splitArgs accepted %q", bad)
		}
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return out.String(), err
}

func TestMergeCompileCommandsCommand(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.json")
	second := filepath.Join(dir, "b.json")
	output := filepath.Join(dir, "out", "compile_commands.json")

	if err := os.WriteFile(first, []byte(`[{"file":"a.cpp"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte(`[{"file":"b.cpp"},{"file":"c.cpp"}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "merge-compile-commands", output, first, second); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}

	var entries []map[string]string
	if err = json.Unmarshal(data, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[0]["file"] != "a.cpp" || entries[2]["file"] != "c.cpp" {
		t.Errorf("merged %v", entries)
	}

	if _, err = execute(t, "merge-compile-commands", output); err == nil {
		t.Error("merge with a single argument succeeded")
	}
}

func TestInvalidMode(t *testing.T) {
	if _, err := execute(t, "clean", "--mode", "fastest"); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestConfigureDryRun(t *testing.T) {
	dir := t.TempDir()
	buildDir := filepath.Join(dir, "build")
	t.Setenv("NTASK_SOURCE_DIR", dir)
	t.Setenv("NTASK_BUILD_DIR", buildDir)

	script := `option("renderer", "gl")` + "\n" + `cmake_define("RENDERER", option("renderer"))`
	if err := os.WriteFile(filepath.Join(dir, "tasks.star"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "configure", "--dry", "--mode", "debug",
		"--config", filepath.Join(dir, "missing.toml"), "renderer=vulkan")
	if err != nil {
		t.Fatalf("%v\n%s", err, out)
	}

	if !bytes.Contains([]byte(out), []byte("-DRENDERER=vulkan")) {
		t.Errorf("configure command is missing the script define:\n%s", out)
	}
	if _, err = os.Stat(buildDir); !os.IsNotExist(err) {
		t.Errorf("dry run created %s: %v", buildDir, err)
	}
}
