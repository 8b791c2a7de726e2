package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config describes all configuration options
type Config struct {
	SourceDir string   `default:"." env:"SOURCE_DIR" toml:"source_dir" usage:"Project root containing CMakeLists.txt and the asset folders"`
	BuildDir  string   `default:"build" env:"BUILD_DIR" toml:"build_dir" usage:"Root of the per-mode build directories"`
	Binary    string   `default:"nEngine" env:"BINARY" toml:"binary" usage:"Name of the executable produced by the CMake project (without extension)"`
	Assets    []string `default:"textures,shaders,models" env:"ASSETS" toml:"assets" usage:"Asset folders copied next to the executable after each build"`
	CMake     string   `default:"cmake" env:"CMAKE" toml:"cmake" usage:"CMake executable"`
	Script    string   `default:"tasks.star" env:"SCRIPT" toml:"script" usage:"Optional Starlark project script, relative to the source dir"`
	Log       struct {
		Level string `default:"info" env:"LEVEL" toml:"level"`
		JSON  bool   `default:"false" env:"JSON" toml:"json" usage:"Output JSONND instead of pretty console messages"`
	} `env:"LOG" toml:"log"`
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// Missing config files are ignored.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "NTASK",
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the config from the given files and the environment, validates it and makes
// all paths absolute.
func Load(files ...string) (*Config, error) {
	cfg, loader := Loader(files...)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[strings.ToLower(cfg.Log.Level)]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.Binary == "" {
		return eris.New(`binary must not be empty`)
	}

	if strings.ContainsAny(cfg.Binary, `/\`) {
		return eris.Errorf(`Invalid value for binary: %s (must be a plain file name)`, cfg.Binary)
	}

	if cfg.CMake == "" {
		return eris.New(`cmake must not be empty`)
	}

	for _, asset := range cfg.Assets {
		if asset == "" || filepath.IsAbs(asset) {
			return eris.Errorf(`Invalid asset folder %q (must be relative to the source dir)`, asset)
		}
	}

	return nil
}

// Resolve turns SourceDir and BuildDir into absolute paths. A relative BuildDir is
// resolved against the working directory, just like SourceDir.
func (cfg *Config) Resolve() error {
	var err error
	cfg.SourceDir, err = filepath.Abs(cfg.SourceDir)
	if err != nil {
		return eris.Wrap(err, "failed to resolve source dir")
	}

	cfg.BuildDir, err = filepath.Abs(cfg.BuildDir)
	if err != nil {
		return eris.Wrap(err, "failed to resolve build dir")
	}

	if info, err := os.Stat(cfg.SourceDir); err != nil {
		return eris.Wrapf(err, "source dir %s is not accessible", cfg.SourceDir)
	} else if !info.IsDir() {
		return eris.Errorf("source dir %s is not a directory", cfg.SourceDir)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[strings.ToLower(cfg.Log.Level)]
}

// ScriptPath returns the absolute path of the project script
func (cfg *Config) ScriptPath() string {
	if filepath.IsAbs(cfg.Script) {
		return cfg.Script
	}
	return filepath.Join(cfg.SourceDir, cfg.Script)
}
