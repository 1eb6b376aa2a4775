package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
)

// EnvPrefix is the prefix for environment variable overrides (FLOWKIT_SCHEDULER_TYPE).
const EnvPrefix = "FLOWKIT"

// FileSystem interface for file operations (useful for testing).
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

// RealFileSystem implements FileSystem using actual file operations.
type RealFileSystem struct{}

func (rfs *RealFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (rfs *RealFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

// Resolver handles finding settings and env files.
type Resolver struct {
	FileSystem FileSystem
}

// ResolvedFiles contains the resolved settings and env file paths.
type ResolvedFiles struct {
	ConfigFile string
	EnvFile    string
}

// ResolveFiles returns explicit paths if provided, otherwise searches for them.
func (cr *Resolver) ResolveFiles(name string, opts LoaderConfig) ResolvedFiles {
	resolved := ResolvedFiles{
		ConfigFile: opts.ConfigFile,
		EnvFile:    opts.EnvFile,
	}
	if resolved.ConfigFile == "" && !opts.NoSearch {
		resolved.ConfigFile = cr.firstExisting([]string{
			fmt.Sprintf("./cmd/%s/flowkit.yml", name),
			fmt.Sprintf("./config/%s.yml", name),
			"./config/flowkit.yml",
			"./flowkit.yml",
		})
	}
	if resolved.EnvFile == "" && !opts.NoSearch {
		resolved.EnvFile = cr.firstExisting([]string{
			fmt.Sprintf("./.env.%s", name),
			"./config/.env",
			"./.env",
		})
	}
	return resolved
}

func (cr *Resolver) firstExisting(paths []string) string {
	for _, path := range paths {
		if cr.FileSystem.Exists(path) {
			return path
		}
	}
	return ""
}

// LoaderConfig holds dependencies and optional file overrides.
type LoaderConfig struct {
	FileSystem FileSystem
	ConfigFile string // Direct settings file path (optional)
	EnvFile    string // Direct env file path (optional)
	NoSearch   bool   // Skip searching standard locations
	Logger     *logger.Logger
}

// LoaderOption is a functional option for the loaders.
type LoaderOption func(*LoaderConfig)

// WithFileSystem sets a custom filesystem for the loader.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *LoaderConfig) { lc.FileSystem = fs }
}

// WithConfigFile sets an explicit settings file path.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// WithoutSearch disables the standard location search.
func WithoutSearch() LoaderOption {
	return func(lc *LoaderConfig) { lc.NoSearch = true }
}

// WithLoaderLogger sets the logger used for load warnings.
func WithLoaderLogger(l *logger.Logger) LoaderOption {
	return func(lc *LoaderConfig) { lc.Logger = l }
}

func newLoaderConfig(opts []LoaderOption) LoaderConfig {
	var lc LoaderConfig
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.FileSystem == nil {
		lc.FileSystem = &RealFileSystem{}
	}
	lc.Logger = logger.OrNop(lc.Logger).WithComponent("config")
	return lc
}

// LoadConfig loads configuration into the provided cfg struct. It reads the
// resolved YAML file, then the .env file, then FLOWKIT_* environment
// variables, and unmarshals the result into cfg.
func LoadConfig(name string, cfg interface{}, opts ...LoaderOption) error {
	lc := newLoaderConfig(opts)
	resolver := &Resolver{FileSystem: lc.FileSystem}
	files := resolver.ResolveFiles(name, lc)

	v, err := readViper(files, lc, true)
	if err != nil {
		return err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return errors.New(errors.KindInvalidConfiguration,
			fmt.Sprintf("failed to unmarshal settings for %s", name)).WithCause(err)
	}
	return nil
}

// LoadFile reads a YAML file into a flat Block. Nested maps become dotted
// keys; lists are joined with commas. FLOWKIT_* environment variables
// override keys present in the file.
func LoadFile(path string, opts ...LoaderOption) (*Block, error) {
	lc := newLoaderConfig(append([]LoaderOption{WithConfigFile(path), WithoutSearch()}, opts...))
	if !lc.FileSystem.Exists(path) {
		return nil, errors.New(errors.KindInvalidConfiguration, "configuration file not found: "+path)
	}
	v, err := readViper(ResolvedFiles{ConfigFile: path, EnvFile: lc.EnvFile}, lc, false)
	if err != nil {
		return nil, err
	}
	return blockFromViper(v)
}

// readViper layers file, env file and environment. bindAll also binds
// FLOWKIT_* variables whose keys are absent from the file.
func readViper(files ResolvedFiles, lc LoaderConfig, bindAll bool) (*viper.Viper, error) {
	v := viper.New()

	if files.ConfigFile != "" && lc.FileSystem.Exists(files.ConfigFile) {
		v.SetConfigFile(files.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New(errors.KindInvalidConfiguration,
				"failed to read "+files.ConfigFile).WithCause(err)
		}
	}

	if files.EnvFile != "" && lc.FileSystem.Exists(files.EnvFile) {
		if err := lc.FileSystem.LoadEnv(files.EnvFile); err != nil {
			lc.Logger.Warn("failed to load env file", logger.Fields("path", files.EnvFile, "error", err.Error()))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if bindAll {
		autoBindEnvVars(v)
	}
	return v, nil
}

func blockFromViper(v *viper.Viper) (*Block, error) {
	keys := v.AllKeys()
	sort.Strings(keys)
	b := NewBlock()
	for _, key := range keys {
		raw := v.Get(key)
		var value string
		switch tv := raw.(type) {
		case []interface{}:
			parts := make([]string, 0, len(tv))
			for _, item := range tv {
				s, err := cast.ToStringE(item)
				if err != nil {
					return nil, errors.BadValueCast(key, fmt.Sprint(item), "string").WithCause(err)
				}
				parts = append(parts, s)
			}
			value = strings.Join(parts, ",")
		case nil:
			value = ""
		default:
			s, err := cast.ToStringE(raw)
			if err != nil {
				return nil, errors.BadValueCast(key, fmt.Sprint(raw), "string").WithCause(err)
			}
			value = s
		}
		if err := b.Set(key, value); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// autoBindEnvVars binds FLOWKIT_* variables under every plausible nested key,
// so FLOWKIT_SCHEDULER_DEFAULT_CAPACITY reaches scheduler.default_capacity.
func autoBindEnvVars(v *viper.Viper) {
	prefix := EnvPrefix + "_"
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 || !strings.HasPrefix(pair[0], prefix) {
			continue
		}
		key := strings.TrimPrefix(pair[0], prefix)
		for _, variant := range generateEnvKeyVariants(key) {
			if err := v.BindEnv(variant, pair[0]); err != nil {
				continue
			}
		}
	}
}

// generateEnvKeyVariants creates the candidate keys for an environment variable.
//
//	SCHEDULER_TYPE -> [scheduler_type, scheduler.type]
//	SCHEDULER_DEFAULT_CAPACITY -> [scheduler_default_capacity, scheduler.default.capacity, scheduler.default_capacity, scheduler_default.capacity]
func generateEnvKeyVariants(envKey string) []string {
	lowerKey := strings.ToLower(envKey)
	parts := strings.Split(lowerKey, "_")
	if len(parts) <= 1 {
		return []string{lowerKey}
	}

	variants := []string{
		lowerKey,
		strings.ReplaceAll(lowerKey, "_", "."),
	}
	for i := 1; i < len(parts); i++ {
		variants = append(variants, strings.Join(parts[:i], "_")+"."+strings.Join(parts[i:], "_"))
		variants = append(variants, strings.Join(parts[:i], ".")+"."+strings.Join(parts[i:], "_"))
	}
	return removeDuplicates(variants)
}

func removeDuplicates(items []string) []string {
	seen := make(map[string]bool, len(items))
	result := make([]string, 0, len(items))
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}
	return result
}
