package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader builds a Config from layered sources:
//  1. defaults (in code)
//  2. base.yaml
//  3. <environment>.yaml
//  4. local.yaml (development only)
//  5. environment variables
//
// Missing files are skipped. A file that exists but does not parse fails the
// load.
type Loader struct {
	basePath    string
	environment Environment
	sources     []string
	fileLoaders []FileLoader
}

// FileLoader decodes one configuration file format.
type FileLoader interface {
	Load(reader io.Reader, target any) error
	Extension() string
}

// NewLoader creates a loader reading files from basePath.
func NewLoader(basePath string, env Environment) *Loader {
	if basePath == "" {
		basePath = "config"
	}
	if env == "" {
		env = Development
	}
	l := &Loader{basePath: basePath, environment: env}
	l.RegisterLoader(&YAMLLoader{ext: "yaml"})
	l.RegisterLoader(&YAMLLoader{ext: "yml"})
	return l
}

// RegisterLoader adds a file format. Earlier registrations win when a file
// exists in several formats.
func (l *Loader) RegisterLoader(loader FileLoader) {
	l.fileLoaders = append(l.fileLoaders, loader)
}

// Load applies every source and validates the result.
func (l *Loader) Load() (*Config, error) {
	l.sources = []string{"defaults"}
	cfg := Default(l.environment)

	layers := []string{"base", strings.ToLower(string(l.environment))}
	if l.environment == Development {
		layers = append(layers, "local")
	}
	for _, name := range layers {
		if err := l.loadFile(name, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s config: %w", name, err)
		}
	}

	applyEnv(cfg)
	l.sources = append(l.sources, "environment")
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = l.basePath
	}
	cfg.LoadedFrom = l.sources
	cfg.applyEnvironmentDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes the first existing "<name>.<ext>" over cfg.
func (l *Loader) loadFile(name string, cfg *Config) error {
	for _, loader := range l.fileLoaders {
		path := filepath.Join(l.basePath, name+"."+loader.Extension())
		err := l.decodeFile(path, loader, cfg)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		l.sources = append(l.sources, path)
		return nil
	}
	return fs.ErrNotExist
}

func (l *Loader) decodeFile(path string, loader FileLoader, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := loader.Load(file, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// YAMLLoader loads configuration from YAML files. Durations are written as
// Go duration strings ("250ms", "5m").
type YAMLLoader struct {
	ext string
}

func (y *YAMLLoader) Load(reader io.Reader, target any) error {
	err := yaml.NewDecoder(reader).Decode(target)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (y *YAMLLoader) Extension() string {
	return y.ext
}

// LoadWithLoader loads configuration from CONFIG_DIR (default "config") for
// the ENVIRONMENT environment.
func LoadWithLoader() (*Config, error) {
	env := Environment(strings.ToLower(getEnv("ENVIRONMENT", string(Development))))
	return NewLoader(getEnv("CONFIG_DIR", "config"), env).Load()
}
