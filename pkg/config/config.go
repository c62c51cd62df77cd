// Package config loads the policyfinder YAML configuration and
// resolves the artifact-relative paths the crawler, pipeline and
// search server share.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// DefaultFilename is looked up during project-root discovery.
const DefaultFilename = "policyfinder.yaml"

// Task configures one monitored listing.
type Task struct {
	Name          string   `yaml:"name"`
	StartURL      string   `yaml:"start_url"`
	OutputDir     string   `yaml:"output_dir,omitempty"`
	StateFile     string   `yaml:"state_file,omitempty"`
	DownloadTypes []string `yaml:"download_types,omitempty"`
	VerifyLocal   bool     `yaml:"verify_local,omitempty"`
}

// Crawler holds the HTTP politeness settings, in seconds.
type Crawler struct {
	DelaySeconds   float64 `yaml:"delay_seconds"`
	JitterSeconds  float64 `yaml:"jitter_seconds"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	MinHours       float64 `yaml:"min_hours"`
	MaxHours       float64 `yaml:"max_hours"`
}

// Server holds the HTTP API bind settings.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Logging holds the log level and output mode.
type Logging struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Config is the full configuration file.
type Config struct {
	ArtifactDir string  `yaml:"artifact_dir"`
	Tasks       []Task  `yaml:"tasks"`
	Crawler     Crawler `yaml:"crawler"`
	Server      Server  `yaml:"server"`
	Logging     Logging `yaml:"logging"`

	// root is the directory the config file was loaded from; paths
	// resolve relative to it.
	root string
}

// Default returns the configuration used when no file exists, rooted
// at root.
func Default(root string) *Config {
	cfg := &Config{root: root}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ArtifactDir == "" {
		c.ArtifactDir = "artifacts"
	}
	if c.Crawler.DelaySeconds == 0 {
		c.Crawler.DelaySeconds = 3
	}
	if c.Crawler.JitterSeconds == 0 {
		c.Crawler.JitterSeconds = 2
	}
	if c.Crawler.TimeoutSeconds == 0 {
		c.Crawler.TimeoutSeconds = 30
	}
	if c.Crawler.MinHours == 0 {
		c.Crawler.MinHours = 20
	}
	if c.Crawler.MaxHours == 0 {
		c.Crawler.MaxHours = 32
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8001
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Load reads a configuration file. A missing file is not an error:
// defaults rooted at the file's directory are returned.
func Load(path string) (*Config, error) {
	root := filepath.Dir(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(root), nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.root = root
	cfg.applyDefaults()
	return &cfg, nil
}

// DiscoverRoot walks up from start looking for the config file and
// returns the directory containing it, or start when none is found.
func DiscoverRoot(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return start
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, DefaultFilename)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	abs, _ := filepath.Abs(start)
	return abs
}

// Discover finds and loads the configuration starting from start.
func Discover(start string) (*Config, error) {
	root := DiscoverRoot(start)
	return Load(filepath.Join(root, DefaultFilename))
}

// Root returns the directory paths resolve against.
func (c *Config) Root() string {
	return c.root
}

// resolve makes a path absolute relative to the config root.
func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.root, path)
}

// ArtifactPath returns the absolute artifact directory.
func (c *Config) ArtifactPath() string {
	return c.resolve(c.ArtifactDir)
}

// DownloadsDir returns the download directory for a task.
func (c *Config) DownloadsDir(task Task) string {
	if task.OutputDir != "" {
		return c.resolve(task.OutputDir)
	}
	segment := Slug(task.Name)
	if segment == "" {
		return filepath.Join(c.ArtifactPath(), "downloads")
	}
	return filepath.Join(c.ArtifactPath(), "downloads", segment)
}

// PagesDir returns the listing-page cache directory for a task.
func (c *Config) PagesDir(task Task) string {
	segment := Slug(task.Name)
	if segment == "" {
		return filepath.Join(c.ArtifactPath(), "pages")
	}
	return filepath.Join(c.ArtifactPath(), "pages", segment)
}

// StatePath returns the state file for a task: the configured
// state_file when set, otherwise <artifact>/downloads/<slug>_state.json.
func (c *Config) StatePath(task Task) string {
	if task.StateFile != "" {
		if filepath.IsAbs(task.StateFile) {
			return task.StateFile
		}
		return filepath.Join(c.ArtifactPath(), "downloads", task.StateFile)
	}
	slug := Slug(task.Name)
	if slug == "" {
		slug = "task"
	}
	return filepath.Join(c.ArtifactPath(), "downloads", slug+"_state.json")
}

// ExtractDir returns the directory the text pipeline writes artifacts
// for a task into.
func (c *Config) ExtractDir(task Task) string {
	slug := Slug(task.Name)
	if slug == "" {
		slug = "task"
	}
	return filepath.Join(c.ArtifactPath(), "extracted", slug)
}

// ArchivePath returns the shared crawl archive database path.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.ArtifactPath(), "crawl_archive.db")
}

// StatePaths returns the state file of every configured task, for the
// search server's default corpus.
func (c *Config) StatePaths() []string {
	paths := make([]string, 0, len(c.Tasks))
	for _, task := range c.Tasks {
		paths = append(paths, c.StatePath(task))
	}
	return paths
}

// TaskByName returns the named task.
func (c *Config) TaskByName(name string) (Task, bool) {
	for _, task := range c.Tasks {
		if task.Name == name {
			return task, true
		}
	}
	return Task{}, false
}

var slugPattern = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Slug maps a task name to a filesystem-friendly segment.
func Slug(name string) string {
	return slugPattern.ReplaceAllString(name, "_")
}
