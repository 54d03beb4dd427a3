package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SyncMode selects the vsync source driving the compositor.
type SyncMode string

const (
	// SyncModeVsyncFd paces frames on readability of the framebuffer device fd.
	SyncModeVsyncFd SyncMode = "vsync_fd"
	// SyncModeTimer paces frames on a periodic timer at the display refresh period.
	SyncModeTimer SyncMode = "timer"
)

// BackendType selects the display backend.
type BackendType string

const (
	BackendFbdev    BackendType = "fbdev"
	BackendX11      BackendType = "x11"
	BackendHeadless BackendType = "headless"
)

const (
	DefaultWindowLimitMax = 16
	DefaultFbdevPath      = "/dev/fb0"
	DefaultGraphicsDir    = "/data/graphics"
	DefaultRefreshHz      = 60
)

// DisplayGeometry describes the display used by backends that do not probe
// hardware (x11, headless).
type DisplayGeometry struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	RefreshHz int `yaml:"refresh_hz"`
}

// Config holds the service configuration.
type Config struct {
	// WindowLimitMax caps simultaneous windows; addWindow beyond it is
	// rejected and a toast is raised.
	WindowLimitMax int `yaml:"window_limit_max"`

	// BufferQueueByName makes BufferIds carry a shared-memory path so
	// clients re-open slots by name instead of receiving fds.
	BufferQueueByName bool `yaml:"buffer_queue_by_name"`

	// FbdevDevicePath is the framebuffer device providing the vsync fd.
	FbdevDevicePath string `yaml:"fbdev_device_path"`

	// DisplaySyncMode is vsync_fd or timer.
	DisplaySyncMode SyncMode `yaml:"display_sync_mode"`

	// DisplayBackend is fbdev, x11 or headless.
	DisplayBackend BackendType `yaml:"display_backend"`

	// Display geometry for the x11 and headless backends. The fbdev
	// backend probes the device instead.
	Display DisplayGeometry `yaml:"display"`

	// GraphicsDir roots the persisted shared-memory namespace.
	GraphicsDir string `yaml:"graphics_dir"`

	// SocketPath overrides the control socket location (tests mostly).
	SocketPath string `yaml:"socket_path,omitempty"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// JanitorInterval is the orphaned-shm sweep period in seconds;
	// 0 disables the sweep.
	JanitorInterval int `yaml:"janitor_interval,omitempty"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		WindowLimitMax:    DefaultWindowLimitMax,
		BufferQueueByName: false,
		FbdevDevicePath:   DefaultFbdevPath,
		DisplaySyncMode:   SyncModeTimer,
		DisplayBackend:    BackendFbdev,
		Display: DisplayGeometry{
			Width:     800,
			Height:    480,
			RefreshHz: DefaultRefreshHz,
		},
		GraphicsDir:     DefaultGraphicsDir,
		LogLevel:        "info",
		JanitorInterval: 30,
	}
}

// DefaultConfigPath returns the standard config file location.
func DefaultConfigPath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "quartz", "config.yaml"), nil
}

// Load reads the configuration from the standard location, falling back to
// defaults when no file exists.
func Load() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the configuration from path. A missing file yields the
// default configuration.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and fills defaulted fields.
func (c *Config) Validate() error {
	if c.WindowLimitMax <= 0 {
		return fmt.Errorf("window_limit_max must be positive, got %d", c.WindowLimitMax)
	}

	switch c.DisplaySyncMode {
	case SyncModeVsyncFd, SyncModeTimer:
	case "":
		c.DisplaySyncMode = SyncModeTimer
	default:
		return fmt.Errorf("display_sync_mode must be %q or %q, got %q",
			SyncModeVsyncFd, SyncModeTimer, c.DisplaySyncMode)
	}

	switch c.DisplayBackend {
	case BackendFbdev, BackendX11, BackendHeadless:
	case "":
		c.DisplayBackend = BackendFbdev
	default:
		return fmt.Errorf("display_backend must be fbdev, x11 or headless, got %q", c.DisplayBackend)
	}

	if c.DisplayBackend != BackendFbdev {
		if c.Display.Width <= 0 || c.Display.Height <= 0 {
			return fmt.Errorf("display geometry %dx%d is invalid for backend %q",
				c.Display.Width, c.Display.Height, c.DisplayBackend)
		}
	}
	if c.Display.RefreshHz <= 0 {
		c.Display.RefreshHz = DefaultRefreshHz
	}

	if c.FbdevDevicePath == "" {
		c.FbdevDevicePath = DefaultFbdevPath
	}
	if c.GraphicsDir == "" {
		c.GraphicsDir = DefaultGraphicsDir
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	case "":
		c.LogLevel = "info"
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}

	if c.JanitorInterval < 0 {
		return fmt.Errorf("janitor_interval must not be negative, got %d", c.JanitorInterval)
	}
	return nil
}

// Save writes the configuration to the standard location.
func (c *Config) Save() error {
	if err := c.Validate(); err != nil {
		return err
	}

	path, err := DefaultConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
