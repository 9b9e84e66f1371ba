package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/b0bbywan/go-portal-backend/logger"
)

const (
	AppName    = "portal-backend"
	AppVersion = "0.1.0"

	// Bus name elements cannot contain hyphens, so the suffix differs from AppName.
	defaultBusName = "org.freedesktop.impl.portal.desktop.go_portal"

	defaultCompositorService = "org.gnome.Mutter.ScreenCast"
	defaultCompositorPath    = "/org/gnome/Mutter/ScreenCast"
	defaultRemoteService     = "org.gnome.Mutter.RemoteDesktop"
	defaultRemotePath        = "/org/gnome/Mutter/RemoteDesktop"
)

type Config struct {
	Bus           *BusConfig
	ScreenCast    *ScreenCastConfig
	RemoteDesktop *RemoteDesktopConfig
	Inhibit       *InhibitConfig
	Consent       *ConsentConfig
	Compositor    *CompositorConfig
	Store         *StoreConfig
	LogLevel      logger.Level
}

type BusConfig struct {
	Name string
}

type ScreenCastConfig struct {
	Enabled bool
	// StartTimeout bounds the wait for stream readiness after consent.
	// Zero keeps the wait unbounded.
	StartTimeout time.Duration
}

type RemoteDesktopConfig struct {
	Enabled      bool
	StartTimeout time.Duration
}

type InhibitConfig struct {
	Enabled bool
}

type ConsentConfig struct {
	// Mode selects the prompter implementation: "auto" or "command".
	Mode        string
	AllowedApps []string
	// Sources are the monitor connectors granted by the auto prompter.
	Sources []string
	Command string
	Timeout time.Duration
}

type CompositorConfig struct {
	Service       string
	Path          string
	RemoteService string
	RemotePath    string
	Timeout       time.Duration
}

type StoreConfig struct {
	Enabled bool
	Dir     string
}

func dataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", AppName)
	}
	return filepath.Join(os.TempDir(), AppName)
}

func New() (*Config, error) {
	viper.SetDefault("bus.name", defaultBusName)

	viper.SetDefault("screencast.enabled", true)
	viper.SetDefault("remotedesktop.enabled", true)
	viper.SetDefault("inhibit.enabled", true)

	viper.SetDefault("start.timeout", "0s")

	viper.SetDefault("consent.mode", "auto")
	viper.SetDefault("consent.allowed_apps", []string{})
	viper.SetDefault("consent.sources", []string{})
	viper.SetDefault("consent.command", "")
	viper.SetDefault("consent.timeout", "2m")

	viper.SetDefault("compositor.service", defaultCompositorService)
	viper.SetDefault("compositor.path", defaultCompositorPath)
	viper.SetDefault("compositor.remote_service", defaultRemoteService)
	viper.SetDefault("compositor.remote_path", defaultRemotePath)
	viper.SetDefault("compositor.timeout", "5s")

	viper.SetDefault("store.enabled", true)
	viper.SetDefault("store.dir", dataDir())

	viper.SetDefault("LogLevel", "WARN")

	// Load from configuration file when present, defaults otherwise
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(filepath.Join("/etc", AppName))
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", AppName))
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, isNotFound := err.(viper.ConfigFileNotFoundError); !isNotFound {
			logger.Warn("failed to read config: %v", err)
		}
	}

	busName := viper.GetString("bus.name")
	if err := validateBusName(busName); err != nil {
		return nil, err
	}

	consentMode := strings.ToLower(viper.GetString("consent.mode"))
	switch consentMode {
	case "auto", "command":
	default:
		return nil, fmt.Errorf("invalid consent.mode: %q", consentMode)
	}
	if consentMode == "command" && viper.GetString("consent.command") == "" {
		return nil, fmt.Errorf("consent.mode is %q but consent.command is empty", consentMode)
	}

	startTimeout := viper.GetDuration("start.timeout")
	if startTimeout < 0 {
		startTimeout = 0
	}

	compositorTimeout := viper.GetDuration("compositor.timeout")
	if compositorTimeout <= 0 {
		compositorTimeout = 5 * time.Second
	}

	consentTimeout := viper.GetDuration("consent.timeout")
	if consentTimeout <= 0 {
		consentTimeout = 2 * time.Minute
	}

	cfg := Config{
		Bus: &BusConfig{
			Name: busName,
		},
		ScreenCast: &ScreenCastConfig{
			Enabled:      viper.GetBool("screencast.enabled"),
			StartTimeout: startTimeout,
		},
		RemoteDesktop: &RemoteDesktopConfig{
			Enabled:      viper.GetBool("remotedesktop.enabled"),
			StartTimeout: startTimeout,
		},
		Inhibit: &InhibitConfig{
			Enabled: viper.GetBool("inhibit.enabled"),
		},
		Consent: &ConsentConfig{
			Mode:        consentMode,
			AllowedApps: viper.GetStringSlice("consent.allowed_apps"),
			Sources:     viper.GetStringSlice("consent.sources"),
			Command:     viper.GetString("consent.command"),
			Timeout:     consentTimeout,
		},
		Compositor: &CompositorConfig{
			Service:       viper.GetString("compositor.service"),
			Path:          viper.GetString("compositor.path"),
			RemoteService: viper.GetString("compositor.remote_service"),
			RemotePath:    viper.GetString("compositor.remote_path"),
			Timeout:       compositorTimeout,
		},
		Store: &StoreConfig{
			Enabled: viper.GetBool("store.enabled"),
			Dir:     viper.GetString("store.dir"),
		},
		LogLevel: logger.ParseLevel(viper.GetString("LogLevel")),
	}

	return &cfg, nil
}

// validateBusName checks the configured well-known name is a valid D-Bus
// name: dot-separated elements of [A-Za-z0-9_], not starting with a digit.
func validateBusName(name string) error {
	if len(name) == 0 || len(name) > 255 {
		return fmt.Errorf("invalid bus name: %q", name)
	}
	elements := strings.Split(name, ".")
	if len(elements) < 2 {
		return fmt.Errorf("bus name needs at least two elements: %q", name)
	}
	for _, el := range elements {
		if el == "" {
			return fmt.Errorf("empty element in bus name: %q", name)
		}
		for i, r := range el {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			case r >= '0' && r <= '9':
				if i == 0 {
					return fmt.Errorf("bus name element starts with digit: %q", name)
				}
			default:
				return fmt.Errorf("invalid character %q in bus name: %q", r, name)
			}
		}
	}
	return nil
}
