package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const EnvPrefix = "HOMEPROV"

type Config struct {
	MountPath       string
	LegacyMediaPath string
	FSType          string
	MountOptions    []string
	Owner           string

	FstabPath       string
	StatePath       string
	OSReleasePath   string
	MetricsTextfile string

	LogLevel zerolog.Level
	LogFile  string

	CommandTimeout time.Duration
	FormatTimeout  time.Duration

	Distro Distro
}

// Formattable lists the filesystem types homeprov can create.
var Formattable = []string{"ext4", "xfs", "btrfs"}

// New returns a viper instance with defaults, the config file search path and
// HOMEPROV_* environment binding. Keys use dots; env vars use underscores
// (storage.mount_path -> HOMEPROV_STORAGE_MOUNT_PATH).
func New(cfgFile string) *viper.Viper {
	v := viper.New()
	v.SetDefault("storage.mount_path", "/mnt/storage")
	v.SetDefault("storage.legacy_media_path", "/srv/media")
	v.SetDefault("storage.fstype", "ext4")
	v.SetDefault("storage.mount_options", "defaults,nofail")
	v.SetDefault("storage.owner", defaultOwner())
	v.SetDefault("paths.fstab", "/etc/fstab")
	v.SetDefault("paths.state", "/var/lib/homeprov/state.json")
	v.SetDefault("paths.os_release", "/etc/os-release")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/var/log/homeprov.log")
	v.SetDefault("timeouts.command", "30s")
	v.SetDefault("timeouts.format", "30m")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/homeprov")
		v.AddConfigPath("$HOME/.config/homeprov")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile loads the config file if one is present. A missing file in the
// default search path is not an error; an explicit --config that cannot be
// read is.
func ReadFile(v *viper.Viper, explicit bool) (string, error) {
	err := v.ReadInConfig()
	if err == nil {
		return v.ConfigFileUsed(), nil
	}
	var nf viper.ConfigFileNotFoundError
	if !explicit && errors.As(err, &nf) {
		return "", nil
	}
	return "", fmt.Errorf("read config: %w", err)
}

// Load resolves the final configuration, including the distro.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		MountPath:       filepath.Clean(v.GetString("storage.mount_path")),
		LegacyMediaPath: v.GetString("storage.legacy_media_path"),
		FSType:          strings.ToLower(strings.TrimSpace(v.GetString("storage.fstype"))),
		MountOptions:    mountOptions(v),
		Owner:           strings.TrimSpace(v.GetString("storage.owner")),
		FstabPath:       v.GetString("paths.fstab"),
		StatePath:       v.GetString("paths.state"),
		OSReleasePath:   v.GetString("paths.os_release"),
		MetricsTextfile: v.GetString("metrics.textfile"),
		LogFile:         v.GetString("log.file"),
		CommandTimeout:  v.GetDuration("timeouts.command"),
		FormatTimeout:   v.GetDuration("timeouts.format"),
	}

	level := zerolog.InfoLevel
	if s := v.GetString("log.level"); s != "" {
		l, err := zerolog.ParseLevel(s)
		if err != nil {
			return cfg, fmt.Errorf("log.level: %w", err)
		}
		level = l
	}
	cfg.LogLevel = level

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	cfg.Distro = DetectDistro(cfg.OSReleasePath)
	return cfg, nil
}

func (c Config) Validate() error {
	if !filepath.IsAbs(c.MountPath) || c.MountPath == "/" {
		return fmt.Errorf("storage.mount_path must be an absolute path other than /: %q", c.MountPath)
	}
	if c.LegacyMediaPath != "" && !filepath.IsAbs(c.LegacyMediaPath) {
		return fmt.Errorf("storage.legacy_media_path must be absolute: %q", c.LegacyMediaPath)
	}
	ok := false
	for _, fs := range Formattable {
		if c.FSType == fs {
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("storage.fstype %q not supported (want one of %s)", c.FSType, strings.Join(Formattable, ", "))
	}
	if len(c.MountOptions) == 0 {
		return errors.New("storage.mount_options must not be empty")
	}
	if c.CommandTimeout <= 0 || c.FormatTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

// mountOptions accepts "a,b" or a YAML list.
func mountOptions(v *viper.Viper) []string {
	if s, ok := v.Get("storage.mount_options").(string); ok {
		return splitOptions(s)
	}
	return splitOptions(strings.Join(v.GetStringSlice("storage.mount_options"), ","))
}

func splitOptions(s string) []string {
	out := []string{}
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// defaultOwner is the operator who invoked sudo, if any.
func defaultOwner() string {
	if u := os.Getenv("SUDO_USER"); u != "" && u != "root" {
		return u
	}
	return ""
}
