package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"homeserver/homeprov/internal/config"
	"homeserver/homeprov/internal/logging"
	"homeserver/homeprov/internal/provision"
	"homeserver/homeprov/internal/prompt"
	"homeserver/homeprov/pkg/shell"
)

var (
	// Version info (set by build)
	Version   = "dev"
	GitCommit = "unknown"

	cfgFile string
	v       = viper.New()
	cfg     config.Config
	logger  = zerolog.Nop()
	logFile io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "homeprov",
	Short: "Home server storage provisioner",
	Long: `homeprov finds a secondary disk, prepares it if needed, mounts it at the
storage path with a persistent UUID entry and creates the media, backups,
docker and projects directories on it.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			_ = logFile.Close()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default /etc/homeprov/config.yaml)")
	pf.String("mount-path", "", "storage mount path")
	pf.String("fstype", "", "filesystem to create on blank disks (ext4, xfs, btrfs)")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("fstab", "", "persistent mount table to update")

	rootCmd.AddCommand(
		newProvisionCmd(),
		newDiscoverCmd(),
		newPlanCmd(),
		newMountCmd(),
		newLayoutCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
}

func setup(cmd *cobra.Command, args []string) error {
	v = config.New(cfgFile)
	pf := cmd.Flags()
	for key, flag := range map[string]string{
		"storage.mount_path": "mount-path",
		"storage.fstype":     "fstype",
		"log.level":          "log-level",
		"paths.fstab":        "fstab",
	} {
		if f := pf.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	used, err := config.ReadFile(v, cfgFile != "")
	if err != nil {
		return err
	}
	cfg, err = config.Load(v)
	if err != nil {
		return err
	}
	logger, logFile = logging.Setup(cfg.LogLevel, cfg.LogFile, os.Stderr)
	if used != "" {
		logger.Debug().Str("file", used).Msg("loaded config")
	}
	logger.Debug().
		Str("distro", cfg.Distro.ID).
		Str("family", cfg.Distro.Family).
		Str("package_manager", cfg.Distro.PackageManager).
		Msg("detected distribution")
	return nil
}

func newProvisioner(out io.Writer) *provision.Provisioner {
	return &provision.Provisioner{
		Config: cfg,
		Host: provision.SystemHost{
			Runner:        shell.Exec{Env: append(os.Environ(), "LC_ALL=C")},
			Timeout:       cfg.CommandTimeout,
			FormatTimeout: cfg.FormatTimeout,
			DeviceWait:    10 * time.Second,
		},
		Prompt:  prompt.ForTerminal(os.Stdin, out),
		Log:     logger,
		Out:     out,
		Version: Version,
	}
}

func requireRoot() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("this command must be run as root")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
