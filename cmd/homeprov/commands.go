package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"homeserver/homeprov/internal/fsatomic"
	"homeserver/homeprov/internal/layout"
	"homeserver/homeprov/internal/provision"
	"homeserver/homeprov/internal/report"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newProvisionCmd() *cobra.Command {
	var device string
	var yes bool
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Find, prepare and mount the storage disk",
		Long: `Detects candidate disks (never the boot disk or removable media), asks
which one to use, partitions and formats it only after confirmation, mounts
it at the storage path, persists the mount and creates the directory layout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRoot(); err != nil {
				return err
			}
			if yes && device == "" {
				return errors.New("--yes requires --device")
			}
			ctx, cancel := signalContext()
			defer cancel()

			out := cmd.OutOrStdout()
			report.Banner(out, "Home server storage")
			p := newProvisioner(out)
			p.Device = device
			p.AssumeYes = yes
			res, err := p.Run(ctx)
			if err != nil {
				return err
			}
			report.Info(out, "Result: %s", res.Outcome)
			return nil
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "use this disk instead of asking (e.g. sdb or /dev/sdb)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm destructive steps on --device without asking")
	return cmd
}

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List candidate storage disks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			p := newProvisioner(cmd.OutOrStdout())
			cands, err := p.DiscoverCandidates(ctx)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.CandidateTable(cands))
			return nil
		},
	}
}

func newPlanCmd() *cobra.Command {
	var device, output string
	cmd := &cobra.Command{
		Use:   "plan --device <disk>",
		Short: "Show the steps provisioning a disk would run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if device == "" {
				return errors.New("--device is required")
			}
			ctx, cancel := signalContext()
			defer cancel()
			plan, err := newProvisioner(cmd.OutOrStdout()).Preview(ctx, device)
			if err != nil {
				return err
			}
			switch output {
			case "yaml":
				s, err := provision.RenderYAML(plan)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), s)
			case "text", "":
				fmt.Fprint(cmd.OutOrStdout(), provision.RenderText(plan))
			default:
				return fmt.Errorf("unknown output %q (want text or yaml)", output)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "disk to plan for")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or yaml")
	return cmd
}

func newMountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mount <partition>",
		Short: "Mount an already formatted partition as storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRoot(); err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			res, err := newProvisioner(cmd.OutOrStdout()).Adopt(ctx, args[0])
			if err != nil {
				return err
			}
			report.Success(cmd.OutOrStdout(), "%s (%s) is mounted at %s.", res.Partition, res.FSType, res.MountPath)
			return nil
		},
	}
}

func newLayoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layout",
		Short: "Create the directory layout on the mounted storage path",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			p := newProvisioner(cmd.OutOrStdout())
			mounted, err := p.CheckExistingMount(ctx)
			if err != nil {
				return err
			}
			if !mounted {
				return fmt.Errorf("%s is not mounted; run provision first", cfg.MountPath)
			}
			rep, err := p.EstablishLayout()
			if err != nil {
				return err
			}
			report.Success(cmd.OutOrStdout(), "Layout ready (%d created, alias %s).", len(rep.Created), aliasText(rep.Alias))
			return nil
		},
	}
}

func aliasText(s layout.AliasState) string {
	if s == "" {
		return "disabled"
	}
	return string(s)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the result of the last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec provision.Record
			ok, err := fsatomic.LoadJSON(cfg.StatePath, &rec)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintln(out, "No run recorded yet.")
				return nil
			}
			fmt.Fprintf(out, "Last run:   %s\n", rec.Time.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Outcome:    %s\n", rec.Outcome)
			if rec.Error != "" {
				fmt.Fprintf(out, "Error:      %s\n", rec.Error)
			}
			if rec.Partition != "" {
				fmt.Fprintf(out, "Partition:  %s (%s)\n", rec.Partition, rec.FSType)
			}
			if rec.UUID != "" {
				fmt.Fprintf(out, "UUID:       %s\n", rec.UUID)
			}
			fmt.Fprintf(out, "Mount path: %s\n", rec.MountPath)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// no config or log file needed
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "homeprov %s (commit: %s)\n", Version, GitCommit)
		},
	}
}
