package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"homeserver/homeprov/internal/config"
	"homeserver/homeprov/internal/fsatomic"
	"homeserver/homeprov/internal/fstab"
	"homeserver/homeprov/internal/layout"
	"homeserver/homeprov/internal/report"
	"homeserver/homeprov/internal/storage/blk"
)

// MaxSelectAttempts bounds how often an invalid disk choice is re-asked.
const MaxSelectAttempts = 3

// Prompter asks the operator for input.
type Prompter interface {
	// ChooseDisk returns a device identifier, "" or "skip".
	ChooseDisk(candidates []blk.Device) (string, error)
	Confirm(message string) (bool, error)
}

// Provisioner drives one provisioning run.
type Provisioner struct {
	Config config.Config
	Host   Host
	Prompt Prompter
	Log    zerolog.Logger
	// Out receives operator-facing text.
	Out io.Writer

	// Device preselects the target disk; it is not re-asked when invalid.
	Device string
	// AssumeYes confirms destructive actions on Device without asking.
	AssumeYes bool
	Version   string

	lookPath func(string) (string, error)
	now      func() time.Time
}

func (p *Provisioner) out() io.Writer {
	if p.Out == nil {
		return io.Discard
	}
	return p.Out
}

// Run executes the whole flow and records the result. Outcomes other than
// errors are successful runs.
func (p *Provisioner) Run(ctx context.Context) (Result, error) {
	p.Log.Info().
		Str("mount_path", p.Config.MountPath).
		Str("fstype", p.Config.FSType).
		Str("distro", p.Config.Distro.Name).
		Msg("starting storage provisioning")
	res, err := p.run(ctx)
	if res.MountPath == "" {
		res.MountPath = p.Config.MountPath
	}
	p.record(ctx, res, err)
	if err != nil {
		p.Log.Error().Err(err).Msg("provisioning failed")
		return res, err
	}
	p.Log.Info().Str("outcome", string(res.Outcome)).Str("disk", res.Disk).Msg("provisioning finished")
	return res, nil
}

func (p *Provisioner) run(ctx context.Context) (Result, error) {
	mountPath := p.Config.MountPath
	mounted, err := p.CheckExistingMount(ctx)
	if err != nil {
		return Result{}, err
	}
	if mounted {
		report.Info(p.out(), "%s is already mounted; leaving the disk alone.", mountPath)
		rep, err := p.EstablishLayout()
		if err != nil {
			return Result{Outcome: OutcomeAlreadyMounted}, err
		}
		return Result{Outcome: OutcomeAlreadyMounted, MountPath: mountPath, Layout: &rep}, nil
	}

	cands, err := p.DiscoverCandidates(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(cands) == 0 {
		report.Warn(p.out(), "no secondary disk found")
		report.Info(p.out(), "%s", ManualInstructions(mountPath))
		return Result{Outcome: OutcomeNoCandidates, Message: "no secondary disk found"}, nil
	}
	report.Info(p.out(), "%s", report.CandidateTable(cands))

	disk, outcome, err := p.selectDisk(cands)
	res := Result{Candidates: len(cands)}
	if err != nil {
		return res, err
	}
	if outcome != "" {
		res.Outcome = outcome
		return res, nil
	}
	res.Disk = disk.Path

	d := ResolvePartition(disk, p.Config.FSType)
	res.Partition = d.Partition
	res.FSType = d.FSType
	p.Log.Info().Str("disk", disk.Path).Str("action", string(d.Action)).Str("partition", d.Partition).Msg(d.Reason)
	switch d.Action {
	case ActionReject:
		report.Warn(p.out(), "%s; choose another disk or prepare it by hand", d.Reason)
		res.Outcome = OutcomeUnsupported
		res.Message = d.Reason
		return res, nil
	case ActionUseExisting:
		report.Info(p.out(), "%s; it will be mounted without formatting.", d.Reason)
	}

	if d.NeedsConfirm {
		ok, err := p.confirm(d)
		if err != nil {
			return res, err
		}
		if !ok {
			report.Info(p.out(), "Nothing was changed on %s.", disk.Path)
			p.Log.Info().Str("disk", disk.Path).Msg("operator declined")
			res.Outcome = OutcomeDeclined
			return res, nil
		}
	}

	plan := BuildPlan(d, mountPath, p.Config.FstabPath, p.Config.MountOptions)
	applied, err := p.Apply(ctx, plan)
	if err != nil {
		report.Warn(p.out(), "provisioning stopped: %v", err)
		report.Info(p.out(), "Remaining steps to finish by hand:\n%s", RenderText(plan))
		return res, err
	}
	res.UUID = applied.UUID
	res.FstabAdded = applied.FstabAdded
	res.MountPath = mountPath

	rep, err := p.EstablishLayout()
	if err != nil {
		return res, err
	}
	res.Layout = &rep
	res.Outcome = OutcomeProvisioned
	report.Success(p.out(), "%s is mounted at %s (UUID %s).", d.Partition, mountPath, applied.UUID)
	return res, nil
}

// CheckExistingMount reports whether the storage path is already a mount point.
func (p *Provisioner) CheckExistingMount(ctx context.Context) (bool, error) {
	mounted, err := p.Host.IsMountPoint(ctx, p.Config.MountPath)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", p.Config.MountPath, err)
	}
	return mounted, nil
}

// DiscoverCandidates lists fixed, non-boot whole disks in enumeration order.
func (p *Provisioner) DiscoverCandidates(ctx context.Context) ([]blk.Device, error) {
	devs, err := p.Host.BlockDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover disks: %w", err)
	}
	src, err := p.Host.RootSource(ctx)
	if err != nil {
		p.Log.Debug().Err(err).Msg("root source unavailable; relying on lsblk mountpoints")
	}
	boot, ok := blk.BootDisk(devs, src)
	if !ok {
		p.Log.Warn().Msg("could not identify the boot disk")
	}
	cands := blk.Candidates(devs, boot)
	names := make([]string, 0, len(cands))
	for _, c := range cands {
		names = append(names, c.Path)
	}
	p.Log.Info().Str("boot_disk", boot).Strs("candidates", names).Msg("discovered disks")
	return cands, nil
}

func (p *Provisioner) selectDisk(cands []blk.Device) (blk.Device, Outcome, error) {
	if p.Device != "" {
		d, err := SelectTarget(cands, p.Device)
		return p.selection(d, err, false)
	}
	for attempt := 1; attempt <= MaxSelectAttempts; attempt++ {
		choice, err := p.Prompt.ChooseDisk(cands)
		if err != nil {
			return blk.Device{}, "", fmt.Errorf("disk selection: %w", err)
		}
		d, err := SelectTarget(cands, choice)
		d, outcome, err := p.selection(d, err, attempt < MaxSelectAttempts)
		if err != nil || outcome != OutcomeInvalid || attempt == MaxSelectAttempts {
			return d, outcome, err
		}
	}
	return blk.Device{}, OutcomeInvalid, nil
}

func (p *Provisioner) selection(d blk.Device, err error, retry bool) (blk.Device, Outcome, error) {
	switch {
	case err == nil:
		p.Log.Info().Str("disk", d.Path).Msg("selected disk")
		return d, "", nil
	case errors.Is(err, ErrSkipped):
		report.Info(p.out(), "Skipping storage setup.")
		p.Log.Info().Msg("operator skipped disk selection")
		return blk.Device{}, OutcomeSkipped, nil
	case errors.Is(err, ErrInvalidSelection):
		p.Log.Warn().Err(err).Msg("invalid disk selection")
		if retry {
			report.Warn(p.out(), "%v; pick one of the listed disks or type skip", err)
		} else {
			report.Warn(p.out(), "%v; no changes made", err)
		}
		return blk.Device{}, OutcomeInvalid, nil
	default:
		return blk.Device{}, "", err
	}
}

func (p *Provisioner) confirm(d Decision) (bool, error) {
	target := d.Partition
	if d.Action == ActionCreateAndFormat {
		target = d.Disk.Path
	}
	report.Danger(p.out(), "All data on %s will be destroyed (%s).", target, d.Reason)
	if p.AssumeYes && p.Device != "" {
		p.Log.Warn().Str("partition", d.Partition).Msg("destructive action confirmed by --yes")
		return true, nil
	}
	ok, err := p.Prompt.Confirm(fmt.Sprintf("Format %s as %s?", d.Partition, d.FSType))
	if err != nil {
		return false, fmt.Errorf("confirmation: %w", err)
	}
	return ok, nil
}

// Applied carries the facts learned while applying a plan.
type Applied struct {
	UUID       string
	FstabAdded bool
}

// Apply executes plan steps in order. Tools are checked up front so a
// missing mkfs does not leave a freshly labelled, unformatted disk.
func (p *Provisioner) Apply(ctx context.Context, plan Plan) (Applied, error) {
	var out Applied
	if err := p.requireTools(RequiredTools(plan)); err != nil {
		return out, err
	}
	bar := report.NewProgress(p.out(), len(plan.Steps), "Provisioning "+plan.Disk)
	for _, s := range plan.Steps {
		bar.Describe(s.Description)
		p.Log.Info().Str("step", s.ID).Bool("destructive", s.Destructive).Msg(s.Description)
		var err error
		switch s.Kind {
		case StepPartition:
			err = p.Host.Partition(ctx, plan.Disk, plan.FSType)
		case StepSettle:
			err = p.Host.Settle(ctx, plan.Partition)
		case StepFormat:
			err = p.Host.Format(ctx, plan.Partition, plan.FSType)
		case StepMkdir:
			err = os.MkdirAll(plan.MountPath, 0o755)
		case StepMount:
			err = p.Host.Mount(ctx, plan.Partition, plan.MountPath)
		case StepPersist:
			out.UUID, out.FstabAdded, err = p.persist(ctx, plan.Partition, plan.FSType)
		default:
			err = fmt.Errorf("unknown step kind %q", s.Kind)
		}
		if err != nil {
			return out, fmt.Errorf("%s: %w", s.ID, err)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	return out, nil
}

// MountAndPersist mounts partition at the storage path and ensures exactly
// one UUID-keyed fstab entry for it.
func (p *Provisioner) MountAndPersist(ctx context.Context, partition, fstype string) (Applied, error) {
	mountPath := p.Config.MountPath
	var out Applied
	if err := os.MkdirAll(mountPath, 0o755); err != nil {
		return out, fmt.Errorf("mkdir %s: %w", mountPath, err)
	}
	if err := p.Host.Mount(ctx, partition, mountPath); err != nil {
		return out, err
	}
	var err error
	out.UUID, out.FstabAdded, err = p.persist(ctx, partition, fstype)
	return out, err
}

func (p *Provisioner) persist(ctx context.Context, partition, fstype string) (string, bool, error) {
	uuid, err := p.Host.UUID(ctx, partition)
	if err != nil {
		return "", false, err
	}
	e := fstab.NewEntry(uuid, p.Config.MountPath, fstype, p.Config.MountOptions)
	res, err := fstab.EnsureWithLock(p.Config.FstabPath, p.fstabLock(), e)
	if err != nil {
		return uuid, false, fmt.Errorf("update %s: %w", p.Config.FstabPath, err)
	}
	for _, c := range res.Conflicts {
		report.Warn(p.out(), "%s already has another entry for %s: %s", p.Config.FstabPath, p.Config.MountPath, c)
		p.Log.Warn().Str("line", c).Msg("conflicting fstab entry for mount path")
	}
	if res.Added {
		p.Log.Info().Str("uuid", uuid).Str("line", e.Line()).Msg("added fstab entry")
	} else {
		p.Log.Info().Str("uuid", uuid).Msg("fstab entry already present")
	}
	return uuid, res.Added, nil
}

// fstabLock keeps the table's lock file out of /etc.
func (p *Provisioner) fstabLock() string {
	if p.Config.StatePath == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(p.Config.StatePath), "fstab.lock")
}

// EstablishLayout creates the directory layout on the storage path. An
// unknown owner name is logged and ownership is skipped.
func (p *Provisioner) EstablishLayout() (layout.Report, error) {
	owner, err := layout.LookupOwner(p.Config.Owner)
	if err != nil {
		p.Log.Warn().Err(err).Str("owner", p.Config.Owner).Msg("operator account not found; ownership unchanged")
		owner = nil
	}
	l := layout.Layout{
		Root:            p.Config.MountPath,
		LegacyMediaPath: p.Config.LegacyMediaPath,
		Owner:           owner,
		Log:             p.Log,
	}
	rep, err := l.Establish()
	if err != nil {
		return rep, fmt.Errorf("layout: %w", err)
	}
	if rep.Alias == layout.AliasOccupied {
		report.Warn(p.out(), "%s exists and is not a link to %s/media; left unchanged", p.Config.LegacyMediaPath, p.Config.MountPath)
	}
	return rep, nil
}

func (p *Provisioner) requireTools(tools []string) error {
	look := p.lookPath
	if look == nil {
		look = exec.LookPath
	}
	var missing, pkgs []string
	for _, t := range tools {
		if _, err := look(t); err != nil {
			missing = append(missing, t)
			pkgs = append(pkgs, p.Config.Distro.ToolPackage(t))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s (try: %s)", ErrMissingTools, strings.Join(missing, ", "), p.Config.Distro.InstallHint(pkgs...))
}

func (p *Provisioner) record(ctx context.Context, res Result, runErr error) {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	rec := Record{
		Time:       now().UTC(),
		Outcome:    res.Outcome,
		Disk:       res.Disk,
		Partition:  res.Partition,
		UUID:       res.UUID,
		FSType:     res.FSType,
		MountPath:  res.MountPath,
		FstabAdded: res.FstabAdded,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if p.Config.StatePath != "" {
		if err := fsatomic.SaveJSON(ctx, p.Config.StatePath, rec, 0o600); err != nil {
			p.Log.Warn().Err(err).Str("path", p.Config.StatePath).Msg("could not save run state")
		}
	}
	if p.Config.MetricsTextfile == "" {
		return
	}
	m := report.RunMetrics{
		Time:       rec.Time,
		Outcome:    string(res.Outcome),
		Candidates: res.Candidates,
		Version:    p.Version,
	}
	for _, o := range Outcomes {
		m.Outcomes = append(m.Outcomes, string(o))
	}
	m.Outcomes = append(m.Outcomes, "error")
	if runErr != nil {
		m.Outcome = "error"
	}
	if runErr == nil && (res.Outcome == OutcomeProvisioned || res.Outcome == OutcomeAlreadyMounted) {
		total, free, err := p.Host.Usage(ctx, p.Config.MountPath)
		if err != nil {
			p.Log.Debug().Err(err).Msg("storage usage unavailable")
		} else {
			m.Mounted, m.SizeBytes, m.FreeBytes = true, total, free
		}
	}
	if err := report.WriteTextfile(p.Config.MetricsTextfile, m); err != nil {
		p.Log.Warn().Err(err).Str("path", p.Config.MetricsTextfile).Msg("could not write metrics")
	}
}

// Preview resolves device against the current candidates and returns the
// plan that provisioning it would run. Nothing is changed.
func (p *Provisioner) Preview(ctx context.Context, device string) (Plan, error) {
	cands, err := p.DiscoverCandidates(ctx)
	if err != nil {
		return Plan{}, err
	}
	disk, err := SelectTarget(cands, device)
	if err != nil {
		return Plan{}, err
	}
	d := ResolvePartition(disk, p.Config.FSType)
	return BuildPlan(d, p.Config.MountPath, p.Config.FstabPath, p.Config.MountOptions), nil
}

// Adopt mounts an already formatted partition at the storage path, persists
// it and lays out the directories. The partition must carry a mountable
// filesystem and must not be on the boot disk. The attempt is recorded
// whether or not it succeeds.
func (p *Provisioner) Adopt(ctx context.Context, partition string) (Result, error) {
	res, err := p.adopt(ctx, partition)
	p.record(ctx, res, err)
	if err != nil {
		p.Log.Error().Err(err).Str("partition", partition).Msg("adopt failed")
		return res, err
	}
	p.Log.Info().Str("partition", res.Partition).Str("uuid", res.UUID).Msg("adopted partition")
	return res, nil
}

func (p *Provisioner) adopt(ctx context.Context, partition string) (Result, error) {
	res := Result{MountPath: p.Config.MountPath}
	mounted, err := p.CheckExistingMount(ctx)
	if err != nil {
		return res, err
	}
	if mounted {
		return res, fmt.Errorf("%s is already mounted", p.Config.MountPath)
	}
	devs, err := p.Host.BlockDevices(ctx)
	if err != nil {
		return res, fmt.Errorf("discover disks: %w", err)
	}
	part, ok := blk.Find(devs, partition)
	if !ok || part.Type != blk.TypePart {
		return res, fmt.Errorf("%s: not a partition", partition)
	}
	src, _ := p.Host.RootSource(ctx)
	if boot, ok := blk.BootDisk(devs, src); ok {
		for _, top := range devs {
			if top.Name != boot {
				continue
			}
			if _, onBoot := blk.Find([]blk.Device{top}, part.Path); onBoot {
				return res, fmt.Errorf("%s is on the boot disk", part.Path)
			}
		}
	}
	if !Mountable(part.FSType) {
		return res, fmt.Errorf("%s: filesystem %q cannot be mounted as storage", part.Path, part.FSType)
	}
	res.Partition, res.FSType = part.Path, part.FSType

	applied, err := p.MountAndPersist(ctx, part.Path, part.FSType)
	if err != nil {
		return res, err
	}
	res.UUID, res.FstabAdded = applied.UUID, applied.FstabAdded
	rep, err := p.EstablishLayout()
	if err != nil {
		return res, err
	}
	res.Layout = &rep
	res.Outcome = OutcomeProvisioned
	return res, nil
}
