package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/edirooss/playout-server/internal/domain/channel"
	"github.com/edirooss/playout-server/internal/metrics"
	"github.com/edirooss/playout-server/internal/playoutcfg"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// -----------------------------------------------------------------------------
// Provisioner
// -----------------------------------------------------------------------------
//
// Runtime model
//   • Single process, many concurrent requests.
//   • Passes for the SAME engine service are serialized via a per-service gate;
//     different services provision in parallel.
//
// Contract (files-first)
//   • Supervisor unit → channel config → store, in that order.
//   • A later failure never rolls back an earlier step; a retried pass skips
//     what already exists.
//   • Existing files are never rewritten.
//
// Modes
//   • Create: missing config is derived from the reference channel with
//     per-channel log and playlist directories; the record is created (or, when
//     the service already has one, merged). No unit and no template fails.
//   • Update: missing config is copied from the baseline file; the record is
//     merged with the supplied fields only. No unit and no template skips the
//     unit step. Reconcile runs in this mode.

// Mode selects how a missing channel config is materialized and how the record is persisted.
type Mode int

const (
	ModeCreate Mode = iota
	ModeUpdate
)

func (m Mode) String() string {
	if m == ModeUpdate {
		return "update"
	}
	return "create"
}

// Defaults match a stock ffplayout installation.
const (
	DefaultBaselineConfig   = "/etc/ffplayout/ffplayout-001.yml"
	DefaultReferenceConfig  = "/etc/ffplayout/ffplayout.yml"
	DefaultReferenceID      = 1
	DefaultReconcileWorkers = 4
)

// UnitManager is the supervisor side of provisioning.
type UnitManager interface {
	Exists(ref channel.ServiceRef) (bool, error)
	TemplateExists() (bool, error)
	EnsureProcessEntry(serviceRef, configPath string) (bool, error)
}

// SettingsStore persists channel settings.
type SettingsStore interface {
	Create(ctx context.Context, rec channel.Settings) (channel.Settings, error)
	Update(ctx context.Context, id int64, patch channel.SettingsPatch) (channel.Settings, error)
	GetOne(id int64) (channel.Settings, error)
	GetList() []channel.Settings
	FindByService(service string) (channel.Settings, bool)
}

// Options tunes the Provisioner.
type Options struct {
	BaselineConfig   string               // copied verbatim in update mode
	ReferenceConfig  string               // used when the reference channel has no record
	ReferenceID      int64                // channel whose config create mode derives from
	Roots            playoutcfg.RootNames // shared-root names for re-rooting
	ReconcileWorkers int
}

func (o *Options) setDefaults() {
	if o.BaselineConfig == "" {
		o.BaselineConfig = DefaultBaselineConfig
	}
	if o.ReferenceConfig == "" {
		o.ReferenceConfig = DefaultReferenceConfig
	}
	if o.ReferenceID == 0 {
		o.ReferenceID = DefaultReferenceID
	}
	if o.ReconcileWorkers <= 0 {
		o.ReconcileWorkers = DefaultReconcileWorkers
	}
}

// Request is one provisioning pass. ID is required in update mode.
type Request struct {
	Mode  Mode
	ID    int64
	Patch channel.SettingsPatch
}

// Provisioner ensures the supervisor unit, channel config and record of a channel exist.
type Provisioner struct {
	log     *zap.Logger
	units   UnitManager
	store   SettingsStore
	metrics *metrics.Metrics
	opts    Options

	gates gates
}

// NewProvisioner wires dependencies. m may be nil.
func NewProvisioner(log *zap.Logger, units UnitManager, store SettingsStore, m *metrics.Metrics, opts Options) *Provisioner {
	opts.setDefaults()
	return &Provisioner{
		log:     log.Named("provisioner"),
		units:   units,
		store:   store,
		metrics: m,
		opts:    opts,
	}
}

// Create provisions a new channel from a full set of fields.
func (p *Provisioner) Create(ctx context.Context, patch channel.SettingsPatch) (channel.Settings, error) {
	return p.Provision(ctx, Request{Mode: ModeCreate, Patch: patch})
}

// Update reprovisions channel id, merging only the supplied fields.
func (p *Provisioner) Update(ctx context.Context, id int64, patch channel.SettingsPatch) (channel.Settings, error) {
	return p.Provision(ctx, Request{Mode: ModeUpdate, ID: id, Patch: patch})
}

// Provision runs one idempotent pass and returns the stored settings.
func (p *Provisioner) Provision(ctx context.Context, req Request) (rec channel.Settings, err error) {
	started := time.Now()
	defer func() { p.metrics.ObserveProvision(req.Mode.String(), started, err) }()

	var prev channel.Settings
	if req.Mode == ModeUpdate {
		if prev, err = p.store.GetOne(req.ID); err != nil {
			return channel.Settings{}, fmt.Errorf("get: %w", err)
		}
	}

	target := req.Patch.Apply(prev)
	if err := target.Validate(); err != nil {
		return channel.Settings{}, err
	}
	ref, err := target.ServiceRef()
	if err != nil {
		return channel.Settings{}, err
	}
	if req.Patch.EngineService != nil {
		normalized := ref.String()
		req.Patch.EngineService = &normalized
		target.EngineService = normalized
	}

	unlock, err := p.gates.lock(ctx, ref.Key())
	if err != nil {
		return channel.Settings{}, err
	}
	defer unlock()

	// Reject before touching the filesystem.
	if owner, ok := p.store.FindByService(ref.String()); ok && req.Mode == ModeUpdate && owner.ID != req.ID {
		return channel.Settings{}, fmt.Errorf("%w: %s (id %d)", channel.ErrServiceInUse, ref, owner.ID)
	}

	log := p.log.With(
		zap.String("mode", req.Mode.String()),
		zap.String("service", ref.String()),
		zap.String("config", target.PlayoutConfig),
	)

	if err := p.ensureUnit(req.Mode, ref, target.PlayoutConfig); err != nil {
		log.Warn("provision: unit step failed", zap.Error(err))
		return channel.Settings{}, fmt.Errorf("ensure unit: %w", err)
	}
	if err := p.ensureConfig(req.Mode, target.PlayoutConfig); err != nil {
		log.Warn("provision: config step failed", zap.Error(err))
		return channel.Settings{}, fmt.Errorf("ensure config: %w", err)
	}

	rec, err = p.persist(ctx, req, target)
	if err != nil {
		log.Warn("provision: persist failed", zap.Error(err))
		return channel.Settings{}, err
	}

	log.Info("provisioned", zap.Int64("id", rec.ID))
	return rec, nil
}

// ensureUnit writes the supervisor unit of ref unless one exists. Without a
// template, create mode fails and update mode skips the step.
func (p *Provisioner) ensureUnit(mode Mode, ref channel.ServiceRef, configPath string) error {
	ok, err := p.units.Exists(ref)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	ok, err = p.units.TemplateExists()
	if err != nil {
		return err
	}
	if !ok {
		if mode == ModeUpdate {
			p.log.Warn("no unit and no template unit; unit step skipped", zap.String("service", ref.String()))
			return nil
		}
		return fmt.Errorf("%w: no unit for %s and no template unit", channel.ErrTemplateMissing, ref)
	}

	created, err := p.units.EnsureProcessEntry(ref.String(), configPath)
	if err != nil {
		return err
	}
	if created {
		p.metrics.UnitCreated()
	}
	return nil
}

// ensureConfig materializes the channel config at path unless a file exists there.
func (p *Provisioner) ensureConfig(mode Mode, path string) error {
	ok, err := playoutcfg.FileExists(path)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if mode == ModeUpdate {
		if err := playoutcfg.CopyFile(p.opts.BaselineConfig, path); err != nil {
			return fmt.Errorf("copy baseline: %w", err)
		}
		p.metrics.ConfigWritten("copied")
		p.log.Info("config copied from baseline",
			zap.String("baseline", p.opts.BaselineConfig),
			zap.String("config", path),
		)
		return nil
	}

	ref, err := p.loadReference()
	if err != nil {
		return fmt.Errorf("load reference: %w", err)
	}
	suffix, err := channel.SuffixFromStem(channel.ConfigStem(path))
	if err != nil {
		return err
	}
	derived, err := playoutcfg.Derive(ref, suffix, p.opts.Roots)
	if err != nil {
		return fmt.Errorf("derive: %w", err)
	}
	for _, dir := range []string{derived.LogPath, derived.PlaylistPath} {
		if err := playoutcfg.EnsureDir(dir); err != nil {
			return fmt.Errorf("ensure dir: %w", err)
		}
	}
	if err := derived.Doc.Save(path); err != nil {
		return fmt.Errorf("save: %w", err)
	}

	p.metrics.ConfigWritten("derived")
	p.log.Info("config derived from reference",
		zap.String("config", path),
		zap.String("log_path", derived.LogPath),
		zap.String("playlist_path", derived.PlaylistPath),
	)
	return nil
}

// loadReference reads the reference channel's config, falling back to the configured path.
func (p *Provisioner) loadReference() (*playoutcfg.Document, error) {
	path := p.opts.ReferenceConfig
	if rec, err := p.store.GetOne(p.opts.ReferenceID); err == nil && rec.PlayoutConfig != "" {
		path = rec.PlayoutConfig
	}
	return playoutcfg.Load(filepath.Clean(path))
}

func (p *Provisioner) persist(ctx context.Context, req Request, target channel.Settings) (channel.Settings, error) {
	if req.Mode == ModeUpdate {
		rec, err := p.store.Update(ctx, req.ID, req.Patch)
		if err != nil {
			return channel.Settings{}, fmt.Errorf("update: %w", err)
		}
		return rec, nil
	}

	// A repeated create for the same service merges into the existing record.
	if existing, ok := p.store.FindByService(target.EngineService); ok {
		rec, err := p.store.Update(ctx, existing.ID, req.Patch)
		if err != nil {
			return channel.Settings{}, fmt.Errorf("update: %w", err)
		}
		return rec, nil
	}

	rec, err := p.store.Create(ctx, target)
	if err != nil {
		return channel.Settings{}, fmt.Errorf("create: %w", err)
	}
	return rec, nil
}

// Reconcile re-runs the file steps (update mode) for every stored channel so units
// and configs deleted while the server was down come back. Every channel is
// visited; failures are logged and returned joined.
func (p *Provisioner) Reconcile(ctx context.Context) error {
	start := time.Now()
	recs := p.store.GetList()
	p.log.Info("reconcile: start", zap.Int("channels", len(recs)))

	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(p.opts.ReconcileWorkers)
	for _, rec := range recs {
		g.Go(func() error {
			err := p.reconcileOne(ctx, rec)
			p.metrics.ReconcileVisited(err)
			if err != nil {
				p.log.Warn("reconcile: channel failed",
					zap.Int64("id", rec.ID),
					zap.String("service", rec.EngineService),
					zap.Error(err),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("id %d: %w", rec.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	p.log.Info("reconcile: complete",
		zap.Int("channels", len(recs)),
		zap.Int("errors", len(errs)),
		zap.Duration("duration", time.Since(start)),
	)
	return errors.Join(errs...)
}

func (p *Provisioner) reconcileOne(ctx context.Context, rec channel.Settings) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	ref, err := rec.ServiceRef()
	if err != nil {
		return err
	}

	unlock, err := p.gates.lock(ctx, ref.Key())
	if err != nil {
		return err
	}
	defer unlock()

	if err := p.ensureUnit(ModeUpdate, ref, rec.PlayoutConfig); err != nil {
		return fmt.Errorf("ensure unit: %w", err)
	}
	if err := p.ensureConfig(ModeUpdate, rec.PlayoutConfig); err != nil {
		return fmt.Errorf("ensure config: %w", err)
	}
	return nil
}
