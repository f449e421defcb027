package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/edirooss/playout-server/internal/domain/channel"
	"github.com/edirooss/playout-server/internal/metrics"
	"github.com/edirooss/playout-server/internal/playoutcfg"
	"github.com/edirooss/playout-server/internal/repo/store"
	"github.com/edirooss/playout-server/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const templateUnit = `[program:engine-001]
command = /opt/ffplayout_engine/venv/bin/python ffplayout.py -c /etc/ffplayout/ffplayout-001.yml
directory = /opt/ffplayout_engine
autostart = true
stdout_logfile = /var/log/ffplayout/engine-1.log
redirect_stderr = true
`

const baselineYAML = "# baseline\nlogging:\n    log_path: /var/log/ffplayout\nplaylist:\n    path: /data/playlists\n"

type fixture struct {
	root     string
	confDir  string
	etcDir   string
	baseline string
	units    *supervisor.Units
	store    *store.SettingsStore
	prov     *Provisioner
}

func referenceYAML(root string) string {
	return "general:\n    stop_threshold: 11\n" +
		"logging:\n    log_path: " + filepath.Join(root, "log", "ffplayout") + "\n    log_level: DEBUG\n" +
		"playlist:\n    path: " + filepath.Join(root, "data", "playlists") + "\n    length: \"24:00:00\"\n" +
		"out:\n    mode: stream\n"
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root:     root,
		confDir:  filepath.Join(root, "conf.d"),
		etcDir:   filepath.Join(root, "etc"),
		baseline: filepath.Join(root, "etc", "ffplayout-001.yml"),
	}
	require.NoError(t, os.MkdirAll(f.confDir, 0o755))
	require.NoError(t, os.MkdirAll(f.etcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.confDir, "engine-001.conf"), []byte(templateUnit), 0o644))
	require.NoError(t, os.WriteFile(f.baseline, []byte(baselineYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.etcDir, "ffplayout.yml"), []byte(referenceYAML(root)), 0o644))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	s, err := store.NewSettingsStore(context.Background(), zap.NewNop(), rdb, "")
	require.NoError(t, err)
	f.store = s

	f.units = supervisor.NewUnits(zap.NewNop(), supervisor.Config{
		ConfDir:       f.confDir,
		EngineCommand: "python ffplayout.py -c %s",
		LogFile:       filepath.Join(root, "log", "engine-%s.log"),
	})
	f.prov = f.newProvisioner(f.store)
	return f
}

func (f *fixture) newProvisioner(s SettingsStore) *Provisioner {
	return NewProvisioner(zap.NewNop(), f.units, s, metrics.New(prometheus.NewRegistry()), Options{
		BaselineConfig:  f.baseline,
		ReferenceConfig: filepath.Join(f.etcDir, "ffplayout.yml"),
	})
}

func (f *fixture) configPath(name string) string { return filepath.Join(f.etcDir, name) }

func ptr[T any](v T) *T { return &v }

func createPatch(service, config string) channel.SettingsPatch {
	return channel.SettingsPatch{
		Channel:       ptr("7"),
		PlayerURL:     ptr("http://player/7"),
		EngineService: ptr(service),
		PlayoutConfig: ptr(config),
		NetInterface:  ptr("eth0"),
		MediaDisk:     ptr("/mnt/media"),
	}
}

// snapshot maps every regular file under dir to its modification time and content.
func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[path] = info.ModTime().Format(time.RFC3339Nano) + "|" + string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestCreateDerivesChannelConfig(t *testing.T) {
	f := newFixture(t)
	cfg := f.configPath("channel-7.yml")

	rec, err := f.prov.Create(context.Background(), createPatch("engine-007", cfg))
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.ID)
	require.Equal(t, "engine-007", rec.EngineService)
	require.Equal(t, cfg, rec.PlayoutConfig)

	// unit derived from the template
	entry, err := supervisor.ReadEntry(filepath.Join(f.confDir, "engine-007.conf"), "program:engine-007")
	require.NoError(t, err)
	cmd, _ := entry.Directives.Get(supervisor.KeyCommand)
	require.Equal(t, "python ffplayout.py -c "+cfg, cmd)

	// config re-rooted and directories created
	doc, err := playoutcfg.Load(cfg)
	require.NoError(t, err)
	pls, _ := doc.PlaylistPath()
	require.Equal(t, filepath.Join(f.root, "data", "channel-7"), pls)
	lp, _ := doc.LogPath()
	require.Equal(t, filepath.Join(f.root, "log", "ffplayout", "channel-7"), lp)
	for _, dir := range []string{pls, lp} {
		fi, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, fi.IsDir())
	}
	mode, _ := doc.Get("out", "mode")
	require.Equal(t, "stream", mode)

	stored, err := f.store.GetOne(rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec, stored)
}

func TestProvisionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patch := createPatch("engine-007", f.configPath("channel-7.yml"))

	first, err := f.prov.Create(ctx, patch)
	require.NoError(t, err)
	before := snapshot(t, f.root)

	second, err := f.prov.Create(ctx, patch)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, before, snapshot(t, f.root))
	require.Len(t, f.store.GetList(), 1)

	third, err := f.prov.Update(ctx, first.ID, patch)
	require.NoError(t, err)
	require.Equal(t, first, third)
	require.Equal(t, before, snapshot(t, f.root))
}

func TestExistingUnitIsNotRewritten(t *testing.T) {
	f := newFixture(t)
	unit := filepath.Join(f.confDir, "engine-007.conf")
	custom := "[program:engine-007]\ncommand = hand written\n"
	require.NoError(t, os.WriteFile(unit, []byte(custom), 0o644))
	before := snapshot(t, f.confDir)

	_, err := f.prov.Create(context.Background(), createPatch("engine-007", f.configPath("channel-7.yml")))
	require.NoError(t, err)
	require.Equal(t, before, snapshot(t, f.confDir))
}

func TestTemplateMissing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.confDir, "engine-001.conf")))
	cfg := f.configPath("channel-7.yml")

	_, err := f.prov.Create(context.Background(), createPatch("engine-007", cfg))
	require.ErrorIs(t, err, channel.ErrTemplateMissing)

	ok, err := playoutcfg.FileExists(cfg)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, f.store.GetList())

	// only the configured template counts, not one named after the base
	require.NoError(t, os.WriteFile(filepath.Join(f.confDir, "other-001.conf"), []byte("[program:other-001]\ncommand = x\n"), 0o644))
	_, err = f.prov.Create(context.Background(), createPatch("engine-007", cfg))
	require.ErrorIs(t, err, channel.ErrTemplateMissing)
}

func TestInvalidRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.prov.Create(context.Background(), createPatch("engine", f.configPath("channel-7.yml")))
	require.ErrorIs(t, err, channel.ErrParse)

	_, err = f.prov.Create(context.Background(), createPatch("engine-007", "relative/channel-7.yml"))
	require.ErrorIs(t, err, channel.ErrParse)

	ok, err := f.units.Exists(channel.ServiceRef{Base: "engine", Suffix: "007"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateCopiesBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cfg := f.configPath("channel-7.yml")

	rec, err := f.prov.Create(ctx, createPatch("engine-007", cfg))
	require.NoError(t, err)
	require.NoError(t, os.Remove(cfg))

	got, err := f.prov.Update(ctx, rec.ID, channel.SettingsPatch{PlayerURL: ptr("http://other/7")})
	require.NoError(t, err)
	require.Equal(t, "http://other/7", got.PlayerURL)
	require.Equal(t, rec.MediaDisk, got.MediaDisk)
	require.Equal(t, rec.EngineService, got.EngineService)

	data, err := os.ReadFile(cfg)
	require.NoError(t, err)
	require.Equal(t, baselineYAML, string(data))
}

func TestUpdateMovesToNewService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.prov.Create(ctx, createPatch("engine-007", f.configPath("channel-7.yml")))
	require.NoError(t, err)

	got, err := f.prov.Update(ctx, rec.ID, channel.SettingsPatch{
		EngineService: ptr(" engine-008 "),
		PlayoutConfig: ptr(f.configPath("channel-8.yml")),
	})
	require.NoError(t, err)
	require.Equal(t, "engine-008", got.EngineService)

	ok, err := f.units.Exists(channel.ServiceRef{Base: "engine", Suffix: "008"})
	require.NoError(t, err)
	require.True(t, ok)

	// update mode copies the baseline instead of deriving
	data, err := os.ReadFile(f.configPath("channel-8.yml"))
	require.NoError(t, err)
	require.Equal(t, baselineYAML, string(data))
}

func TestUpdateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.prov.Update(ctx, 42, channel.SettingsPatch{})
	require.ErrorIs(t, err, channel.ErrNotFound)

	a, err := f.prov.Create(ctx, createPatch("engine-007", f.configPath("channel-7.yml")))
	require.NoError(t, err)
	b, err := f.prov.Create(ctx, createPatch("engine-008", f.configPath("channel-8.yml")))
	require.NoError(t, err)

	_, err = f.prov.Update(ctx, b.ID, channel.SettingsPatch{EngineService: ptr("ENGINE-007")})
	require.ErrorIs(t, err, channel.ErrServiceInUse)

	got, err := f.store.GetOne(b.ID)
	require.NoError(t, err)
	require.Equal(t, b, got)

	owner, ok := f.store.FindByService("engine-007")
	require.True(t, ok)
	require.Equal(t, a.ID, owner.ID)
}

func TestPathConflictKeepsUnit(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "data", "channel-7"), []byte("occupied"), 0o644))
	cfg := f.configPath("channel-7.yml")

	_, err := f.prov.Create(context.Background(), createPatch("engine-007", cfg))
	require.ErrorIs(t, err, channel.ErrPathConflict)

	// the unit written before the failure stays in place
	ok, err := f.units.Exists(channel.ServiceRef{Base: "engine", Suffix: "007"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = playoutcfg.FileExists(cfg)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, f.store.GetList())

	// resolving the conflict lets a retry finish
	require.NoError(t, os.Remove(filepath.Join(f.root, "data", "channel-7")))
	_, err = f.prov.Create(context.Background(), createPatch("engine-007", cfg))
	require.NoError(t, err)
}

func TestReferenceComesFromFirstChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.configPath("ffplayout-001.yml")
	custom := "logging:\n    log_path: " + filepath.Join(f.root, "custom") + "\n" +
		"playlist:\n    path: " + filepath.Join(f.root, "ffplayout") + "\n"
	require.NoError(t, os.WriteFile(first, []byte(custom), 0o644))

	_, err := f.prov.Create(ctx, createPatch("engine-001", first))
	require.NoError(t, err)

	cfg := f.configPath("ffplayout-002.yml")
	_, err = f.prov.Create(ctx, createPatch("engine-002", cfg))
	require.NoError(t, err)

	doc, err := playoutcfg.Load(cfg)
	require.NoError(t, err)
	lp, _ := doc.LogPath()
	require.Equal(t, filepath.Join(f.root, "channel-002"), lp)
	pls, _ := doc.PlaylistPath()
	require.Equal(t, filepath.Join(f.root, "ffplayout", "channel-002"), pls)
}

type failingStore struct {
	*store.SettingsStore
}

func (failingStore) Create(context.Context, channel.Settings) (channel.Settings, error) {
	return channel.Settings{}, errors.Join(channel.ErrStore, errors.New("connection refused"))
}

func TestStoreErrorLeavesFiles(t *testing.T) {
	f := newFixture(t)
	prov := f.newProvisioner(failingStore{f.store})
	cfg := f.configPath("channel-7.yml")

	_, err := prov.Create(context.Background(), createPatch("engine-007", cfg))
	require.ErrorIs(t, err, channel.ErrStore)

	ok, err := f.units.Exists(channel.ServiceRef{Base: "engine", Suffix: "007"})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = playoutcfg.FileExists(cfg)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestConcurrentCreateSameService(t *testing.T) {
	f := newFixture(t)
	patch := createPatch("engine-007", f.configPath("channel-7.yml"))

	const n = 8
	var wg sync.WaitGroup
	results := make([]channel.Settings, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.prov.Create(context.Background(), patch)
		}()
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		require.Equal(t, results[0], results[i])
	}
	require.Len(t, f.store.GetList(), 1)

	entries, err := os.ReadDir(f.confDir)
	require.NoError(t, err)
	require.Len(t, entries, 2) // template + engine-007
}

func TestReconcileRestoresFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.prov.Create(ctx, createPatch("engine-007", f.configPath("channel-7.yml")))
	require.NoError(t, err)
	b, err := f.prov.Create(ctx, createPatch("engine-008", f.configPath("channel-8.yml")))
	require.NoError(t, err)

	// other bases derive from the engine template; a directory in place of the
	// config cannot be restored
	orphan, err := f.store.Create(ctx, channel.Settings{EngineService: "other-003", PlayoutConfig: f.configPath("channel-3.yml")})
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(orphan.PlayoutConfig, 0o755))

	for _, rec := range []channel.Settings{a, b} {
		require.NoError(t, os.Remove(filepath.Join(f.confDir, rec.EngineService+".conf")))
		require.NoError(t, os.Remove(rec.PlayoutConfig))
	}

	err = f.prov.Reconcile(ctx)
	require.ErrorIs(t, err, channel.ErrPathConflict)
	require.Contains(t, err.Error(), "channel-3.yml")

	for _, rec := range []channel.Settings{a, b, orphan} {
		ref, err := rec.ServiceRef()
		require.NoError(t, err)
		ok, err := f.units.Exists(ref)
		require.NoError(t, err)
		require.True(t, ok, rec.EngineService)
	}
	for _, rec := range []channel.Settings{a, b} {
		data, err := os.ReadFile(rec.PlayoutConfig)
		require.NoError(t, err)
		require.Equal(t, baselineYAML, string(data))
	}
}

func TestUpdateWithoutTemplateSkipsUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.prov.Create(ctx, createPatch("engine-002", f.configPath("channel-2.yml")))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(f.confDir, "engine-002.conf")))
	require.NoError(t, os.Remove(filepath.Join(f.confDir, "engine-001.conf")))

	got, err := f.prov.Update(ctx, rec.ID, channel.SettingsPatch{PlayerURL: ptr("http://cdn/2")})
	require.NoError(t, err)
	require.Equal(t, "http://cdn/2", got.PlayerURL)

	stored, err := f.store.GetOne(rec.ID)
	require.NoError(t, err)
	require.Equal(t, "http://cdn/2", stored.PlayerURL)

	ok, err := f.units.Exists(channel.ServiceRef{Base: "engine", Suffix: "002"})
	require.NoError(t, err)
	require.False(t, ok)

	// the config step still runs
	require.NoError(t, os.Remove(rec.PlayoutConfig))
	require.NoError(t, f.prov.Reconcile(ctx))
	data, err := os.ReadFile(rec.PlayoutConfig)
	require.NoError(t, err)
	require.Equal(t, baselineYAML, string(data))

	// create mode still needs the template
	_, err = f.prov.Create(ctx, createPatch("engine-003", f.configPath("channel-3.yml")))
	require.ErrorIs(t, err, channel.ErrTemplateMissing)
}

func TestGateHonoursContext(t *testing.T) {
	var gs gates
	unlock, err := gs.lock(context.Background(), "engine-007")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = gs.lock(ctx, "engine-007")
	require.ErrorIs(t, err, ErrLocked)
	require.ErrorIs(t, err, context.Canceled)

	// other keys are independent
	unlockOther, err := gs.lock(context.Background(), "engine-008")
	require.NoError(t, err)
	unlockOther()

	unlock()
	unlock, err = gs.lock(context.Background(), "engine-007")
	require.NoError(t, err)
	unlock()
}

func TestGatesDroppedWhenIdle(t *testing.T) {
	var gs gates
	unlock, err := gs.lock(context.Background(), "engine-007")
	require.NoError(t, err)
	require.Equal(t, 1, gs.len())

	waiting := make(chan func())
	go func() {
		u, err := gs.lock(context.Background(), "engine-007")
		if err != nil {
			u = nil
		}
		waiting <- u
	}()

	// a failed attempt leaves the held gate in place
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = gs.lock(ctx, "engine-007")
	require.ErrorIs(t, err, ErrLocked)
	require.Equal(t, 1, gs.len())

	unlock()
	next := <-waiting
	require.NotNil(t, next)
	require.Equal(t, 1, gs.len())
	next()
	require.Zero(t, gs.len())

	for i := range 100 {
		u, err := gs.lock(context.Background(), fmt.Sprintf("engine-%03d", i))
		require.NoError(t, err)
		u()
	}
	require.Zero(t, gs.len())
}
