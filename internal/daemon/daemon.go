package daemon

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"

	"github.com/awacha/cctd/internal/auth"
	"github.com/awacha/cctd/internal/command"
	"github.com/awacha/cctd/internal/config"
	"github.com/awacha/cctd/internal/configtree"
	"github.com/awacha/cctd/internal/device"
	"github.com/awacha/cctd/internal/devicemanager"
	"github.com/awacha/cctd/internal/devproto"
	"github.com/awacha/cctd/internal/orchestrator"
	"github.com/awacha/cctd/internal/store"
	"github.com/awacha/cctd/internal/variable"
)

// Daemon owns the wiring of one running instrument: the device fleet,
// the sample/user stores, the command interpreter's environment, the
// orchestrators, and the metrics server, plus their shared shutdown path.
type Daemon struct {
	log *zap.Logger
	cfg *config.Config

	mu sync.Mutex

	userdb   *store.UserProjectDB
	tree     *configtree.Tree
	devices  *devicemanager.Manager
	loop     *device.EventLoop
	samples  *store.SampleStore
	registry *command.Registry
	env      *command.Env
	scan     *orchestrator.Scan
	tx       *orchestrator.Transmission
	scanDB   *sql.DB

	metricsSrv *http.Server
	registryM  *prometheus.Registry

	cancel context.CancelFunc
}

// New builds a Daemon from cfg but does not yet start the device fleet;
// call Run to bring it up.
func New(cfg *config.Config, log *zap.Logger) (*Daemon, error) {
	for _, p := range cfg.Privileges {
		if _, err := auth.ByName(p.Name); err != nil {
			return nil, fmt.Errorf("daemon: config privilege %q is not a recognized privilege level: %w", p.Name, err)
		}
	}

	userdb, err := store.OpenUserProjectDB(cfg.Store.UserDBPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: open user/project database: %w", err)
	}

	tree := configtree.New(log.Named("configtree"), cfg.Store.AutosaveInterval)
	if err := tree.Load(cfg.Store.ConfigTreePath); err != nil {
		log.Warn("config tree load failed, starting from an empty tree", zap.Error(err))
	}

	var scanDB *sql.DB
	if cfg.Store.ScanIndexPath != "" {
		scanDB, err = sql.Open("sqlite3", cfg.Store.ScanIndexPath)
		if err != nil {
			userdb.Close()
			return nil, fmt.Errorf("daemon: open scan index: %w", err)
		}
	}

	evloop := device.NewEventLoop(nopObserver{}, cfg.Daemon.EventLoopInterval)
	devices := devicemanager.New(evloop, log)

	motorRefs := make(map[string]store.MotorRef)
	for name, ref := range cfg.MotorRefs() {
		motorRefs[name] = store.MotorRef{Device: ref.Device, Axis: ref.Axis}
	}

	samples := store.New(tree, devices, store.SampleStoreConfig{
		XMotor:  motorRefs[cfg.SampleMotors.XMotor],
		YMotor:  motorRefs[cfg.SampleMotors.YMotor],
		CfgRoot: configtree.Key{"services", "samplestore"},
	}, log.Named("samplestore"))

	scanCounters := []orchestrator.Counter{{
		Device: "detector",
		Name:   variable.Name{Base: "imagesreceived", Axis: -1},
		Label:  "intensity",
	}}
	scanOrch, err := orchestrator.NewScan(devices, motorRefs, scanCounters, scanDB, log)
	if err != nil {
		return nil, fmt.Errorf("daemon: build scan orchestrator: %w", err)
	}

	beamstop := orchestrator.BeamstopMotors{
		X:    motorRefs[cfg.Beamstop.MotorX],
		Y:    motorRefs[cfg.Beamstop.MotorY],
		InX:  cfg.Beamstop.InX,
		InY:  cfg.Beamstop.InY,
		OutX: cfg.Beamstop.OutX,
		OutY: cfg.Beamstop.OutY,
	}
	txOrch := orchestrator.NewTransmission(devices, beamstop, samples, orchestrator.Counter{
		Device: "detector",
		Name:   variable.Name{Base: "imagesreceived", Axis: -1},
		Label:  "intensity",
	}, log)

	env := &command.Env{
		Devices: devices,
		Motors:  motorRefs,
		Samples: samples,
		Flags:   command.NewFlagSet(),
		Vars:    command.NewNamespace(),
		Scan:    scanOrch,
		Beamstop: command.BeamstopConfig{
			MotorX: cfg.Beamstop.MotorX,
			MotorY: cfg.Beamstop.MotorY,
			InX:    cfg.Beamstop.InX,
			InY:    cfg.Beamstop.InY,
			OutX:   cfg.Beamstop.OutX,
			OutY:   cfg.Beamstop.OutY,
		},
		Log: log,
	}

	return &Daemon{
		log:       log,
		cfg:       cfg,
		userdb:    userdb,
		tree:      tree,
		devices:   devices,
		loop:      evloop,
		samples:   samples,
		registry:  command.New(),
		env:       env,
		scan:      scanOrch,
		tx:        txOrch,
		scanDB:    scanDB,
		registryM: prometheus.NewRegistry(),
	}, nil
}

// nopObserver satisfies device.Observer for the event loop; cctd logs
// device activity through each backend's own LogLine/Interpret path
// rather than a separate UI notification channel.
type nopObserver struct{}

func (nopObserver) VariableChanged(dev string, name variable.Name, value any) {}
func (nopObserver) VariableError(dev string, name variable.Name, err error)   {}
func (nopObserver) StateChanged(dev string, state device.State)              {}
func (nopObserver) Log(dev string, rec devproto.LogRecord)                   {}
func (nopObserver) Died(dev string, err error)                               {}

// Run starts the device fleet, the periodic event-loop pump and
// orchestrator tick, and the metrics server, and blocks until ctx is
// cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	for _, dc := range d.cfg.Devices {
		if err := buildDevice(ctx, dc, d.devices, d.log); err != nil {
			cancel()
			return fmt.Errorf("daemon: %w", err)
		}
	}

	if d.cfg.Observability.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(d.registryM, promhttp.HandlerOpts{}))
		d.metricsSrv = &http.Server{Addr: d.cfg.Observability.MetricsAddr, Handler: mux}
		go func() {
			if err := d.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(d.cfg.Daemon.EventLoopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			d.loop.PumpOnce()
			d.scan.Tick(now)
			d.tx.Tick()
		}
	}
}

// Reload re-reads path and copies its log level and observability
// settings into the daemon's config; the running logger and metrics
// server are not rebuilt. The device fleet, store paths, and privilege
// ladder require a process restart.
func (d *Daemon) Reload(path string) error {
	newCfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("daemon: reload: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Daemon.LogLevel = newCfg.Daemon.LogLevel
	d.cfg.Observability = newCfg.Observability
	return nil
}

// Shutdown disconnects every device, flushes the config tree, and closes
// the daemon's stores. Run's context must already be cancelled.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	d.devices.DisconnectAll()
	if d.metricsSrv != nil {
		_ = d.metricsSrv.Shutdown(ctx)
	}
	if err := d.tree.Save(d.cfg.Store.ConfigTreePath); err != nil {
		d.log.Warn("failed to save config tree on shutdown", zap.Error(err))
	}
	if d.scanDB != nil {
		_ = d.scanDB.Close()
	}
	return d.userdb.Close()
}
