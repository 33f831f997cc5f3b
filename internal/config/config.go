// Package config loads and validates the CCT daemon's bootstrap
// configuration: the device fleet, transports, store paths, privilege
// ladder, and observability bind address.
//
// This is the static, load-once-and-SIGHUP-reload configuration the
// daemon starts from, distinct from internal/configtree's live, mutable
// runtime document store (samples, users, instrument state) that changes
// continuously while the daemon runs.
//
// Config file: /etc/cctd/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - cmd/cctd listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - Device fleet, transport addresses, and store paths require a
//     restart to take effect. The re-read log level and observability
//     settings are copied into the running daemon's config, but the
//     logger and the metrics server keep the values they started with.
//   - If the new config fails Validate, the old config remains active and
//     an error is logged. The daemon does not crash on an invalid reload.
//
// Validation:
//   - SchemaVersion must be "1".
//   - Every device name must be unique and non-empty.
//   - A motor device must declare at least one axis.
//   - Transport addresses must be non-empty for network/serial devices.
//   - Invalid config on startup: cctd refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root bootstrap configuration for cctd.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	Daemon        DaemonConfig        `yaml:"daemon"`
	Store         StoreConfig         `yaml:"store"`
	Observability ObservabilityConfig `yaml:"observability"`
	Privileges    []PrivilegeConfig   `yaml:"privileges"`
	Devices       []DeviceConfig      `yaml:"devices"`
	Beamstop      BeamstopConfig      `yaml:"beamstop"`
	SampleMotors  SampleMotorsConfig  `yaml:"sample_motors"`
}

// DaemonConfig configures process-level behavior.
type DaemonConfig struct {
	// ScriptDir names a directory for named scripts; no package in this
	// module reads it.
	ScriptDir string `yaml:"script_dir"`
	// EventLoopInterval is how often the device event dispatcher pumps
	// queued front-end events (internal/device.EventLoop).
	EventLoopInterval time.Duration `yaml:"event_loop_interval"`
	// LogLevel is one of debug, info, warn, error. Read when the logger is
	// built at startup; a SIGHUP reload does not change the running logger.
	LogLevel string `yaml:"log_level"`
}

// StoreConfig names the on-disk locations the persistence layer uses.
type StoreConfig struct {
	// UserDBPath is the bbolt file backing internal/store.UserProjectDB.
	UserDBPath string `yaml:"user_db_path"`
	// ConfigTreePath is where internal/configtree.Tree autosaves the live
	// runtime document store (samples, instrument state).
	ConfigTreePath string `yaml:"config_tree_path"`
	// AutosaveInterval is how often the config tree debounces its save.
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
	// ScanIndexPath is the sqlite database internal/orchestrator uses to
	// record each finished scan (motor, command, comment, counting time,
	// start time, success) and its per-step readings.
	ScanIndexPath string `yaml:"scan_index_path"`
}

// ObservabilityConfig configures the daemon's metrics and tracing surface.
type ObservabilityConfig struct {
	// MetricsAddr is the bind address for the Prometheus /metrics
	// endpoint, e.g. ":9100". Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
	// TracingEndpoint names an OTLP collector address. The daemon does not
	// read it and sets up no span exporter, so orchestrator spans are not
	// exported whatever its value.
	TracingEndpoint string `yaml:"tracing_endpoint"`
}

// PrivilegeConfig names one rung of the privilege ladder. The ladder itself
// is compiled into internal/auth; at startup the daemon only checks that
// each configured name is a level auth already knows.
type PrivilegeConfig struct {
	Name    string `yaml:"name"`
	Ordinal int    `yaml:"ordinal"`
}

// TransportConfig names how a device's backend reaches its hardware.
type TransportConfig struct {
	// Type is one of "tcp", "serial", "modbus".
	Type string `yaml:"type"`
	// Address is a host:port for tcp/modbus, or a device path for serial.
	Address string `yaml:"address"`
	// Baud is the serial line rate; ignored for tcp/modbus.
	Baud uint32 `yaml:"baud,omitempty"`
	// UnitID is the Modbus slave/unit identifier; ignored otherwise.
	UnitID byte `yaml:"unit_id,omitempty"`
}

// MotorAxisConfig describes one axis of a motor controller: its
// script-visible name and the electrical/mechanical parameters
// motor.UnitConverter needs to translate between raw and physical units.
type MotorAxisConfig struct {
	Name                string  `yaml:"name"`
	TopRMSCurrent       float64 `yaml:"top_rms_current_ma"`
	FullStepSize        float64 `yaml:"full_step_size"`
	ClockFrequency      float64 `yaml:"clock_frequency_hz"`
	PulseDivisor        int     `yaml:"pulse_divisor"`
	RampDivisor         int     `yaml:"ramp_divisor"`
	MicrostepResolution int     `yaml:"microstep_resolution"`
}

// MotorConfig configures a motor.Backend instance: one TMCM controller
// driving one or more axes.
type MotorConfig struct {
	ControllerAddress  byte              `yaml:"controller_address"`
	Axes               []MotorAxisConfig `yaml:"axes"`
	SoftLimitPath      string            `yaml:"soft_limit_path"`
	MotionPollInterval time.Duration     `yaml:"motion_poll_interval"`
}

// DeviceConfig is one entry in the configured fleet. Kind selects which
// backend constructor applies; Motor is only set when Kind is "motor".
type DeviceConfig struct {
	Name               string          `yaml:"name"`
	Kind               string          `yaml:"kind"` // motor, detector, source, vacuum, thermostat, pump
	Transport          TransportConfig `yaml:"transport"`
	NormalPollInterval time.Duration   `yaml:"poll_interval"`
	Motor              *MotorConfig    `yaml:"motor,omitempty"`
}

// BeamstopConfig mirrors internal/command.BeamstopConfig: the two motor
// names and stored in/out positions the beamstop command drives between.
type BeamstopConfig struct {
	MotorX string  `yaml:"motor_x"`
	MotorY string  `yaml:"motor_y"`
	InX    float64 `yaml:"in_x"`
	InY    float64 `yaml:"in_y"`
	OutX   float64 `yaml:"out_x"`
	OutY   float64 `yaml:"out_y"`
}

// SampleMotorsConfig names the motors store.SampleStore drives for
// moveToSample, by the same script-visible names used elsewhere.
type SampleMotorsConfig struct {
	XMotor string `yaml:"x_motor"`
	YMotor string `yaml:"y_motor"`
}

// Defaults returns a Config with every field set to a usable default, the
// way a freshly-initialized instrument's config.yaml would look before an
// instrument scientist fills in real device addresses.
func Defaults() *Config {
	return &Config{
		SchemaVersion: "1",
		Daemon: DaemonConfig{
			ScriptDir:         "/etc/cctd/scripts",
			EventLoopInterval: 20 * time.Millisecond,
			LogLevel:          "info",
		},
		Store: StoreConfig{
			UserDBPath:       "/var/lib/cctd/users.db",
			ConfigTreePath:   "/var/lib/cctd/config-tree.yaml",
			AutosaveInterval: 2 * time.Second,
			ScanIndexPath:    "/var/lib/cctd/scans.db",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9100",
		},
		Privileges: []PrivilegeConfig{
			{Name: "Layman", Ordinal: 0},
			{Name: "Beamstop", Ordinal: 10},
			{Name: "(Dis)connect Devices", Ordinal: 15},
			{Name: "Pinhole", Ordinal: 20},
			{Name: "Manage Projects", Ordinal: 30},
			{Name: "Calibrate Motors", Ordinal: 40},
			{Name: "Configure Motors", Ordinal: 50},
			{Name: "Configure Devices", Ordinal: 55},
			{Name: "Manage Users", Ordinal: 60},
			{Name: "Superuser", Ordinal: 100},
		},
	}
}

// Load reads and parses path, filling unset fields from Defaults, then
// validates the result. Startup callers should treat a non-nil error as
// fatal; reload callers should log it and keep the previous Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces the structural invariants Load and hot-reload both
// require before a Config is accepted.
func (c *Config) Validate() error {
	if c.SchemaVersion != "1" {
		return fmt.Errorf("unsupported schema_version %q, want \"1\"", c.SchemaVersion)
	}
	seen := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("device entry with empty name")
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate device name %q", d.Name)
		}
		seen[d.Name] = true
		switch d.Kind {
		case "motor":
			if d.Motor == nil || len(d.Motor.Axes) == 0 {
				return fmt.Errorf("device %q: kind motor requires at least one axis", d.Name)
			}
			for _, a := range d.Motor.Axes {
				if a.Name == "" {
					return fmt.Errorf("device %q: axis with empty name", d.Name)
				}
			}
		case "detector", "source", "vacuum", "thermostat", "pump":
			// no kind-specific required fields beyond transport below
		default:
			return fmt.Errorf("device %q: unknown kind %q", d.Name, d.Kind)
		}
		switch d.Transport.Type {
		case "tcp", "modbus":
			if d.Transport.Address == "" {
				return fmt.Errorf("device %q: transport %s requires an address", d.Name, d.Transport.Type)
			}
		case "serial":
			if d.Transport.Address == "" {
				return fmt.Errorf("device %q: serial transport requires a device path", d.Name)
			}
		default:
			return fmt.Errorf("device %q: unknown transport type %q", d.Name, d.Transport.Type)
		}
	}
	for _, p := range c.Privileges {
		if p.Name == "" {
			return fmt.Errorf("privilege entry with empty name")
		}
	}
	return nil
}

// MotorRef names the device and axis a configured motor axis resolves to.
type MotorRef struct {
	Device string
	Axis   int
}

// MotorRefs resolves every configured motor axis name to the (device,
// axis) pair command.Env.Motors and store.SampleStoreConfig need, in the
// order axes are declared within each motor device.
func (c *Config) MotorRefs() map[string]MotorRef {
	out := make(map[string]MotorRef)
	for _, d := range c.Devices {
		if d.Kind != "motor" || d.Motor == nil {
			continue
		}
		for axis, a := range d.Motor.Axes {
			out[a.Name] = MotorRef{Device: d.Name, Axis: axis}
		}
	}
	return out
}
