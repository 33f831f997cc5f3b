package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/devicemanager"
	"github.com/awacha/cctd/internal/store"
	"github.com/awacha/cctd/internal/variable"
)

// Counter names one additional device variable recorded at every scan
// point alongside the scanned motor's position, per the original's
// Scan(motorname, counters, ...) record layout.
type Counter struct {
	Device string
	Name   variable.Name
	Label  string // column label; defaults to Name.Base if empty
}

type scanPhase int

const (
	phaseMoving scanPhase = iota
	phaseExposing
)

// StepRecord is one point of a finished scan: the scanned motor's value
// and every configured counter's reading at that point.
type StepRecord struct {
	Index      int
	MotorValue float64
	Readings   map[string]float64
}

type scanRun struct {
	id           int
	motorName    string
	ref          store.MotorRef
	positions    []float64
	countingTime float64
	comment      string
	command      string

	stepIndex int
	phase     scanPhase
	records   []StepRecord

	done    bool
	success bool
	failMsg string

	startedAt time.Time
	span      trace.Span
}

// Scan is the Scan orchestrator: it implements
// internal/command.ScanRunner, driving a named motor through N equally
// spaced points, exposing the detector at each, and persisting a scan
// record indexed by a monotonic id.
type Scan struct {
	mu      sync.Mutex
	devices *devicemanager.Manager
	motors  map[string]store.MotorRef
	counter []Counter
	log     *zap.Logger
	tracer  trace.Tracer
	db      *sql.DB

	nextID  int
	current *scanRun
	history map[int]*scanRun
}

// NewScan constructs a Scan orchestrator. db, if non-nil, is used to
// persist finished scan records (internal/config.StoreConfig.ScanIndexPath,
// opened with the sqlite3 driver); a nil db disables persistence, useful
// for tests.
func NewScan(devices *devicemanager.Manager, motors map[string]store.MotorRef, counters []Counter, db *sql.DB, log *zap.Logger) (*Scan, error) {
	if db != nil {
		if _, err := db.Exec(scanSchema); err != nil {
			return nil, fmt.Errorf("orchestrator: create scan schema: %w", err)
		}
	}
	return &Scan{
		devices: devices,
		motors:  motors,
		counter: counters,
		log:     log.Named("orchestrator.scan"),
		tracer:  otel.Tracer("github.com/awacha/cctd/internal/orchestrator"),
		db:      db,
		history: make(map[int]*scanRun),
	}, nil
}

const scanSchema = `
CREATE TABLE IF NOT EXISTS scans (
	id INTEGER PRIMARY KEY,
	motor TEXT NOT NULL,
	command TEXT NOT NULL,
	comment TEXT NOT NULL,
	counting_time REAL NOT NULL,
	started_at TEXT NOT NULL,
	success INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS scan_steps (
	scan_id INTEGER NOT NULL,
	idx INTEGER NOT NULL,
	motor_value REAL NOT NULL,
	readings TEXT NOT NULL
);
`

// StartScan implements command.ScanRunner.
func (s *Scan) StartScan(motorName string, rangeMin, rangeMax float64, steps int, countingTime float64, comment string, relative bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return 0, fmt.Errorf("orchestrator: a scan is already running")
	}
	ref, ok := s.motors[motorName]
	if !ok {
		return 0, fmt.Errorf("orchestrator: unknown motor %q", motorName)
	}
	if steps < 2 {
		return 0, fmt.Errorf("orchestrator: scan requires at least 2 steps, got %d", steps)
	}
	f, err := s.devices.Get(ref.Device)
	if err != nil {
		return 0, err
	}

	start, end := rangeMin, rangeMax
	if relative {
		posAny, ok := f.Get(variable.Name{Base: "actualposition", Axis: ref.Axis})
		if !ok {
			return 0, fmt.Errorf("orchestrator: motor %q has no known position yet", motorName)
		}
		pos, _ := posAny.(float64)
		start, end = pos+rangeMin, pos+rangeMax
	}

	positions := make([]float64, steps)
	step := (end - start) / float64(steps-1)
	for i := range positions {
		positions[i] = start + float64(i)*step
	}

	s.nextID++
	id := s.nextID
	_, span := s.tracer.Start(context.Background(), "orchestrator.scan",
		trace.WithAttributes(
			attribute.Int("scan.id", id),
			attribute.String("scan.motor", motorName),
			attribute.Int("scan.steps", steps),
		))

	run := &scanRun{
		id:           id,
		motorName:    motorName,
		ref:          ref,
		positions:    positions,
		countingTime: countingTime,
		comment:      comment,
		command:      fmt.Sprintf("scan(%s,%g,%g,%d,%g,%q)", motorName, rangeMin, rangeMax, steps, countingTime, comment),
		startedAt:    time.Now(),
		span:         span,
	}
	s.current = run
	s.history[id] = run

	f.IssueCommand("moveto", ref.Axis, positions[0])
	s.log.Info("scan started", zap.Int("id", id), zap.String("motor", motorName), zap.Int("steps", steps))
	return id, nil
}

// StopScan cancels the in-progress scan, if any.
func (s *Scan) StopScan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	run := s.current
	if f, err := s.devices.Get(run.ref.Device); err == nil {
		f.IssueCommand("stop")
		f.IssueCommand("stopexposure")
	}
	s.finishLocked(run, false, "stopped on user request")
}

// ScanStatus implements command.ScanRunner.
func (s *Scan) ScanStatus(id int) (done bool, success bool, current, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.history[id]
	if !ok {
		return true, false, 0, 0
	}
	return run.done, run.success, run.stepIndex, len(run.positions)
}

// Tick advances the in-progress scan's state machine; called periodically
// by cmd/cctd's main loop, never blocking.
func (s *Scan) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.current
	if run == nil {
		return
	}
	f, err := s.devices.Get(run.ref.Device)
	if err != nil {
		s.finishLocked(run, false, err.Error())
		return
	}

	switch run.phase {
	case phaseMoving:
		movingAny, _ := f.Get(variable.Name{Base: "moving", Axis: run.ref.Axis})
		if moving, _ := movingAny.(bool); moving {
			return
		}
		okAny, _ := f.Get(variable.Name{Base: "lastmovewassuccessful", Axis: run.ref.Axis})
		if ok, _ := okAny.(bool); !ok {
			s.finishLocked(run, false, "motor move failed during scan")
			return
		}
		det, err := s.devices.Get("detector")
		if err != nil {
			s.finishLocked(run, false, err.Error())
			return
		}
		det.IssueCommand("expose", fmt.Sprintf("scan%04d_%04d", run.id, run.stepIndex), run.countingTime)
		run.phase = phaseExposing
	case phaseExposing:
		det, err := s.devices.Get("detector")
		if err != nil {
			s.finishLocked(run, false, err.Error())
			return
		}
		statusAny, _ := det.Get(variable.Name{Base: "__status__", Axis: -1})
		if statusAny != "Idle" {
			return
		}
		s.recordStep(run, f, det)
		run.stepIndex++
		if run.stepIndex >= len(run.positions) {
			s.finishLocked(run, true, "scan finished")
			return
		}
		f.IssueCommand("moveto", run.ref.Axis, run.positions[run.stepIndex])
		run.phase = phaseMoving
	}
}

func (s *Scan) recordStep(run *scanRun, motorFrontend, detectorFrontend interface {
	Get(variable.Name) (any, bool)
}) {
	posAny, _ := motorFrontend.Get(variable.Name{Base: "actualposition", Axis: run.ref.Axis})
	pos, _ := posAny.(float64)

	readings := make(map[string]float64, len(s.counter))
	for _, c := range s.counter {
		var f interface {
			Get(variable.Name) (any, bool)
		}
		if c.Device == "detector" {
			f = detectorFrontend
		} else if fe, err := s.devices.Get(c.Device); err == nil {
			f = fe
		} else {
			continue
		}
		v, _ := f.Get(c.Name)
		label := c.Label
		if label == "" {
			label = c.Name.Base
		}
		switch n := v.(type) {
		case float64:
			readings[label] = n
		case int:
			readings[label] = float64(n)
		}
	}
	run.records = append(run.records, StepRecord{Index: run.stepIndex, MotorValue: pos, Readings: readings})
}

func (s *Scan) finishLocked(run *scanRun, success bool, msg string) {
	run.done = true
	run.success = success
	run.failMsg = msg
	run.span.SetAttributes(attribute.Bool("scan.success", success))
	run.span.End()
	if s.current == run {
		s.current = nil
	}
	s.persist(run)
	s.log.Info("scan finished", zap.Int("id", run.id), zap.Bool("success", success), zap.String("message", msg))
}

func (s *Scan) persist(run *scanRun) {
	if s.db == nil {
		return
	}
	res, err := s.db.Exec(`INSERT INTO scans(motor, command, comment, counting_time, started_at, success) VALUES (?,?,?,?,?,?)`,
		run.motorName, run.command, run.comment, run.countingTime, run.startedAt.UTC().Format(time.RFC3339), run.success)
	if err != nil {
		s.log.Warn("failed to persist scan record", zap.Error(err))
		return
	}
	scanRowID, _ := res.LastInsertId()
	for _, rec := range run.records {
		readings, _ := json.Marshal(rec.Readings)
		if _, err := s.db.Exec(`INSERT INTO scan_steps(scan_id, idx, motor_value, readings) VALUES (?,?,?,?)`,
			scanRowID, rec.Index, rec.MotorValue, string(readings)); err != nil {
			s.log.Warn("failed to persist scan step", zap.Error(err))
		}
	}
}
