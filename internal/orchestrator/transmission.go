package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/devicemanager"
	"github.com/awacha/cctd/internal/store"
	"github.com/awacha/cctd/internal/variable"
)

// BeamstopMotors names the two axes the Transmission orchestrator drives
// in and out of the beam, resolved once at construction the same way
// internal/command.BeamstopConfig is.
type BeamstopMotors struct {
	X, Y                 store.MotorRef
	InX, InY, OutX, OutY float64
}

// exposureKind is one of the three frames a transmission point takes.
type exposureKind string

const (
	exposeEmpty  exposureKind = "empty"
	exposeSample exposureKind = "sample"
	exposeDark   exposureKind = "dark"
)

type txStepKind int

const (
	stepBeamstopOut txStepKind = iota
	stepShutterOpen
	stepShutterClose
	stepExpose
	stepBeamstopIn
)

type txStep struct {
	kind    txStepKind
	expose  exposureKind
	issued  bool
}

type txRun struct {
	span      trace.Span
	titles    []string
	emptyName string
	exptime   float64
	nimages   int
	delay     float64

	sampleIdx int
	steps     []txStep
	stepIdx   int
	readings  map[exposureKind]float64

	done    bool
	success bool
	msg     string
}

// Transmission is the Transmission orchestrator: it measures
// T = (I_sample - I_dark) / (I_empty - I_dark) for each requested sample,
// bracketing each measurement with a beamstop-out/shutter-open...
// shutter-close/beamstop-in sequence.
type Transmission struct {
	mu       sync.Mutex
	devices  *devicemanager.Manager
	beamstop BeamstopMotors
	samples  *store.SampleStore
	// Intensity names the device and variable read as the frame's
	// intensity after each exposure (e.g. a detector or source counter).
	Intensity Counter
	// Order is the sequence of frames taken per sample; defaults to
	// empty, sample, dark if nil.
	Order []exposureKind

	log    *zap.Logger
	tracer trace.Tracer

	current *txRun

	OnStarted       func()
	OnSampleStarted func(name string, i, n int)
	OnProgress      func(start, end, current float64, msg string)
	OnFinished      func(success bool, msg string)
}

// NewTransmission constructs a Transmission orchestrator.
func NewTransmission(devices *devicemanager.Manager, beamstop BeamstopMotors, samples *store.SampleStore, intensity Counter, log *zap.Logger) *Transmission {
	return &Transmission{
		devices:   devices,
		beamstop:  beamstop,
		samples:   samples,
		Intensity: intensity,
		log:       log.Named("orchestrator.transmission"),
		tracer:    otel.Tracer("github.com/awacha/cctd/internal/orchestrator"),
	}
}

func (t *Transmission) order() []exposureKind {
	if len(t.Order) > 0 {
		return t.Order
	}
	return []exposureKind{exposeEmpty, exposeSample, exposeDark}
}

// nearestNeighborOrder approximates a travelling-salesman minimization
// over sample-stage distance: starting from the
// empty beam position, repeatedly visit the nearest not-yet-visited
// sample. This is a greedy heuristic, not an optimal tour, which is the
// standard trade-off for an interactive instrument-control ordering pass.
func nearestNeighborOrder(samples []*store.Sample, empty *store.Sample) []*store.Sample {
	remaining := append([]*store.Sample(nil), samples...)
	ordered := make([]*store.Sample, 0, len(samples))
	cur := empty
	for len(remaining) > 0 {
		bestIdx, bestDist := -1, math.Inf(1)
		for i, s := range remaining {
			dx := s.PositionX.Value - cur.PositionX.Value
			dy := s.PositionY.Value - cur.PositionY.Value
			d := dx*dx + dy*dy
			if d < bestDist {
				bestDist, bestIdx = d, i
			}
		}
		cur = remaining[bestIdx]
		ordered = append(ordered, cur)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return ordered
}

// titleOrder sorts samples lexicographically by title, the alternative to
// nearestNeighborOrder selectable by RunTransmission's byTSP flag.
func titleOrder(samples []*store.Sample) []*store.Sample {
	ordered := append([]*store.Sample(nil), samples...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Title < ordered[j].Title })
	return ordered
}

// RunTransmission starts a transmission measurement over titles (ordered
// by title or, if byTSP, by nearestNeighborOrder against emptyTitle's
// stage position). lazy skips any sample whose transmission was already
// measured (FloatParam.Err != 0, the marker a finished measurement sets).
func (t *Transmission) RunTransmission(titles []string, emptyTitle string, exptime float64, nimages int, delay float64, lazy, byTSP bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		return fmt.Errorf("orchestrator: a transmission measurement is already running")
	}
	empty, err := t.samples.Get(emptyTitle)
	if err != nil {
		return fmt.Errorf("orchestrator: empty-beam sample: %w", err)
	}

	samples := make([]*store.Sample, 0, len(titles))
	for _, title := range titles {
		s, err := t.samples.Get(title)
		if err != nil {
			return fmt.Errorf("orchestrator: sample %q: %w", title, err)
		}
		if lazy && s.Transmission.Err != 0 {
			continue
		}
		samples = append(samples, s)
	}
	if len(samples) == 0 {
		return fmt.Errorf("orchestrator: no samples left to measure after lazy filtering")
	}
	if byTSP {
		samples = nearestNeighborOrder(samples, empty)
	} else {
		samples = titleOrder(samples)
	}

	orderedTitles := make([]string, len(samples))
	for i, s := range samples {
		orderedTitles[i] = s.Title
	}

	_, span := t.tracer.Start(context.Background(), "orchestrator.transmission",
		trace.WithAttributes(attribute.Int("transmission.samples", len(samples))))

	run := &txRun{
		span:      span,
		titles:    orderedTitles,
		emptyName: emptyTitle,
		exptime:   exptime,
		nimages:   nimages,
		delay:     delay,
	}
	t.current = run
	t.startSample(run)
	if t.OnStarted != nil {
		t.OnStarted()
	}
	return nil
}

func (t *Transmission) startSample(run *txRun) {
	run.steps = append([]txStep{{kind: stepBeamstopOut}, {kind: stepShutterOpen}})
	for _, k := range t.order() {
		if k == exposeDark {
			run.steps = append(run.steps, txStep{kind: stepShutterClose})
			run.steps = append(run.steps, txStep{kind: stepExpose, expose: exposeDark})
			run.steps = append(run.steps, txStep{kind: stepShutterOpen})
		} else {
			run.steps = append(run.steps, txStep{kind: stepExpose, expose: k})
		}
	}
	run.steps = append(run.steps, txStep{kind: stepShutterClose}, txStep{kind: stepBeamstopIn})
	run.stepIdx = 0
	run.readings = make(map[exposureKind]float64, 3)
	if t.OnSampleStarted != nil {
		t.OnSampleStarted(run.titles[run.sampleIdx], run.sampleIdx+1, len(run.titles))
	}
}

// Stop cancels the in-progress run, restoring the beamstop/shutter to a
// safe state.
func (t *Transmission) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	run := t.current
	if run == nil {
		return
	}
	t.driveShutter(false)
	t.driveBeamstopIn()
	t.finish(run, false, "stopped on user request")
}

// Tick advances the in-progress run's state machine; called periodically
// by cmd/cctd's main loop.
func (t *Transmission) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	run := t.current
	if run == nil {
		return
	}
	if run.stepIdx >= len(run.steps) {
		t.finishSamplePoint(run)
		return
	}
	step := &run.steps[run.stepIdx]
	switch step.kind {
	case stepBeamstopOut:
		if !step.issued {
			t.driveBeamstopOut()
			step.issued = true
			return
		}
		if t.beamstopSettled(t.beamstop.OutX, t.beamstop.OutY) {
			run.stepIdx++
		}
	case stepBeamstopIn:
		if !step.issued {
			t.driveBeamstopIn()
			step.issued = true
			return
		}
		if t.beamstopSettled(t.beamstop.InX, t.beamstop.InY) {
			run.stepIdx++
		}
	case stepShutterOpen:
		if !step.issued {
			t.driveShutter(true)
			step.issued = true
			return
		}
		if t.shutterSettled("Open") {
			run.stepIdx++
		}
	case stepShutterClose:
		if !step.issued {
			t.driveShutter(false)
			step.issued = true
			return
		}
		if t.shutterSettled("Closed") {
			run.stepIdx++
		}
	case stepExpose:
		if !step.issued {
			t.startExpose(run)
			step.issued = true
			return
		}
		if done, intensity := t.exposeSettled(); done {
			run.readings[step.expose] = intensity
			run.stepIdx++
		}
	}
}

func (t *Transmission) finishSamplePoint(run *txRun) {
	sample, err := t.samples.Get(run.titles[run.sampleIdx])
	if err != nil {
		t.finish(run, false, err.Error())
		return
	}
	ie, is, id := run.readings[exposeEmpty], run.readings[exposeSample], run.readings[exposeDark]
	denom := ie - id
	var transmission float64
	if denom != 0 {
		transmission = (is - id) / denom
	}
	if _, err := t.samples.UpdateSample(sample.Title, "transmission", store.FloatParam{Value: transmission, Err: 1e-6}); err != nil {
		t.log.Warn("failed to record transmission", zap.String("sample", sample.Title), zap.Error(err))
	}
	if t.OnProgress != nil {
		t.OnProgress(0, float64(len(run.titles)), float64(run.sampleIdx+1),
			fmt.Sprintf("%s: T=%.4g", sample.Title, transmission))
	}

	run.sampleIdx++
	if run.sampleIdx >= len(run.titles) {
		t.finish(run, true, "transmission measurement finished")
		return
	}
	t.startSample(run)
}

func (t *Transmission) finish(run *txRun, success bool, msg string) {
	run.done = true
	run.success = success
	run.msg = msg
	run.span.SetAttributes(attribute.Bool("transmission.success", success))
	run.span.End()
	if t.current == run {
		t.current = nil
	}
	if t.OnFinished != nil {
		t.OnFinished(success, msg)
	}
	t.log.Info("transmission finished", zap.Bool("success", success), zap.String("message", msg))
}

func (t *Transmission) driveBeamstopOut() {
	if f, err := t.devices.Get(t.beamstop.X.Device); err == nil {
		f.IssueCommand("moveto", t.beamstop.X.Axis, t.beamstop.OutX)
	}
	if f, err := t.devices.Get(t.beamstop.Y.Device); err == nil {
		f.IssueCommand("moveto", t.beamstop.Y.Axis, t.beamstop.OutY)
	}
}

func (t *Transmission) driveBeamstopIn() {
	if f, err := t.devices.Get(t.beamstop.X.Device); err == nil {
		f.IssueCommand("moveto", t.beamstop.X.Axis, t.beamstop.InX)
	}
	if f, err := t.devices.Get(t.beamstop.Y.Device); err == nil {
		f.IssueCommand("moveto", t.beamstop.Y.Axis, t.beamstop.InY)
	}
}

func (t *Transmission) beamstopSettled(_, _ float64) bool {
	fx, err := t.devices.Get(t.beamstop.X.Device)
	if err != nil {
		return false
	}
	fy, err := t.devices.Get(t.beamstop.Y.Device)
	if err != nil {
		return false
	}
	mx, _ := fx.Get(variable.Name{Base: "moving", Axis: t.beamstop.X.Axis})
	my, _ := fy.Get(variable.Name{Base: "moving", Axis: t.beamstop.Y.Axis})
	movingX, _ := mx.(bool)
	movingY, _ := my.(bool)
	return !movingX && !movingY
}

func (t *Transmission) driveShutter(open bool) {
	f, err := t.devices.Source()
	if err != nil {
		return
	}
	f.IssueCommand("moveShutter", open)
}

func (t *Transmission) shutterSettled(want string) bool {
	f, err := t.devices.Source()
	if err != nil {
		return false
	}
	v, _ := f.Get(variable.Name{Base: "shutter", Axis: -1})
	open, ok := v.(bool)
	return ok && open == (want == "Open")
}

func (t *Transmission) startExpose(run *txRun) {
	det, err := t.devices.Get("detector")
	if err != nil {
		return
	}
	prefix := fmt.Sprintf("tx_%s", run.titles[run.sampleIdx])
	if run.nimages > 1 {
		det.IssueCommand("exposemulti", prefix, run.exptime, run.nimages, run.delay+run.exptime)
	} else {
		det.IssueCommand("expose", prefix, run.exptime)
	}
}

func (t *Transmission) exposeSettled() (bool, float64) {
	det, err := t.devices.Get("detector")
	if err != nil {
		return true, 0
	}
	status, _ := det.Get(variable.Name{Base: "__status__", Axis: -1})
	if status != "Idle" {
		return false, 0
	}
	src, err := t.devices.Get(t.Intensity.Device)
	if err != nil {
		return true, 0
	}
	v, _ := src.Get(t.Intensity.Name)
	switch n := v.(type) {
	case float64:
		return true, n
	case int:
		return true, float64(n)
	default:
		return true, 0
	}
}
