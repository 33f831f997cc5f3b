package store

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/configtree"
	"github.com/awacha/cctd/internal/device"
	"github.com/awacha/cctd/internal/devproto"
	"github.com/awacha/cctd/internal/variable"
)

// MotorRef names the device and axis the sample store drives for
// moveToSample, resolved once at construction (the original looks these
// up via instrument.motors.sample_x/sample_y).
type MotorRef struct {
	Device string
	Axis   int
}

// SampleStoreConfig names the motor(s) moveToSample drives and the config
// tree path the sample list is persisted under.
type SampleStoreConfig struct {
	XMotor   MotorRef
	YMotor   MotorRef
	CfgRoot  configtree.Key // e.g. {"services", "samplestore"}
}

type moveStage int

const (
	stageNone moveStage = iota
	stageX
	stageY
)

type pendingMove struct {
	sample    string
	direction string
	stage     moveStage
}

// SampleStore is the ordered, title-keyed collection of Samples, with a
// sequential X-then-Y moveToSample drive.
type SampleStore struct {
	mu      sync.Mutex
	log     *zap.Logger
	cfg     *configtree.Tree
	devices frontendLookup
	scfg    SampleStoreConfig

	samples []*Sample
	current string // "" means none

	panicking bool
	pending   *pendingMove

	onMovingToSample func(sample, motor string, pos, start, end float64)
	onMovingFinished func(success bool, sample string)
}

// frontendLookup is the one devicemanager.Manager method the sample store
// needs; declared as an interface here to avoid an import cycle between
// internal/store and internal/devicemanager.
type frontendLookup interface {
	Get(name string) (*device.Frontend, error)
}

// New constructs an empty SampleStore. devices resolves motor names to
// front-ends for moveToSample; it may be nil if moveToSample is never
// called (e.g. headless store inspection).
func New(cfg *configtree.Tree, devices frontendLookup, scfg SampleStoreConfig, log *zap.Logger) *SampleStore {
	return &SampleStore{
		log:     log.Named("samplestore"),
		cfg:     cfg,
		devices: devices,
		scfg:    scfg,
	}
}

func (s *SampleStore) indexOf(title string) int {
	for i, sm := range s.samples {
		if sm.Title == title {
			return i
		}
	}
	return -1
}

// Contains reports whether title names a stored sample.
func (s *SampleStore) Contains(title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexOf(title) >= 0
}

// Get returns a copy of the named sample.
func (s *SampleStore) Get(title string) (*Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(title)
	if i < 0 {
		return nil, fmt.Errorf("store: unknown sample %q", title)
	}
	return s.samples[i].clone(), nil
}

// List returns copies of every stored sample, in store order.
func (s *SampleStore) List() []*Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Sample, len(s.samples))
	for i, sm := range s.samples {
		out[i] = sm.clone()
	}
	return out
}

func freeTitle(samples []*Sample, prefix string) string {
	taken := func(t string) bool {
		for _, s := range samples {
			if s.Title == t {
				return true
			}
		}
		return false
	}
	if !taken(prefix) {
		return prefix
	}
	for i := 0; ; i++ {
		candidate := fmt.Sprintf("%s_%d", prefix, i)
		if !taken(candidate) {
			return candidate
		}
	}
}

// AddSample inserts a new sample. If title is empty, a free "Untitled..."
// name is generated. If sample is non-nil its fields seed the new entry
// (its own Title is ignored in favor of title/the generated name).
func (s *SampleStore) AddSample(title string, sample *Sample) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if title != "" && s.indexOf(title) >= 0 {
		return "", fmt.Errorf("store: cannot add sample: another sample named %q already exists", title)
	}
	var ns *Sample
	if sample != nil {
		ns = sample.clone()
	} else {
		ns = newSample("")
	}
	if title != "" {
		ns.Title = title
	} else if ns.Title == "" {
		ns.Title = freeTitle(s.samples, "Untitled")
	}
	s.samples = append(s.samples, ns)
	s.saveLocked()
	return ns.Title, nil
}

// RemoveSample deletes the named sample.
func (s *SampleStore) RemoveSample(title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(title)
	if i < 0 {
		return fmt.Errorf("store: unknown sample %q", title)
	}
	s.samples = append(s.samples[:i], s.samples[i+1:]...)
	if s.current == title {
		s.current = ""
	}
	s.saveLocked()
	return nil
}

// UpdateSample sets attribute on the named sample, rejecting lock
// violations and (for "title") collisions with an existing sample.
// Returns false (no error) if value equals the current one, mirroring
// the original's no-op-on-unchanged-value short circuit.
func (s *SampleStore) UpdateSample(title, attribute string, value any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(title)
	if i < 0 {
		return false, fmt.Errorf("store: unknown sample %q", title)
	}
	sample := s.samples[i]
	if sample.IsLocked(attribute) {
		return false, fmt.Errorf("store: attribute %q of sample %q is locked", attribute, title)
	}
	current, err := sample.attr(attribute)
	if err != nil {
		return false, err
	}
	if fmt.Sprint(current) == fmt.Sprint(value) {
		return false, nil
	}
	if attribute == "title" {
		newTitle, _ := value.(string)
		if s.indexOf(newTitle) >= 0 {
			return false, fmt.Errorf("store: cannot rename sample %q to %q: title already exists", title, newTitle)
		}
	}
	if err := sample.setAttr(attribute, value); err != nil {
		return false, err
	}
	if s.current == title && attribute == "title" {
		s.current, _ = value.(string)
	}
	s.saveLocked()
	return true, nil
}

// SetLock toggles the lock state of attribute on the named sample.
func (s *SampleStore) SetLock(title, attribute string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(title)
	if i < 0 {
		return fmt.Errorf("store: unknown sample %q", title)
	}
	s.samples[i].Locked[attribute] = locked
	s.saveLocked()
	return nil
}

// SetCurrentSample sets (or, with title="", clears) the current sample.
func (s *SampleStore) SetCurrentSample(title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if title != "" && s.indexOf(title) < 0 {
		return fmt.Errorf("store: unknown sample %q", title)
	}
	s.current = title
	s.saveLocked()
	return nil
}

// CurrentSample returns the current sample, or nil if none is selected.
func (s *SampleStore) CurrentSample() *Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return nil
	}
	i := s.indexOf(s.current)
	if i < 0 {
		return nil
	}
	return s.samples[i].clone()
}

// SortedSamplesOfCategory returns every sample of the given category,
// sorted by title — the Go rendering of the original's derived
// QSortFilterProxyModel view.
func (s *SampleStore) SortedSamplesOfCategory(category Category) []*Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Sample
	for _, sm := range s.samples {
		if sm.Category == category {
			out = append(out, sm.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

// OnMovingToSample registers the callback fired while a moveToSample drive
// progresses (sample, motor device name, current/start/end position).
func (s *SampleStore) OnMovingToSample(cb func(sample, motor string, pos, start, end float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMovingToSample = cb
}

// OnMovingFinished registers the callback fired when a moveToSample drive
// ends, successfully or not.
func (s *SampleStore) OnMovingFinished(cb func(success bool, sample string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMovingFinished = cb
}

// MoveToSample drives Sample_X (unless direction=="y") then Sample_Y
// (unless direction=="x") to the named sample's stored position,
// refusing if either sample motor is already moving or the store is
// panicking.
func (s *SampleStore) MoveToSample(title string, direction string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicking {
		return fmt.Errorf("store: cannot move to sample: panicking")
	}
	if direction == "" {
		direction = "both"
	}
	if direction != "both" && direction != "x" && direction != "y" {
		return fmt.Errorf("store: invalid direction %q", direction)
	}
	i := s.indexOf(title)
	if i < 0 {
		return fmt.Errorf("store: unknown sample %q", title)
	}
	sample := s.samples[i]

	xMotor, err := s.devices.Get(s.scfg.XMotor.Device)
	if err != nil {
		return fmt.Errorf("store: sample_x motor: %w", err)
	}
	yMotor, err := s.devices.Get(s.scfg.YMotor.Device)
	if err != nil {
		return fmt.Errorf("store: sample_y motor: %w", err)
	}
	if isMoving(xMotor, s.scfg.XMotor.Axis) || isMoving(yMotor, s.scfg.YMotor.Axis) {
		return fmt.Errorf("store: cannot move sample: motors are not idle")
	}

	s.current = title
	s.pending = &pendingMove{sample: title, direction: direction}
	s.saveLocked()

	if direction == "both" || direction == "x" {
		s.pending.stage = stageX
		xMotor.IssueCommand("moveto", s.scfg.XMotor.Axis, sample.PositionX.Value)
	} else {
		s.pending.stage = stageY
		yMotor.IssueCommand("moveto", s.scfg.YMotor.Axis, sample.PositionY.Value)
	}
	return nil
}

func isMoving(f *device.Frontend, axis int) bool {
	v, ok := f.Get(variable.Name{Base: "moving", Axis: axis})
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// VariableChanged implements device.Observer, driving the moveToSample
// state machine: when the currently-active stage's motor reports
// moving==false, either advance to the Y stage or finish.
func (s *SampleStore) VariableChanged(deviceName string, name variable.Name, value any) {
	s.mu.Lock()
	pending := s.pending
	if pending == nil {
		s.mu.Unlock()
		return
	}
	var activeDevice string
	var activeAxis int
	switch pending.stage {
	case stageX:
		activeDevice, activeAxis = s.scfg.XMotor.Device, s.scfg.XMotor.Axis
	case stageY:
		activeDevice, activeAxis = s.scfg.YMotor.Device, s.scfg.YMotor.Axis
	default:
		s.mu.Unlock()
		return
	}
	if deviceName != activeDevice || name.Axis != activeAxis {
		s.mu.Unlock()
		return
	}

	if name.Base == "movestartposition" || name.Base == "actualposition" {
		pos, ok := value.(float64)
		cb := s.onMovingToSample
		sampleTitle := pending.sample
		s.mu.Unlock()
		if ok && cb != nil {
			cb(sampleTitle, deviceName, pos, pos, pos)
		}
		return
	}

	if name.Base != "moving" {
		s.mu.Unlock()
		return
	}
	moving, _ := value.(bool)
	if moving {
		s.mu.Unlock()
		return
	}

	succVal, haveSucc := s.frontendSuccess(activeDevice, activeAxis)
	s.mu.Unlock()
	if !haveSucc {
		return
	}

	s.mu.Lock()
	if !succVal {
		sampleTitle := pending.sample
		cb := s.onMovingFinished
		s.pending = nil
		s.mu.Unlock()
		if cb != nil {
			cb(false, sampleTitle)
		}
		return
	}
	if pending.stage == stageX && pending.direction == "both" {
		pending.stage = stageY
		yMotor, err := s.devices.Get(s.scfg.YMotor.Device)
		sampleTitle := pending.sample
		s.mu.Unlock()
		if err != nil {
			s.mu.Lock()
			s.pending = nil
			cb := s.onMovingFinished
			s.mu.Unlock()
			if cb != nil {
				cb(false, sampleTitle)
			}
			return
		}
		sm, gerr := s.Get(sampleTitle)
		if gerr != nil {
			return
		}
		yMotor.IssueCommand("moveto", s.scfg.YMotor.Axis, sm.PositionY.Value)
		return
	}
	sampleTitle := pending.sample
	cb := s.onMovingFinished
	s.pending = nil
	s.mu.Unlock()
	if cb != nil {
		cb(true, sampleTitle)
	}
}

func (s *SampleStore) frontendSuccess(deviceName string, axis int) (bool, bool) {
	f, err := s.devices.Get(deviceName)
	if err != nil {
		return false, false
	}
	v, ok := f.Get(variable.Name{Base: "lastmovewassuccessful", Axis: axis})
	if !ok {
		return false, false
	}
	b, _ := v.(bool)
	return b, true
}

// VariableError, StateChanged, Log, Died satisfy device.Observer; the
// sample store has no use for them beyond moveToSample's moving/
// lastmovewassuccessful pair.
func (s *SampleStore) VariableError(deviceName string, name variable.Name, err error) {}
func (s *SampleStore) StateChanged(deviceName string, state device.State)             {}
func (s *SampleStore) Log(deviceName string, rec devproto.LogRecord)                  {}
func (s *SampleStore) Died(deviceName string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return
	}
	if deviceName != s.scfg.XMotor.Device && deviceName != s.scfg.YMotor.Device {
		return
	}
	sampleTitle := s.pending.sample
	s.pending = nil
	cb := s.onMovingFinished
	if cb != nil {
		go cb(false, sampleTitle)
	}
}

// StopMotors halts both sample motors, used by cancel and panic.
func (s *SampleStore) StopMotors() {
	s.mu.Lock()
	xdev, ydev := s.scfg.XMotor, s.scfg.YMotor
	s.mu.Unlock()
	if f, err := s.devices.Get(xdev.Device); err == nil {
		f.IssueCommand("stop", xdev.Axis)
	}
	if f, err := s.devices.Get(ydev.Device); err == nil {
		f.IssueCommand("stop", ydev.Axis)
	}
}

// Panic marks the store as panicking, so further moveToSample calls are
// refused, and sends a stop to both sample motors if a move is in flight.
// It returns without waiting for the motors to halt.
func (s *SampleStore) Panic() {
	s.mu.Lock()
	s.panicking = true
	inFlight := s.pending != nil
	s.mu.Unlock()
	if inFlight {
		s.StopMotors()
	}
}

// ResetPanic clears the panicking flag once the fleet has recovered.
func (s *SampleStore) ResetPanic() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panicking = false
}

func (s *SampleStore) saveLocked() {
	if s.cfg == nil {
		return
	}
	for _, sm := range s.samples {
		base := sampleKey(s.scfg.CfgRoot, sm.Title)
		for attr, v := range sm.toMap() {
			s.cfg.Set(extendKey(base, attr), v)
		}
	}
	s.cfg.Set(extendKey(s.scfg.CfgRoot, "active"), s.current)
}

// extendKey returns a new Key with segs appended, never mutating root's
// backing array (configtree.Key exposes no clone helper of its own).
func extendKey(root configtree.Key, segs ...any) configtree.Key {
	out := make(configtree.Key, 0, len(root)+len(segs))
	out = append(out, root...)
	out = append(out, segs...)
	return out
}

func sampleKey(root configtree.Key, title string) configtree.Key {
	return extendKey(root, "list", title)
}

func (s *Sample) toMap() map[string]any {
	return map[string]any{
		"title":               s.Title,
		"positionx.val":       s.PositionX.Value,
		"positionx.err":       s.PositionX.Err,
		"positiony.val":       s.PositionY.Value,
		"positiony.err":       s.PositionY.Err,
		"thickness.val":       s.Thickness.Value,
		"thickness.err":       s.Thickness.Err,
		"transmission.val":    s.Transmission.Value,
		"transmission.err":    s.Transmission.Err,
		"distminus.val":       s.DistMinus.Value,
		"distminus.err":       s.DistMinus.Err,
		"preparedby":          s.PreparedBy,
		"preparetime":         s.PrepareTime,
		"description":         s.Description,
		"category":            string(s.Category),
		"situation":           string(s.Situation),
		"project":             s.Project,
		"maskoverride":        s.MaskOverride,
	}
}
