package store

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/configtree"
)

// CalibrantKind distinguishes the two calibrant variants: a Q calibrant
// carries a peak table, an intensity calibrant points at a reference
// data file.
type CalibrantKind int

const (
	KindQCalibrant CalibrantKind = iota
	KindIntensityCalibrant
)

// QPeak is one named (q, σq) reflection of a Q calibrant, grounded on
// original_source's q.py peak tuples (name, val, err).
type QPeak struct {
	Name string
	Q    float64
	SigmaQ float64
}

// Calibrant is a named, regex-matched calibration standard. Grounded on
// original_source/cct/core2/instrument/components/calibrants/calibrant.py
// (the common name/description/calibrationdate/regex fields) plus its
// q.py/intensity.py subclasses, collapsed into one struct tagged by Kind
// since Go has no open class hierarchy to mirror 1:1.
type Calibrant struct {
	Name            string
	Description     string
	CalibrationDate time.Time
	Regex           string

	Kind CalibrantKind

	Peaks        []QPeak // populated iff Kind == KindQCalibrant
	DataFilePath string  // populated iff Kind == KindIntensityCalibrant
}

func newQCalibrant(name string) *Calibrant {
	return &Calibrant{
		Name:            name,
		CalibrationDate: time.Now(),
		Regex:           "^" + regexp.QuoteMeta(name) + "$",
		Kind:            KindQCalibrant,
	}
}

func newIntensityCalibrant(name string) *Calibrant {
	return &Calibrant{
		Name:            name,
		CalibrationDate: time.Now(),
		Regex:           "^" + regexp.QuoteMeta(name) + "$",
		Kind:            KindIntensityCalibrant,
	}
}

// Matches reports whether sampleTitle matches this calibrant's regex.
func (c *Calibrant) Matches(sampleTitle string) (bool, error) {
	re, err := regexp.Compile(c.Regex)
	if err != nil {
		return false, fmt.Errorf("store: calibrant %q has invalid regex %q: %w", c.Name, c.Regex, err)
	}
	return re.MatchString(sampleTitle), nil
}

func (c *Calibrant) clone() *Calibrant {
	cp := *c
	cp.Peaks = append([]QPeak(nil), c.Peaks...)
	return &cp
}

// CalibrantStore is the name-keyed collection of Q and intensity
// calibrants, grounded on
// original_source/cct/core2/instrument/components/calibrants/calibrants.py
// (addQCalibrant/addIntensityCalibrant/removeCalibrant, the qcalibrants/
// intensitycalibrants partition, sorted-by-name iteration).
type CalibrantStore struct {
	mu  sync.Mutex
	log *zap.Logger
	cfg *configtree.Tree
	root configtree.Key

	calibrants []*Calibrant
}

// NewCalibrantStore constructs an empty calibrant store persisted under
// root in cfg.
func NewCalibrantStore(cfg *configtree.Tree, root configtree.Key, log *zap.Logger) *CalibrantStore {
	return &CalibrantStore{log: log.Named("calibrantstore"), cfg: cfg, root: root}
}

func (s *CalibrantStore) indexOf(name string) int {
	for i, c := range s.calibrants {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (s *CalibrantStore) freeName() string {
	for i := 0; ; i++ {
		candidate := fmt.Sprintf("Untitled%d", i)
		if s.indexOf(candidate) < 0 {
			return candidate
		}
	}
}

// AddQCalibrant creates a new, empty Q calibrant with an auto-generated
// name and returns it.
func (s *CalibrantStore) AddQCalibrant() *Calibrant {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := newQCalibrant(s.freeName())
	s.calibrants = append(s.calibrants, c)
	s.sortLocked()
	s.saveLocked()
	return c.clone()
}

// AddIntensityCalibrant creates a new, empty intensity calibrant with an
// auto-generated name and returns it.
func (s *CalibrantStore) AddIntensityCalibrant() *Calibrant {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := newIntensityCalibrant(s.freeName())
	s.calibrants = append(s.calibrants, c)
	s.sortLocked()
	s.saveLocked()
	return c.clone()
}

// RemoveCalibrant deletes the named calibrant.
func (s *CalibrantStore) RemoveCalibrant(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(name)
	if i < 0 {
		return fmt.Errorf("store: unknown calibrant %q", name)
	}
	s.calibrants = append(s.calibrants[:i], s.calibrants[i+1:]...)
	s.saveLocked()
	return nil
}

// Get returns a copy of the named calibrant.
func (s *CalibrantStore) Get(name string) (*Calibrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(name)
	if i < 0 {
		return nil, fmt.Errorf("store: unknown calibrant %q", name)
	}
	return s.calibrants[i].clone(), nil
}

// Rename changes a calibrant's name, rejecting collisions.
func (s *CalibrantStore) Rename(oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(oldName)
	if i < 0 {
		return fmt.Errorf("store: unknown calibrant %q", oldName)
	}
	if s.indexOf(newName) >= 0 {
		return fmt.Errorf("store: calibrant %q already exists", newName)
	}
	s.calibrants[i].Name = newName
	s.sortLocked()
	s.saveLocked()
	return nil
}

// SetRegex validates and sets the matching regex of the named calibrant.
func (s *CalibrantStore) SetRegex(name, regex string) error {
	if _, err := regexp.Compile(regex); err != nil {
		return fmt.Errorf("store: invalid regex %q: %w", regex, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(name)
	if i < 0 {
		return fmt.Errorf("store: unknown calibrant %q", name)
	}
	s.calibrants[i].Regex = regex
	s.saveLocked()
	return nil
}

// SetPeaks replaces the peak table of a Q calibrant.
func (s *CalibrantStore) SetPeaks(name string, peaks []QPeak) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(name)
	if i < 0 {
		return fmt.Errorf("store: unknown calibrant %q", name)
	}
	if s.calibrants[i].Kind != KindQCalibrant {
		return fmt.Errorf("store: calibrant %q is not a Q calibrant", name)
	}
	s.calibrants[i].Peaks = append([]QPeak(nil), peaks...)
	s.saveLocked()
	return nil
}

// SetDataFile sets the reference data file of an intensity calibrant.
func (s *CalibrantStore) SetDataFile(name, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(name)
	if i < 0 {
		return fmt.Errorf("store: unknown calibrant %q", name)
	}
	if s.calibrants[i].Kind != KindIntensityCalibrant {
		return fmt.Errorf("store: calibrant %q is not an intensity calibrant", name)
	}
	s.calibrants[i].DataFilePath = path
	s.saveLocked()
	return nil
}

// QCalibrants returns every Q calibrant, sorted by name.
func (s *CalibrantStore) QCalibrants() []*Calibrant {
	return s.ofKind(KindQCalibrant)
}

// IntensityCalibrants returns every intensity calibrant, sorted by name.
func (s *CalibrantStore) IntensityCalibrants() []*Calibrant {
	return s.ofKind(KindIntensityCalibrant)
}

func (s *CalibrantStore) ofKind(kind CalibrantKind) []*Calibrant {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Calibrant
	for _, c := range s.calibrants {
		if c.Kind == kind {
			out = append(out, c.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MatchSample returns the first registered calibrant whose regex matches
// sampleTitle, or nil if none matches.
func (s *CalibrantStore) MatchSample(sampleTitle string) *Calibrant {
	s.mu.Lock()
	calibrants := make([]*Calibrant, len(s.calibrants))
	copy(calibrants, s.calibrants)
	s.mu.Unlock()
	for _, c := range calibrants {
		if ok, err := c.Matches(sampleTitle); err == nil && ok {
			return c.clone()
		}
	}
	return nil
}

func (s *CalibrantStore) sortLocked() {
	sort.Slice(s.calibrants, func(i, j int) bool { return s.calibrants[i].Name < s.calibrants[j].Name })
}

func (s *CalibrantStore) saveLocked() {
	if s.cfg == nil {
		return
	}
	for _, c := range s.calibrants {
		base := extendKey(s.root, c.Name)
		s.cfg.Set(extendKey(base, "description"), c.Description)
		s.cfg.Set(extendKey(base, "calibrationdate"), c.CalibrationDate.Format(time.RFC3339))
		s.cfg.Set(extendKey(base, "regex"), c.Regex)
		switch c.Kind {
		case KindQCalibrant:
			for _, p := range c.Peaks {
				s.cfg.Set(extendKey(base, "peaks", p.Name, "val"), p.Q)
				s.cfg.Set(extendKey(base, "peaks", p.Name, "err"), p.SigmaQ)
			}
		case KindIntensityCalibrant:
			s.cfg.Set(extendKey(base, "datafile"), c.DataFilePath)
		}
	}
}
