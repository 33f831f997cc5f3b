// Package store implements the Sample store, Calibrant store, and
// User/Project database.
//
// Grounded on original_source/cct/core2/dataclasses/sample.py (the Sample
// dataclass: per-attribute lock flags, float-with-error parameters,
// title-based equality) and original_source/cct/core2/instrument/components/
// samples/samplestore.py (addSample/removeSample/updateSample, moveToSample's
// sequential X-then-Y motor drive, sortedSamplesOfCategory). Persistence
// uses internal/configtree, the same flat tuple-keyed tree the original's
// Component subclasses read/write via self.cfg.
package store

import "fmt"

// Category mirrors Sample.Categories from the original dataclass.
type Category string

const (
	CategoryCalibrant           Category = "calibration sample"
	CategoryNormalizationSample Category = "normalization sample"
	CategorySample              Category = "sample"
	CategorySampleAndCan        Category = "sample+can"
	CategoryCan                 Category = "can"
	CategorySampleAndBuffer     Category = "sample+buffer"
	CategoryBuffer              Category = "buffer"
	CategorySimulatedData       Category = "simulated data"
	CategorySampleEnvironment   Category = "sample environment"
	CategoryEmptyBeam           Category = "Empty beam"
	CategoryDark                Category = "Dark"
	CategoryNone                Category = "none"
	CategorySubtracted          Category = "subtracted"
	CategoryMerged              Category = "merged"
)

// Situation mirrors Sample.Situations.
type Situation string

const (
	SituationAir       Situation = "air"
	SituationVacuum    Situation = "vacuum"
	SituationSealedCan Situation = "sealed can"
)

// FloatParam is a value-with-uncertainty, the Go rendering of the
// original's (val, err) tuple parameters.
type FloatParam struct {
	Value float64
	Err   float64
}

// Sample is one entry of the sample store. Title is the store's unique
// key. Locked names the set of attributes whose mutation is currently
// forbidden by updateSample.
type Sample struct {
	Title         string
	PositionX     FloatParam
	PositionY     FloatParam
	Thickness     FloatParam
	Transmission  FloatParam
	DistMinus     FloatParam
	PreparedBy    string
	PrepareTime   string // ISO-8601 date; empty means unset
	Description   string
	Category      Category
	Situation     Situation
	Project       string // empty means none
	MaskOverride  string // empty means none (no per-sample mask override)
	Locked        map[string]bool
}

func newSample(title string) *Sample {
	return &Sample{
		Title:        title,
		Thickness:    FloatParam{Value: 1.0},
		Transmission: FloatParam{Value: 1.0},
		PreparedBy:   "Anonymous",
		Description:  "Unknown sample",
		Category:     CategorySample,
		Situation:    SituationVacuum,
		Locked:       make(map[string]bool),
	}
}

// IsLocked reports whether attribute is currently lock-protected.
func (s *Sample) IsLocked(attribute string) bool {
	return s.Locked[attribute]
}

// clone returns a deep-enough copy for store.Get's "never hand out the
// live struct" guarantee (the original does this via copy.deepcopy).
func (s *Sample) clone() *Sample {
	cp := *s
	cp.Locked = make(map[string]bool, len(s.Locked))
	for k, v := range s.Locked {
		cp.Locked[k] = v
	}
	return &cp
}

func (s *Sample) attr(name string) (any, error) {
	switch name {
	case "title":
		return s.Title, nil
	case "positionx":
		return s.PositionX, nil
	case "positiony":
		return s.PositionY, nil
	case "thickness":
		return s.Thickness, nil
	case "transmission":
		return s.Transmission, nil
	case "distminus":
		return s.DistMinus, nil
	case "preparedby":
		return s.PreparedBy, nil
	case "preparetime":
		return s.PrepareTime, nil
	case "description":
		return s.Description, nil
	case "category":
		return s.Category, nil
	case "situation":
		return s.Situation, nil
	case "project":
		return s.Project, nil
	case "maskoverride":
		return s.MaskOverride, nil
	default:
		return nil, fmt.Errorf("store: unknown sample attribute %q", name)
	}
}

func (s *Sample) setAttr(name string, value any) error {
	switch name {
	case "title":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("store: title must be a string")
		}
		s.Title = v
	case "positionx":
		v, err := toFloatParam(value)
		if err != nil {
			return err
		}
		s.PositionX = v
	case "positiony":
		v, err := toFloatParam(value)
		if err != nil {
			return err
		}
		s.PositionY = v
	case "thickness":
		v, err := toFloatParam(value)
		if err != nil {
			return err
		}
		s.Thickness = v
	case "transmission":
		v, err := toFloatParam(value)
		if err != nil {
			return err
		}
		s.Transmission = v
	case "distminus":
		v, err := toFloatParam(value)
		if err != nil {
			return err
		}
		s.DistMinus = v
	case "preparedby":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("store: preparedby must be a string")
		}
		s.PreparedBy = v
	case "preparetime":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("store: preparetime must be a string")
		}
		s.PrepareTime = v
	case "description":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("store: description must be a string")
		}
		s.Description = v
	case "category":
		v, ok := value.(Category)
		if !ok {
			s2, ok2 := value.(string)
			if !ok2 {
				return fmt.Errorf("store: category must be a Category or string")
			}
			v = Category(s2)
		}
		s.Category = v
	case "situation":
		v, ok := value.(Situation)
		if !ok {
			s2, ok2 := value.(string)
			if !ok2 {
				return fmt.Errorf("store: situation must be a Situation or string")
			}
			v = Situation(s2)
		}
		s.Situation = v
	case "project":
		v, _ := value.(string)
		s.Project = v
	case "maskoverride":
		v, _ := value.(string)
		s.MaskOverride = v
	default:
		return fmt.Errorf("store: unknown sample attribute %q", name)
	}
	return nil
}

func toFloatParam(value any) (FloatParam, error) {
	switch v := value.(type) {
	case FloatParam:
		return v, nil
	case float64:
		return FloatParam{Value: v}, nil
	case [2]float64:
		return FloatParam{Value: v[0], Err: v[1]}, nil
	default:
		return FloatParam{}, fmt.Errorf("store: expected a float parameter, got %T", value)
	}
}
