package variable_test

import (
	"testing"
	"time"

	"github.com/awacha/cctd/internal/variable"
)

func TestUpdate_FirstValueAlwaysChanges(t *testing.T) {
	v := variable.New(variable.Name{Base: "pressure"}, 0, false)
	now := time.Now()
	if changed := v.Update(1.0, false, now); !changed {
		t.Fatal("first update must report a change")
	}
	if v.Timestamp() != now {
		t.Fatalf("timestamp not set to now")
	}
}

func TestUpdate_UnchangedValueSuppressed(t *testing.T) {
	v := variable.New(variable.Name{Base: "pressure"}, 0, false)
	t0 := time.Now()
	v.Update(1.0, false, t0)
	t1 := t0.Add(time.Second)
	if changed := v.Update(1.0, false, t1); changed {
		t.Fatal("unchanged value without force or pending signal must not report a change")
	}
	if v.Timestamp() != t1 {
		t.Fatal("timestamp must still advance on a suppressed update")
	}
}

func TestUpdate_ForcedAlwaysChanges(t *testing.T) {
	v := variable.New(variable.Name{Base: "pressure"}, 0, false)
	now := time.Now()
	v.Update(1.0, false, now)
	if changed := v.Update(1.0, true, now.Add(time.Second)); !changed {
		t.Fatal("forced update must report a change even when value is unchanged")
	}
}

func TestUpdate_SignalNeededFiresOnceThenClears(t *testing.T) {
	v := variable.New(variable.Name{Base: "pressure"}, 0, false)
	now := time.Now()
	v.Update(1.0, false, now)
	v.RequestSignal()

	if changed := v.Update(1.0, false, now.Add(time.Second)); !changed {
		t.Fatal("pending signal must force one change notification")
	}
	if changed := v.Update(1.0, false, now.Add(2*time.Second)); changed {
		t.Fatal("pending signal must be consumed after firing once")
	}
}

func TestIsFreshSince(t *testing.T) {
	v := variable.New(variable.Name{Base: "x"}, 0, false)
	t0 := time.Now()
	if v.IsFreshSince(t0) {
		t.Fatal("variable with no value can never be fresh")
	}
	v.Update(1, false, t0.Add(time.Second))
	if !v.IsFreshSince(t0) {
		t.Fatal("update after t0 must be fresh relative to t0")
	}
	if v.IsFreshSince(t0.Add(time.Hour)) {
		t.Fatal("update before the reference time must not be fresh")
	}
}

func TestDueForRefresh(t *testing.T) {
	v := variable.New(variable.Name{Base: "x"}, 10*time.Second, false)
	now := time.Now()
	if !v.DueForRefresh(now) {
		t.Fatal("never-updated variable with nonzero timeout is due immediately")
	}
	v.Update(1, false, now)
	if v.DueForRefresh(now.Add(5 * time.Second)) {
		t.Fatal("should not be due before the timeout elapses")
	}
	if !v.DueForRefresh(now.Add(10 * time.Second)) {
		t.Fatal("should be due once the timeout elapses")
	}

	never := variable.New(variable.Name{Base: "y"}, 0, false)
	if never.DueForRefresh(now.Add(time.Hour)) {
		t.Fatal("zero timeout must never auto-refresh")
	}
}

func TestTable_DependencyCascade(t *testing.T) {
	tbl := variable.NewTable()
	raw := variable.New(variable.Name{Base: "targetposition", Axis: 0}, 0, false)
	raw.Name = variable.Name{Base: "targetposition:raw", Axis: 0}
	phys := variable.New(variable.Name{Base: "targetposition", Axis: 0}, 0, false)
	phys.DependsOn = []variable.Name{raw.Name}
	tbl.Register(raw)
	tbl.Register(phys)

	now := time.Now()
	derive := func(dependent variable.Name) (any, bool) {
		if dependent == phys.Name {
			v, _ := raw.Value()
			return v.(int) * 2, true
		}
		return nil, false
	}
	changes := tbl.Update(raw.Name, 21, false, now, derive)
	if len(changes) != 2 {
		t.Fatalf("expected raw + derived change, got %d: %+v", len(changes), changes)
	}
	physVal, _ := phys.Value()
	if physVal != 42 {
		t.Fatalf("derived value not applied: got %v", physVal)
	}
}

func TestTable_AllHaveValues(t *testing.T) {
	tbl := variable.NewTable()
	a := variable.New(variable.Name{Base: "a"}, 0, true)
	b := variable.New(variable.Name{Base: "b"}, 0, true)
	tbl.Register(a)
	tbl.Register(b)

	if tbl.AllHaveValues(tbl.Urgent()) {
		t.Fatal("no values set yet")
	}
	a.Update(1, false, time.Now())
	if tbl.AllHaveValues(tbl.Urgent()) {
		t.Fatal("b still has no value")
	}
	b.Update(2, false, time.Now())
	if !tbl.AllHaveValues(tbl.Urgent()) {
		t.Fatal("both urgent variables now have values")
	}
}
