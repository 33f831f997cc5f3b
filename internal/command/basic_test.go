package command

import (
	"testing"
	"time"
)

// fakeTerm records the one terminal action a Command calls, mirroring how
// the interpreter consumes Terminator in practice.
type fakeTerm struct {
	finished    bool
	finishValue any
	failed      bool
	failMsg     string
	jumped      bool
	jumpLabel   string
	jumpGosub   bool
	messages    []string
	progressMsg string
	cur, tot    int
}

func (t *fakeTerm) Finish(v any)                     { t.finished = true; t.finishValue = v }
func (t *fakeTerm) Fail(msg string)                  { t.failed = true; t.failMsg = msg }
func (t *fakeTerm) Jump(label string, gosub bool)    { t.jumped = true; t.jumpLabel = label; t.jumpGosub = gosub }
func (t *fakeTerm) Progress(msg string, cur, tot int) { t.progressMsg = msg; t.cur = cur; t.tot = tot }
func (t *fakeTerm) Message(msg string)               { t.messages = append(t.messages, msg) }

func testEnv() *Env {
	return &Env{Flags: NewFlagSet(), Vars: NewNamespace()}
}

func TestCommentFinishesImmediately(t *testing.T) {
	term := &fakeTerm{}
	c := newComment()
	if err := c.Initialize(testEnv(), term, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !term.finished {
		t.Error("comment should finish synchronously")
	}
}

func TestGotoRequestsUnconditionalJump(t *testing.T) {
	term := &fakeTerm{}
	c := newGoto()
	args, err := ValidateAll(c.Arguments(), []any{"mylabel"})
	if err != nil {
		t.Fatalf("ValidateAll: %v", err)
	}
	if err := c.Initialize(testEnv(), term, args); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !term.jumped || term.jumpLabel != "mylabel" || term.jumpGosub {
		t.Errorf("goto should jump to mylabel without pushing a return address, got %+v", term)
	}
}

func TestGosubPushesReturnAddress(t *testing.T) {
	term := &fakeTerm{}
	c := newGosub()
	args, _ := ValidateAll(c.Arguments(), []any{"sub"})
	if err := c.Initialize(testEnv(), term, args); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !term.jumped || term.jumpLabel != "sub" || !term.jumpGosub {
		t.Errorf("gosub should jump with gosub=true, got %+v", term)
	}
}

func TestReturnIsGotoWithEmptyLabel(t *testing.T) {
	term := &fakeTerm{}
	c := newReturn()
	if err := c.Initialize(testEnv(), term, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !term.jumped || term.jumpLabel != "" || term.jumpGosub {
		t.Errorf("return should jump to the empty label without gosub, got %+v", term)
	}
}

func TestSetAssignsNamespaceVariable(t *testing.T) {
	term := &fakeTerm{}
	env := testEnv()
	c := newSet()
	args, err := ValidateAll(c.Arguments(), []any{"x", 5.0})
	if err != nil {
		t.Fatalf("ValidateAll: %v", err)
	}
	if err := c.Initialize(env, term, args); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	v, ok := env.Vars.Get("x")
	if !ok || v != 5.0 {
		t.Errorf("env.Vars.Get(x) = %v, %v, want 5.0, true", v, ok)
	}
	if !term.finished || term.finishValue != 5.0 {
		t.Errorf("set should finish with the assigned value, got %+v", term)
	}
}

func TestSleepFinishesAfterDeadline(t *testing.T) {
	term := &fakeTerm{}
	env := testEnv()
	c := newSleep().(*Sleep)
	args, _ := ValidateAll(c.Arguments(), []any{0.01})
	if err := c.Initialize(env, term, args); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	c.Tick(env, term, time.Now())
	if term.finished {
		t.Fatal("sleep should not finish before its deadline")
	}
	c.Tick(env, term, time.Now().Add(time.Second))
	if !term.finished {
		t.Error("sleep should finish once the deadline has passed")
	}
}

func TestNewFlagClearFlagSetFlag(t *testing.T) {
	env := testEnv()

	term := &fakeTerm{}
	nf := newNewFlag()
	args, _ := ValidateAll(nf.Arguments(), []any{"myflag"})
	if err := nf.Initialize(env, term, args); err != nil {
		t.Fatalf("newflag: %v", err)
	}
	if env.Flags.Get("myflag") {
		t.Error("newflag should create the flag as false")
	}

	term = &fakeTerm{}
	sf := newSetFlag()
	args, _ = ValidateAll(sf.Arguments(), []any{"myflag"})
	if err := sf.Initialize(env, term, args); err != nil {
		t.Fatalf("setflag: %v", err)
	}
	if !env.Flags.Get("myflag") {
		t.Error("setflag should set the flag true")
	}

	term = &fakeTerm{}
	cf := newClearFlag()
	args, _ = ValidateAll(cf.Arguments(), []any{"myflag"})
	if err := cf.Initialize(env, term, args); err != nil {
		t.Fatalf("clearflag: %v", err)
	}
	if env.Flags.Get("myflag") {
		t.Error("clearflag should clear the flag to false")
	}
}
