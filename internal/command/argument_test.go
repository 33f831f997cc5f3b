package command

import "testing"

func TestValidateAllFillsMissingTrailingDefaults(t *testing.T) {
	args := []Argument{
		NewStringArg("name", "n"),
		NewFloatArg("tolerance", "t", 0.5),
	}
	out, err := ValidateAll(args, []any{"x"})
	if err != nil {
		t.Fatalf("ValidateAll: %v", err)
	}
	if out[0] != "x" {
		t.Errorf("name = %v, want x", out[0])
	}
	if out[1] != 0.5 {
		t.Errorf("tolerance = %v, want 0.5 (default)", out[1])
	}
}

func TestValidateAllRejectsTooManyArguments(t *testing.T) {
	args := []Argument{NewStringArg("name", "n")}
	if _, err := ValidateAll(args, []any{"a", "b"}); err == nil {
		t.Fatal("expected error for extra argument")
	}
}

func TestFloatArgCoercesIntAndString(t *testing.T) {
	a := NewFloatArg("x", "")
	v, err := a.Validate(5)
	if err != nil || v != 5.0 {
		t.Errorf("Validate(5) = %v, %v", v, err)
	}
	v, err = a.Validate("3.5")
	if err != nil || v != 3.5 {
		t.Errorf(`Validate("3.5") = %v, %v`, v, err)
	}
	if _, err := a.Validate("not-a-number"); err == nil {
		t.Error("expected error for unparseable string")
	}
}

func TestIntArgCoercesFloatAndString(t *testing.T) {
	a := NewIntArg("n", "")
	v, err := a.Validate(3.0)
	if err != nil || v != 3 {
		t.Errorf("Validate(3.0) = %v, %v", v, err)
	}
	v, err = a.Validate("42")
	if err != nil || v != 42 {
		t.Errorf(`Validate("42") = %v, %v`, v, err)
	}
}

func TestChoiceArgIsCaseInsensitiveByDefault(t *testing.T) {
	a := NewChoiceArg("gain", "", []string{"low", "mid", "high"}, "mid")
	v, err := a.Validate("HIGH")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v != "HIGH" {
		t.Errorf("Validate returns the original casing, got %v", v)
	}
	if _, err := a.Validate("extreme"); err == nil {
		t.Error("expected error for unknown choice")
	}
}

func TestAnyArgPassesThrough(t *testing.T) {
	a := NewAnyArg("v", "")
	in := []int{1, 2, 3}
	v, err := a.Validate(in)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	got, ok := v.([]int)
	if !ok || len(got) != 3 {
		t.Errorf("Validate did not pass the value through unchanged: %v", v)
	}
}
