package command

import "time"

// Scan delegates to the scan orchestrator (Env.Scan), tracking its
// progress/finish signals, per scan.py's ScanCommand.
type Scan struct {
	Base
	scanID int
}

func newScan() Command {
	return &Scan{Base: Base{Interval: 300 * time.Millisecond, ArgList: []Argument{
		NewStringArg("motorname", "motor to scan"),
		NewFloatArg("start", "range start"),
		NewFloatArg("end", "range end"),
		NewIntArg("n", "number of steps"),
		NewFloatArg("countingtime", "exposure time per point, in seconds"),
		NewStringArg("comment", "scan comment", ""),
	}}}
}
func (c *Scan) Name() string        { return "scan" }
func (c *Scan) Description() string { return "Perform an absolute motor scan with exposures" }

func (c *Scan) Initialize(env *Env, term Terminator, args []any) error {
	motor := args[0].(string)
	start := args[1].(float64)
	end := args[2].(float64)
	n := args[3].(int)
	countingTime := args[4].(float64)
	comment := args[5].(string)
	id, err := env.Scan.StartScan(motor, start, end, n, countingTime, comment, false)
	if err != nil {
		return err
	}
	c.scanID = id
	term.Message("Scan started")
	return nil
}

func (c *Scan) Tick(env *Env, term Terminator, now time.Time) {
	done, success, current, total := env.Scan.ScanStatus(c.scanID)
	if !done {
		term.Progress("Scanning...", current, total)
		return
	}
	if !success {
		term.Fail("scan failed")
		return
	}
	term.Finish(c.scanID)
}

func (c *Scan) Stop(env *Env, term Terminator) {
	env.Scan.StopScan()
	term.Fail("stopped on user request")
}

// ScanRel computes a symmetric range around the motor's current position
// and delegates to the same mechanism as Scan, per scan.py's
// ScanRelCommand.
type ScanRel struct {
	Scan
}

func newScanRel() Command {
	return &ScanRel{Scan{Base: Base{Interval: 300 * time.Millisecond, ArgList: []Argument{
		NewStringArg("motorname", "motor to scan"),
		NewFloatArg("halfwidth", "half-width of the scan range"),
		NewIntArg("n", "number of steps"),
		NewFloatArg("countingtime", "exposure time per point, in seconds"),
		NewStringArg("comment", "scan comment", ""),
	}}}}
}
func (c *ScanRel) Name() string        { return "scanrel" }
func (c *ScanRel) Description() string { return "Perform a motor scan relative to its current position" }

func (c *ScanRel) Initialize(env *Env, term Terminator, args []any) error {
	motor := args[0].(string)
	halfwidth := args[1].(float64)
	n := args[2].(int)
	countingTime := args[3].(float64)
	comment := args[4].(string)
	id, err := env.Scan.StartScan(motor, -halfwidth, halfwidth, n, countingTime, comment, true)
	if err != nil {
		return err
	}
	c.scanID = id
	term.Message("Scan started")
	return nil
}

func registerScanCommands(r *Registry) {
	r.Register("scan", newScan)
	r.Register("scanrel", newScanRel)
}
