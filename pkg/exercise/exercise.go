// Package exercise implements the phased motor exercise routine for SO-101
// arms: move every joint forward, back past its starting point, then return
// to where it began, watching servo load the whole time.
package exercise

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/armlab/so101/pkg/robot"
)

// Arm is the bus access the runner needs. *robot.Arm implements it.
type Arm interface {
	Positions(ctx context.Context) (map[robot.MotorName]int, error)
	Position(ctx context.Context, name robot.MotorName) (int, error)
	Load(ctx context.Context, name robot.MotorName) (int, error)
	Moving(ctx context.Context, name robot.MotorName) (bool, error)
	SetPosition(ctx context.Context, name robot.MotorName, target int) error
	Hold(ctx context.Context, name robot.MotorName) error
	EnableAll(ctx context.Context) error
	DisableAll(ctx context.Context) error
}

// Phase identifies one of the three movement phases.
type Phase int

const (
	PhaseForward Phase = iota
	PhaseBackward
	PhaseReturn
)

func (p Phase) String() string {
	switch p {
	case PhaseForward:
		return "forward"
	case PhaseBackward:
		return "backward"
	case PhaseReturn:
		return "return"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Config holds tuning for a run. Zero values pick the defaults.
type Config struct {
	ForwardPercent  float64 // forward offset, percent of the full encoder range
	BackwardPercent float64 // backward swing measured from the forward target
	LoadLimit       int     // load reading that triggers an emergency stop
	Wait            time.Duration
	PollInterval    time.Duration
	MaxStep         int // largest allowed distance for a single move
	Calibration     robot.Calibration
	Joints          []robot.MotorName
}

// Joints get at least this long to start moving before an early exit.
const minSettleTime = 2 * time.Second

func (c *Config) applyDefaults() {
	if c.ForwardPercent <= 0 {
		c.ForwardPercent = 5
	}
	if c.BackwardPercent <= 0 {
		c.BackwardPercent = 10
	}
	if c.LoadLimit <= 0 {
		c.LoadLimit = 1000
	}
	if c.Wait <= 0 {
		c.Wait = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxStep <= 0 {
		c.MaxStep = robot.EncoderRange / 4
	}
	if len(c.Joints) == 0 {
		c.Joints = robot.AllMotors()
	}
}

// JointResult records what happened to one joint during one phase.
type JointResult struct {
	Joint    robot.MotorName
	Start    int // position read just before the move command
	Target   int
	Final    int // position read after the settle window
	PeakLoad int
	Moved    bool // a move command was issued
	Halted   bool // emergency-stopped on overload
	Skipped  bool // failed a safety check, no command issued
	Reason   string
	Err      error
}

// PhaseReport collects the per-joint results of one phase, in joint order.
type PhaseReport struct {
	Phase   Phase
	Results []JointResult
}

// Result returns the result for a named joint.
func (p PhaseReport) Result(name robot.MotorName) (JointResult, bool) {
	for _, res := range p.Results {
		if res.Joint == name {
			return res, true
		}
	}
	return JointResult{}, false
}

// Report is the outcome of a full run.
type Report struct {
	Initial map[robot.MotorName]int
	Phases  []PhaseReport
}

// Returned reports whether a joint ended the return phase within tol ticks
// of its initial position.
func (r *Report) Returned(name robot.MotorName, tol int) bool {
	if len(r.Phases) == 0 {
		return false
	}
	last := r.Phases[len(r.Phases)-1]
	if last.Phase != PhaseReturn {
		return false
	}
	res, ok := last.Result(name)
	if !ok || res.Err != nil {
		return false
	}
	return abs(res.Final-r.Initial[name]) <= tol
}

// State is a live snapshot published while joints are settling.
type State struct {
	Phase     Phase
	Positions map[robot.MotorName]int
	Loads     map[robot.MotorName]int
	Halted    map[robot.MotorName]bool
	Timestamp time.Time
}

// Runner executes the exercise routine against one arm.
type Runner struct {
	arm     Arm
	cfg     Config
	stateCh chan State
	logCh   chan string
	halted  map[robot.MotorName]bool
}

// NewRunner creates a runner for the given arm.
func NewRunner(arm Arm, cfg Config) *Runner {
	cfg.applyDefaults()
	return &Runner{
		arm:     arm,
		cfg:     cfg,
		stateCh: make(chan State, 1),
		logCh:   make(chan string, 16),
		halted:  make(map[robot.MotorName]bool),
	}
}

// States returns a channel that receives live snapshots during settling.
func (r *Runner) States() <-chan State {
	return r.stateCh
}

// Logs returns a channel that receives log messages.
func (r *Runner) Logs() <-chan string {
	return r.logCh
}

// Config returns the effective configuration after defaults.
func (r *Runner) Config() Config {
	return r.cfg
}

// Run performs the three phases and reports per-joint outcomes. The returned
// report covers the phases that completed even when err is non-nil. Torque is
// disabled on every joint before Run returns, no matter what happened.
func (r *Runner) Run(ctx context.Context) (report *Report, err error) {
	initial, err := r.arm.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read initial positions: %w", err)
	}
	for _, name := range r.cfg.Joints {
		r.log("initial %s position: %d", name, initial[name])
	}

	if err := r.arm.EnableAll(ctx); err != nil {
		return nil, fmt.Errorf("enable torque: %w", err)
	}
	r.log("torque enabled on all joints")

	defer func() {
		// Clean up on a background context so cancellation can't leave
		// torque engaged.
		if derr := r.arm.DisableAll(context.Background()); derr != nil {
			r.log("WARNING: disable torque: %v", derr)
		} else {
			r.log("torque disabled on all joints")
		}
	}()

	forward := offsetTicks(r.cfg.ForwardPercent)
	backward := offsetTicks(r.cfg.BackwardPercent)

	report = &Report{Initial: initial}
	for _, phase := range []Phase{PhaseForward, PhaseBackward, PhaseReturn} {
		targets := make(map[robot.MotorName]int, len(initial))
		for name, pos := range initial {
			switch phase {
			case PhaseForward:
				targets[name] = pos + forward
			case PhaseBackward:
				targets[name] = pos + forward - backward
			case PhaseReturn:
				targets[name] = pos
			}
		}

		switch phase {
		case PhaseForward:
			r.log("moving all joints forward by %.0f%%", r.cfg.ForwardPercent)
		case PhaseBackward:
			r.log("moving all joints backward by %.0f%%", r.cfg.BackwardPercent)
		case PhaseReturn:
			r.log("returning all joints to initial positions")
		}

		pr, perr := r.runPhase(ctx, phase, targets)
		report.Phases = append(report.Phases, pr)
		if perr != nil {
			return report, perr
		}
	}

	return report, nil
}

// offsetTicks converts a percentage of the full encoder range to ticks.
func offsetTicks(percent float64) int {
	return int(math.Round(percent / 100 * robot.EncoderRange))
}

func (r *Runner) runPhase(ctx context.Context, phase Phase, targets map[robot.MotorName]int) (PhaseReport, error) {
	results := make(map[robot.MotorName]*JointResult, len(r.cfg.Joints))

	// Command every joint before any settling wait starts, so the phase acts
	// as a barrier across the whole arm.
	for _, name := range r.cfg.Joints {
		res := &JointResult{Joint: name, Target: targets[name]}
		results[name] = res

		// Halted joints sit out the offset phases but still get a return
		// command at the end.
		if r.halted[name] && phase != PhaseReturn {
			res.Skipped = true
			res.Reason = "halted in an earlier phase"
			r.log("skipping %s: %s", name, res.Reason)
			continue
		}

		cur, err := r.arm.Position(ctx, name)
		if err != nil {
			res.Err = err
			r.log("WARNING: %v", err)
			continue
		}
		res.Start = cur

		target, reason := r.checkTarget(name, cur, res.Target)
		if reason != "" {
			res.Skipped = true
			res.Reason = reason
			r.log("WARNING: skipping %s: %s", name, reason)
			continue
		}
		if target != res.Target {
			r.log("clamping %s target %d to calibrated limit %d", name, res.Target, target)
			res.Target = target
		}

		r.log("moving %s to %d (from %d)", name, res.Target, cur)
		if err := r.arm.SetPosition(ctx, name, res.Target); err != nil {
			res.Err = err
			r.log("WARNING: %v", err)
			continue
		}
		res.Moved = true
	}

	serr := r.settle(ctx, phase, results)

	// Read back where each joint actually ended up. Small deltas from the
	// target are normal actuation noise.
	if serr == nil {
		for _, name := range r.cfg.Joints {
			res := results[name]
			pos, err := r.arm.Position(ctx, name)
			if err != nil {
				if res.Err == nil {
					res.Err = err
				}
				r.log("WARNING: %v", err)
				continue
			}
			res.Final = pos
			r.log("%s position after %s phase: %d", name, phase, pos)
		}
	}

	pr := PhaseReport{Phase: phase}
	for _, name := range r.cfg.Joints {
		pr.Results = append(pr.Results, *results[name])
	}
	return pr, serr
}

// checkTarget vets a move before it is commanded: inside the motor's
// absolute range, not a dangerously large step, and within the calibrated
// range when one is known. Returns the (possibly clamped) target and a
// non-empty reason when the move must be skipped.
func (r *Runner) checkTarget(name robot.MotorName, cur, target int) (int, string) {
	if target < 0 || target > robot.PositionMax {
		return target, fmt.Sprintf("target %d outside motor range 0-%d", target, robot.PositionMax)
	}
	if diff := abs(target - cur); diff > r.cfg.MaxStep {
		return target, fmt.Sprintf("move of %d ticks exceeds safe step of %d", diff, r.cfg.MaxStep)
	}
	if cal, ok := r.cfg.Calibration[name]; ok {
		target = cal.Clamp(target)
	}
	return target, ""
}

// settle waits out the phase's settle window, polling position, load and the
// moving flag for every commanded joint. Overload halts that joint only; the
// rest of the arm keeps going. Exits early once everything has stopped moving.
func (r *Runner) settle(ctx context.Context, phase Phase, results map[robot.MotorName]*JointResult) error {
	r.log("waiting %s for joints to reach %s targets", r.cfg.Wait, phase)
	start := time.Now()

	for time.Since(start) < r.cfg.Wait {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.PollInterval):
		}

		allStopped := true
		positions := make(map[robot.MotorName]int, len(results))
		loads := make(map[robot.MotorName]int, len(results))

		for _, name := range r.cfg.Joints {
			res := results[name]
			if !res.Moved || res.Halted {
				continue
			}

			pos, err := r.arm.Position(ctx, name)
			if err != nil {
				r.log("WARNING: %v", err)
				allStopped = false
				continue
			}
			positions[name] = pos

			load, err := r.arm.Load(ctx, name)
			if err == nil {
				loads[name] = load
				if load > res.PeakLoad {
					res.PeakLoad = load
				}
				if load > r.cfg.LoadLimit {
					r.log("WARNING: %s overloaded (load %d > limit %d), emergency stop", name, load, r.cfg.LoadLimit)
					if herr := r.arm.Hold(ctx, name); herr != nil {
						r.log("WARNING: %v", herr)
					}
					res.Halted = true
					r.halted[name] = true
					continue
				}
				if load > r.cfg.LoadLimit/4 {
					r.log("caution: %s under elevated load: %d", name, load)
				}
			}

			moving, err := r.arm.Moving(ctx, name)
			if err != nil || moving {
				allStopped = false
			}
		}

		r.publish(State{
			Phase:     phase,
			Positions: positions,
			Loads:     loads,
			Halted:    r.haltedSet(),
			Timestamp: time.Now(),
		})

		if allStopped && time.Since(start) >= minSettleTime {
			r.log("all joints settled")
			return nil
		}
	}

	return nil
}

func (r *Runner) haltedSet() map[robot.MotorName]bool {
	out := make(map[robot.MotorName]bool, len(r.halted))
	for name, h := range r.halted {
		out[name] = h
	}
	return out
}

func (r *Runner) log(format string, args ...any) {
	select {
	case r.logCh <- fmt.Sprintf(format, args...):
	default:
		// Drop if channel full
	}
}

func (r *Runner) publish(s State) {
	select {
	case r.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-r.stateCh:
		default:
		}
		r.stateCh <- s
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
