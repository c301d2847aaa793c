package exercise

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armlab/so101/pkg/robot"
)

type move struct {
	joint  robot.MotorName
	target int
}

// fakeArm is a scripted bus: joints teleport to their targets unless marked
// stuck, in which case they stop halfway and report their configured load.
type fakeArm struct {
	positions map[robot.MotorName]int
	loads     map[robot.MotorName]int
	stuck     map[robot.MotorName]bool

	moves       []move
	holds       []robot.MotorName
	enables     int
	disables    int
	movingPolls int

	positionsErr error
}

func newFakeArm(initial map[robot.MotorName]int) *fakeArm {
	positions := make(map[robot.MotorName]int, len(initial))
	for name, pos := range initial {
		positions[name] = pos
	}
	return &fakeArm{
		positions: positions,
		loads:     make(map[robot.MotorName]int),
		stuck:     make(map[robot.MotorName]bool),
	}
}

func (f *fakeArm) Positions(ctx context.Context) (map[robot.MotorName]int, error) {
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	out := make(map[robot.MotorName]int, len(f.positions))
	for name, pos := range f.positions {
		out[name] = pos
	}
	return out, nil
}

func (f *fakeArm) Position(ctx context.Context, name robot.MotorName) (int, error) {
	return f.positions[name], nil
}

func (f *fakeArm) Load(ctx context.Context, name robot.MotorName) (int, error) {
	return f.loads[name], nil
}

func (f *fakeArm) Moving(ctx context.Context, name robot.MotorName) (bool, error) {
	f.movingPolls++
	// Stuck joints keep pushing into the obstruction
	return f.stuck[name], nil
}

func (f *fakeArm) SetPosition(ctx context.Context, name robot.MotorName, target int) error {
	f.moves = append(f.moves, move{joint: name, target: target})
	if f.stuck[name] {
		f.positions[name] = (f.positions[name] + target) / 2
	} else {
		f.positions[name] = target
	}
	return nil
}

func (f *fakeArm) Hold(ctx context.Context, name robot.MotorName) error {
	f.holds = append(f.holds, name)
	// The obstruction is gone once the joint stops pushing into it
	f.stuck[name] = false
	f.loads[name] = 0
	return nil
}

func (f *fakeArm) EnableAll(ctx context.Context) error {
	f.enables++
	return nil
}

func (f *fakeArm) DisableAll(ctx context.Context) error {
	f.disables++
	return nil
}

func testInitial() map[robot.MotorName]int {
	return map[robot.MotorName]int{
		robot.ShoulderPan:  1923,
		robot.ShoulderLift: 890,
		robot.ElbowFlex:    2954,
		robot.WristFlex:    1084,
		robot.WristRoll:    574,
		robot.Gripper:      2065,
	}
}

func testConfig() Config {
	return Config{
		Wait:         30 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
}

func TestRunnerFullPass(t *testing.T) {
	arm := newFakeArm(testInitial())
	runner := NewRunner(arm, testConfig())

	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Phases, 3)

	assert.Equal(t, PhaseForward, report.Phases[0].Phase)
	assert.Equal(t, PhaseBackward, report.Phases[1].Phase)
	assert.Equal(t, PhaseReturn, report.Phases[2].Phase)

	// +5% of the 4096-tick range is 205 ticks
	res, ok := report.Phases[0].Result(robot.ShoulderPan)
	require.True(t, ok)
	assert.Equal(t, 2128, res.Target)
	assert.True(t, res.Moved)

	// The backward phase nets out 5% below the initial position
	res, ok = report.Phases[1].Result(robot.ShoulderPan)
	require.True(t, ok)
	assert.Equal(t, 1718, res.Target)

	for _, name := range robot.AllMotors() {
		assert.True(t, report.Returned(name, 10), "joint %s did not return", name)
	}

	assert.Equal(t, 1, arm.enables)
	assert.Equal(t, 1, arm.disables, "torque must come off exactly once")
	assert.Greater(t, arm.movingPolls, 0, "settling must consult the moving flag")
}

func TestRunnerPhaseBarrier(t *testing.T) {
	arm := newFakeArm(testInitial())
	runner := NewRunner(arm, testConfig())

	_, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, arm.moves, 18)

	initial := testInitial()
	// All six forward commands come before any backward command
	for i, mv := range arm.moves[:6] {
		assert.Equal(t, initial[mv.joint]+205, mv.target, "move %d (%s) is not a forward target", i, mv.joint)
	}
	for i, mv := range arm.moves[6:12] {
		assert.Equal(t, initial[mv.joint]-205, mv.target, "move %d (%s) is not a backward target", i+6, mv.joint)
	}
	for i, mv := range arm.moves[12:] {
		assert.Equal(t, initial[mv.joint], mv.target, "move %d (%s) is not a return target", i+12, mv.joint)
	}
}

func TestRunnerOverloadHaltsOneJoint(t *testing.T) {
	arm := newFakeArm(testInitial())
	arm.stuck[robot.ElbowFlex] = true
	arm.loads[robot.ElbowFlex] = 1500

	runner := NewRunner(arm, testConfig())
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Phases, 3)

	res, ok := report.Phases[0].Result(robot.ElbowFlex)
	require.True(t, ok)
	assert.True(t, res.Halted)
	assert.NotEqual(t, res.Target, res.Final, "a halted joint must not reach its target")
	assert.GreaterOrEqual(t, res.PeakLoad, 1500)
	assert.Equal(t, []robot.MotorName{robot.ElbowFlex}, arm.holds)

	// Other joints are unaffected
	for _, name := range robot.AllMotors() {
		if name == robot.ElbowFlex {
			continue
		}
		other, ok := report.Phases[0].Result(name)
		require.True(t, ok)
		assert.True(t, other.Moved)
		assert.False(t, other.Halted)
	}

	// The halted joint sits out the backward phase...
	res, ok = report.Phases[1].Result(robot.ElbowFlex)
	require.True(t, ok)
	assert.True(t, res.Skipped)
	assert.False(t, res.Moved)

	// ...but is still commanded home in the return phase
	res, ok = report.Phases[2].Result(robot.ElbowFlex)
	require.True(t, ok)
	assert.True(t, res.Moved)
	assert.Equal(t, testInitial()[robot.ElbowFlex], res.Target)

	assert.Equal(t, 1, arm.disables)
}

func TestRunnerRejectsOutOfRangeTarget(t *testing.T) {
	initial := testInitial()
	initial[robot.WristRoll] = 4000 // +205 would leave the motor's range

	arm := newFakeArm(initial)
	runner := NewRunner(arm, testConfig())
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	res, ok := report.Phases[0].Result(robot.WristRoll)
	require.True(t, ok)
	assert.True(t, res.Skipped)
	assert.False(t, res.Moved)
	assert.Contains(t, res.Reason, "outside motor range")

	// The backward target (3795) is fine, so the joint rejoins the run
	res, ok = report.Phases[1].Result(robot.WristRoll)
	require.True(t, ok)
	assert.True(t, res.Moved)
}

func TestRunnerRejectsOversizedStep(t *testing.T) {
	cfg := testConfig()
	cfg.ForwardPercent = 30 // 1229 ticks, past the 1024-tick safety step

	arm := newFakeArm(testInitial())
	runner := NewRunner(arm, cfg)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	for _, name := range robot.AllMotors() {
		res, ok := report.Phases[0].Result(name)
		require.True(t, ok)
		assert.True(t, res.Skipped, "joint %s took an oversized step", name)
		assert.False(t, res.Moved)
	}

	// ShoulderPan's target stays in range, so the step check is what trips
	res, ok := report.Phases[0].Result(robot.ShoulderPan)
	require.True(t, ok)
	assert.Contains(t, res.Reason, "exceeds safe step")
}

func TestRunnerElevatedLoadCaution(t *testing.T) {
	arm := newFakeArm(testInitial())
	arm.loads[robot.WristFlex] = 400 // past limit/4, well under the limit

	runner := NewRunner(arm, testConfig())

	var mu sync.Mutex
	var lines []string
	go func() {
		for msg := range runner.Logs() {
			mu.Lock()
			lines = append(lines, msg)
			mu.Unlock()
		}
	}()

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	res, ok := report.Phases[0].Result(robot.WristFlex)
	require.True(t, ok)
	assert.False(t, res.Halted, "elevated load must not halt the joint")
	assert.True(t, res.Moved)
	assert.Equal(t, 400, res.PeakLoad)
	assert.Empty(t, arm.holds)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, line := range lines {
			if strings.Contains(line, "elevated load") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "no caution line was logged")
}

func TestRunnerClampsToCalibratedRange(t *testing.T) {
	initial := testInitial()
	initial[robot.Gripper] = 3800

	cfg := testConfig()
	cfg.Calibration = robot.Calibration{
		robot.Gripper: robot.MotorCalibration{ID: 6, RangeMin: 100, RangeMax: 3900},
	}

	arm := newFakeArm(initial)
	runner := NewRunner(arm, cfg)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	res, ok := report.Phases[0].Result(robot.Gripper)
	require.True(t, ok)
	assert.True(t, res.Moved)
	assert.Equal(t, 3900, res.Target, "target 4005 should clamp to the calibrated max")
}

func TestRunnerInitialReadFailureIsFatal(t *testing.T) {
	arm := newFakeArm(testInitial())
	arm.positionsErr = context.DeadlineExceeded

	runner := NewRunner(arm, testConfig())
	report, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Zero(t, arm.enables, "torque must stay untouched when the arm is unreadable")
}

func TestRunnerDisablesTorqueOnCancel(t *testing.T) {
	arm := newFakeArm(testInitial())
	runner := NewRunner(arm, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := runner.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Less(t, len(report.Phases), 3)
	assert.Equal(t, 1, arm.disables, "torque must come off on the error path too")
}

func TestOffsetTicks(t *testing.T) {
	assert.Equal(t, 205, offsetTicks(5))
	assert.Equal(t, 410, offsetTicks(10))
	assert.Equal(t, 0, offsetTicks(0))
}
