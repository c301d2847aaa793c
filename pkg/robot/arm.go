package robot

import (
	"context"
	"fmt"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// DefaultBaudRate is the factory baud rate of STS3215 servos.
const DefaultBaudRate = 1_000_000

// defaultMoveTime is how long a commanded move is stretched over. Slow timed
// moves keep the exercise and recovery routines gentle on the gearboxes.
const defaultMoveTime = 2 * time.Second

// Arm represents a robot arm with multiple servos on one bus.
type Arm struct {
	bus         *feetech.Bus
	group       *feetech.ServoGroup
	servos      map[MotorName]*feetech.Servo
	calibration Calibration
	moveTime    time.Duration
}

// ArmConfig holds connection settings for a single arm.
type ArmConfig struct {
	Port        string
	Calibration Calibration
	MoveTime    time.Duration // duration of timed position commands
}

// NewArm creates and initializes an arm connection.
func NewArm(cfg ArmConfig) (*Arm, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: DefaultBaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus on %s: %w", cfg.Port, err)
	}

	if cfg.MoveTime <= 0 {
		cfg.MoveTime = defaultMoveTime
	}

	// Servo IDs come from the calibration when one is present, so arms with
	// renumbered servos keep working; factory wiring is IDs 1-6.
	ids := cfg.Calibration.MotorIDs()
	if len(ids) != len(AllMotors()) {
		ids = ids[:0]
		for _, name := range AllMotors() {
			ids = append(ids, name.ServoID())
		}
	}
	servos := make(map[MotorName]*feetech.Servo, len(AllMotors()))
	for i, name := range AllMotors() {
		servos[name] = feetech.NewServo(bus, ids[i], nil)
	}

	return &Arm{
		bus:         bus,
		group:       feetech.NewServoGroupByIDs(bus, ids...),
		servos:      servos,
		calibration: cfg.Calibration,
		moveTime:    cfg.MoveTime,
	}, nil
}

// Close closes the arm's bus connection.
func (a *Arm) Close() error {
	return a.bus.Close()
}

// Calibration returns the calibration the arm was opened with (may be empty).
func (a *Arm) Calibration() Calibration {
	return a.calibration
}

// EnableAll enables torque on all servos.
func (a *Arm) EnableAll(ctx context.Context) error {
	return a.group.EnableAll(ctx)
}

// DisableAll disables torque on all servos.
func (a *Arm) DisableAll(ctx context.Context) error {
	return a.group.DisableAll(ctx)
}

// Position reads the raw encoder position of one motor.
func (a *Arm) Position(ctx context.Context, name MotorName) (int, error) {
	servo, ok := a.servos[name]
	if !ok {
		return 0, fmt.Errorf("unknown motor %q", name)
	}
	pos, err := servo.Position(ctx)
	if err != nil {
		return 0, fmt.Errorf("read %s position: %w", name, err)
	}
	return pos, nil
}

// Positions reads raw encoder positions from all motors using a sync read.
func (a *Arm) Positions(ctx context.Context) (map[MotorName]int, error) {
	raw, err := a.group.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	positions := make(map[MotorName]int, len(raw))
	for id, pos := range raw {
		if name, _, ok := a.calibration.ByID(id); ok {
			positions[name] = pos
			continue
		}
		if id >= 1 && id <= len(AllMotors()) {
			positions[AllMotors()[id-1]] = pos
		}
	}
	return positions, nil
}

// Load reads the instantaneous load reported by one motor.
func (a *Arm) Load(ctx context.Context, name MotorName) (int, error) {
	servo, ok := a.servos[name]
	if !ok {
		return 0, fmt.Errorf("unknown motor %q", name)
	}
	load, err := servo.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("read %s load: %w", name, err)
	}
	return load, nil
}

// Moving reports whether one motor's moving flag is set.
func (a *Arm) Moving(ctx context.Context, name MotorName) (bool, error) {
	servo, ok := a.servos[name]
	if !ok {
		return false, fmt.Errorf("unknown motor %q", name)
	}
	moving, err := servo.Moving(ctx)
	if err != nil {
		return false, fmt.Errorf("read %s moving flag: %w", name, err)
	}
	return moving, nil
}

// SetPosition commands one motor toward a raw target position as a timed
// move, so the servo spreads the motion over the arm's move time.
func (a *Arm) SetPosition(ctx context.Context, name MotorName, target int) error {
	servo, ok := a.servos[name]
	if !ok {
		return fmt.Errorf("unknown motor %q", name)
	}
	if err := servo.SetPositionWithTime(ctx, target, int(a.moveTime.Milliseconds())); err != nil {
		return fmt.Errorf("move %s to %d: %w", name, target, err)
	}
	return nil
}

// Hold stops one motor by re-commanding its current position immediately.
func (a *Arm) Hold(ctx context.Context, name MotorName) error {
	servo, ok := a.servos[name]
	if !ok {
		return fmt.Errorf("unknown motor %q", name)
	}
	pos, err := servo.Position(ctx)
	if err != nil {
		return fmt.Errorf("read %s position: %w", name, err)
	}
	if err := servo.SetPosition(ctx, pos); err != nil {
		return fmt.Errorf("hold %s at %d: %w", name, pos, err)
	}
	return nil
}
