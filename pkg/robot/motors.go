// Package robot provides abstractions for controlling SO-101 robot arms.
package robot

// MotorName identifies a motor in the arm.
type MotorName string

// Motor names for the SO-101 arm.
const (
	ShoulderPan  MotorName = "shoulder_pan"
	ShoulderLift MotorName = "shoulder_lift"
	ElbowFlex    MotorName = "elbow_flex"
	WristFlex    MotorName = "wrist_flex"
	WristRoll    MotorName = "wrist_roll"
	Gripper      MotorName = "gripper"
)

// STS3215 encoder geometry: 12-bit positions over one revolution.
const (
	EncoderRange = 4096
	PositionMax  = EncoderRange - 1
)

// AllMotors returns all motor names in order (matching servo IDs 1-6).
func AllMotors() []MotorName {
	return []MotorName{
		ShoulderPan,
		ShoulderLift,
		ElbowFlex,
		WristFlex,
		WristRoll,
		Gripper,
	}
}

// ServoID returns the bus ID for a motor name, or 0 if the name is unknown.
func (m MotorName) ServoID() int {
	for i, name := range AllMotors() {
		if name == m {
			return i + 1
		}
	}
	return 0
}
