package robot

import "testing"

func TestAllMotors_Order(t *testing.T) {
	motors := AllMotors()
	if len(motors) != 6 {
		t.Fatalf("AllMotors returned %d motors, want 6", len(motors))
	}
	if motors[0] != ShoulderPan {
		t.Errorf("first motor = %s, want shoulder_pan", motors[0])
	}
	if motors[5] != Gripper {
		t.Errorf("last motor = %s, want gripper", motors[5])
	}
}

func TestMotorName_ServoID(t *testing.T) {
	tests := []struct {
		name MotorName
		id   int
	}{
		{ShoulderPan, 1},
		{ShoulderLift, 2},
		{ElbowFlex, 3},
		{WristFlex, 4},
		{WristRoll, 5},
		{Gripper, 6},
		{MotorName("tail"), 0},
	}

	for _, tt := range tests {
		if got := tt.name.ServoID(); got != tt.id {
			t.Errorf("ServoID(%s) = %d, want %d", tt.name, got, tt.id)
		}
	}
}
