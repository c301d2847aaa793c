package robot

import (
	"math"
	"testing"
)

func TestMotorCalibration_Normalize(t *testing.T) {
	cal := MotorCalibration{
		RangeMin: 823,
		RangeMax: 3540,
	}

	tests := []struct {
		raw      int
		expected float64
	}{
		{823, -100.0},
		{3540, 100.0},
		{2181, -0.02}, // not exactly mid: range is odd-sized
	}

	for _, tt := range tests {
		got := cal.Normalize(tt.raw)
		if math.Abs(got-tt.expected) > 0.05 {
			t.Errorf("Normalize(%d) = %f, want %f", tt.raw, got, tt.expected)
		}
	}

	// A calibration with no recorded range normalizes everything to 0
	empty := MotorCalibration{}
	if got := empty.Normalize(2048); got != 0 {
		t.Errorf("Normalize on empty range = %f, want 0", got)
	}
}

func TestMotorCalibration_RoundTrip(t *testing.T) {
	cal := MotorCalibration{
		RangeMin: 823,
		RangeMax: 3540,
	}

	for raw := cal.RangeMin; raw <= cal.RangeMax; raw += 97 {
		norm := cal.Normalize(raw)
		back := cal.Denormalize(norm)
		if math.Abs(float64(back-raw)) > 1 {
			t.Errorf("Round-trip failed: %d -> %f -> %d", raw, norm, back)
		}
	}
}

func TestMotorCalibration_Clamp(t *testing.T) {
	cal := MotorCalibration{
		RangeMin: 1000,
		RangeMax: 3000,
	}

	tests := []struct {
		pos      int
		expected int
	}{
		{500, 1000},
		{1000, 1000},
		{2048, 2048},
		{3000, 3000},
		{4095, 3000},
	}

	for _, tt := range tests {
		if got := cal.Clamp(tt.pos); got != tt.expected {
			t.Errorf("Clamp(%d) = %d, want %d", tt.pos, got, tt.expected)
		}
	}

	// Without a recorded range, Clamp leaves positions alone
	empty := MotorCalibration{}
	if got := empty.Clamp(4200); got != 4200 {
		t.Errorf("Clamp on empty range = %d, want 4200", got)
	}
}

func TestCalibration_MotorIDs(t *testing.T) {
	cal := Calibration{}
	for _, name := range AllMotors() {
		cal[name] = MotorCalibration{ID: name.ServoID()}
	}

	ids := cal.MotorIDs()
	if len(ids) != 6 {
		t.Fatalf("MotorIDs returned %d IDs, want 6", len(ids))
	}

	for i, id := range ids {
		if id != i+1 {
			t.Errorf("MotorIDs()[%d] = %d, want %d", i, id, i+1)
		}
	}
}

func TestCalibration_ByID(t *testing.T) {
	cal := Calibration{
		ShoulderPan: MotorCalibration{ID: 1, RangeMin: 100, RangeMax: 200},
		Gripper:     MotorCalibration{ID: 6, RangeMin: 300, RangeMax: 400},
	}

	name, mc, ok := cal.ByID(6)
	if !ok {
		t.Fatal("ByID(6) returned false")
	}
	if name != Gripper {
		t.Errorf("ByID(6) returned name %s, want gripper", name)
	}
	if mc.RangeMin != 300 {
		t.Errorf("ByID(6) returned wrong calibration: %+v", mc)
	}

	if _, _, ok := cal.ByID(99); ok {
		t.Error("ByID(99) should return false")
	}
}
