// Package so101 provides maintenance tooling for SO-101 robot arms.
//
// The so101 CLI exercises, diagnoses and recovers the STS3215 serial servos
// of a leader/follower SO-101 rig connected through USB-to-serial adapters.
//
// # Installation
//
//	go install github.com/armlab/so101/cmd/so101@latest
//
// # Usage
//
// First, run setup to detect and calibrate your robot arms:
//
//	so101 setup
//
// Then run the motor exercise routine against the follower arm:
//
//	so101 exercise
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/so101: CLI with setup, exercise, diagnose and fix-ports commands
//   - pkg/robot: Arm control, calibration, and configuration
//   - pkg/exercise: Phased motor exercise runner with overload protection
package so101
