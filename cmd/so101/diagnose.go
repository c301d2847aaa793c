package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	log "github.com/sirupsen/logrus"

	"github.com/armlab/so101/pkg/robot"
)

type DiagnoseCommand struct {
	Arm        string `long:"arm" default:"follower" choice:"leader" choice:"follower" description:"Which arm to diagnose"`
	Port       string `long:"port" description:"Serial port override (skips the saved config)"`
	PowerCycle int    `long:"power-cycle" description:"Toggle torque off/on this many times per servo before reporting"`
}

func (c *DiagnoseCommand) Execute(args []string) error {
	port := c.Port
	var calibration robot.Calibration

	if port == "" {
		cfg, err := robot.LoadConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, "No configuration found. Run 'so101 setup' first, or pass --port.")
			os.Exit(1)
		}
		settings, err := cfg.Arm(c.Arm)
		if err != nil {
			return err
		}
		port = settings.Port
		calibration = settings.Calibration
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("Diagnosing %s arm on %s", c.Arm, port)))
	fmt.Println()

	arm, err := robot.NewArm(robot.ArmConfig{
		Port:        port,
		Calibration: calibration,
	})
	if err != nil {
		log.Errorf("Cannot open %s: %v", port, err)
		log.Error("If the port is stuck, try: so101 fix-ports")
		os.Exit(1)
	}
	defer arm.Close()

	ctx := context.Background()

	if c.PowerCycle > 0 {
		powerCycle(ctx, arm, c.PowerCycle)
	}

	rows := make([][]string, 0, len(robot.AllMotors()))
	responding := 0
	for _, name := range robot.AllMotors() {
		pos, err := arm.Position(ctx, name)
		if err != nil {
			log.Warnf("Motor %d (%s) did not respond: %v", name.ServoID(), name, err)
			rows = append(rows, []string{
				fmt.Sprintf("%d", name.ServoID()), string(name), "no response", "-", "-", "-",
			})
			continue
		}
		responding++

		norm, center := "-", "-"
		if cal, ok := calibration[name]; ok {
			norm = fmt.Sprintf("%+.1f%%", cal.Normalize(pos))
			center = fmt.Sprintf("%d", cal.Denormalize(0))
		}
		load := "-"
		if l, err := arm.Load(ctx, name); err == nil {
			load = fmt.Sprintf("%d", l)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", name.ServoID()), string(name), fmt.Sprintf("%d", pos), norm, center, load,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "Motor", "Position", "Normalized", "Center", "Load").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
			}
			if col == 2 && row >= 0 && row < len(rows) && rows[row][2] == "no response" {
				return warnStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	fmt.Println(t.Render())
	fmt.Println()

	if responding == len(robot.AllMotors()) {
		fmt.Println(successStyle.Render("All motors responding."))
	} else {
		fmt.Println(warnStyle.Render(fmt.Sprintf("%d of %d motors responding.", responding, len(robot.AllMotors()))))
		fmt.Println("Unresponsive motors usually need a power cycle of the arm's supply,")
		fmt.Println("or 'so101 diagnose --power-cycle 3' to toggle torque on the bus.")
	}

	return nil
}

// powerCycle toggles torque off and on for every servo. Clears some wedged
// servo states without touching the power supply.
func powerCycle(ctx context.Context, arm *robot.Arm, cycles int) {
	log.Infof("Power-cycling torque on all servos (%d cycles)", cycles)
	for i := 0; i < cycles; i++ {
		if err := arm.DisableAll(ctx); err != nil {
			log.Warnf("cycle %d: disable torque: %v", i+1, err)
		}
		time.Sleep(500 * time.Millisecond)
		if err := arm.EnableAll(ctx); err != nil {
			log.Warnf("cycle %d: enable torque: %v", i+1, err)
		}
		time.Sleep(500 * time.Millisecond)
	}
	// Leave the arm passive
	if err := arm.DisableAll(ctx); err != nil {
		log.Warnf("final disable torque: %v", err)
	}
}
