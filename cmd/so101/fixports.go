package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/armlab/so101/pkg/robot"
)

type FixPortsCommand struct {
	Ports []string `long:"port" description:"Port to reset (repeatable; defaults to the configured arm ports)"`
}

// Baud rates to cycle through when clearing a wedged port. The arms run at
// 1 Mbaud; the lower rates match what drivers fall back to.
var resetBaudRates = []int{robot.DefaultBaudRate, 115200, 9600}

func (c *FixPortsCommand) Execute(args []string) error {
	available, err := serial.GetPortsList()
	if err != nil {
		return fmt.Errorf("list serial ports: %w", err)
	}

	fmt.Println(headerStyle.Render("Available serial ports"))
	if len(available) == 0 {
		fmt.Println("  (none)")
	}
	for _, port := range available {
		fmt.Printf("  %s\n", port)
	}
	fmt.Println()

	targets := c.Ports
	if len(targets) == 0 {
		if cfg, err := robot.LoadConfig(); err == nil {
			if cfg.Leader.Port != "" {
				targets = append(targets, cfg.Leader.Port)
			}
			if cfg.Follower.Port != "" {
				targets = append(targets, cfg.Follower.Port)
			}
		}
	}
	if len(targets) == 0 {
		// No config and no flags: try everything we can see
		targets = available
	}

	for _, port := range targets {
		resetPort(port)
	}

	fmt.Println()
	fmt.Println("Port reset attempt complete.")
	fmt.Println("If arms are still unresponsive, power cycle them and re-run 'so101 setup'.")
	return nil
}

// resetPort opens and closes a port at each known baud rate to shake loose a
// stuck handle left behind by a killed process.
func resetPort(name string) {
	log.Infof("Attempting to reset %s", name)
	for _, baud := range resetBaudRates {
		port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
		if err != nil {
			log.Warnf("  %s at %d baud: %v", name, baud, err)
			continue
		}
		if err := port.Close(); err != nil {
			log.Warnf("  close %s: %v", name, err)
			continue
		}
		log.Infof("  opened and closed %s at %d baud", name, baud)
	}
}
