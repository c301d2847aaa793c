package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Setup    SetupCommand    `command:"setup" description:"Scan for arms and calibrate them"`
	Exercise ExerciseCommand `command:"exercise" description:"Run the phased motor exercise routine with overload protection"`
	Diagnose DiagnoseCommand `command:"diagnose" description:"Report per-motor health and optionally power-cycle torque"`
	FixPorts FixPortsCommand `command:"fix-ports" description:"Recover stuck serial ports by reopening them at several baud rates"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "so101 - maintenance CLI for SO-101 robot arms"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
