package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "run":
		runMonitor(os.Args[2:])
	case "probe":
		runProbe(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [options]

Commands:
  run       Connect to the device and manage Zoom bridge calls
  probe     Connect once and print the active call and its media statistics

Run '%s <command> -h' for more information on a command.
`, os.Args[0], os.Args[0])
}
