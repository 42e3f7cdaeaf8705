package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"hallmidi/control"
)

// ============================================================================
// hallmidi-ctl - Command-line IPC Client
// ============================================================================
// Drives calibration and settings of a running hallmidi daemon.
//
// Usage:
//   hallmidi-ctl calibrate start
//   hallmidi-ctl calibrate finish
//   hallmidi-ctl set channel 10
//   hallmidi-ctl status
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/hallmidi.sock)
// ============================================================================

const (
	defaultSocketPath = "/tmp/hallmidi.sock"
	requestTimeout    = 5 * time.Second
)

func main() {
	socketPath := defaultSocketPath

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		os.Exit(0)
	}

	ev, err := parseCommand(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	resp, err := control.Send(socketPath, ev, requestTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(resp.Data) == 0 {
		fmt.Println("ok")
		return
	}
	var out bytes.Buffer
	if err := json.Indent(&out, resp.Data, "", "  "); err != nil {
		fmt.Println(string(resp.Data))
		return
	}
	fmt.Println(out.String())
}

// parseCommand turns the command line (without options) into an event.
func parseCommand(args []string) (control.Event, error) {
	switch args[0] {
	case "calibrate", "cal":
		if len(args) < 2 {
			return nil, errors.New("calibrate requires start, finish or abort")
		}
		switch args[1] {
		case "start":
			return control.CalibrationStart{}, nil
		case "finish", "done":
			return control.CalibrationFinish{}, nil
		case "abort", "cancel":
			return control.CalibrationAbort{}, nil
		default:
			return nil, fmt.Errorf("unknown calibrate action: %s", args[1])
		}

	case "set":
		return parseSet(args[1:])

	case "reset":
		return control.SettingsReset{}, nil

	case "status":
		return control.StatusRequest{}, nil

	default:
		return nil, fmt.Errorf("unknown command: %s", args[0])
	}
}

// parseSet reads "name value" pairs into one settings update, so several
// fields can change in a single request.
func parseSet(args []string) (control.Event, error) {
	if len(args) == 0 || len(args)%2 != 0 {
		return nil, errors.New("set requires name/value pairs")
	}

	var u control.SettingsUpdate
	for i := 0; i < len(args); i += 2 {
		name, value := args[i], args[i+1]
		switch name {
		case "channel":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid channel: %w", err)
			}
			u.MidiChannel = &n
		case "base", "base-note":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid base note: %w", err)
			}
			u.BaseNote = &n
		case "hysteresis":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid hysteresis: %w", err)
			}
			u.HysteresisPct = &n
		case "fast":
			b, err := parseOnOff(value)
			if err != nil {
				return nil, fmt.Errorf("invalid fast: %w", err)
			}
			u.FastMIDI = &b
		case "polarity":
			p := value
			u.Polarity = &p
		default:
			return nil, fmt.Errorf("unknown setting: %s", name)
		}
	}
	return u, nil
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(s)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `hallmidi-ctl - Control the hallmidi daemon via IPC

Usage:
  hallmidi-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: %s)

Commands:
  calibrate start             Release all notes and start sampling key travel
  calibrate finish            Store learned thresholds and resume scanning
  calibrate abort             Resume scanning without changing settings
  set <name> <value> ...      Change settings, one or more pairs:
                                channel 1-16, base 0-127, fast on|off,
                                hysteresis 0-100, polarity raise|lower
  reset                       Restore default settings
  status                      Print mode, settings and key positions
  help, -h, --help            Show this help message

Examples:
  hallmidi-ctl calibrate start
  hallmidi-ctl set channel 10 base 48
  hallmidi-ctl -socket /run/hallmidi.sock status
`, defaultSocketPath)
}
