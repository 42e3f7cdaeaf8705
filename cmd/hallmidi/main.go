package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"

	"hallmidi/device"
	"hallmidi/hw"
	"hallmidi/midi"
	"hallmidi/settings"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("hallmidi v%s\n", version)
	fmt.Println("Hall-effect keyboard scanner and MIDI controller daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  hallmidi [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Scans up to 64 Hall-effect key sensors through MCP3208 ADCs, turns key")
	fmt.Println("  travel into velocity-sensitive NoteOn/NoteOff messages and sends them on a")
	fmt.Println("  serial MIDI port. Incoming MIDI can be merged into the output stream.")
	fmt.Println("  Calibration and settings are controlled with hallmidi-ctl over IPC.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML config file (defaults are used for anything not set)")
	fmt.Println()
	fmt.Println("  -scanner string")
	fmt.Println("        Sensor source: spi|replay (default \"spi\")")
	fmt.Println()
	fmt.Println("  -channels int")
	fmt.Printf("        Number of scanned keys, 1-%d (default %d)\n", settings.MaxChannels, settings.MaxChannels)
	fmt.Println()
	fmt.Println("  -replay string")
	fmt.Println("        Capture file of ';'-separated sensor rows; implies -scanner replay")
	fmt.Println()
	fmt.Println("  -replay-loop")
	fmt.Println("        Restart the capture when it ends instead of holding the last row")
	fmt.Println()
	fmt.Println("  -midi-out string")
	fmt.Printf("        Serial port for MIDI out, empty to only log (default %q)\n", defaultMidiOutPort)
	fmt.Println()
	fmt.Println("  -midi-in string")
	fmt.Println("        Serial port for MIDI in, forwarded to MIDI out (default disabled)")
	fmt.Println()
	fmt.Println("  -settings string")
	fmt.Printf("        Settings file (default %q)\n", defaultSettingsPath)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultSocketPath)
	fmt.Println()
	fmt.Println("  -http-port int")
	fmt.Printf("        Status HTTP/websocket port, 0 disables (default %d)\n", defaultHTTPPort)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Run on the keyboard with the default wiring")
	fmt.Println("  hallmidi -config /etc/hallmidi.yaml")
	fmt.Println()
	fmt.Println("  # Replay a sensor capture without hardware, MIDI only logged")
	fmt.Println("  hallmidi -replay capture.txt -midi-out '' -log-level debug")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires access to /dev/spidev* and the serial port (spi and dialout groups)")
	fmt.Println("  - Fast MIDI (a settings flag) switches the UART from 31250 to midi_out.fast_baud")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath    = flag.String("config", "", "YAML config file")
		scannerType   = flag.String("scanner", scannerSPI, "Sensor source: spi|replay")
		channels      = flag.Int("channels", settings.MaxChannels, "Number of scanned keys")
		replayFile    = flag.String("replay", "", "Capture file for the replay scanner")
		replayLoop    = flag.Bool("replay-loop", false, "Loop the capture")
		midiOutPort   = flag.String("midi-out", defaultMidiOutPort, "Serial port for MIDI out")
		midiInPort    = flag.String("midi-in", "", "Serial port for MIDI in")
		settingsPath  = flag.String("settings", defaultSettingsPath, "Settings file")
		ipcSocketPath = flag.String("ipc-socket", defaultSocketPath, "Unix domain socket path for IPC")
		httpPort      = flag.Int("http-port", defaultHTTPPort, "Status HTTP/websocket port")
		logLevelStr   = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		_             = flag.Bool("version", false, "Print version and exit")
		_             = flag.Bool("help", false, "Print help message")
	)
	flag.Usage = printUsage
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	var o FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "scanner":
			o.ScannerType = scannerType
		case "channels":
			o.Channels = channels
		case "replay":
			o.ReplayFile = replayFile
		case "replay-loop":
			o.ReplayLoop = replayLoop
		case "midi-out":
			o.MidiOutPort = midiOutPort
		case "midi-in":
			o.MidiInPort = midiInPort
		case "settings":
			o.SettingsPath = settingsPath
		case "ipc-socket":
			o.IPCSocketPath = ipcSocketPath
		case "http-port":
			o.HTTPPort = httpPort
		case "log-level":
			o.LogLevel = logLevelStr
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	level, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(level, cfg.Logging.Format, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.Error("hallmidi stopped", "error", err)
		os.Exit(1)
	}
}

// run wires the pipeline and blocks until SIGINT/SIGTERM or a fatal error.
func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scanner, err := openScanner(cfg.Scanner, logger)
	if err != nil {
		return err
	}
	defer scanner.Close()

	store := settings.NewFileStore(ExpandPath(cfg.Settings.Path), logger)

	queue := midi.NewQueue(cfg.MidiOut.QueueSize)
	dev := device.New(cfg.ToDeviceConfig(), scanner, store, midi.NewEncoder(queue, logger), logger)

	// MIDI out. Without a port the transmitter still drains the queue and
	// logs every batch at debug level.
	var (
		out     io.Writer = io.Discard
		outPort serial.Port
	)
	if cfg.MidiOut.Port != "" {
		outPort, err = hw.OpenSerial(cfg.MidiOut.Port, hw.StandardMIDIBaud, serialReadTimeout, logger)
		if err != nil {
			return err
		}
		defer outPort.Close()
		out = outPort
		dev.OnSettings = baudSwitcher(outPort, cfg.MidiOut.FastBaud, logger)
	} else {
		logger.Warn("midi_out.port is empty, MIDI is only logged")
	}

	// MIDI in shares the UART when both sides name the same port.
	var in io.Reader
	if cfg.MidiIn.Enabled {
		if cfg.MidiIn.Port == cfg.MidiOut.Port && outPort != nil {
			in = outPort
		} else {
			inPort, err := hw.OpenSerial(cfg.MidiIn.Port, hw.StandardMIDIBaud, serialReadTimeout, logger)
			if err != nil {
				return err
			}
			defer inPort.Close()
			in = inPort
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return dev.Run(gctx) })

	tx := midi.NewTransmitter(queue, cfg.MidiOut.Batch, logger)
	g.Go(func() error { return tx.Run(gctx, out) })

	if in != nil {
		disp := midi.NewDispatcher(queue, logger)
		g.Go(func() error {
			err := disp.Run(gctx, in)
			st := disp.Stats()
			logger.Info("midi in stopped", "messages", st.Messages, "realtime", st.Realtime, "dropped", st.Dropped)
			return err
		})
	}

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, dev, cfg.Scanner.Channels, logger)
	})

	if cfg.HTTP.Port > 0 {
		ws := NewServer(logger, dev, ServerConfig{})
		g.Go(func() error {
			ws.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, ws.Hub(), dev.Broadcasts(), cfg.Scanner.Channels, logger)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.HTTP.Port, newStatusMux(dev, ws, logger), logger)
		})
	}

	logger.Debug("starting hallmidi", "version", version)
	logger.Info("running",
		"scanner", cfg.Scanner.Type,
		"channels", cfg.Scanner.Channels,
		"midi_out", cfg.MidiOut.Port,
		"midi_in", cfg.MidiIn.Port,
		"settings", cfg.Settings.Path,
		"ipc", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port)

	err = g.Wait()
	logger.Info("shutting down", "midi_bytes_sent", tx.Written())
	return err
}

// openScanner builds the configured sensor source.
func openScanner(c ScannerConfig, logger *slog.Logger) (hw.Scanner, error) {
	switch c.Type {
	case scannerReplay:
		s, err := hw.OpenReplayScanner(ExpandPath(c.File), c.Loop)
		if err != nil {
			return nil, err
		}
		logger.Info("replay scanner ready", "file", c.File, "rows", s.Rows(), "loop", c.Loop)
		return s, nil
	default:
		chips := (c.Channels + hw.ChannelsPerChip - 1) / hw.ChannelsPerChip
		return hw.OpenSPIScanner(c.Devices[:chips], c.SpeedHz, logger)
	}
}

// baudSwitcher returns a device settings hook that keeps the UART speed in
// line with the fast MIDI flag. It runs on the device loop only.
func baudSwitcher(port serial.Port, fastBaud int, logger *slog.Logger) func(settings.Settings) {
	current := hw.StandardMIDIBaud
	return func(s settings.Settings) {
		want := hw.BaudRate(s.FastMIDI, fastBaud)
		if want == current {
			return
		}
		if err := port.SetMode(hw.SerialMode(want)); err != nil {
			logger.Error("midi out: baud change failed", "baud", want, "error", err)
			return
		}
		current = want
		logger.Info("midi out: baud changed", "baud", want, "fast_midi", s.FastMIDI)
	}
}
