// Commlink — CLI entry point.
//
// This tool talks to a microcontroller over a framed serial link. It can
// print received messages, send lines typed on stdin, expose a local serial
// device to a remote machine over a PIN-protected WebSocket bridge, or list
// the serial ports present.
//
// It can be launched interactively (no mode) or non-interactively:
//
//	commlink [flags] monitor|send|list|init
//	commlink [flags] bridge [-listen addr] [-pin NNNN]
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/samber/lo"

	"github.com/1ureka/commlink/internal/bridge"
	"github.com/1ureka/commlink/internal/config"
	"github.com/1ureka/commlink/internal/protocol"
	"github.com/1ureka/commlink/internal/session"
	"github.com/1ureka/commlink/internal/transport"
	"github.com/1ureka/commlink/internal/util"
)

var version = "dev"

const (
	defaultConfigFile = "commlink.toml"
	statsInterval     = 5 * time.Second
)

var modes = []string{"monitor", "send", "bridge", "list", "init"}

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "", "Path to a TOML config file")
	port := flag.String("port", "", "Serial device, ws://host:port/ws?pin=NNNN, or loop://")
	baud := flag.Int("baud", 0, "Baud rate (default 9600)")
	verbose := flag.Bool("verbose", true, "Print received messages that are valid UTF-8")
	legacy := flag.Bool("legacy", false, "Use the unstuffed wire format")
	logFile := flag.String("log-file", "", "Also write logs to this file (rotated)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	// Flags override the file only when given, except verbose which the CLI
	// turns on unless a config file says otherwise.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["port"] {
		cfg.Port = *port
	}
	if set["baud"] {
		cfg.BaudRate = *baud
	}
	if set["verbose"] || *configPath == "" {
		cfg.Verbose = *verbose
	}
	if set["legacy"] {
		cfg.LegacyFraming = *legacy
	}
	if set["log-file"] {
		cfg.LogFile = *logFile
	}
	if set["debug"] {
		cfg.Debug = *debugMode
	}

	if cfg.Debug {
		util.EnableDebug()
	}
	logCloser := util.SetLogFile(cfg.LogFile)
	defer logCloser.Close()

	pterm.Info.Println(fmt.Sprintf("Commlink — v%s", version))
	pterm.Println()

	mode := flag.Arg(0)
	args := lo.Drop(flag.Args(), 1)
	if mode == "" {
		mode, cfg = runInteractive(cfg)
	}

	if err := run(ctx, mode, cfg, args, *configPath); err != nil && !errors.Is(err, context.Canceled) {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// loadConfig reads path if given, else an existing commlink.toml in the
// working directory, else starts from defaults.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err != nil {
			return config.Config{}, nil
		}
		path = defaultConfigFile
	}
	return config.Load(path)
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

func run(ctx context.Context, mode string, cfg config.Config, args []string, configPath string) error {
	switch mode {
	case "monitor":
		return runMonitor(ctx, cfg)
	case "send":
		return runSend(ctx, cfg)
	case "bridge":
		return runBridge(ctx, cfg, args)
	case "list":
		return runList()
	case "init":
		path := lo.Ternary(configPath == "", defaultConfigFile, configPath)
		if err := config.WriteTemplate(path, false); err != nil {
			return err
		}
		util.LogInfo("wrote config template to %s", path)
		return nil
	default:
		return fmt.Errorf("invalid mode %q: must be one of %s", mode, strings.Join(modes, ", "))
	}
}

// runInteractive asks for the mode and, when needed, the port.
func runInteractive(cfg config.Config) (string, config.Config) {
	mode, _ := pterm.DefaultInteractiveSelect.
		WithOptions(modes).
		WithDefaultText("Select a mode").
		Show()
	pterm.Println()

	if mode == "list" || mode == "init" || cfg.Port != "" {
		return mode, cfg
	}

	ports, err := transport.ListPorts()
	if err != nil {
		util.LogWarning("%v", err)
	}
	options := append(ports, transport.LoopbackPort, "other…")
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions(options).
		WithDefaultText("Select a port").
		Show()

	if choice == "other…" {
		choice, _ = pterm.DefaultInteractiveTextInput.
			WithDefaultText("Port (device path or ws:// URL)").
			Show()
	}
	pterm.Println()

	cfg.Port = strings.TrimSpace(choice)
	return mode, cfg
}

// runMonitor prints every received message until Ctrl+C or the link drops.
func runMonitor(ctx context.Context, cfg config.Config) error {
	s, err := session.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	util.StartStatsReporter(ctx, s.Counters(), statsInterval)
	util.LogInfo("monitoring %s — press Ctrl+C to stop", s.Config().Port)

	for msg := range s.Receive().All() {
		logMessage(s, msg)
	}
	return ctx.Err()
}

// runSend writes each stdin line as one message while printing what comes
// back. It returns at end of input, on Ctrl+C, or when the link drops.
func runSend(ctx context.Context, cfg config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := session.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	go func() {
		for msg := range s.Receive().All() {
			logMessage(s, msg)
		}
		cancel()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	util.LogInfo("connected to %s — type a line to send it, Ctrl+D to quit", s.Config().Port)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := s.WriteContext(ctx, line); err != nil {
				return err
			}
		case err := <-s.Errors():
			util.LogDebug("link error: %v", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runBridge exposes the configured device to one remote session at a time.
func runBridge(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("bridge", flag.ContinueOnError)
	listen := fs.String("listen", "127.0.0.1:0", "Address for the WebSocket server (\":port\" for all interfaces)")
	pin := fs.String("pin", cfg.BridgePIN, "PIN clients must present (random if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resolved, err := cfg.Resolve()
	if err != nil {
		return err
	}
	device, err := transport.Open(ctx, transport.Options{
		Port:        resolved.Port,
		BaudRate:    resolved.BaudRate,
		ReadTimeout: resolved.ReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", resolved.Port, err)
	}
	defer device.Close()

	srv := bridge.NewServer(device, *pin)
	addr, err := srv.Start(*listen)
	if err != nil {
		return err
	}
	defer srv.Close()

	pterm.DefaultBox.WithTitle("WebSocket Bridge").Println(fmt.Sprintf(
		"Device  : %s\nAddress : %s\nPIN     : %s\n\nConnect with -port ws://%s/ws?pin=%s",
		resolved.Port, addr, srv.PIN(), addr, srv.PIN()))
	pterm.Println()

	util.StartStatsReporter(ctx, srv.Counters(), statsInterval)
	return srv.Serve(ctx)
}

// runList prints the serial ports the OS reports.
func runList() error {
	ports, err := transport.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		util.LogWarning("no serial ports found")
		return nil
	}

	items := lo.Map(ports, func(p string, _ int) pterm.BulletListItem {
		return pterm.BulletListItem{Level: 0, Text: p}
	})
	return pterm.DefaultBulletList.WithItems(items).Render()
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// logMessage shows messages the verbose printer skips: everything when
// verbose is off, binary payloads when it is on.
func logMessage(s *session.Session, msg protocol.Message) {
	if _, ok := protocol.Text(msg); ok && s.Config().Verbose {
		return
	}
	util.LogDebug("[%s] % x", s.ID(), []byte(msg))
}
