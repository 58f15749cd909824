package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"tapbridge/bridge"
	"tapbridge/device"
	"tapbridge/eventpipe"
	"tapbridge/indicator"
	"tapbridge/logging"
	"tapbridge/mqtt"
	"tapbridge/reader"
)

var myBuild string

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

// App holds the application state and dependencies.
type App struct {
	cfg       *Config
	logger    *slog.Logger
	mqtt      *mqtt.Client
	indicator indicator.Indicator
	status    *statusMirror
	stdin     io.Reader
	stdout    io.Writer
}

type options struct {
	cfgFile    string
	url        string
	secret     string
	lane       string
	device     string
	pipe       string
	logLevel   string
	simulate   bool
	test       bool
	allReaders bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("tapbridge", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.cfgFile, "cfg", defaultConfigFile, "Config file")
	fs.StringVar(&opts.url, "url", "", "Ledger base URL (default $NEXTJS_URL or "+defaultURL+")")
	fs.StringVar(&opts.secret, "secret", "", "Shared secret (default $NFC_TAP_SECRET)")
	fs.StringVar(&opts.lane, "lane", "", "Lane / reader id (default $POS_LANE_ID or auto)")
	fs.StringVar(&opts.device, "device", "", "Reader device, e.g. tty:USB0, usb, kbd:/dev/input/event0")
	fs.StringVar(&opts.pipe, "pipe", "", "Read manual UIDs from this named pipe (implies --simulate)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.BoolVar(&opts.simulate, "simulate", false, "Manual UID entry instead of hardware")
	fs.BoolVar(&opts.test, "test", false, "Send one test tap and exit")
	fs.BoolVar(&opts.allReaders, "all-readers", false, "Run one pipeline per detected reader")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	cfg, err := LoadConfig(opts.cfgFile, fs.Changed("cfg"))
	if err != nil {
		fmt.Fprintf(stderr, "tapbridge: %v\n", err)
		return exitConfig
	}
	opts.apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "tapbridge: invalid configuration: %v\n", err)
		return exitConfig
	}

	logger := logging.New(cfg.Logging, myBuild)
	slog.SetDefault(logger)

	printBanner(stdout, cfg, opts)

	if opts.test {
		return runTest(ctx, cfg, logger)
	}

	app, err := newApp(cfg, logger, stdin, stdout)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return exitConfig
	}
	defer app.close()

	if app.mqtt.IsEnabled() {
		go func() {
			if err := app.mqtt.Connect(); err != nil {
				logger.Warn("MQTT connect", "error", err)
			}
		}()
		go app.mqtt.RunPing(ctx)
	}

	if opts.simulate || opts.pipe != "" {
		err = app.runManual(ctx)
	} else {
		err = app.runReaders(ctx)
	}
	if err != nil {
		logger.Error("bridge stopped", "error", err)
		return exitFailed
	}
	logger.Info("shutdown complete")
	return exitOK
}

// apply overlays command-line flags; they win over file and environment.
func (o options) apply(fs *pflag.FlagSet, cfg *Config) {
	if fs.Changed("url") {
		cfg.Ledger.URL = o.url
	}
	if fs.Changed("secret") {
		cfg.Ledger.Secret = o.secret
	}
	if fs.Changed("lane") {
		cfg.Lane = o.lane
	}
	if fs.Changed("device") {
		cfg.Device.Override = o.device
	}
	if fs.Changed("pipe") {
		cfg.Manual.Path = o.pipe
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if o.allReaders {
		cfg.Device.AllReaders = true
	}
}

func printBanner(w io.Writer, cfg *Config, opts options) {
	secret := "[NOT SET]"
	if cfg.Ledger.Secret != "" {
		secret = "[SET]"
	}
	lane := cfg.Lane
	if lane == "" {
		lane = "auto (" + device.DefaultID + ")"
	}
	dev := cfg.Device.Override
	switch {
	case opts.test:
		dev = "none (test event)"
	case opts.simulate || opts.pipe != "":
		dev = "manual entry"
		if cfg.Manual.Path != "" {
			dev += " via " + cfg.Manual.Path
		}
	case dev == "" && cfg.Device.AllReaders:
		dev = "auto (all readers)"
	case dev == "":
		dev = "auto (fallback " + cfg.Device.Fallback + ")"
	}

	fmt.Fprintf(w, "tapbridge build %s\n", myBuild)
	fmt.Fprintf(w, "  Server: %s\n", cfg.Ledger.URL)
	fmt.Fprintf(w, "  Lane:   %s\n", lane)
	fmt.Fprintf(w, "  Device: %s\n", dev)
	fmt.Fprintf(w, "  Secret: %s\n", secret)
}

// runTest sends one DEADBEEF tap without any retry.
func runTest(ctx context.Context, cfg *Config, logger *slog.Logger) int {
	readerID := cfg.Lane
	if readerID == "" {
		readerID = device.DefaultID
	}
	err := bridge.SendTest(ctx, bridge.Options{
		ReaderID: readerID,
		Secret:   cfg.Ledger.Secret,
		Dial:     bridge.LedgerDialer(cfg.Ledger, logger),
		Logger:   logger,
	})
	if err != nil {
		logger.Error("test tap failed", "error", err)
		return exitFailed
	}
	return exitOK
}

func newApp(cfg *Config, logger *slog.Logger, stdin io.Reader, stdout io.Writer) (*App, error) {
	app := &App{cfg: cfg, logger: logger, stdin: stdin, stdout: stdout}

	var err error
	app.indicator, err = indicator.New(cfg.Indicator)
	if err != nil {
		return nil, fmt.Errorf("init indicator: %w", err)
	}
	app.indicator.ConnectionLost() // Start with connection lost state

	app.mqtt, err = mqtt.New(cfg.MQTT, cfg.clientID(), logger.With("component", "mqtt"))
	if err != nil {
		app.indicator.Release()
		return nil, fmt.Errorf("init MQTT: %w", err)
	}

	app.status = &statusMirror{indicator: app.indicator, mqtt: app.mqtt}
	return app, nil
}

func (app *App) close() {
	app.mqtt.Disconnect()
	app.indicator.Shutdown()
	app.indicator.Release()
}

func (app *App) options(readerID string) bridge.Options {
	return bridge.Options{
		ReaderID: readerID,
		Secret:   app.cfg.Ledger.Secret,
		Dial:     bridge.LedgerDialer(app.cfg.Ledger, app.logger.With("component", "ledger")),
		Observer: app.status,
		Logger:   app.logger,
	}
}

func (app *App) runManual(ctx context.Context) error {
	src, err := eventpipe.New(app.cfg.Manual, app.stdin, app.logger)
	if err != nil {
		return err
	}
	defer src.Close()

	readerID := app.cfg.Lane
	if readerID == "" {
		readerID = device.DefaultID
	}
	if app.cfg.Manual.Path == "" {
		fmt.Fprintln(app.stdout, "Enter card UIDs, one per line ('q' to quit)")
	}

	p := bridge.NewManual(app.cfg.Bridge, app.options(readerID), src.Lines(ctx))
	return p.Run(ctx)
}

func (app *App) locator() *device.Locator {
	return &device.Locator{
		Override:  app.cfg.Device.Override,
		DefaultID: app.cfg.Lane,
		Fallback:  app.cfg.Device.Fallback,
		Protocol:  app.cfg.Device.Protocol,
		Probe: func(d device.Descriptor) error {
			return reader.Probe(d, app.cfg.Reader)
		},
		Logger: app.logger,
	}
}

// runReaders runs one hardware pipeline, or one per discovered reader.
func (app *App) runReaders(ctx context.Context) error {
	loc := app.locator()

	var descs []device.Descriptor
	if app.cfg.Device.AllReaders && app.cfg.Device.Override == "" {
		descs = loc.LocateAll()
	}
	if len(descs) == 0 {
		desc, err := loc.Resolve()
		if err != nil {
			return err
		}
		if app.cfg.Lane != "" {
			desc.LogicalID = app.cfg.Lane
		}
		descs = []device.Descriptor{desc}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, desc := range descs {
		p := bridge.NewHardware(app.cfg.Bridge, app.options(desc.LogicalID), app.deviceFor(desc))
		app.logger.Info("starting pipeline", "reader", desc.String())
		g.Go(func() error {
			return p.Run(ctx)
		})
	}
	return g.Wait()
}

func (app *App) deviceFor(desc device.Descriptor) bridge.Device {
	return bridge.Device{
		Path: desc.Path,
		Open: func() (reader.TagReader, error) {
			return reader.Open(desc, app.cfg.Reader)
		},
		Probe: func() error {
			return reader.Probe(desc, app.cfg.Reader)
		},
	}
}
