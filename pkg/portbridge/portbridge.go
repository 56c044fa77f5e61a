// Package portbridge connects an audio service to an audio server: it opens
// and closes ports on the server through a ServiceAdapter, runs each port
// as a module with an init/usage/teardown lifecycle, and drives per-stream
// volume and mute state from configuration and hardware sliders.
package portbridge

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/retr0680/portbridge/pkg/portbridge/util"
)

const (
	// EnvNoTray disables the tray icon when set.
	EnvNoTray = "PORTBRIDGE_NO_TRAY_ICON"
)

// Options controls how a Bridge is assembled.
type Options struct {
	ConfigPath string
	Verbose    bool

	// Quiet routes notifications to the log instead of the desktop.
	Quiet bool

	// ExtraPorts are loaded after the configured ones.
	ExtraPorts []PortConfig
}

// Bridge manages the main application components.
type Bridge struct {
	logger   *zap.SugaredLogger
	notifier Notifier
	config   *CanonicalConfig
	settings Settings
	curve    *volumeCurve
	adapter  ServiceAdapter
	modules  *moduleHost
	surface  *ControlSurface
	options  Options

	loadedPorts []PortConfig
	lock        sync.Mutex

	portReloadRequests chan struct{}
	stopChannel        chan bool
	quit               chan struct{}
	loopDone           chan struct{}
	trayRunning        bool
	version            string
}

// NewBridge creates a new Bridge instance.
func NewBridge(logger *zap.SugaredLogger, options Options) (*Bridge, error) {
	logger = logger.Named("portbridge")

	var notifier Notifier
	if options.Quiet {
		notifier = newLogNotifier(logger)
	} else {
		toast, err := NewToastNotifier(logger)
		if err != nil {
			logger.Errorw("Failed to create notifier", "error", err)
			return nil, fmt.Errorf("create new ToastNotifier: %w", err)
		}
		notifier = toast
	}

	return newBridge(logger, notifier, options)
}

func newBridge(logger *zap.SugaredLogger, notifier Notifier, options Options) (*Bridge, error) {
	config, err := NewConfig(logger, notifier, options.ConfigPath)
	if err != nil {
		logger.Errorw("Failed to create configuration", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	b := &Bridge{
		logger:             logger,
		notifier:           notifier,
		config:             config,
		surface:            NewControlSurface(logger),
		options:            options,
		portReloadRequests: make(chan struct{}, 1),
		stopChannel:        make(chan bool),
		quit:               make(chan struct{}),
		loopDone:           make(chan struct{}),
	}

	logger.Debug("Created portbridge instance")
	return b, nil
}

// Config exposes the configuration so flags can be bound before Initialize.
func (b *Bridge) Config() *CanonicalConfig {
	return b.config
}

// Initialize loads configuration, connects to the audio server, opens the
// configured ports and runs until interrupted.
func (b *Bridge) Initialize() error {
	b.logger.Debug("Initializing")

	if err := b.start(); err != nil {
		return err
	}

	b.setupInterruptHandler()

	if os.Getenv(EnvNoTray) != "" {
		b.logger.Debugw("Running without tray icon", "reason", "envvar set")
		b.run()
	} else {
		b.initializeTray(b.run)
	}

	return nil
}

// SetVersion causes portbridge to add a version string to its tray menu if called before Initialize
func (b *Bridge) SetVersion(version string) {
	b.version = version
}

// Verbose returns a boolean indicating whether portbridge is running in verbose mode
func (b *Bridge) Verbose() bool {
	return b.options.Verbose
}

// start brings every component up. Nothing needs stopping when it fails.
func (b *Bridge) start() error {
	settings, err := b.config.Load()
	if err != nil {
		b.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}
	b.settings = settings

	b.curve = newVolumeCurve(b.settings.VolumeCurve)

	adapter, err := CreateAudioAdapter(b.logger, b.settings.Adapter, b.curve.volumeFor)
	if err != nil {
		b.logger.Errorw("Failed to create audio adapter", "error", err)
		return fmt.Errorf("create audio adapter: %w", err)
	}
	b.adapter = adapter

	if !adapter.Connect() {
		b.notifier.Notify("Cannot reach audio server!", "Check that the audio server is running.")
		return fmt.Errorf("connect to %s server: %w", b.settings.Adapter.Backend, ErrNotConnected)
	}

	b.modules = newModuleHost(b.logger, adapter, b.notifier)

	b.applyMixerConfig()

	ports := b.portList()
	if err := b.modules.loadAll(ports); err != nil {
		b.logger.Warnw("Some configured ports failed to open", "error", err)
	}
	b.lock.Lock()
	b.loadedPorts = ports
	b.lock.Unlock()

	b.surface.Configure(b.settings.InvertSliders, b.settings.NoiseReductionLevel)
	b.setupEventLoop()

	if b.settings.ConnectionInfo.COMPort != "" {
		if err := b.surface.Start(b.settings.ConnectionInfo); err != nil {
			b.handleSerialError(err)
		}
	}

	b.logger.Infow("Started", "adapter", b.adapter, "modules", b.modules)
	return nil
}

func (b *Bridge) portList() []PortConfig {
	ports := make([]PortConfig, 0, len(b.settings.Ports)+len(b.options.ExtraPorts))
	ports = append(ports, b.settings.Ports...)
	return append(ports, b.options.ExtraPorts...)
}

// applyMixerConfig pushes default routing and stream state to the server
func (b *Bridge) applyMixerConfig() {
	b.curve.setShape(b.settings.VolumeCurve)

	if b.settings.DefaultSink != "" {
		if err := b.adapter.SetDefaultSink(b.settings.DefaultSink); err != nil {
			b.logger.Warnw("Failed to set default sink", "sink", b.settings.DefaultSink, "code", CodeOf(err), "error", err)
		}
	}
	if b.settings.DefaultSource != "" {
		if err := b.adapter.SetDefaultSource(b.settings.DefaultSource); err != nil {
			b.logger.Warnw("Failed to set default source", "source", b.settings.DefaultSource, "code", CodeOf(err), "error", err)
		}
	}

	for st, level := range b.settings.StreamVolumes {
		b.setStreamVolume(st, level)
	}

	b.settings.SliderMapping.iterate(func(sliderIdx int, targets []string) {
		for _, target := range targets {
			if target == masterTarget {
				continue
			}
			if _, err := ParseStreamType(target); err != nil {
				b.logger.Warnw("Slider mapped to unknown stream type", "slider", sliderIdx, "target", target)
			}
		}
	})

	for _, st := range AllStreamTypes() {
		muted := funk.Contains(b.settings.MutedStreams, st)
		if muted == b.adapter.IsMute(st) {
			continue
		}
		if err := b.adapter.SetMute(st, muted); err != nil {
			b.logger.Warnw("Failed to apply stream mute", "stream", st, "mute", muted, "error", err)
		}
	}
}

func (b *Bridge) setStreamVolume(st StreamType, level float32) {
	b.curve.set(st, level)

	if err := b.adapter.SetVolume(st, level); err != nil {
		b.logger.Warnw("Failed to set stream volume", "stream", st, "level", level, "code", CodeOf(err), "error", err)
	}
}

// reapplyVolumes pushes every stream's current level through the adapter again
func (b *Bridge) reapplyVolumes() {
	for _, st := range AllStreamTypes() {
		b.setStreamVolume(st, b.curve.level(st))
	}
}

// setupEventLoop serializes everything that mutates the adapter onto one goroutine
func (b *Bridge) setupEventLoop() {
	sliderEventsChannel := b.surface.SubscribeToSliderMoveEvents()
	configReloadedChannel := b.config.SubscribeToChanges()

	go func() {
		defer close(b.loopDone)

		for {
			select {
			case event := <-sliderEventsChannel:
				b.handleSliderMoveEvent(event)
			case settings := <-configReloadedChannel:
				b.onConfigReloaded(settings)
			case <-b.portReloadRequests:
				b.reloadPorts()
			case <-b.quit:
				return
			}
		}
	}()
}

func (b *Bridge) handleSliderMoveEvent(event SliderMoveEvent) {
	targets, ok := b.settings.SliderMapping.get(event.SliderID)
	if !ok {
		return
	}

	for _, target := range targets {
		if target == masterTarget {
			b.curve.setMaster(event.PercentValue)
			b.reapplyVolumes()
			continue
		}

		st, err := ParseStreamType(target)
		if err != nil {
			b.logger.Debugw("Ignoring unknown slider target", "slider", event.SliderID, "target", target)
			continue
		}
		b.setStreamVolume(st, event.PercentValue)
	}
}

// onConfigReloaded adopts a reloaded configuration. It runs on the event
// loop, which is the only writer of b.settings once started.
func (b *Bridge) onConfigReloaded(settings Settings) {
	b.logger.Info("Detected config reload, applying mixer state and ports")

	b.settings = settings

	b.applyMixerConfig()
	b.surface.Configure(b.settings.InvertSliders, b.settings.NoiseReductionLevel)

	ports := b.portList()
	b.lock.Lock()
	changed := !reflect.DeepEqual(ports, b.loadedPorts)
	b.loadedPorts = ports
	b.lock.Unlock()

	if changed {
		b.logger.Info("Port list changed, reloading modules")
		if err := b.modules.reload(ports); err != nil {
			b.logger.Warnw("Some ports failed to reopen", "error", err)
		}
	}

	if b.settings.ConnectionInfo.COMPort != "" && b.surface.NeedsReconnect(b.settings.ConnectionInfo) {
		b.logger.Info("Serial settings changed, reconnecting")
		b.surface.Stop()
		if err := b.surface.Start(b.settings.ConnectionInfo); err != nil {
			b.handleSerialError(err)
		}
	}
}

// requestPortReload asks the event loop to reopen every port
func (b *Bridge) requestPortReload() {
	select {
	case b.portReloadRequests <- struct{}{}:
	default:
		b.logger.Debug("Port reload already pending")
	}
}

func (b *Bridge) reloadPorts() {
	b.lock.Lock()
	ports := b.loadedPorts
	b.lock.Unlock()

	if err := b.modules.reload(ports); err != nil {
		b.logger.Warnw("Some ports failed to reopen", "error", err)
	}
}

func (b *Bridge) setupInterruptHandler() {
	interruptChannel := util.InterruptSignals()

	go func() {
		signal := <-interruptChannel
		b.logger.Debugw("Interrupted", "signal", signal)
		b.signalStop()
	}()
}

func (b *Bridge) run() {
	defer b.recoverFromPanic()

	b.logger.Info("Run loop starting")

	go b.config.WatchConfigFileChanges()

	<-b.stopChannel
	b.logger.Debug("Stop channel signaled, terminating")

	if err := b.stop(); err != nil {
		b.logger.Warnw("Failed to stop portbridge", "error", err)
		os.Exit(1)
	}

	os.Exit(0)
}

func (b *Bridge) handleSerialError(err error) {
	switch {
	case errors.Is(err, os.ErrPermission):
		b.logger.Warnw("Serial port busy", "comPort", b.settings.ConnectionInfo.COMPort)
		b.notifier.Notify("Can't connect to serial port!",
			"The port is busy, close other applications that use it and try again.")
	case errors.Is(err, os.ErrNotExist):
		b.logger.Warnw("Provided COM port seems wrong", "comPort", b.settings.ConnectionInfo.COMPort)
		b.notifier.Notify("Can't connect to serial port!",
			"Make sure com_port in the configuration names an existing device.")
	default:
		b.logger.Warnw("Unknown error while starting serial connection", "error", err)
	}
}

func (b *Bridge) signalStop() {
	b.logger.Debug("Signalling stop channel")
	b.stopChannel <- true
}

// stop tears the components down in reverse start order: ports first,
// then the server connection.
func (b *Bridge) stop() error {
	b.logger.Info("Stopping")

	b.config.StopWatchingConfigFile()
	b.surface.Stop()

	close(b.quit)
	<-b.loopDone

	if b.modules != nil {
		b.modules.unloadAll()
	}

	if b.adapter != nil && b.adapter.IsConnected() {
		b.adapter.Disconnect()
	}

	b.stopTray()

	// this is fine, sync on stderr fails on some platforms
	_ = b.logger.Sync()
	return nil
}
