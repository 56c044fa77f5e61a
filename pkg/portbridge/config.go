package portbridge

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/retr0680/portbridge/pkg/portbridge/util"
)

// CanonicalConfig provides centralized access to configuration fields.
// Every successful Load publishes a fresh Settings value; readers work on
// the snapshot they were handed and never see a half-applied reload.
type CanonicalConfig struct {
	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan struct{}

	reloadConsumers []chan Settings

	configFilepath string
	userConfig     *viper.Viper

	lock    sync.RWMutex
	current Settings
}

// Settings is one decoded, validated view of the configuration file.
// It is not modified after Load returns it.
type Settings struct {
	Adapter       AdapterConfig
	DefaultSink   string
	DefaultSource string
	Ports         []PortConfig

	StreamVolumes map[StreamType]float32
	MutedStreams  []StreamType
	VolumeCurve   string

	SliderMapping       *sliderMap
	ConnectionInfo      ConnectionInfo
	InvertSliders       bool
	NoiseReductionLevel string
}

// ConnectionInfo groups serial port settings
type ConnectionInfo struct {
	COMPort  string
	BaudRate int
}

const (
	userConfigFilepath = "config.yaml"

	userConfigName = "config"
	userConfigPath = "."

	configType = "yaml"

	configKeyBackend        = "backend"
	configKeyServer         = "server"
	configKeyClientName     = "client_name"
	configKeyDefaultSink    = "default_sink"
	configKeyDefaultSource  = "default_source"
	configKeyPorts          = "ports"
	configKeyStreamVolumes  = "stream_volumes"
	configKeyMutedStreams   = "muted_streams"
	configKeyVolumeCurve    = "volume_curve"
	configKeySliderMapping  = "slider_mapping"
	configKeyInvertSliders  = "invert_sliders"
	configKeyCOMPort        = "com_port"
	configKeyBaudRate       = "baud_rate"
	configKeyNoiseReduction = "noise_reduction"

	defaultClientName = "portbridge"
	defaultBaudRate   = 9600
)

// NewConfig initializes the configuration manager. An empty path means
// config.yaml in the working directory.
func NewConfig(logger *zap.SugaredLogger, notifier Notifier, path string) (*CanonicalConfig, error) {
	logger = logger.Named("config")

	if path == "" {
		path = userConfigFilepath
	}

	cc := &CanonicalConfig{
		logger:             logger,
		notifier:           notifier,
		reloadConsumers:    make([]chan Settings, 0),
		stopWatcherChannel: make(chan struct{}),
		configFilepath:     path,
		current:            Settings{SliderMapping: newSliderMap()},
	}

	cc.userConfig = viper.New()
	cc.userConfig.SetConfigType(configType)
	if path == userConfigFilepath {
		cc.userConfig.SetConfigName(userConfigName)
		cc.userConfig.AddConfigPath(userConfigPath)
	} else {
		cc.userConfig.SetConfigFile(path)
	}

	for key, value := range map[string]interface{}{
		configKeyBackend:        BackendPulse,
		configKeyClientName:     defaultClientName,
		configKeyVolumeCurve:    curveLinear,
		configKeySliderMapping:  map[string][]string{},
		configKeyInvertSliders:  false,
		configKeyBaudRate:       defaultBaudRate,
		configKeyNoiseReduction: "default",
	} {
		cc.userConfig.SetDefault(key, value)
	}

	logger.Debugw("Created configuration instance", "path", path)
	return cc, nil
}

// Viper exposes the underlying viper instance so command line flags can be bound to it.
func (cc *CanonicalConfig) Viper() *viper.Viper {
	return cc.userConfig
}

// Load reads and validates the configuration file and publishes the result.
func (cc *CanonicalConfig) Load() (Settings, error) {
	cc.logger.Debugw("Loading user configuration", "path", cc.configFilepath)

	if err := cc.readUserConfig(); err != nil {
		return Settings{}, err
	}

	settings, err := cc.populateFromVipers()
	if err != nil {
		return Settings{}, err
	}

	cc.lock.Lock()
	cc.current = settings
	cc.lock.Unlock()

	return settings, nil
}

// Snapshot returns the settings published by the last successful Load.
func (cc *CanonicalConfig) Snapshot() Settings {
	cc.lock.RLock()
	defer cc.lock.RUnlock()

	return cc.current
}

// SubscribeToChanges allows external components to receive the new
// settings whenever the config is reloaded
func (cc *CanonicalConfig) SubscribeToChanges() chan Settings {
	c := make(chan Settings)
	cc.reloadConsumers = append(cc.reloadConsumers, c)
	return c
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen. It blocks until
// StopWatchingConfigFile is called.
func (cc *CanonicalConfig) WatchConfigFileChanges() {
	cc.logger.Debugw("Starting to watch user config file for changes", "path", cc.configFilepath)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) {
			return
		}

		now := time.Now()
		if !lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {
			return
		}
		lastAttemptedReload = now

		// editors may still be writing
		<-time.After(delayBetweenEventAndReload)

		cc.logger.Debugw("Config file modified, attempting reload", "event", event)

		settings, err := cc.Load()
		if err != nil {
			cc.logger.Warnw("Failed to reload config file", "error", err)
			return
		}

		cc.logger.Info("Reloaded config successfully")
		cc.notifier.Notify("Configuration reloaded!", "Your changes have been applied.")
		cc.onConfigReloaded(settings)
	})

	cc.userConfig.WatchConfig()

	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
}

// StopWatchingConfigFile signals our filesystem watcher to stop
func (cc *CanonicalConfig) StopWatchingConfigFile() {
	close(cc.stopWatcherChannel)
}

func (cc *CanonicalConfig) readUserConfig() error {
	if !util.IsRegularFile(cc.configFilepath) {
		cc.handleMissingConfig()
		return fmt.Errorf("config file not found: %s", cc.configFilepath)
	}

	if err := cc.userConfig.ReadInConfig(); err != nil {
		return cc.handleConfigError("user config", err)
	}
	return nil
}

func (cc *CanonicalConfig) handleMissingConfig() {
	cc.logger.Warnw("Configuration file not found", "path", cc.configFilepath)
	cc.notifier.Notify("Missing configuration!", fmt.Sprintf(
		"Ensure %s exists.", cc.configFilepath))
}

func (cc *CanonicalConfig) handleConfigError(configName string, err error) error {
	cc.logger.Warnw("Failed to load configuration", "config", configName, "error", err)

	if strings.Contains(err.Error(), "yaml:") {
		cc.notifier.Notify("Invalid configuration format!",
			"Ensure the YAML file is properly formatted.")
	} else {
		cc.notifier.Notify("Error loading configuration!", "Check logs for more details.")
	}
	return fmt.Errorf("read %s: %w", configName, err)
}

// populateFromVipers decodes the viper state into a new Settings value
func (cc *CanonicalConfig) populateFromVipers() (Settings, error) {
	var ports []PortConfig
	if err := cc.userConfig.UnmarshalKey(configKeyPorts, &ports); err != nil {
		cc.logger.Warnw("Invalid port list in configuration", "error", err)
		return Settings{}, fmt.Errorf("decode %s: %w", configKeyPorts, err)
	}

	settings := Settings{
		Adapter: AdapterConfig{
			Backend:    cc.userConfig.GetString(configKeyBackend),
			Server:     cc.userConfig.GetString(configKeyServer),
			ClientName: cc.userConfig.GetString(configKeyClientName),
		},
		DefaultSink:   cc.userConfig.GetString(configKeyDefaultSink),
		DefaultSource: cc.userConfig.GetString(configKeyDefaultSource),
		Ports:         ports,

		StreamVolumes: cc.parseStreamVolumes(cc.userConfig.GetStringMap(configKeyStreamVolumes)),
		MutedStreams:  cc.parseStreamNames(cc.userConfig.GetStringSlice(configKeyMutedStreams)),
		VolumeCurve:   cc.validateVolumeCurve(cc.userConfig.GetString(configKeyVolumeCurve)),

		SliderMapping: sliderMapFromConfig(cc.userConfig.GetStringMapStringSlice(configKeySliderMapping)),
		ConnectionInfo: ConnectionInfo{
			COMPort:  cc.userConfig.GetString(configKeyCOMPort),
			BaudRate: cc.validateBaudRate(cc.userConfig.GetInt(configKeyBaudRate)),
		},
		InvertSliders:       cc.userConfig.GetBool(configKeyInvertSliders),
		NoiseReductionLevel: cc.userConfig.GetString(configKeyNoiseReduction),
	}

	cc.logger.Debugw("Configuration populated successfully", "settings", settings)
	return settings, nil
}

func (cc *CanonicalConfig) parseStreamVolumes(raw map[string]interface{}) map[StreamType]float32 {
	volumes := make(map[StreamType]float32, len(raw))

	for name, value := range raw {
		st, err := ParseStreamType(name)
		if err != nil {
			cc.logger.Warnw("Ignoring volume for unknown stream type", "stream", name)
			continue
		}

		level, err := cast.ToFloat32E(value)
		if err != nil || checkVolume(level) != nil {
			cc.logger.Warnw("Ignoring invalid stream volume", "stream", name, "value", value)
			continue
		}

		volumes[st] = level
	}

	return volumes
}

func (cc *CanonicalConfig) parseStreamNames(names []string) []StreamType {
	var streams []StreamType

	for _, name := range funk.UniqString(names) {
		st, err := ParseStreamType(name)
		if err != nil {
			cc.logger.Warnw("Ignoring unknown stream type", "stream", name)
			continue
		}
		streams = append(streams, st)
	}

	return streams
}

func (cc *CanonicalConfig) validateVolumeCurve(curve string) string {
	if curve == curveLinear || curve == curveCubic {
		return curve
	}
	cc.logger.Warnw("Invalid volume curve specified, using default", "invalidValue", curve, "defaultValue", curveLinear)
	return curveLinear
}

// validateBaudRate checks for a valid baud rate, returning a default if invalid
func (cc *CanonicalConfig) validateBaudRate(baudRate int) int {
	if baudRate > 0 {
		return baudRate
	}
	cc.logger.Warnw("Invalid baud rate specified, using default", "invalidValue", baudRate, "defaultValue", defaultBaudRate)
	return defaultBaudRate
}

func (cc *CanonicalConfig) onConfigReloaded(settings Settings) {
	cc.logger.Debug("Notifying consumers about configuration reload")

	for _, consumer := range cc.reloadConsumers {
		select {
		case consumer <- settings:
		case <-cc.stopWatcherChannel:
			return
		}
	}
}

func (cc *CanonicalConfig) String() string {
	return fmt.Sprintf("<config: %s, %s>", cc.configFilepath, cc.Snapshot())
}

func (s Settings) String() string {
	return fmt.Sprintf("<settings: backend=%s, %d ports, %s>", s.Adapter.Backend, len(s.Ports), s.SliderMapping)
}
