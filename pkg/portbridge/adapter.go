package portbridge

import (
	"fmt"

	"go.uber.org/zap"
)

// PortHandle identifies one port opened by a ServiceAdapter. It is valid
// from a successful OpenPort until the matching ClosePort or Disconnect.
type PortHandle uint32

// InvalidPortHandle is never returned by a successful OpenPort.
const InvalidPortHandle PortHandle = ^PortHandle(0)

// VolumeProvider computes the volume the audio server should apply to a
// stream type. It may be called from the server's own processing context,
// so implementations must be safe for concurrent use and must not block.
type VolumeProvider func(streamType StreamType) float32

// ServiceAdapter translates generic port and mixer operations into calls
// against one specific audio server.
//
// Mutating calls are expected to come from a single goroutine; only the
// VolumeProvider may be invoked concurrently with them.
type ServiceAdapter interface {
	// Connect establishes the server connection. Calling it while already
	// connected is a no-op that reports success.
	Connect() bool

	// OpenPort loads the named server module with the given arguments and
	// returns a handle to it. The port is live on the server once this returns.
	OpenPort(name string, moduleArgs string) (PortHandle, error)

	// ClosePort unloads a port. The handle is invalid afterwards even if the
	// server fails to unload it.
	ClosePort(handle PortHandle) error

	// UsageCount returns how many consumers are bound to the port.
	UsageCount(handle PortHandle) (int, error)

	SetDefaultSink(name string) error
	SetDefaultSource(name string) error

	// SetVolume hints the volume for a stream type. v must lie in [0, 1].
	// When a VolumeProvider is registered the applied value is the provider's.
	SetVolume(streamType StreamType, v float32) error

	// Volume returns the last applied volume for a stream type.
	Volume(streamType StreamType) (float32, error)

	SetMute(streamType StreamType, mute bool) error
	IsMute(streamType StreamType) bool
	IsStreamActive(streamType StreamType) bool

	IsConnected() bool

	// Disconnect tears down the connection and invalidates all open handles.
	Disconnect()
}

const (
	// BackendPulse talks to a PulseAudio (or pipewire-pulse) server over its native protocol.
	BackendPulse = "pulse"

	// BackendMemory models an audio server in-process.
	BackendMemory = "memory"
)

// AdapterConfig selects and parameterizes an adapter backend.
type AdapterConfig struct {
	Backend    string
	Server     string
	ClientName string
}

// CreateAudioAdapter builds the adapter for the configured backend. The
// volume provider is fixed for the adapter's lifetime; nil means requested
// volumes are applied verbatim.
func CreateAudioAdapter(logger *zap.SugaredLogger, config AdapterConfig, provider VolumeProvider) (ServiceAdapter, error) {
	switch config.Backend {
	case BackendPulse, "":
		return newPulseAdapter(logger, config, provider), nil
	case BackendMemory:
		return NewMemoryAdapter(logger, provider), nil
	}

	logger.Warnw("Unknown audio adapter backend", "backend", config.Backend)
	return nil, fmt.Errorf("unknown backend %q: %w", config.Backend, ErrInvalidArgument)
}
