package portbridge

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const defaultStreamVolume = 1.0

type streamState struct {
	requested float32
	effective float32
	muted     bool
}

// baseAdapter holds the state every backend shares: the connection flag,
// the table of ports it owns and the per-stream mixer state.
type baseAdapter struct {
	logger   *zap.SugaredLogger
	provider VolumeProvider

	connected atomic.Bool
	ports     *portTable

	streamLock sync.RWMutex
	streams    [streamTypeCount]streamState
}

func (b *baseAdapter) init(logger *zap.SugaredLogger, provider VolumeProvider) {
	b.logger = logger
	b.provider = provider
	b.ports = newPortTable()

	for i := range b.streams {
		b.streams[i] = streamState{requested: defaultStreamVolume, effective: defaultStreamVolume}
	}
}

// IsConnected reports whether Connect succeeded and Disconnect has not been called since.
func (b *baseAdapter) IsConnected() bool {
	return b.connected.Load()
}

func (b *baseAdapter) requireConnected(op string) error {
	if !b.connected.Load() {
		b.logger.Warnw("Operation attempted while disconnected", "op", op)
		return fmt.Errorf("%s: %w", op, ErrNotConnected)
	}
	return nil
}

func checkStreamType(st StreamType) error {
	if !st.Valid() {
		return fmt.Errorf("stream type %d: %w", int(st), ErrInvalidArgument)
	}
	return nil
}

func checkVolume(v float32) error {
	if math.IsNaN(float64(v)) || v < 0 || v > 1 {
		return fmt.Errorf("volume %v outside [0, 1]: %w", v, ErrInvalidArgument)
	}
	return nil
}

// validateVolumeRequest runs the checks shared by every backend's SetVolume
func (b *baseAdapter) validateVolumeRequest(st StreamType, v float32) error {
	if err := checkStreamType(st); err != nil {
		return err
	}
	if err := checkVolume(v); err != nil {
		b.logger.Warnw("Rejecting out-of-range volume", "stream", st, "volume", v)
		return err
	}
	return b.requireConnected("set volume")
}

// resolveVolume asks the provider what the stream should actually get.
// Without a provider the request is applied as is.
func (b *baseAdapter) resolveVolume(st StreamType, requested float32) float32 {
	if b.provider == nil {
		return requested
	}

	effective := b.provider(st)
	if checkVolume(effective) != nil {
		b.logger.Warnw("Volume provider returned out-of-range value, using request",
			"stream", st, "provided", effective, "requested", requested)
		return requested
	}
	return effective
}

func (b *baseAdapter) commitVolume(st StreamType, requested, effective float32) {
	b.streamLock.Lock()
	defer b.streamLock.Unlock()

	b.streams[st].requested = requested
	b.streams[st].effective = effective
}

func (b *baseAdapter) commitMute(st StreamType, mute bool) {
	b.streamLock.Lock()
	defer b.streamLock.Unlock()

	b.streams[st].muted = mute
}

// Volume returns the last applied volume for a stream type.
func (b *baseAdapter) Volume(st StreamType) (float32, error) {
	if err := checkStreamType(st); err != nil {
		return 0, err
	}

	b.streamLock.RLock()
	defer b.streamLock.RUnlock()

	return b.streams[st].effective, nil
}

// IsMute reports the locally tracked mute state for a stream type.
func (b *baseAdapter) IsMute(st StreamType) bool {
	if !st.Valid() {
		return false
	}

	b.streamLock.RLock()
	defer b.streamLock.RUnlock()

	return b.streams[st].muted
}

// releaseAll empties the port table and reports what was in it
func (b *baseAdapter) releaseAll() []*openPort {
	ports := b.ports.drain()
	if len(ports) > 0 {
		b.logger.Debugw("Invalidating open ports", "count", len(ports))
	}
	return ports
}
