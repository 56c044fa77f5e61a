package portbridge

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const maxSampleRate = 48000 * 8

// handles are unique across every memory adapter in the process
var lastMemoryHandle atomic.Uint32

// MemoryAdapter is a ServiceAdapter backed by an in-process model of an
// audio server. Ports are records, consumers are counters, and stream
// activity is whatever the caller marks it as.
type MemoryAdapter struct {
	baseAdapter

	lock          sync.Mutex
	consumers     map[PortHandle]int
	active        [streamTypeCount]bool
	defaultSink   string
	defaultSource string
}

// NewMemoryAdapter creates a disconnected in-process adapter.
func NewMemoryAdapter(logger *zap.SugaredLogger, provider VolumeProvider) *MemoryAdapter {
	logger = logger.Named("memory_adapter")

	a := &MemoryAdapter{
		consumers: make(map[PortHandle]int),
	}
	a.init(logger, provider)

	logger.Debug("Created memory adapter instance")
	return a
}

// Connect marks the adapter connected.
func (a *MemoryAdapter) Connect() bool {
	if a.connected.Swap(true) {
		a.logger.Debug("Already connected, nothing to do")
		return true
	}

	a.logger.Info("Connected to in-process audio server")
	return true
}

// OpenPort registers a port record. The endpoint name comes from the
// source_name or sink_name argument and must not collide with an open port.
func (a *MemoryAdapter) OpenPort(name string, moduleArgs string) (PortHandle, error) {
	if err := a.requireConnected("open port"); err != nil {
		return InvalidPortHandle, err
	}
	if name == "" {
		return InvalidPortHandle, fmt.Errorf("empty module name: %w", ErrPortOpen)
	}

	args := make(map[string]string)
	if err := tokenizeModArgs(moduleArgs, func(key, value string) error {
		args[key] = value
		return nil
	}); err != nil {
		a.logger.Warnw("Server rejected module arguments", "module", name, "args", moduleArgs, "error", err)
		return InvalidPortHandle, fmt.Errorf("load %s: %v: %w", name, err, ErrPortOpen)
	}

	if err := checkMemoryPortArgs(args); err != nil {
		a.logger.Warnw("Server rejected module arguments", "module", name, "args", moduleArgs, "error", err)
		return InvalidPortHandle, fmt.Errorf("load %s: %w", name, err)
	}

	handle := PortHandle(lastMemoryHandle.Add(1))

	endpoint := args[argSourceName]
	if endpoint == "" {
		endpoint = args["sink_name"]
	}
	if endpoint == "" {
		endpoint = fmt.Sprintf("%s.%d", name, handle)
	}

	if existing, ok := a.ports.findEndpoint(endpoint); ok {
		a.logger.Warnw("Port name already in use", "endpoint", endpoint, "existing", existing)
		return InvalidPortHandle, fmt.Errorf("endpoint %q exists: %w", endpoint, ErrPortOpen)
	}

	port := &openPort{handle: handle, driver: name, args: moduleArgs, endpoint: endpoint}
	a.ports.add(port)

	a.lock.Lock()
	a.consumers[handle] = 0
	a.lock.Unlock()

	a.logger.Infow("Opened port", "port", port, "endpoint", endpoint)
	return handle, nil
}

func checkMemoryPortArgs(args map[string]string) error {
	if v, ok := args[argRate]; ok {
		rate, err := strconv.ParseUint(v, 10, 32)
		if err != nil || rate == 0 || rate > maxSampleRate {
			return fmt.Errorf("unsupported rate %q: %w", v, ErrPortOpen)
		}
	}
	if v, ok := args[argChannels]; ok {
		channels, err := strconv.ParseUint(v, 10, 8)
		if err != nil || channels == 0 || channels > maxChannels {
			return fmt.Errorf("unsupported channel count %q: %w", v, ErrPortOpen)
		}
	}
	return nil
}

// ClosePort forgets a port and its consumers.
func (a *MemoryAdapter) ClosePort(handle PortHandle) error {
	port, ok := a.ports.remove(handle)
	if !ok {
		a.logger.Warnw("Close requested for unknown port", "handle", handle)
		return fmt.Errorf("close port %d: %w", handle, ErrInvalidHandle)
	}

	a.lock.Lock()
	delete(a.consumers, handle)
	a.lock.Unlock()

	a.logger.Infow("Closed port", "port", port)
	return nil
}

// UsageCount returns the number of consumers bound to the port.
func (a *MemoryAdapter) UsageCount(handle PortHandle) (int, error) {
	if _, ok := a.ports.get(handle); !ok {
		return 0, fmt.Errorf("usage of port %d: %w", handle, ErrInvalidHandle)
	}

	a.lock.Lock()
	defer a.lock.Unlock()

	return a.consumers[handle], nil
}

// Bind attaches one consumer to the port.
func (a *MemoryAdapter) Bind(handle PortHandle) error {
	if _, ok := a.ports.get(handle); !ok {
		return fmt.Errorf("bind port %d: %w", handle, ErrInvalidHandle)
	}

	a.lock.Lock()
	defer a.lock.Unlock()

	a.consumers[handle]++
	return nil
}

// Unbind detaches one consumer from the port.
func (a *MemoryAdapter) Unbind(handle PortHandle) error {
	if _, ok := a.ports.get(handle); !ok {
		return fmt.Errorf("unbind port %d: %w", handle, ErrInvalidHandle)
	}

	a.lock.Lock()
	defer a.lock.Unlock()

	if a.consumers[handle] == 0 {
		return fmt.Errorf("port %d has no consumers: %w", handle, ErrInvalidArgument)
	}
	a.consumers[handle]--
	return nil
}

// SetDefaultSink records the default sink name.
func (a *MemoryAdapter) SetDefaultSink(name string) error {
	if err := a.requireConnected("set default sink"); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("empty sink name: %w", ErrInvalidArgument)
	}

	a.lock.Lock()
	a.defaultSink = name
	a.lock.Unlock()

	a.logger.Debugw("Default sink set", "sink", name)
	return nil
}

// SetDefaultSource records the default source name.
func (a *MemoryAdapter) SetDefaultSource(name string) error {
	if err := a.requireConnected("set default source"); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("empty source name: %w", ErrInvalidArgument)
	}

	a.lock.Lock()
	a.defaultSource = name
	a.lock.Unlock()

	a.logger.Debugw("Default source set", "source", name)
	return nil
}

// DefaultSink returns the current default sink name.
func (a *MemoryAdapter) DefaultSink() string {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.defaultSink
}

// DefaultSource returns the current default source name.
func (a *MemoryAdapter) DefaultSource() string {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.defaultSource
}

// SetVolume stores the volume the provider resolves for the stream type.
func (a *MemoryAdapter) SetVolume(st StreamType, v float32) error {
	if err := a.validateVolumeRequest(st, v); err != nil {
		return err
	}

	effective := a.resolveVolume(st, v)
	a.commitVolume(st, v, effective)

	a.logger.Debugw("Adjusting stream volume", "stream", st, "requested", v, "effective", effective)
	return nil
}

// SetMute stores the mute state for the stream type.
func (a *MemoryAdapter) SetMute(st StreamType, mute bool) error {
	if err := checkStreamType(st); err != nil {
		return err
	}
	if err := a.requireConnected("set mute"); err != nil {
		return err
	}

	a.commitMute(st, mute)
	a.logger.Debugw("Adjusting stream mute", "stream", st, "mute", mute)
	return nil
}

// IsStreamActive reports whether the stream type was marked active.
func (a *MemoryAdapter) IsStreamActive(st StreamType) bool {
	if !st.Valid() || !a.IsConnected() {
		return false
	}

	a.lock.Lock()
	defer a.lock.Unlock()

	return a.active[st]
}

// SetStreamActive marks a stream type as playing or idle.
func (a *MemoryAdapter) SetStreamActive(st StreamType, active bool) {
	if !st.Valid() {
		return
	}

	a.lock.Lock()
	defer a.lock.Unlock()

	a.active[st] = active
}

// Disconnect drops the connection and every open port.
func (a *MemoryAdapter) Disconnect() {
	if !a.connected.Swap(false) {
		a.logger.Warn("Disconnect called while not connected")
		return
	}

	for _, port := range a.releaseAll() {
		a.logger.Debugw("Dropping port on disconnect", "port", port)
	}

	a.lock.Lock()
	a.consumers = make(map[PortHandle]int)
	a.active = [streamTypeCount]bool{}
	a.lock.Unlock()

	a.logger.Info("Disconnected from in-process audio server")
}

func (a *MemoryAdapter) String() string {
	return fmt.Sprintf("<memory adapter: connected=%t, %s>", a.IsConnected(), a.ports)
}
