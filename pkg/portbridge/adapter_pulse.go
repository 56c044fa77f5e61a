package portbridge

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

const (
	pulseVolumeNorm = 0x10000

	propMediaRole  = "media.role"
	propStreamType = "stream.type"
)

// pulseAdapter drives a PulseAudio server through its native protocol.
// Ports are server modules and handles are module indices.
type pulseAdapter struct {
	baseAdapter

	server     string
	clientName string

	connLock sync.Mutex
	client   *proto.Client
	conn     net.Conn
}

func newPulseAdapter(logger *zap.SugaredLogger, config AdapterConfig, provider VolumeProvider) *pulseAdapter {
	logger = logger.Named("pulse_adapter")

	clientName := config.ClientName
	if clientName == "" {
		clientName = defaultClientName
	}

	a := &pulseAdapter{
		server:     config.Server,
		clientName: clientName,
	}
	a.init(logger, provider)

	logger.Debugw("Created PA adapter instance", "server", config.Server)
	return a
}

// Connect dials the server and registers as a client.
func (a *pulseAdapter) Connect() bool {
	a.connLock.Lock()
	defer a.connLock.Unlock()

	if a.connected.Load() {
		a.logger.Debug("Already connected, nothing to do")
		return true
	}

	client, conn, err := proto.Connect(a.server)
	if err != nil {
		a.logger.Warnw("Failed to establish PulseAudio connection", "server", a.server, "error", err)
		return false
	}

	request := proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString(a.clientName),
		},
	}
	if err := client.Request(&request, &proto.SetClientNameReply{}); err != nil {
		a.logger.Warnw("Failed to set client name", "error", err)
		conn.Close()
		return false
	}

	a.client = client
	a.conn = conn
	a.connected.Store(true)

	a.logger.Infow("Connected to PulseAudio", "server", a.server, "client", a.clientName)
	return true
}

func (a *pulseAdapter) request(req proto.RequestArgs, reply proto.Reply) error {
	a.connLock.Lock()
	client := a.client
	a.connLock.Unlock()

	if client == nil {
		return ErrNotConnected
	}
	return client.Request(req, reply)
}

// OpenPort loads a server module.
func (a *pulseAdapter) OpenPort(name string, moduleArgs string) (PortHandle, error) {
	if err := a.requireConnected("open port"); err != nil {
		return InvalidPortHandle, err
	}

	reply := proto.LoadModuleReply{}
	if err := a.request(&proto.LoadModule{Name: name, Args: moduleArgs}, &reply); err != nil {
		a.logger.Warnw("Failed to load module", "module", name, "args", moduleArgs, "error", err)
		return InvalidPortHandle, fmt.Errorf("load module %s: %w: %w", name, ErrPortOpen, err)
	}

	handle := PortHandle(reply.ModuleIndex)
	port := &openPort{handle: handle, driver: name, args: moduleArgs}
	a.ports.add(port)

	a.logger.Infow("Opened port", "port", port)
	return handle, nil
}

// ClosePort unloads the module. The handle is dropped before the request
// so a failed unload still leaves it invalid.
func (a *pulseAdapter) ClosePort(handle PortHandle) error {
	port, ok := a.ports.remove(handle)
	if !ok {
		a.logger.Warnw("Close requested for unknown port", "handle", handle)
		return fmt.Errorf("close port %d: %w", handle, ErrInvalidHandle)
	}

	if err := a.request(&proto.UnloadModule{ModuleIndex: uint32(handle)}, nil); err != nil {
		a.logger.Warnw("Failed to unload module", "port", port, "error", err)
		return fmt.Errorf("unload module %d: %w: %w", handle, ErrBackend, err)
	}

	a.logger.Infow("Closed port", "port", port)
	return nil
}

// UsageCount counts the streams attached to any sink or source the module owns.
func (a *pulseAdapter) UsageCount(handle PortHandle) (int, error) {
	if _, ok := a.ports.get(handle); !ok {
		return 0, fmt.Errorf("usage of port %d: %w", handle, ErrInvalidHandle)
	}

	moduleIndex := uint32(handle)
	count := 0

	sources := proto.GetSourceInfoListReply{}
	if err := a.request(&proto.GetSourceInfoList{}, &sources); err != nil {
		return 0, fmt.Errorf("list sources: %w: %w", ErrBackend, err)
	}
	ownedSources := make(map[uint32]bool)
	for _, source := range sources {
		if source.ModuleIndex == moduleIndex {
			ownedSources[source.SourceIndex] = true
		}
	}

	if len(ownedSources) > 0 {
		outputs := proto.GetSourceOutputInfoListReply{}
		if err := a.request(&proto.GetSourceOutputInfoList{}, &outputs); err != nil {
			return 0, fmt.Errorf("list source outputs: %w: %w", ErrBackend, err)
		}
		for _, output := range outputs {
			if ownedSources[output.SourceIndex] {
				count++
			}
		}
	}

	sinks := proto.GetSinkInfoListReply{}
	if err := a.request(&proto.GetSinkInfoList{}, &sinks); err != nil {
		return 0, fmt.Errorf("list sinks: %w: %w", ErrBackend, err)
	}
	ownedSinks := make(map[uint32]bool)
	for _, sink := range sinks {
		if sink.ModuleIndex == moduleIndex {
			ownedSinks[sink.SinkIndex] = true
		}
	}

	if len(ownedSinks) > 0 {
		inputs := proto.GetSinkInputInfoListReply{}
		if err := a.request(&proto.GetSinkInputInfoList{}, &inputs); err != nil {
			return 0, fmt.Errorf("list sink inputs: %w: %w", ErrBackend, err)
		}
		for _, input := range inputs {
			if ownedSinks[input.SinkIndex] {
				count++
			}
		}
	}

	return count, nil
}

// SetDefaultSink repoints the server's default sink.
func (a *pulseAdapter) SetDefaultSink(name string) error {
	if err := a.requireConnected("set default sink"); err != nil {
		return err
	}

	if err := a.request(&proto.SetDefaultSink{SinkName: name}, nil); err != nil {
		a.logger.Warnw("Failed to set default sink", "sink", name, "error", err)
		return wrapPulseError("set default sink "+name, err)
	}

	a.logger.Debugw("Default sink set", "sink", name)
	return nil
}

// SetDefaultSource repoints the server's default source.
func (a *pulseAdapter) SetDefaultSource(name string) error {
	if err := a.requireConnected("set default source"); err != nil {
		return err
	}

	if err := a.request(&proto.SetDefaultSource{SourceName: name}, nil); err != nil {
		a.logger.Warnw("Failed to set default source", "source", name, "error", err)
		return wrapPulseError("set default source "+name, err)
	}

	a.logger.Debugw("Default source set", "source", name)
	return nil
}

// SetVolume applies the resolved volume to every sink input of the stream type.
func (a *pulseAdapter) SetVolume(st StreamType, v float32) error {
	if err := a.validateVolumeRequest(st, v); err != nil {
		return err
	}

	effective := a.resolveVolume(st, v)

	inputs, err := a.streamInputs(st)
	if err != nil {
		return err
	}

	for _, input := range inputs {
		request := proto.SetSinkInputVolume{
			SinkInputIndex: input.SinkInputIndex,
			ChannelVolumes: createChannelVolumes(input.Channels, effective),
		}
		if err := a.request(&request, nil); err != nil {
			a.logger.Warnw("Failed to adjust stream volume", "stream", st, "sinkInput", input.SinkInputIndex, "error", err)
			return wrapPulseError("adjust stream volume", err)
		}
	}

	a.commitVolume(st, v, effective)
	a.logger.Debugw("Adjusting stream volume",
		"stream", st, "requested", v, "effective", effective, "sinkInputs", len(inputs))
	return nil
}

// SetMute mutes or unmutes every sink input of the stream type.
func (a *pulseAdapter) SetMute(st StreamType, mute bool) error {
	if err := checkStreamType(st); err != nil {
		return err
	}
	if err := a.requireConnected("set mute"); err != nil {
		return err
	}

	inputs, err := a.streamInputs(st)
	if err != nil {
		return err
	}

	for _, input := range inputs {
		request := proto.SetSinkInputMute{SinkInputIndex: input.SinkInputIndex, Mute: mute}
		if err := a.request(&request, nil); err != nil {
			a.logger.Warnw("Failed to adjust stream mute", "stream", st, "sinkInput", input.SinkInputIndex, "error", err)
			return wrapPulseError("adjust stream mute", err)
		}
	}

	a.commitMute(st, mute)
	a.logger.Debugw("Adjusting stream mute", "stream", st, "mute", mute, "sinkInputs", len(inputs))
	return nil
}

// IsStreamActive reports whether any uncorked sink input belongs to the stream type.
func (a *pulseAdapter) IsStreamActive(st StreamType) bool {
	if !st.Valid() || !a.IsConnected() {
		return false
	}

	inputs, err := a.streamInputs(st)
	if err != nil {
		return false
	}

	for _, input := range inputs {
		if !input.Corked {
			return true
		}
	}
	return false
}

// streamInputs lists the sink inputs that carry the given stream type
func (a *pulseAdapter) streamInputs(st StreamType) ([]*proto.GetSinkInputInfoReply, error) {
	reply := proto.GetSinkInputInfoListReply{}
	if err := a.request(&proto.GetSinkInputInfoList{}, &reply); err != nil {
		a.logger.Warnw("Failed to get sink input list", "error", err)
		return nil, wrapPulseError("get sink input list", err)
	}

	var inputs []*proto.GetSinkInputInfoReply
	for _, info := range reply {
		if sinkInputMatches(info.Properties, st) {
			inputs = append(inputs, info)
		}
	}

	if len(inputs) == 0 && !st.OwnsRole() {
		a.logger.Debugw("Stream type shares its role, only stream.type tagged inputs match",
			"stream", st, "role", st.Role())
	}
	return inputs, nil
}

// sinkInputMatches attributes a sink input to at most one stream type:
// stream.type when present, otherwise the owner of its media.role.
func sinkInputMatches(props proto.PropList, st StreamType) bool {
	if streamType, ok := props[propStreamType]; ok {
		return streamType.String() == st.String()
	}
	if role, ok := props[propMediaRole]; ok {
		owner, owned := roleOwners[role.String()]
		return owned && owner == st
	}
	return false
}

// Disconnect unloads every port this adapter opened and closes the connection.
func (a *pulseAdapter) Disconnect() {
	if !a.connected.Load() {
		a.logger.Warn("Disconnect called while not connected")
		return
	}

	for _, port := range a.releaseAll() {
		if err := a.request(&proto.UnloadModule{ModuleIndex: uint32(port.handle)}, nil); err != nil {
			a.logger.Warnw("Failed to unload module on disconnect", "port", port, "error", err)
		}
	}

	a.connLock.Lock()
	defer a.connLock.Unlock()

	a.connected.Store(false)
	if err := a.conn.Close(); err != nil {
		a.logger.Warnw("Failed to close PulseAudio connection", "error", err)
	}
	a.client = nil
	a.conn = nil

	a.logger.Info("Disconnected from PulseAudio")
}

func (a *pulseAdapter) String() string {
	return fmt.Sprintf("<pulse adapter: server=%q, connected=%t, %s>", a.server, a.IsConnected(), a.ports)
}

// createChannelVolumes spreads one volume level across every channel
func createChannelVolumes(channels byte, volume float32) proto.ChannelVolumes {
	volumes := make(proto.ChannelVolumes, channels)
	for i := range volumes {
		volumes[i] = uint32(volume * pulseVolumeNorm)
	}
	return volumes
}

// wrapPulseError classifies a server error into the adapter taxonomy
func wrapPulseError(op string, err error) error {
	var paErr proto.Error
	if errors.As(err, &paErr) {
		switch paErr {
		case proto.ErrInvalidArgument, proto.ErrNoSuchEntity:
			return fmt.Errorf("%s: %w: %w", op, ErrInvalidArgument, err)
		case proto.ErrConnectionTerminated:
			return fmt.Errorf("%s: %w: %w", op, ErrNotConnected, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrBackend, err)
}
