package portbridge

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/retr0680/portbridge/pkg/portbridge/util"
)

const maxSliderRawValue = 1023

// ControlSurface reads slider positions from a serial device and turns
// them into SliderMoveEvents.
type ControlSurface struct {
	logger *zap.SugaredLogger

	lock        sync.Mutex
	connected   bool
	connOptions serial.OpenOptions
	conn        io.ReadWriteCloser
	stopChannel chan bool

	// closed when the read loop of the current connection exits
	loopDone chan struct{}

	invert         bool
	noiseReduction string

	lastKnownNumSliders        int
	currentSliderPercentValues []float32

	sliderMoveConsumers []chan SliderMoveEvent
}

// SliderMoveEvent represents a single slider movement
type SliderMoveEvent struct {
	SliderID     int
	PercentValue float32
}

var expectedLinePattern = regexp.MustCompile(`^\d{1,4}(\|\d{1,4})*$`)

// NewControlSurface creates a disconnected control surface.
func NewControlSurface(logger *zap.SugaredLogger) *ControlSurface {
	logger = logger.Named("serial")

	cs := &ControlSurface{
		logger:              logger,
		stopChannel:         make(chan bool),
		sliderMoveConsumers: []chan SliderMoveEvent{},
	}

	logger.Debug("Created control surface instance")
	return cs
}

// Configure applies the value processing settings.
func (cs *ControlSurface) Configure(invert bool, noiseReduction string) {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	cs.invert = invert
	cs.noiseReduction = noiseReduction
	cs.lastKnownNumSliders = 0
}

// Start opens the serial port and begins reading slider lines.
func (cs *ControlSurface) Start(info ConnectionInfo) error {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	if cs.connected {
		cs.logger.Warn("Connection already active, cannot start a new one")
		return errors.New("serial: connection already active")
	}

	minimumReadSize := 0
	if util.RunningOnLinux() {
		minimumReadSize = 1
	}

	cs.connOptions = serial.OpenOptions{
		PortName:        info.COMPort,
		BaudRate:        uint(info.BaudRate),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: uint(minimumReadSize),
	}

	cs.logger.Debugw("Opening serial connection",
		"comPort", cs.connOptions.PortName,
		"baudRate", cs.connOptions.BaudRate,
		"minReadSize", minimumReadSize)

	conn, err := serial.Open(cs.connOptions)
	if err != nil {
		cs.logger.Warnw("Failed to open serial connection", "error", err)
		return fmt.Errorf("open serial connection: %w", err)
	}

	cs.attach(conn)
	cs.logger.Infow("Serial connection established", "port", cs.connOptions.PortName)

	return nil
}

// attach starts reading from an open connection. The caller holds cs.lock.
func (cs *ControlSurface) attach(conn io.ReadWriteCloser) {
	cs.conn = conn
	cs.connected = true
	cs.loopDone = make(chan struct{})

	go cs.readLoop(conn, cs.loopDone)
}

// Stop shuts down the serial connection if active and waits for its
// read loop to exit.
func (cs *ControlSurface) Stop() {
	cs.lock.Lock()
	connected := cs.connected
	loopDone := cs.loopDone
	cs.lock.Unlock()

	if !connected {
		cs.logger.Debug("No active connection to stop")
		return
	}

	cs.logger.Debug("Closing serial connection")

	// the loop may already be on its way out after a read error
	select {
	case cs.stopChannel <- true:
	case <-loopDone:
	}
	<-loopDone
}

// NeedsReconnect reports whether info differs from the active connection.
func (cs *ControlSurface) NeedsReconnect(info ConnectionInfo) bool {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	return info.COMPort != cs.connOptions.PortName || uint(info.BaudRate) != cs.connOptions.BaudRate
}

// SubscribeToSliderMoveEvents allows listeners to subscribe to slider movement events
func (cs *ControlSurface) SubscribeToSliderMoveEvents() chan SliderMoveEvent {
	ch := make(chan SliderMoveEvent)
	cs.sliderMoveConsumers = append(cs.sliderMoveConsumers, ch)
	return ch
}

func (cs *ControlSurface) readLoop(conn io.ReadWriteCloser, loopDone chan struct{}) {
	defer close(loopDone)

	reader := bufio.NewReader(conn)
	lines := make(chan string)

	go func() {
		defer close(lines)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				cs.logger.Warnw("Failed to read from serial", "error", err)
				return
			}
			lines <- line
		}
	}()

	// closing the connection unblocks the reader; drain it so it never outlives the loop
	defer func() {
		cs.closeConnection()
		for range lines {
		}
	}()

	for {
		select {
		case <-cs.stopChannel:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			for _, event := range cs.processLine(strings.TrimRight(line, "\r\n")) {
				for _, ch := range cs.sliderMoveConsumers {
					select {
					case ch <- event:
					case <-cs.stopChannel:
						return
					}
				}
			}
		}
	}
}

// processLine parses one "v0|v1|..." line and returns the sliders that moved
func (cs *ControlSurface) processLine(line string) []SliderMoveEvent {
	if !expectedLinePattern.MatchString(line) {
		return nil
	}

	cs.lock.Lock()
	defer cs.lock.Unlock()

	values := strings.Split(line, "|")
	numSliders := len(values)

	if numSliders != cs.lastKnownNumSliders {
		cs.logger.Infow("Slider count updated", "count", numSliders)
		cs.lastKnownNumSliders = numSliders
		cs.currentSliderPercentValues = make([]float32, numSliders)
		for i := range cs.currentSliderPercentValues {
			cs.currentSliderPercentValues[i] = -1.0
		}
	}

	var events []SliderMoveEvent
	for i, val := range values {
		rawValue, err := strconv.Atoi(val)
		if err != nil || rawValue > maxSliderRawValue {
			cs.logger.Debugw("Invalid slider value", "value", val, "line", line)
			return nil
		}

		scaledValue := util.TruncateLevel(float32(rawValue) / maxSliderRawValue)
		if cs.invert {
			scaledValue = 1 - scaledValue
		}

		if util.LevelMoved(cs.currentSliderPercentValues[i], scaledValue, cs.noiseReduction) {
			cs.currentSliderPercentValues[i] = scaledValue
			events = append(events, SliderMoveEvent{i, scaledValue})
		}
	}

	return events
}

func (cs *ControlSurface) closeConnection() {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	if cs.conn != nil {
		if err := cs.conn.Close(); err != nil {
			cs.logger.Warnw("Error closing serial connection", "error", err)
		} else {
			cs.logger.Debug("Serial connection closed")
		}
	}
	cs.conn = nil
	cs.connected = false
}
