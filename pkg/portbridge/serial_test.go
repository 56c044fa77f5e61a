package portbridge

import (
	"net"
	"reflect"
	"testing"
	"time"
)

func TestControlSurfaceProcessLine(t *testing.T) {
	cs := NewControlSurface(newTestLogger(t))
	cs.Configure(false, "default")

	events := cs.processLine("0|1023|512")
	expected := []SliderMoveEvent{{0, 0}, {1, 1}, {2, 0.5}}
	if !reflect.DeepEqual(expected, events) {
		t.Fatalf("Expected %v, got %v", expected, events)
	}

	if events := cs.processLine("0|1023|515"); len(events) != 0 {
		t.Errorf("Expected small moves to be filtered as noise, got %v", events)
	}

	events = cs.processLine("0|1023|700")
	if len(events) != 1 || events[0].SliderID != 2 {
		t.Errorf("Expected only slider 2 to move, got %v", events)
	}
}

func TestControlSurfaceRejectsGarbage(t *testing.T) {
	cs := NewControlSurface(newTestLogger(t))

	for _, line := range []string{"", "abc", "1|2|", "12345", "1024|0", "|1"} {
		if events := cs.processLine(line); len(events) != 0 {
			t.Errorf("Expected %q to produce no events, got %v", line, events)
		}
	}
}

func TestControlSurfaceInvert(t *testing.T) {
	cs := NewControlSurface(newTestLogger(t))
	cs.Configure(true, "low")

	events := cs.processLine("0")
	if len(events) != 1 || events[0].PercentValue != 1 {
		t.Errorf("Expected inverted slider to read 1, got %v", events)
	}
}

func TestControlSurfaceSliderCountChange(t *testing.T) {
	cs := NewControlSurface(newTestLogger(t))

	cs.processLine("100|200")
	events := cs.processLine("100|200|300")
	if len(events) != 3 {
		t.Errorf("Expected every slider to report after a count change, got %v", events)
	}
}

func attachPipe(t *testing.T, cs *ControlSurface) net.Conn {
	t.Helper()

	local, remote := net.Pipe()
	cs.lock.Lock()
	cs.attach(local)
	cs.lock.Unlock()
	return remote
}

func surfaceConnected(cs *ControlSurface) bool {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	return cs.connected
}

func stopWithin(t *testing.T, cs *ControlSurface) {
	t.Helper()

	stopped := make(chan struct{})
	go func() {
		cs.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestControlSurfaceReadsLines(t *testing.T) {
	cs := NewControlSurface(newTestLogger(t))
	events := cs.SubscribeToSliderMoveEvents()
	remote := attachPipe(t, cs)
	defer remote.Close()

	go remote.Write([]byte("1023|0\r\n"))

	for _, expected := range []SliderMoveEvent{{0, 1}, {1, 0}} {
		select {
		case event := <-events:
			if event != expected {
				t.Errorf("Expected %v, got %v", expected, event)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for %v", expected)
		}
	}

	stopWithin(t, cs)
	if surfaceConnected(cs) {
		t.Error("Surface still connected after Stop")
	}
}

func TestControlSurfaceStopAfterReadError(t *testing.T) {
	cs := NewControlSurface(newTestLogger(t))
	remote := attachPipe(t, cs)

	// the read loop exits on its own once the device goes away
	remote.Close()

	stopWithin(t, cs)
	if surfaceConnected(cs) {
		t.Error("Surface still connected after its device closed")
	}
}
