package portbridge

import (
	"errors"
	"os"
	"strings"
	"testing"
)

const bridgeTestConfig = `
backend: memory
default_sink: speakers
default_source: mic0
ports:
  - args: "source_name=mic0 rate=48000 channels=2"
  - args: "source_name=mic1 bogus=1"
stream_volumes:
  music: 0.8
muted_streams: [ring]
slider_mapping:
  "0": [music]
  "1": [master]
  "2": [karaoke]
`

func startTestBridge(t *testing.T, contents string, options Options) (*Bridge, *MemoryAdapter, *recordingNotifier) {
	t.Helper()

	notifier := &recordingNotifier{}
	options.ConfigPath = writeTestConfig(t, contents)

	b, err := newBridge(newTestLogger(t), notifier, options)
	if err != nil {
		t.Fatalf("newBridge failed: %v", err)
	}
	if err := b.start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	memory, ok := b.adapter.(*MemoryAdapter)
	if !ok {
		t.Fatalf("Expected the memory backend, got %T", b.adapter)
	}
	return b, memory, notifier
}

func TestBridgeStartAppliesConfig(t *testing.T) {
	b, memory, notifier := startTestBridge(t, bridgeTestConfig, Options{
		ExtraPorts: []PortConfig{{Args: "source_name=cli0"}},
	})

	if b.modules.len() != 2 || memory.ports.len() != 2 {
		t.Errorf("Expected the two valid ports to open, got %s and %s", b.modules, memory.ports)
	}
	if notifier.count() != 1 {
		t.Errorf("Expected one notification for the bad port, got %v", notifier.titles)
	}

	if memory.DefaultSink() != "speakers" || memory.DefaultSource() != "mic0" {
		t.Errorf("Unexpected defaults: sink=%q source=%q", memory.DefaultSink(), memory.DefaultSource())
	}
	if v, _ := memory.Volume(StreamMusic); v != 0.8 {
		t.Errorf("Expected music at 0.8, got %v", v)
	}
	if !memory.IsMute(StreamRing) || memory.IsMute(StreamMusic) {
		t.Error("Expected only ring to be muted")
	}

	if summary := b.usageSummary(); strings.Count(summary, "consumers") != 2 {
		t.Errorf("Expected usage for two ports, got %q", summary)
	}

	if err := b.stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if memory.IsConnected() || memory.ports.len() != 0 {
		t.Errorf("Expected a disconnected adapter with no ports, got %s", memory)
	}
}

func TestBridgeSliderMoves(t *testing.T) {
	b, memory, _ := startTestBridge(t, bridgeTestConfig, Options{})
	defer b.stop()

	b.handleSliderMoveEvent(SliderMoveEvent{SliderID: 0, PercentValue: 0.5})
	if v, _ := memory.Volume(StreamMusic); v != 0.5 {
		t.Errorf("Expected slider 0 to set music to 0.5, got %v", v)
	}

	b.handleSliderMoveEvent(SliderMoveEvent{SliderID: 1, PercentValue: 0.5})
	if v, _ := memory.Volume(StreamMusic); v != 0.25 {
		t.Errorf("Expected master to halve music to 0.25, got %v", v)
	}
	if v, _ := memory.Volume(StreamAlarm); v != 0.5 {
		t.Errorf("Expected master to halve alarm to 0.5, got %v", v)
	}

	// unknown targets and unmapped sliders change nothing
	b.handleSliderMoveEvent(SliderMoveEvent{SliderID: 2, PercentValue: 0.1})
	b.handleSliderMoveEvent(SliderMoveEvent{SliderID: 7, PercentValue: 0.1})
	if v, _ := memory.Volume(StreamMusic); v != 0.25 {
		t.Errorf("Expected music to stay at 0.25, got %v", v)
	}
}

func TestBridgeReloadPorts(t *testing.T) {
	b, memory, _ := startTestBridge(t, bridgeTestConfig, Options{})
	defer b.stop()

	before := b.usageSummary()
	b.reloadPorts()

	if b.modules.len() != 1 || memory.ports.len() != 1 {
		t.Errorf("Expected one port after reload, got %s and %s", b.modules, memory.ports)
	}
	if after := b.usageSummary(); after == before {
		t.Errorf("Expected reopened ports to get new handles, still %q", after)
	}
}

func TestBridgeStartFailsWithoutConfig(t *testing.T) {
	notifier := &recordingNotifier{}
	b, err := newBridge(newTestLogger(t), notifier, Options{ConfigPath: t.TempDir() + "/missing.yaml"})
	if err != nil {
		t.Fatalf("newBridge failed: %v", err)
	}

	if err := b.start(); err == nil {
		t.Fatal("Expected start to fail without a config file")
	}
	if b.adapter != nil {
		t.Error("Adapter created despite missing config")
	}
}

func TestBridgeStartRejectsUnknownBackend(t *testing.T) {
	b, err := newBridge(newTestLogger(t), &recordingNotifier{}, Options{
		ConfigPath: writeTestConfig(t, "backend: jack\n"),
	})
	if err != nil {
		t.Fatalf("newBridge failed: %v", err)
	}

	if err := b.start(); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for an unknown backend, got %v", err)
	}
}

func TestBridgeReloadAppliesOnlyWhenHandedOver(t *testing.T) {
	b, memory, _ := startTestBridge(t, bridgeTestConfig, Options{})
	defer b.stop()

	remapped := strings.Replace(bridgeTestConfig, `"0": [music]`, `"0": [alarm]`, 1)
	if err := os.WriteFile(b.config.configFilepath, []byte(remapped), 0o644); err != nil {
		t.Fatal(err)
	}

	moved := make(chan struct{})
	go func() {
		defer close(moved)
		for i := 0; i < 50; i++ {
			b.handleSliderMoveEvent(SliderMoveEvent{SliderID: 0, PercentValue: 0.5})
		}
	}()
	for i := 0; i < 10; i++ {
		if _, err := b.config.Load(); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
	}
	<-moved

	if v, _ := memory.Volume(StreamMusic); v != 0.5 {
		t.Errorf("Expected slider 0 to keep driving music until the reload is applied, got %v", v)
	}
	if v, _ := memory.Volume(StreamAlarm); v != 1 {
		t.Errorf("Expected alarm untouched before the reload is applied, got %v", v)
	}

	b.onConfigReloaded(b.config.Snapshot())
	b.handleSliderMoveEvent(SliderMoveEvent{SliderID: 0, PercentValue: 0.3})

	if v, _ := memory.Volume(StreamAlarm); v != 0.3 {
		t.Errorf("Expected slider 0 to drive alarm after the reload, got %v", v)
	}
	if v, _ := memory.Volume(StreamMusic); v != 0.8 {
		t.Errorf("Expected music back at its configured 0.8, got %v", v)
	}
}
