package portbridge

import (
	"errors"
	"reflect"
	"testing"
)

func TestParsePortArgs(t *testing.T) {
	cases := []struct {
		input    string
		name     string
		rate     uint32
		channels uint8
		keys     []string
	}{
		{"", "", 0, 0, nil},
		{"source_name=mic0", "mic0", 0, 0, []string{"source_name"}},
		{
			"source_name=mic0 rate=48000 channels=2",
			"mic0", 48000, 2,
			[]string{"source_name", "rate", "channels"},
		},
		{
			"  channels=1\trate=16000   source_name=voice ",
			"voice", 16000, 1,
			[]string{"source_name", "rate", "channels"},
		},
		{
			`source_name="usb mic" source_properties='device.description="USB Mic"' format=s16le`,
			"usb mic", 0, 0,
			[]string{"source_name", "source_properties", "format"},
		},
		{
			`source_name=a\ b buffer_size=4096 channel_map=front-left,front-right channels=2`,
			"a b", 0, 2,
			[]string{"source_name", "channels", "channel_map", "buffer_size"},
		},
		{"channel_map=stereo channels=2", "", 0, 2, []string{"channels", "channel_map"}},
	}

	for _, c := range cases {
		args, err := ParsePortArgs(c.input)
		if err != nil {
			t.Errorf("Parsing %q failed: %v", c.input, err)
			continue
		}
		if args.Name() != c.name {
			t.Errorf("Parsing %q: expected name %q, got %q", c.input, c.name, args.Name())
		}
		if args.Rate() != c.rate {
			t.Errorf("Parsing %q: expected rate %d, got %d", c.input, c.rate, args.Rate())
		}
		if args.Channels() != c.channels {
			t.Errorf("Parsing %q: expected channels %d, got %d", c.input, c.channels, args.Channels())
		}
		if keys := args.Keys(); len(keys) != len(c.keys) || (len(keys) > 0 && !reflect.DeepEqual(c.keys, keys)) {
			t.Errorf("Parsing %q: expected keys %v, got %v", c.input, c.keys, args.Keys())
		}
	}
}

func TestParsePortArgsRejects(t *testing.T) {
	cases := []string{
		"source_name=mic0 bogus_key=1",
		"sink_name=out0",
		"source_name",
		"source_name=mic0 rate",
		"=mic0",
		"source_name=a source_name=b",
		`source_name="unterminated`,
		`source_name="a"b`,
		`source_name=trailing\`,
		"rate=fast",
		"rate=0",
		"rate=-1",
		"channels=33",
		"buffer_size=0",
		"format=mp3",
		"channel_map=left,nowhere",
		"channels=2 channel_map=mono",
		"channels=1 channel_map=stereo",
	}

	for _, input := range cases {
		args, err := ParsePortArgs(input)
		if err == nil {
			t.Errorf("Expected %q to be rejected, got %v", input, args)
			continue
		}
		if !errors.Is(err, ErrArgumentParse) {
			t.Errorf("Expected %q to fail with ErrArgumentParse, got %v", input, err)
		}
		if CodeOf(err) != CodeArgumentParse {
			t.Errorf("Expected code %v for %q, got %v", CodeArgumentParse, input, CodeOf(err))
		}
	}
}

func TestPortArgsModuleArgs(t *testing.T) {
	input := `rate=44100 source_properties='device.description="Line In"' source_name=line0 channels=2`

	args, err := ParsePortArgs(input)
	if err != nil {
		t.Fatalf("Parsing %q failed: %v", input, err)
	}

	expected := `source_name=line0 source_properties="device.description=\"Line In\"" rate=44100 channels=2`
	if args.ModuleArgs() != expected {
		t.Fatalf("Expected module args %q, got %q", expected, args.ModuleArgs())
	}

	reparsed, err := ParsePortArgs(args.ModuleArgs())
	if err != nil {
		t.Fatalf("Reparsing %q failed: %v", args.ModuleArgs(), err)
	}
	if reparsed.Properties() != `device.description="Line In"` {
		t.Errorf("Properties did not survive rendering, got %q", reparsed.Properties())
	}
}

func TestPortArgsEmptyValue(t *testing.T) {
	args, err := ParsePortArgs("source_name= rate=8000")
	if err != nil {
		t.Fatalf("Parsing failed: %v", err)
	}
	if !args.Has(argSourceName) || args.Name() != "" {
		t.Errorf("Expected empty source_name to be present, got %q", args.Name())
	}
	if args.ModuleArgs() != `source_name="" rate=8000` {
		t.Errorf("Unexpected module args %q", args.ModuleArgs())
	}
}
