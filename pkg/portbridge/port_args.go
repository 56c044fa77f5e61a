package portbridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/thoas/go-funk"
)

const (
	argSourceName       = "source_name"
	argSourceProperties = "source_properties"
	argFormat           = "format"
	argRate             = "rate"
	argChannels         = "channels"
	argChannelMap       = "channel_map"
	argBufferSize       = "buffer_size"

	maxChannels = 32
)

// recognizedPortArgs is the complete, ordered set of keys a port module accepts
var recognizedPortArgs = []string{
	argSourceName,
	argSourceProperties,
	argFormat,
	argRate,
	argChannels,
	argChannelMap,
	argBufferSize,
}

var knownSampleFormats = []string{
	"u8", "alaw", "ulaw",
	"s16le", "s16be", "s16ne", "s16re",
	"float32", "float32le", "float32be", "float32ne", "float32re",
	"s32le", "s32be", "s32ne", "s32re",
	"s24le", "s24be", "s24ne", "s24re",
	"s24-32le", "s24-32be", "s24-32ne", "s24-32re",
}

// named layouts and their channel counts
var knownChannelLayouts = map[string]int{
	"mono":        1,
	"stereo":      2,
	"surround-21": 3,
	"surround-40": 4,
	"surround-41": 5,
	"surround-50": 5,
	"surround-51": 6,
	"surround-71": 8,
}

var knownChannelPositions = func() []string {
	positions := []string{
		"mono", "left", "right", "center",
		"front-left", "front-right", "front-center",
		"rear-center", "rear-left", "rear-right",
		"lfe", "subwoofer",
		"front-left-of-center", "front-right-of-center",
		"side-left", "side-right",
		"top-center",
		"top-front-left", "top-front-right", "top-front-center",
		"top-rear-left", "top-rear-right", "top-rear-center",
	}
	for i := 0; i < maxChannels; i++ {
		positions = append(positions, fmt.Sprintf("aux%d", i))
	}
	return positions
}()

// PortArgs is a validated set of module arguments describing one audio port.
type PortArgs struct {
	values map[string]string

	rate       uint32
	channels   uint8
	bufferSize uint32
	channelMap []string
}

// ParsePortArgs parses a whitespace separated key=value list. Values may be
// quoted with ' or " and a backslash escapes the following character.
// Every key must be one of the recognized port argument keys.
func ParsePortArgs(raw string) (*PortArgs, error) {
	pa := &PortArgs{values: make(map[string]string)}

	if err := tokenizeModArgs(raw, func(key, value string) error {
		if !funk.ContainsString(recognizedPortArgs, key) {
			return fmt.Errorf("unrecognized key %q: %w", key, ErrArgumentParse)
		}
		if _, exists := pa.values[key]; exists {
			return fmt.Errorf("duplicate key %q: %w", key, ErrArgumentParse)
		}
		pa.values[key] = value
		return nil
	}); err != nil {
		return nil, err
	}

	if err := pa.validate(); err != nil {
		return nil, err
	}

	return pa, nil
}

// tokenizeModArgs walks raw and calls emit for every key=value pair
func tokenizeModArgs(raw string, emit func(key, value string) error) error {
	i := 0
	n := len(raw)

	for {
		for i < n && isArgSpace(raw[i]) {
			i++
		}
		if i >= n {
			return nil
		}

		keyStart := i
		for i < n && raw[i] != '=' && !isArgSpace(raw[i]) {
			i++
		}
		key := raw[keyStart:i]
		if i >= n || raw[i] != '=' {
			return fmt.Errorf("missing value for %q: %w", key, ErrArgumentParse)
		}
		if key == "" {
			return fmt.Errorf("empty key at offset %d: %w", keyStart, ErrArgumentParse)
		}
		i++ // '='

		var value strings.Builder
		var quote byte
		if i < n && (raw[i] == '\'' || raw[i] == '"') {
			quote = raw[i]
			i++
		}

		closed := quote == 0
		for i < n {
			c := raw[i]
			if c == '\\' {
				if i+1 >= n {
					return fmt.Errorf("dangling escape in %q: %w", key, ErrArgumentParse)
				}
				value.WriteByte(raw[i+1])
				i += 2
				continue
			}
			if quote != 0 && c == quote {
				closed = true
				i++
				break
			}
			if quote == 0 && isArgSpace(c) {
				break
			}
			value.WriteByte(c)
			i++
		}

		if !closed {
			return fmt.Errorf("unterminated quote in %q: %w", key, ErrArgumentParse)
		}
		if i < n && !isArgSpace(raw[i]) {
			return fmt.Errorf("trailing characters after quoted %q: %w", key, ErrArgumentParse)
		}

		if err := emit(key, value.String()); err != nil {
			return err
		}
	}
}

func isArgSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func (pa *PortArgs) validate() error {
	var err error

	if v, ok := pa.values[argRate]; ok {
		if pa.rate, err = parsePositive(argRate, v, 32); err != nil {
			return err
		}
	}

	if v, ok := pa.values[argChannels]; ok {
		channels, err := parsePositive(argChannels, v, 8)
		if err != nil {
			return err
		}
		if channels > maxChannels {
			return fmt.Errorf("%s=%d exceeds %d: %w", argChannels, channels, maxChannels, ErrArgumentParse)
		}
		pa.channels = uint8(channels)
	}

	if v, ok := pa.values[argBufferSize]; ok {
		if pa.bufferSize, err = parsePositive(argBufferSize, v, 32); err != nil {
			return err
		}
	}

	if v, ok := pa.values[argFormat]; ok {
		if !funk.ContainsString(knownSampleFormats, strings.ToLower(v)) {
			return fmt.Errorf("unknown sample format %q: %w", v, ErrArgumentParse)
		}
	}

	if v, ok := pa.values[argChannelMap]; ok {
		if pa.channelMap, err = parseChannelMap(v); err != nil {
			return err
		}
		if pa.channels != 0 && len(pa.channelMap) != int(pa.channels) {
			return fmt.Errorf("%s has %d positions but %s=%d: %w",
				argChannelMap, len(pa.channelMap), argChannels, pa.channels, ErrArgumentParse)
		}
	}

	return nil
}

func parsePositive(key, value string, bits int) (uint32, error) {
	parsed, err := strconv.ParseUint(value, 10, bits)
	if err != nil || parsed == 0 {
		return 0, fmt.Errorf("%s=%q is not a positive integer: %w", key, value, ErrArgumentParse)
	}
	return uint32(parsed), nil
}

func parseChannelMap(value string) ([]string, error) {
	value = strings.ToLower(value)
	if count, ok := knownChannelLayouts[value]; ok && value != "mono" {
		positions := make([]string, count)
		for i := range positions {
			positions[i] = value
		}
		return positions, nil
	}

	positions := strings.Split(value, ",")
	for _, position := range positions {
		if !funk.ContainsString(knownChannelPositions, position) {
			return nil, fmt.Errorf("unknown channel position %q: %w", position, ErrArgumentParse)
		}
	}
	return positions, nil
}

// Name returns the port name, or the empty string if none was given.
func (pa *PortArgs) Name() string {
	return pa.values[argSourceName]
}

// Properties returns the free-form property list.
func (pa *PortArgs) Properties() string {
	return pa.values[argSourceProperties]
}

// Format returns the sample format name.
func (pa *PortArgs) Format() string {
	return pa.values[argFormat]
}

// Rate returns the sample rate, zero when unset.
func (pa *PortArgs) Rate() uint32 {
	return pa.rate
}

// Channels returns the channel count, zero when unset.
func (pa *PortArgs) Channels() uint8 {
	return pa.channels
}

// ChannelMap returns the raw channel map value.
func (pa *PortArgs) ChannelMap() string {
	return pa.values[argChannelMap]
}

// BufferSize returns the buffer size override, zero when unset.
func (pa *PortArgs) BufferSize() uint32 {
	return pa.bufferSize
}

// Has reports whether key was supplied.
func (pa *PortArgs) Has(key string) bool {
	_, ok := pa.values[key]
	return ok
}

// Keys returns the supplied keys in canonical order.
func (pa *PortArgs) Keys() []string {
	return funk.FilterString(recognizedPortArgs, pa.Has)
}

// ModuleArgs renders the arguments back into the string form the audio
// server expects when loading a module.
func (pa *PortArgs) ModuleArgs() string {
	parts := make([]string, 0, len(pa.values))
	for _, key := range pa.Keys() {
		parts = append(parts, key+"="+quoteArgValue(pa.values[key]))
	}
	return strings.Join(parts, " ")
}

func (pa *PortArgs) String() string {
	return fmt.Sprintf("<port args: %s>", pa.ModuleArgs())
}

func quoteArgValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t\r\n'\"\\") {
		return v
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
	return `"` + escaped + `"`
}
