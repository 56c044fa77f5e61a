package portbridge

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/jfreymuth/pulse/proto"
)

func TestSinkInputMatches(t *testing.T) {
	cases := []struct {
		name  string
		props proto.PropList
		want  []StreamType
	}{
		{"no properties", proto.PropList{}, nil},
		{"stream type wins over role", proto.PropList{
			propStreamType: proto.PropListString("ring"),
			propMediaRole:  proto.PropListString("music"),
		}, []StreamType{StreamRing}},
		{"tagged dtmf", proto.PropList{propStreamType: proto.PropListString("dtmf")}, []StreamType{StreamDTMF}},
		{"unknown stream type", proto.PropList{propStreamType: proto.PropListString("karaoke")}, nil},
		{"music role", proto.PropList{propMediaRole: proto.PropListString("music")}, []StreamType{StreamMusic}},
		{"event role", proto.PropList{propMediaRole: proto.PropListString("event")}, []StreamType{StreamNotification}},
		{"phone role", proto.PropList{propMediaRole: proto.PropListString("phone")}, []StreamType{StreamVoiceCall}},
		{"a11y role", proto.PropList{propMediaRole: proto.PropListString("a11y")}, []StreamType{StreamAccessibility}},
		{"unknown role", proto.PropList{propMediaRole: proto.PropListString("video")}, nil},
	}

	for _, c := range cases {
		var matched []StreamType
		for _, st := range AllStreamTypes() {
			if sinkInputMatches(c.props, st) {
				matched = append(matched, st)
			}
		}
		if !reflect.DeepEqual(c.want, matched) {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, matched)
		}
	}
}

func TestEveryRoleHasOneOwner(t *testing.T) {
	owners := map[string]int{}
	for _, st := range AllStreamTypes() {
		if st.OwnsRole() {
			owners[st.Role()]++
		}
	}

	for _, st := range AllStreamTypes() {
		if owners[st.Role()] != 1 {
			t.Errorf("Role %q of %v has %d owners", st.Role(), st, owners[st.Role()])
		}
	}
}

func TestWrapPulseError(t *testing.T) {
	cases := []struct {
		err  error
		code ErrorCode
	}{
		{proto.ErrInvalidArgument, CodeInvalidArgument},
		{proto.ErrNoSuchEntity, CodeInvalidArgument},
		{proto.ErrConnectionTerminated, CodeNotConnected},
		{fmt.Errorf("request: %w", proto.ErrConnectionTerminated), CodeNotConnected},
		{proto.ErrAccessDenied, CodeBackend},
		{errors.New("broken pipe"), CodeBackend},
	}

	for _, c := range cases {
		wrapped := wrapPulseError("set default sink", c.err)
		if got := CodeOf(wrapped); got != c.code {
			t.Errorf("wrapPulseError(%v): expected %v, got %v", c.err, c.code, got)
		}
		if !errors.Is(wrapped, c.err) {
			t.Errorf("wrapPulseError(%v) lost the server error", c.err)
		}
	}
}

func TestCreateChannelVolumes(t *testing.T) {
	cases := []struct {
		channels byte
		volume   float32
		want     proto.ChannelVolumes
	}{
		{0, 1, proto.ChannelVolumes{}},
		{1, 0, proto.ChannelVolumes{0}},
		{2, 1, proto.ChannelVolumes{pulseVolumeNorm, pulseVolumeNorm}},
		{3, 0.5, proto.ChannelVolumes{pulseVolumeNorm / 2, pulseVolumeNorm / 2, pulseVolumeNorm / 2}},
	}

	for _, c := range cases {
		got := createChannelVolumes(c.channels, c.volume)
		if !reflect.DeepEqual(c.want, got) {
			t.Errorf("createChannelVolumes(%d, %v): expected %v, got %v", c.channels, c.volume, c.want, got)
		}
	}
}
