// Package audio discovers PulseAudio output sinks that playback can be routed to.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// Device describes one Pulse output sink.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Selection is the resolved output sink plus an optional warning.
type Selection struct {
	Device  Device
	Warning string
}

// ListSinks returns Pulse output sinks with default/availability metadata.
func ListSinks(_ context.Context) ([]Device, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("cadenza"),
		pulse.ClientApplicationIconName("audio-x-generic"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	defaultSink, err := client.DefaultSink()
	if err != nil {
		return nil, fmt.Errorf("read default sink: %w", err)
	}
	defaultID := defaultSink.ID()

	var sinkInfos pulseproto.GetSinkInfoListReply
	if err := client.RawRequest(&pulseproto.GetSinkInfoList{}, &sinkInfos); err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}

	devices := make([]Device, 0, len(sinkInfos))
	for _, sink := range sinkInfos {
		if sink == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          sink.SinkName,
			Description: sink.Device,
			State:       stateString(sink.State),
			Available:   sinkAvailable(sink),
			Muted:       sink.Mute,
			Default:     sink.SinkName == defaultID,
		})
	}
	return devices, nil
}

// SelectSink resolves the audio.output preference against live sinks.
func SelectSink(ctx context.Context, preferred string) (Selection, error) {
	devices, err := ListSinks(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectSinkFromList(devices, preferred)
}

// selectSinkFromList applies selection policy to a pre-fetched sink list. An unusable
// preferred sink falls back to the default one with a warning.
func selectSinkFromList(devices []Device, preferred string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, errors.New("no audio output devices found")
	}

	var defaultDevice, match *Device
	preferred = strings.TrimSpace(strings.ToLower(preferred))
	for i := range devices {
		dev := &devices[i]
		if dev.Default {
			defaultDevice = dev
		}
		if match == nil && preferred != "" && preferred != "default" && deviceMatches(*dev, preferred) {
			match = dev
		}
	}

	if preferred != "" && preferred != "default" {
		if match == nil {
			return Selection{}, fmt.Errorf("audio.output %q did not match any device", preferred)
		}
		if usable(*match) {
			return Selection{Device: *match}, nil
		}
		if defaultDevice == nil || !usable(*defaultDevice) {
			return Selection{}, fmt.Errorf("audio.output %q is %s and the default sink is unusable", match.ID, reason(*match))
		}
		return Selection{
			Device:  *defaultDevice,
			Warning: fmt.Sprintf("audio.output %q is %s; falling back to %q", match.ID, reason(*match), defaultDevice.ID),
		}, nil
	}

	if defaultDevice == nil {
		return Selection{}, errors.New("default audio sink is unavailable")
	}
	if !usable(*defaultDevice) {
		return Selection{}, fmt.Errorf("default audio sink %q is %s", defaultDevice.ID, reason(*defaultDevice))
	}
	return Selection{Device: *defaultDevice}, nil
}

func usable(d Device) bool {
	return d.Available && !d.Muted
}

func reason(d Device) string {
	if d.Muted {
		return "muted"
	}
	return "unavailable"
}

// deviceMatches reports whether a search term matches a device id or description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

// stateString maps Pulse sink state constants to human-readable values.
func stateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sinkAvailable maps Pulse sink port availability to a simple boolean.
func sinkAvailable(sink *pulseproto.GetSinkInfoReply) bool {
	if sink == nil {
		return false
	}
	if len(sink.Ports) == 0 {
		return true
	}
	for _, port := range sink.Ports {
		if port.Name != sink.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}
