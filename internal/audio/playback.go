package audio

import (
	"context"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
)

// PlayPCM streams mono PCM to a Pulse sink and blocks until it drains or ctx ends.
// An empty or "default" sink plays on the server default.
func PlayPCM(ctx context.Context, samples []int16, sink string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("cadenza"),
		pulse.ClientApplicationIconName("audio-x-generic"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	opts := []pulse.PlaybackOption{
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(SampleRate),
		pulse.PlaybackLatency(0.05),
		pulse.PlaybackMediaName("cadenza score"),
	}
	if name := strings.TrimSpace(sink); name != "" && name != "default" {
		target, err := client.SinkByID(name)
		if err != nil {
			return fmt.Errorf("find sink %q: %w", name, err)
		}
		opts = append(opts, pulse.PlaybackSink(target))
	}

	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if ctx.Err() != nil || cursor >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(reader, opts...)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play stream: %w", err)
	}
	return ctx.Err()
}
