package worker

import (
	"context"
	"time"

	"github.com/rbright/cadenza/internal/audio"
	"github.com/rbright/cadenza/internal/notation"
	"github.com/rbright/cadenza/internal/protocol"
)

const (
	DefaultTempo  = 120
	defaultVolume = 0.2
)

// Engine renders and describes scores. Play blocks until playback ends.
type Engine interface {
	Play(ctx context.Context, score string, opts protocol.Options) error
	Parse(ctx context.Context, score string, mode string) (string, error)
}

// SynthEngine plays scores as sine tones on a Pulse sink.
type SynthEngine struct {
	Sink   string
	Tempo  int
	Volume float64
	// Player streams rendered PCM; nil means audio.PlayPCM.
	Player func(ctx context.Context, samples []int16, sink string) error
}

func (e SynthEngine) Parse(_ context.Context, text string, mode string) (string, error) {
	score, err := notation.Parse(text)
	if err != nil {
		return "", err
	}
	return notation.Format(score, mode)
}

func (e SynthEngine) Play(ctx context.Context, text string, opts protocol.Options) error {
	score, err := notation.Parse(text)
	if err != nil {
		return err
	}
	score, err = score.Between(opts.From, opts.To)
	if err != nil {
		return err
	}

	tracks := make([][]int16, 0, len(score.Parts))
	for _, part := range score.Parts {
		tracks = append(tracks, audio.Render(e.tones(part)))
	}
	play := e.Player
	if play == nil {
		play = audio.PlayPCM
	}
	return play(ctx, audio.Mix(tracks...), e.Sink)
}

// tones converts a part into back-to-back tones at the engine tempo.
func (e SynthEngine) tones(part notation.Part) []audio.Tone {
	tempo := e.Tempo
	if tempo <= 0 {
		tempo = DefaultTempo
	}
	volume := e.Volume
	if volume <= 0 {
		volume = defaultVolume
	}
	beat := time.Minute / time.Duration(tempo)

	var tones []audio.Tone
	for _, ev := range part.Events {
		if ev.Beats <= 0 {
			continue
		}
		tone := audio.Tone{Duration: time.Duration(ev.Beats * float64(beat)), Volume: volume}
		for _, pitch := range ev.Pitches {
			tone.Frequencies = append(tone.Frequencies, pitch.Frequency())
		}
		tones = append(tones, tone)
	}
	return tones
}
