package audio

import (
	"math"
	"time"
)

// SampleRate is the mono PCM rate used for rendered playback.
const SampleRate = 22050

// Tone is one rendered sound: a single pitch, a chord, or (with no frequencies) silence.
type Tone struct {
	Frequencies []float64
	Duration    time.Duration
	Volume      float64
}

// Render concatenates tones into one mono int16 PCM buffer.
func Render(tones []Tone) []int16 {
	total := 0
	for _, tone := range tones {
		total += samplesForDuration(tone.Duration)
	}
	pcm := make([]int16, 0, total)
	for _, tone := range tones {
		pcm = append(pcm, synthesizeTone(tone)...)
	}
	return pcm
}

func synthesizeTone(tone Tone) []int16 {
	n := samplesForDuration(tone.Duration)
	if n <= 0 {
		return nil
	}
	freqs := make([]float64, 0, len(tone.Frequencies))
	for _, f := range tone.Frequencies {
		if f > 0 {
			freqs = append(freqs, f)
		}
	}
	if len(freqs) == 0 || tone.Volume <= 0 {
		return make([]int16, n)
	}

	attackRelease := n / 10
	maxRamp := SampleRate / 200 // 5ms
	if attackRelease > maxRamp {
		attackRelease = maxRamp
	}
	if attackRelease < 1 {
		attackRelease = 1
	}

	pcm := make([]int16, n)
	for i := 0; i < n; i++ {
		envelope := 1.0
		if i < attackRelease {
			envelope = float64(i) / float64(attackRelease)
		}
		releaseIndex := n - i - 1
		if releaseIndex < attackRelease {
			release := float64(releaseIndex) / float64(attackRelease)
			if release < envelope {
				envelope = release
			}
		}
		t := float64(i) / SampleRate
		sample := 0.0
		for _, f := range freqs {
			sample += math.Sin(2 * math.Pi * f * t)
		}
		sample /= float64(len(freqs))
		pcm[i] = int16(math.Round(sample * tone.Volume * envelope * 32767))
	}
	return pcm
}

func samplesForDuration(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * SampleRate))
}

// Mix sums equal-rate tracks into one buffer as long as the longest, clipping to int16.
func Mix(tracks ...[]int16) []int16 {
	longest := 0
	for _, track := range tracks {
		longest = max(longest, len(track))
	}
	out := make([]int16, longest)
	for i := range out {
		sum := 0
		for _, track := range tracks {
			if i < len(track) {
				sum += int(track[i])
			}
		}
		out[i] = int16(min(max(sum, math.MinInt16), math.MaxInt16))
	}
	return out
}
