package notation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Modes accepted by Format.
const (
	ModeText = "text"
	ModeLisp = "lisp"
	ModeMap  = "map"
)

// Stats summarizes a score.
type Stats struct {
	Parts   []string `json:"parts"`
	Notes   int      `json:"notes"`
	Chords  int      `json:"chords"`
	Rests   int      `json:"rests"`
	Markers []string `json:"markers,omitempty"`
	Beats   float64  `json:"beats"`
}

func (s Score) Stats() Stats {
	stats := Stats{Parts: []string{}}
	for _, part := range s.Parts {
		stats.Parts = append(stats.Parts, part.Name)
		stats.Beats = max(stats.Beats, part.Beats())
		for _, ev := range part.Events {
			switch ev.Kind {
			case KindNote:
				stats.Notes++
			case KindChord:
				stats.Chords++
			case KindRest:
				stats.Rests++
			case KindMarker:
				stats.Markers = append(stats.Markers, ev.Name)
			}
		}
	}
	return stats
}

// Format renders a score in one of the output modes.
func Format(score Score, mode string) (string, error) {
	switch mode {
	case ModeText:
		return formatText(score), nil
	case "", ModeLisp:
		return formatLisp(score), nil
	case ModeMap:
		out, err := json.MarshalIndent(struct {
			Score
			Stats Stats `json:"stats"`
		}{score, score.Stats()}, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode score map: %w", err)
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("unknown output mode %q", mode)
	}
}

// formatText writes one normalized line per part.
func formatText(score Score) string {
	lines := make([]string, 0, len(score.Parts))
	for _, part := range score.Parts {
		words := []string{part.Name + ":"}
		var beats float64
		for _, ev := range part.Events {
			switch ev.Kind {
			case KindNote:
				words = append(words, ev.Pitches[0].String()+lengthSuffix(ev.Beats, &beats))
			case KindChord:
				members := make([]string, len(ev.Pitches))
				for i, p := range ev.Pitches {
					members[i] = p.String()
				}
				members[0] += lengthSuffix(ev.Beats, &beats)
				words = append(words, strings.Join(members, "/"))
			case KindRest:
				words = append(words, "r"+lengthSuffix(ev.Beats, &beats))
			case KindOctave:
				words = append(words, "o"+strconv.Itoa(ev.Octave))
			case KindMarker:
				words = append(words, "%"+ev.Name)
			case KindBarline:
				words = append(words, "|")
			}
		}
		lines = append(lines, strings.Join(words, " "))
	}
	return strings.Join(lines, "\n")
}

// lengthSuffix spells a length only when it differs from the previous one.
func lengthSuffix(beats float64, prev *float64) string {
	if beats == *prev || (*prev == 0 && beats == defaultBeats) {
		*prev = beats
		return ""
	}
	*prev = beats
	return noteLength(beats)
}

// noteLength spells beats as a denominator with dots, falling back to ties.
func noteLength(beats float64) string {
	denominators := []int{1, 2, 3, 4, 6, 8, 12, 16, 24, 32, 64}
	for _, denominator := range denominators {
		base := 4 / float64(denominator)
		value, add := base, base
		for dots := 0; dots <= 2; dots++ {
			if math.Abs(value-beats) < 1e-9 {
				return strconv.Itoa(denominator) + strings.Repeat(".", dots)
			}
			add /= 2
			value += add
		}
	}

	var parts []string
	remaining := beats
	for remaining > 1e-9 {
		matched := false
		for _, denominator := range denominators {
			if base := 4 / float64(denominator); base <= remaining+1e-9 {
				parts = append(parts, strconv.Itoa(denominator))
				remaining -= base
				matched = true
				break
			}
		}
		if !matched {
			break
		}
	}
	return strings.Join(parts, "~")
}

func formatLisp(score Score) string {
	var b strings.Builder
	b.WriteString("(score")
	for _, part := range score.Parts {
		fmt.Fprintf(&b, "\n  (part %q", part.Name)
		for _, ev := range part.Events {
			b.WriteString("\n    ")
			switch ev.Kind {
			case KindNote:
				fmt.Fprintf(&b, "(note %s %s)", lispPitch(ev.Pitches[0]), beatsText(ev.Beats))
			case KindChord:
				members := make([]string, len(ev.Pitches))
				for i, p := range ev.Pitches {
					members[i] = lispPitch(p)
				}
				fmt.Fprintf(&b, "(chord %s %s)", strings.Join(members, " "), beatsText(ev.Beats))
			case KindRest:
				fmt.Fprintf(&b, "(rest %s)", beatsText(ev.Beats))
			case KindOctave:
				fmt.Fprintf(&b, "(octave %d)", ev.Octave)
			case KindMarker:
				fmt.Fprintf(&b, "(marker %q)", ev.Name)
			case KindBarline:
				b.WriteString("(barline)")
			}
		}
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

func lispPitch(p Pitch) string {
	return fmt.Sprintf("(pitch :%s %d)", p.String(), p.Octave)
}

func beatsText(beats float64) string {
	return strconv.FormatFloat(beats, 'f', -1, 64)
}

// Between keeps the events that start at or after marker from and before marker to.
// Empty names leave that side open.
func (s Score) Between(from, to string) (Score, error) {
	start, end := 0.0, math.Inf(1)
	if from != "" {
		offset, ok := s.markerOffset(from)
		if !ok {
			return Score{}, fmt.Errorf("marker %q not found", from)
		}
		start = offset
	}
	if to != "" {
		offset, ok := s.markerOffset(to)
		if !ok {
			return Score{}, fmt.Errorf("marker %q not found", to)
		}
		end = offset
	}
	if end < start {
		return Score{}, fmt.Errorf("marker %q comes before %q", to, from)
	}

	out := Score{Parts: make([]Part, 0, len(s.Parts))}
	for _, part := range s.Parts {
		kept := Part{Name: part.Name}
		for _, ev := range part.Events {
			if ev.Offset >= start && ev.Offset < end {
				ev.Offset -= start
				kept.Events = append(kept.Events, ev)
			}
		}
		out.Parts = append(out.Parts, kept)
	}
	return out, nil
}

func (s Score) markerOffset(name string) (float64, bool) {
	for _, part := range s.Parts {
		for _, ev := range part.Events {
			if ev.Kind == KindMarker && ev.Name == name {
				return ev.Offset, true
			}
		}
	}
	return 0, false
}
