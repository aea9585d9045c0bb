package notation

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseNotesLengthsAndOffsets(t *testing.T) {
	score, err := Parse("piano: c d+8 e-8. r4 c4~8")
	require.NoError(t, err)
	require.Len(t, score.Parts, 1)

	want := []Event{
		{Kind: KindNote, Pitches: []Pitch{{Letter: "c", Octave: 4}}, Offset: 0, Beats: 1},
		{Kind: KindNote, Pitches: []Pitch{{Letter: "d", Accidental: 1, Octave: 4}}, Offset: 1, Beats: 0.5},
		{Kind: KindNote, Pitches: []Pitch{{Letter: "e", Accidental: -1, Octave: 4}}, Offset: 1.5, Beats: 0.75},
		{Kind: KindRest, Offset: 2.25, Beats: 1},
		{Kind: KindNote, Pitches: []Pitch{{Letter: "c", Octave: 4}}, Offset: 3.25, Beats: 1.5},
	}
	if diff := cmp.Diff(want, score.Parts[0].Events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	require.InDelta(t, 4.75, score.Parts[0].Beats(), 1e-9)
}

func TestParseOctavesChordsAndParts(t *testing.T) {
	score, err := Parse("o5 c >d <<e/g # comment\nviolin: a | %coda b")
	require.NoError(t, err)
	require.Len(t, score.Parts, 2)
	require.Equal(t, DefaultPart, score.Parts[0].Name)
	require.Equal(t, "violin", score.Parts[1].Name)

	var notes []Pitch
	for _, ev := range score.Parts[0].Events {
		if ev.Kind == KindNote || ev.Kind == KindChord {
			notes = append(notes, ev.Pitches...)
		}
	}
	require.Equal(t, []Pitch{
		{Letter: "c", Octave: 5},
		{Letter: "d", Octave: 6},
		{Letter: "e", Octave: 4},
		{Letter: "g", Octave: 4},
	}, notes)

	// Parts keep their own octave.
	violin := score.Parts[1].Events
	require.Equal(t, 4, violin[0].Pitches[0].Octave)
	require.Equal(t, KindBarline, violin[1].Kind)
	require.Equal(t, Event{Kind: KindMarker, Name: "coda", Offset: 1}, violin[2])
}

func TestParseEmpty(t *testing.T) {
	score, err := Parse("  \n# only a comment\n")
	require.NoError(t, err)
	require.Empty(t, score.Parts)
}

func TestParseSyntaxErrors(t *testing.T) {
	_, err := Parse("piano: c\n  x")
	var syntaxErr *SyntaxError
	require.True(t, errors.As(err, &syntaxErr))
	require.Equal(t, 2, syntaxErr.Line)
	require.Equal(t, 3, syntaxErr.Column)
	require.Equal(t, "x", syntaxErr.Token)
	require.Contains(t, err.Error(), "line 2, column 3")

	_, err = Parse("c0")
	require.ErrorContains(t, err, "invalid note length")

	_, err = Parse("c//e")
	require.ErrorContains(t, err, "empty chord member")
}

func TestPitchMath(t *testing.T) {
	require.Equal(t, 60, Pitch{Letter: "c", Octave: 4}.MIDI())
	require.Equal(t, 61, Pitch{Letter: "c", Accidental: 1, Octave: 4}.MIDI())
	require.InDelta(t, 440.0, Pitch{Letter: "a", Octave: 4}.Frequency(), 1e-9)
	require.InDelta(t, 880.0, Pitch{Letter: "a", Octave: 5}.Frequency(), 1e-9)
	require.Equal(t, "b--", Pitch{Letter: "b", Accidental: -2}.String())
}

func TestBetweenMarkers(t *testing.T) {
	score, err := Parse("piano: c d %verse e f %end g")
	require.NoError(t, err)

	verse, err := score.Between("verse", "end")
	require.NoError(t, err)
	stats := verse.Stats()
	require.Equal(t, 2, stats.Notes)
	require.Equal(t, []string{"verse"}, stats.Markers)
	require.Zero(t, verse.Parts[0].Events[0].Offset)

	tail, err := score.Between("end", "")
	require.NoError(t, err)
	require.Equal(t, 1, tail.Stats().Notes)

	_, err = score.Between("bridge", "")
	require.ErrorContains(t, err, `marker "bridge" not found`)

	_, err = score.Between("end", "verse")
	require.ErrorContains(t, err, "comes before")
}

func TestFormatModes(t *testing.T) {
	score, err := Parse("c8 d e4 r")
	require.NoError(t, err)

	text, err := Format(score, ModeText)
	require.NoError(t, err)
	require.Equal(t, "piano: c8 d e4 r", text)

	single, err := Parse("c")
	require.NoError(t, err)
	lisp, err := Format(single, ModeLisp)
	require.NoError(t, err)
	require.Equal(t, "(score\n  (part \"piano\"\n    (note (pitch :c 4) 1)))", lisp)

	asMap, err := Format(score, ModeMap)
	require.NoError(t, err)
	require.Contains(t, asMap, `"notes": 3`)
	require.Contains(t, asMap, `"rests": 1`)

	_, err = Format(score, "midi")
	require.ErrorContains(t, err, "unknown output mode")
}

func TestNoteLength(t *testing.T) {
	require.Equal(t, "4", noteLength(1))
	require.Equal(t, "8.", noteLength(0.75))
	require.Equal(t, "1..", noteLength(7))
	require.Equal(t, "1~1", noteLength(8))
	require.Equal(t, "3", noteLength(4.0/3))
}
