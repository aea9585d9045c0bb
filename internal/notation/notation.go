// Package notation parses cadenza score text into timed events.
//
// The language is whitespace separated: `piano:` starts a part, `c d+ e-8 f4.` are notes
// with optional accidentals, length, and dots, `r` is a rest, `c/e/g` is a chord, `o5`,
// `>` and `<` set or shift the octave, `%name` places a marker, `|` is a barline, and `#`
// comments run to the end of the line. Lengths are sticky within a part.
package notation

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPart receives events written before any part declaration.
const DefaultPart = "piano"

const (
	defaultOctave = 4
	defaultBeats  = 1.0
)

type Kind string

const (
	KindNote    Kind = "note"
	KindChord   Kind = "chord"
	KindRest    Kind = "rest"
	KindOctave  Kind = "octave"
	KindMarker  Kind = "marker"
	KindBarline Kind = "barline"
)

// Pitch is a note letter with accidentals in a concrete octave.
type Pitch struct {
	Letter     string `json:"letter"`
	Accidental int    `json:"accidental,omitempty"`
	Octave     int    `json:"octave"`
}

var semitones = map[string]int{"c": 0, "d": 2, "e": 4, "f": 5, "g": 7, "a": 9, "b": 11}

// MIDI returns the MIDI note number, with c4 = 60.
func (p Pitch) MIDI() int {
	return 12*(p.Octave+1) + semitones[p.Letter] + p.Accidental
}

// Frequency returns the equal-tempered frequency with a4 = 440Hz.
func (p Pitch) Frequency() float64 {
	return 440 * math.Pow(2, float64(p.MIDI()-69)/12)
}

func (p Pitch) String() string {
	s := p.Letter
	switch {
	case p.Accidental > 0:
		s += strings.Repeat("+", p.Accidental)
	case p.Accidental < 0:
		s += strings.Repeat("-", -p.Accidental)
	}
	return s
}

// Event is one parsed element. Offset and Beats are measured in quarter notes from the
// start of its part.
type Event struct {
	Kind    Kind    `json:"type"`
	Pitches []Pitch `json:"pitches,omitempty"`
	Octave  int     `json:"octave,omitempty"`
	Name    string  `json:"name,omitempty"`
	Offset  float64 `json:"offset"`
	Beats   float64 `json:"beats,omitempty"`
}

type Part struct {
	Name   string  `json:"name"`
	Events []Event `json:"events"`
}

// Beats returns the part length in quarter notes.
func (p Part) Beats() float64 {
	total := 0.0
	for _, ev := range p.Events {
		total = max(total, ev.Offset+ev.Beats)
	}
	return total
}

type Score struct {
	Parts []Part `json:"parts"`
}

// SyntaxError locates the first token that could not be parsed.
type SyntaxError struct {
	Line   int
	Column int
	Token  string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s %q", e.Line, e.Column, e.Reason, e.Token)
}

var (
	partPattern   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_\-.'"/]*:$`)
	notePattern   = regexp.MustCompile(`^([a-g])([+\-_]*)((?:\d+\.*)(?:~\d+\.*)*)?$`)
	restPattern   = regexp.MustCompile(`^r((?:\d+\.*)(?:~\d+\.*)*)?$`)
	octavePattern = regexp.MustCompile(`^o(\d)$`)
	markerPattern = regexp.MustCompile(`^%([A-Za-z][A-Za-z0-9_\-]*)$`)
)

// partState is the sticky per-part parser state.
type partState struct {
	index  int
	octave int
	beats  float64
	offset float64
}

type parser struct {
	score Score
	parts map[string]*partState
	cur   *partState
}

// Parse reads score text. An empty text is an empty score.
func Parse(text string) (Score, error) {
	p := &parser{parts: map[string]*partState{}}
	for lineNo, line := range strings.Split(text, "\n") {
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		for _, tok := range tokens(line) {
			if err := p.token(tok.text); err != nil {
				return Score{}, &SyntaxError{Line: lineNo + 1, Column: tok.column, Token: tok.text, Reason: err.Error()}
			}
		}
	}
	return p.score, nil
}

type token struct {
	text   string
	column int
}

func tokens(line string) []token {
	var out []token
	start := -1
	for i, r := range line + " " {
		if r == ' ' || r == '\t' || r == '\r' {
			if start >= 0 {
				out = append(out, token{text: line[start:i], column: start + 1})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	return out
}

func (p *parser) part(name string) {
	state, ok := p.parts[name]
	if !ok {
		state = &partState{index: len(p.score.Parts), octave: defaultOctave, beats: defaultBeats}
		p.parts[name] = state
		p.score.Parts = append(p.score.Parts, Part{Name: name})
	}
	p.cur = state
}

func (p *parser) emit(ev Event) {
	if p.cur == nil {
		p.part(DefaultPart)
	}
	ev.Offset = p.cur.offset
	p.cur.offset += ev.Beats
	part := &p.score.Parts[p.cur.index]
	part.Events = append(part.Events, ev)
}

func (p *parser) state() *partState {
	if p.cur == nil {
		p.part(DefaultPart)
	}
	return p.cur
}

func (p *parser) token(tok string) error {
	if partPattern.MatchString(tok) {
		p.part(strings.TrimSuffix(tok, ":"))
		return nil
	}
	if tok == "|" {
		p.emit(Event{Kind: KindBarline})
		return nil
	}
	if m := markerPattern.FindStringSubmatch(tok); m != nil {
		p.emit(Event{Kind: KindMarker, Name: m[1]})
		return nil
	}

	tok = p.shifts(tok)
	if tok == "" {
		return nil
	}
	if m := octavePattern.FindStringSubmatch(tok); m != nil {
		octave, _ := strconv.Atoi(m[1])
		p.state().octave = octave
		p.emit(Event{Kind: KindOctave, Octave: octave})
		return nil
	}
	if m := restPattern.FindStringSubmatch(tok); m != nil {
		beats, err := p.length(m[1])
		if err != nil {
			return err
		}
		p.emit(Event{Kind: KindRest, Beats: beats})
		return nil
	}
	if strings.Contains(tok, "/") {
		return p.chord(tok)
	}

	pitch, lengthText, err := p.note(tok)
	if err != nil {
		return err
	}
	beats, err := p.length(lengthText)
	if err != nil {
		return err
	}
	p.emit(Event{Kind: KindNote, Pitches: []Pitch{pitch}, Beats: beats})
	return nil
}

// shifts consumes leading `>`/`<` octave shifts and returns the rest of the token.
func (p *parser) shifts(tok string) string {
	for tok != "" && (tok[0] == '>' || tok[0] == '<') {
		st := p.state()
		if tok[0] == '>' {
			st.octave++
		} else {
			st.octave--
		}
		p.emit(Event{Kind: KindOctave, Octave: st.octave})
		tok = tok[1:]
	}
	return tok
}

func (p *parser) note(tok string) (Pitch, string, error) {
	m := notePattern.FindStringSubmatch(tok)
	if m == nil {
		return Pitch{}, "", errors.New("unrecognized token")
	}
	accidental := strings.Count(m[2], "+") - strings.Count(m[2], "-")
	return Pitch{Letter: m[1], Accidental: accidental, Octave: p.state().octave}, m[3], nil
}

// chord parses `c/e/g`; the first note that names a length sets it for the chord.
func (p *parser) chord(tok string) error {
	var pitches []Pitch
	lengthText := ""
	for _, member := range strings.Split(tok, "/") {
		member = p.shifts(member)
		if member == "" {
			return errors.New("empty chord member")
		}
		pitch, length, err := p.note(member)
		if err != nil {
			return err
		}
		if lengthText == "" {
			lengthText = length
		}
		pitches = append(pitches, pitch)
	}
	beats, err := p.length(lengthText)
	if err != nil {
		return err
	}
	p.emit(Event{Kind: KindChord, Pitches: pitches, Beats: beats})
	return nil
}

// length converts `4`, `8.`, or tied `4~8` into quarter-note beats. An empty length
// reuses the part's previous one.
func (p *parser) length(text string) (float64, error) {
	st := p.state()
	if text == "" {
		return st.beats, nil
	}
	total := 0.0
	for _, piece := range strings.Split(text, "~") {
		digits := strings.TrimRight(piece, ".")
		denominator, err := strconv.Atoi(digits)
		if err != nil || denominator <= 0 {
			return 0, errors.New("invalid note length")
		}
		beats := 4 / float64(denominator)
		add := beats
		for range len(piece) - len(digits) {
			add /= 2
			beats += add
		}
		total += beats
	}
	st.beats = total
	return total, nil
}
