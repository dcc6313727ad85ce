package poker

import (
	"slices"
	"strings"
)

type Sequence string

const (
	SequenceFibonacci Sequence = "fibonacci"
	SequenceNatural   Sequence = "natural"
	SequenceABCD      Sequence = "abcd"
)

// DefaultSequence is used when a room is created without a known sequence.
const DefaultSequence = SequenceFibonacci

type sequenceDef struct {
	cards  []string
	closed bool // closed sequences only accept their own cards
}

var sequences = map[Sequence]sequenceDef{
	SequenceFibonacci: {cards: []string{"0", "1", "2", "3", "5", "8", "13", "21", "34", "55", "89", "?"}},
	SequenceNatural:   {cards: []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "?"}},
	SequenceABCD:      {cards: []string{"A", "B", "C", "D"}, closed: true},
}

// ParseSequence maps a client supplied name onto a known sequence,
// falling back to DefaultSequence.
func ParseSequence(name string) Sequence {
	s := Sequence(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := sequences[s]; ok {
		return s
	}
	return DefaultSequence
}

func (s Sequence) Cards() []string {
	return slices.Clone(sequences[s].cards)
}

func (s Sequence) Closed() bool {
	return sequences[s].closed
}

// Accepts reports whether value is an acceptable vote for the sequence.
// Open sequences take any string, including the empty one.
func (s Sequence) Accepts(value string) bool {
	def, ok := sequences[s]
	if !ok || !def.closed {
		return true
	}
	return slices.Contains(def.cards, value)
}
