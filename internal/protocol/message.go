// Package protocol defines the JSON frames exchanged with an assessment
// client over the real-time connection and returned by the REST fallback.
//
// Outbound messages form a closed tagged variant: every concrete type
// implements [Message] and encodes its "type" discriminator itself, so a
// message can never be serialized with the wrong tag. Binary frames carry
// raw audio and are not modelled here.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/lexi/internal/assessment"
)

// Type is the "type" discriminator of an outbound message.
type Type string

const (
	TypeTranscript        Type = "transcript"
	TypePhaseTransition   Type = "phase_transition"
	TypeReadingPassage    Type = "reading_passage"
	TypeReadingEvaluation Type = "reading_evaluation"
	TypeError             Type = "error"
	TypeSessionComplete   Type = "session_complete"
)

// Speaker identifies who produced a transcript line.
type Speaker string

const (
	SpeakerAI   Speaker = "ai"
	SpeakerUser Speaker = "user"
)

// Message is one outbound frame. The unexported method seals the set.
type Message interface {
	MessageType() Type
	sealed()
}

// Voiced is implemented by messages that may carry synthesized speech.
type Voiced interface {
	Message
	SpokenText() string
	WithAudio(audio []byte) Message
}

// Transcript is a line of dialogue spoken by the interviewer or recognised
// from the candidate.
type Transcript struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	Audio   []byte  `json:"audio,omitempty"`
}

// PhaseTransition announces a new assessment phase.
type PhaseTransition struct {
	Text     string           `json:"text"`
	Audio    []byte           `json:"audio,omitempty"`
	NewPhase assessment.Phase `json:"new_phase"`
}

// ReadingPassage presents a text to read aloud and translate.
type ReadingPassage struct {
	Passage     string `json:"passage"`
	Language    string `json:"language"`
	Difficulty  int    `json:"difficulty"`
	Instruction string `json:"instruction"`
}

// Evaluation is the scored breakdown of one reading exercise.
type Evaluation struct {
	ComprehensionScore float64  `json:"comprehension_score"`
	AccuracyScore      float64  `json:"accuracy_score"`
	GrammarScore       float64  `json:"grammar_score"`
	Feedback           string   `json:"feedback"`
	Errors             []string `json:"errors"`
	CorrectTranslation string   `json:"correct_translation"`
	Strengths          []string `json:"strengths"`
	Transcript         string   `json:"transcript"`
}

// ReadingEvaluation reports the evaluation of a reading answer.
type ReadingEvaluation struct {
	Text       string     `json:"text"`
	Audio      []byte     `json:"audio,omitempty"`
	Evaluation Evaluation `json:"evaluation"`
}

// Error is a user-visible failure notice. The session stays open.
type Error struct {
	Message string `json:"message"`
}

// SessionComplete carries the final result just before the connection is
// closed.
type SessionComplete struct {
	Text   string            `json:"text"`
	Audio  []byte            `json:"audio,omitempty"`
	Result assessment.Result `json:"result"`
}

func (Transcript) MessageType() Type        { return TypeTranscript }
func (PhaseTransition) MessageType() Type   { return TypePhaseTransition }
func (ReadingPassage) MessageType() Type    { return TypeReadingPassage }
func (ReadingEvaluation) MessageType() Type { return TypeReadingEvaluation }
func (Error) MessageType() Type             { return TypeError }
func (SessionComplete) MessageType() Type   { return TypeSessionComplete }

func (Transcript) sealed()        {}
func (PhaseTransition) sealed()   {}
func (ReadingPassage) sealed()    {}
func (ReadingEvaluation) sealed() {}
func (Error) sealed()             {}
func (SessionComplete) sealed()   {}

func (m Transcript) SpokenText() string        { return m.Text }
func (m PhaseTransition) SpokenText() string   { return m.Text }
func (m ReadingEvaluation) SpokenText() string { return m.Text }
func (m SessionComplete) SpokenText() string   { return m.Text }

func (m Transcript) WithAudio(a []byte) Message        { m.Audio = a; return m }
func (m PhaseTransition) WithAudio(a []byte) Message   { m.Audio = a; return m }
func (m ReadingEvaluation) WithAudio(a []byte) Message { m.Audio = a; return m }
func (m SessionComplete) WithAudio(a []byte) Message   { m.Audio = a; return m }

// MarshalJSON implementations add the discriminator in front of the payload.
// Each embeds a method-less copy of its own type so encoding does not recurse.

func (m Transcript) MarshalJSON() ([]byte, error) {
	type wire Transcript
	return json.Marshal(struct {
		Type Type `json:"type"`
		wire
	}{TypeTranscript, wire(m)})
}

func (m PhaseTransition) MarshalJSON() ([]byte, error) {
	type wire PhaseTransition
	return json.Marshal(struct {
		Type Type `json:"type"`
		wire
	}{TypePhaseTransition, wire(m)})
}

func (m ReadingPassage) MarshalJSON() ([]byte, error) {
	type wire ReadingPassage
	return json.Marshal(struct {
		Type Type `json:"type"`
		wire
	}{TypeReadingPassage, wire(m)})
}

func (m ReadingEvaluation) MarshalJSON() ([]byte, error) {
	type wire ReadingEvaluation
	if m.Evaluation.Errors == nil {
		m.Evaluation.Errors = []string{}
	}
	if m.Evaluation.Strengths == nil {
		m.Evaluation.Strengths = []string{}
	}
	return json.Marshal(struct {
		Type Type `json:"type"`
		wire
	}{TypeReadingEvaluation, wire(m)})
}

func (m Error) MarshalJSON() ([]byte, error) {
	type wire Error
	return json.Marshal(struct {
		Type Type `json:"type"`
		wire
	}{TypeError, wire(m)})
}

func (m SessionComplete) MarshalJSON() ([]byte, error) {
	type wire SessionComplete
	return json.Marshal(struct {
		Type Type `json:"type"`
		wire
	}{TypeSessionComplete, wire(m)})
}

// Encode serializes m for the wire.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.MessageType(), err)
	}
	return data, nil
}

// ErrUnknownType is returned by Decode and DecodeControl for an unrecognised
// discriminator.
var ErrUnknownType = errors.New("protocol: unknown message type")

// Decode parses an outbound message. It is used by clients and tests; the
// server only encodes.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("protocol: decode header: %w", err)
	}
	var (
		m   Message
		err error
	)
	switch head.Type {
	case TypeTranscript:
		m, err = decodeAs[Transcript](data)
	case TypePhaseTransition:
		m, err = decodeAs[PhaseTransition](data)
	case TypeReadingPassage:
		m, err = decodeAs[ReadingPassage](data)
	case TypeReadingEvaluation:
		m, err = decodeAs[ReadingEvaluation](data)
	case TypeError:
		m, err = decodeAs[Error](data)
	case TypeSessionComplete:
		m, err = decodeAs[SessionComplete](data)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", head.Type, err)
	}
	return m, nil
}

// decodeAs unmarshals into T. The "type" key has no matching field and is
// skipped by the decoder.
func decodeAs[T Message](data []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
