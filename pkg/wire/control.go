package wire

import "github.com/invopop/jsonschema"

// Confidence is the server's qualitative confidence label. Only
// [ConfidenceUncertain] has meaning to the client; any other value, including
// empty, is treated as confident.
type Confidence string

// ConfidenceUncertain marks a speaker attribution or recognition result the
// server is unsure of.
const ConfidenceUncertain Confidence = "uncertain"

// ControlEvent is a transcript update pushed by the server.
type ControlEvent struct {
	// Speaker is the attributed speaker label.
	Speaker string `json:"speaker" jsonschema:"description=Attributed speaker label"`

	// Transcript is the recognised text. Interim events are replaced by later
	// ones until an event with Final set arrives.
	Transcript string `json:"transcript" jsonschema:"description=Recognised text for the current utterance"`

	// Final marks the last update for this utterance.
	Final bool `json:"final,omitempty" jsonschema:"description=True on the last update of an utterance,default=false"`

	SpeakerConfidence Confidence `json:"speaker_confidence,omitempty" jsonschema:"description=Set to uncertain when speaker attribution is unreliable"`
	ASRConfidence     Confidence `json:"asr_confidence,omitempty" jsonschema:"description=Set to uncertain when recognition is unreliable"`

	// Error, when non-empty, turns the message into an application error and
	// every other field is ignored.
	Error string `json:"error,omitempty" jsonschema:"description=Server-side error; overrides all other fields"`
}

// Uncertain reports whether either the speaker attribution or the
// recognition result was marked uncertain.
func (e ControlEvent) Uncertain() bool {
	return e.SpeakerConfidence == ConfidenceUncertain || e.ASRConfidence == ConfidenceUncertain
}

// Schema returns the JSON Schema of the control message, for server
// implementers.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
	}
	s := r.Reflect(&ControlEvent{})
	s.Title = "voxlink control event"
	s.Description = "Text message sent by the speech server: a transcript update or an error."
	return s
}

// rawControlEvent distinguishes absent fields from zero values.
type rawControlEvent struct {
	Speaker           *string    `json:"speaker"`
	Transcript        *string    `json:"transcript"`
	Final             bool       `json:"final"`
	SpeakerConfidence Confidence `json:"speaker_confidence"`
	ASRConfidence     Confidence `json:"asr_confidence"`
	Error             *string    `json:"error"`
}
