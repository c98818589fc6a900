package llmcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedRecord is returned when a stored document cannot be decoded back
// into generations.
var ErrMalformedRecord = errors.New("llmcache: malformed cached record")

// Message is the chat form of a generation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generation is a single LLM output. A call that asks for several completions
// produces several generations, and they are cached together.
type Generation struct {
	Text    string         `json:"text"`
	Info    map[string]any `json:"generation_info,omitempty"`
	Message *Message       `json:"message,omitempty"`
}

// encodeGenerations serializes each generation on its own, so one corrupt
// entry never hides the others.
func encodeGenerations(gens []Generation) ([]string, error) {
	out := make([]string, len(gens))
	for i, g := range gens {
		data, err := json.Marshal(g)
		if err != nil {
			return nil, fmt.Errorf("failed to encode generation %d: %w", i, err)
		}
		out[i] = string(data)
	}
	return out, nil
}

// decodeOutput turns the projected _source of a record back into generations.
// Every entry that fails to decode is reported, each naming its position.
func decodeOutput(source json.RawMessage) ([]Generation, error) {
	var record struct {
		Output []string `json:"llm_output"`
	}
	if err := json.Unmarshal(source, &record); err != nil {
		return nil, fmt.Errorf("%w: llm_output: %v", ErrMalformedRecord, err)
	}
	if record.Output == nil {
		return nil, fmt.Errorf("%w: llm_output is missing", ErrMalformedRecord)
	}

	gens := make([]Generation, len(record.Output))
	var errs []error
	for i, item := range record.Output {
		gen, err := decodeGeneration(item)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: llm_output[%d]: %v", ErrMalformedRecord, i, err))
			continue
		}
		gens[i] = gen
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return gens, nil
}

// decodeGeneration accepts exactly the shape encodeGenerations writes. Any
// other object, such as a framework's own serialized form, is rejected rather
// than read as an empty generation.
func decodeGeneration(item string) (Generation, error) {
	var wire struct {
		Text    *string        `json:"text"`
		Info    map[string]any `json:"generation_info"`
		Message *Message       `json:"message"`
	}
	dec := json.NewDecoder(strings.NewReader(item))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return Generation{}, err
	}
	if dec.More() {
		return Generation{}, errors.New("unexpected data after generation")
	}
	if wire.Text == nil {
		return Generation{}, errors.New("text is missing")
	}
	return Generation{Text: *wire.Text, Info: wire.Info, Message: wire.Message}, nil
}
