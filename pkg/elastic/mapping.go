package elastic

// Mapping is the field layout a cache declares for its documents.
type Mapping struct {
	Properties map[string]Property `json:"properties"`
}

// Property is a single field mapping.
type Property struct {
	Type      string `json:"type"`
	Index     *bool  `json:"index,omitempty"`
	DocValues *bool  `json:"doc_values,omitempty"`
}

// CreateBody is the request body for creating an index with this mapping.
func (m Mapping) CreateBody() map[string]any {
	return map[string]any{"mappings": m}
}

// PutBody is the request body for a mapping update.
func (m Mapping) PutBody() map[string]any {
	return map[string]any{"properties": m.Properties}
}

// StoredText is a text field that is kept in _source but never searched.
func StoredText() Property {
	return Property{Type: "text", Index: boolPtr(false)}
}

// StoredFloats is a float array kept in _source only, with no inverted index
// and no doc values.
func StoredFloats() Property {
	return Property{Type: "float", Index: boolPtr(false), DocValues: boolPtr(false)}
}

// Date is a date field.
func Date() Property {
	return Property{Type: "date"}
}

// Object is a free-form object field.
func Object() Property {
	return Property{Type: "object"}
}

func boolPtr(b bool) *bool {
	return &b
}
