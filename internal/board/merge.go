package board

import "encoding/json"

// mergeAttributes applies a field-level last-writer-wins patch to the stored
// attributes. Each top-level field present in the patch overwrites the prior
// value; fields absent from the patch are untouched. A nil patch returns the
// stored attributes unchanged.
func mergeAttributes(stored Attributes, patch Attributes) Attributes {
	if len(patch) == 0 {
		return stored.Clone()
	}
	merged := stored.Clone()
	if merged == nil {
		merged = make(Attributes, len(patch))
	}
	for field, value := range patch {
		merged[field] = value
	}
	return merged
}

func encodeAttributes(attributes Attributes) (string, error) {
	if attributes == nil {
		attributes = Attributes{}
	}
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodeAttributes(encoded string) (Attributes, error) {
	if encoded == "" {
		return Attributes{}, nil
	}
	var attributes Attributes
	if err := json.Unmarshal([]byte(encoded), &attributes); err != nil {
		return nil, err
	}
	return attributes, nil
}
