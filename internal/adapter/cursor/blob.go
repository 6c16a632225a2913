package cursor

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// blob field tags, per the length-delimited tagged format Cursor's
// state.vscdb stores message rows in.
const (
	tagContent           = 1
	tagUUID              = 2
	tagMetadata          = 3
	tagComplexMessage    = 4
	tagAdditionalContent = 5
	tagTreeRef           = 8
)

// rawBlob is one decoded message row, however it was encoded.
type rawBlob struct {
	Content           string
	UUID              string
	Metadata          json.RawMessage
	ComplexMessage    json.RawMessage
	AdditionalContent string
	IsTreeRef         bool
}

// complexMessage is the JSON shape carried by tag 4, when the blob is the
// tagged-binary form.
type complexMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// decodeBlob decodes one message row blob. It tries the tagged-binary form
// first (as the producer writes it natively), falls back to plain JSON, and
// reports ok=false for rows that are neither - Cursor's store also holds
// unrelated tree/reference blobs (tag 8 only, or no recognizable tag at
// all) alongside message rows, and those are skipped rather than treated as
// a decode error.
func decodeBlob(data []byte) (rawBlob, bool, error) {
	if fields, ok := parseTaggedFields(data); ok {
		var b rawBlob
		sawMessageField := false
		for _, f := range fields {
			switch f.tag {
			case tagContent:
				b.Content = string(f.value)
				sawMessageField = true
			case tagUUID:
				b.UUID = string(f.value)
				sawMessageField = true
			case tagMetadata:
				b.Metadata = append(json.RawMessage{}, f.value...)
				sawMessageField = true
			case tagComplexMessage:
				b.ComplexMessage = append(json.RawMessage{}, f.value...)
				sawMessageField = true
			case tagAdditionalContent:
				b.AdditionalContent = string(f.value)
				sawMessageField = true
			case tagTreeRef:
				b.IsTreeRef = true
			}
		}
		if sawMessageField {
			return b, true, nil
		}
		if b.IsTreeRef {
			return rawBlob{}, false, nil
		}
	}

	var asJSON struct {
		Role    string `json:"role"`
		Content string `json:"content"`
		UUID    string `json:"uuid"`
	}
	if err := json.Unmarshal(data, &asJSON); err == nil && (asJSON.Content != "" || asJSON.Role != "") {
		return rawBlob{
			Content:        asJSON.Content,
			UUID:           asJSON.UUID,
			ComplexMessage: mustMarshalComplex(asJSON.Role, asJSON.Content),
		}, true, nil
	}

	return rawBlob{}, false, nil
}

func mustMarshalComplex(role, content string) json.RawMessage {
	if role == "" {
		return nil
	}
	raw, err := json.Marshal(complexMessage{Role: role, Content: content})
	if err != nil {
		return nil
	}
	return raw
}

type taggedField struct {
	tag   byte
	value []byte
}

// parseTaggedFields decodes a sequence of (tag byte, varint length, value)
// records. It returns ok=false the moment the bytes stop looking like the
// tagged format (unknown tag outside 1-8, or a length that overruns the
// buffer) so the caller can fall back to JSON instead of misreading noise
// as a field.
func parseTaggedFields(data []byte) ([]taggedField, bool) {
	var fields []taggedField
	i := 0
	for i < len(data) {
		tag := data[i]
		if tag < 1 || tag > 8 {
			return nil, false
		}
		i++
		length, n := binary.Uvarint(data[i:])
		if n <= 0 {
			return nil, false
		}
		i += n
		if uint64(i)+length > uint64(len(data)) {
			return nil, false
		}
		fields = append(fields, taggedField{tag: tag, value: data[i : i+int(length)]})
		i += int(length)
	}
	if len(fields) == 0 {
		return nil, false
	}
	return fields, true
}

func (b rawBlob) String() string {
	return fmt.Sprintf("rawBlob{uuid=%q, treeRef=%v, len(content)=%d}", b.UUID, b.IsTreeRef, len(b.Content))
}
