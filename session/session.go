package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	fieldType       = "type"
	fieldID         = "session_id"
	fieldProperties = "properties"
)

// Property is a single engine specific creation property.
type Property struct {
	Key   string `json:"key" msgpack:"key"`
	Value any    `json:"value" msgpack:"value"`
}

// Definition describes the session to create.
type Definition struct {
	Type       string     `json:"type" msgpack:"type"`
	Properties []Property `json:"properties,omitempty" msgpack:"properties,omitempty"`
}

// Validate returns ErrMissingType if the definition has no engine type.
func (d Definition) Validate() error {
	if d.Type == "" {
		return ErrMissingType
	}
	return nil
}

// Handle is a backend session. Type and ID never change once the backend has
// assigned them and any other field the backend returned is kept in Extra and
// serialized back unmodified. Handles are shared between callers and must be
// treated as read-only.
type Handle struct {
	Type  string
	ID    string
	Extra map[string]any
}

// Same reports whether both handles refer to the same backend session.
func (h *Handle) Same(other *Handle) bool {
	if h == nil || other == nil {
		return h == other
	}
	return h.Type == other.Type && h.ID == other.ID
}

func (h *Handle) String() string {
	return h.Type + "/" + h.ID
}

// Definition returns the definition that recreates a session like this one.
func (h *Handle) Definition() Definition {
	return Definition{Type: h.Type, Properties: h.Properties()}
}

// Properties returns the negotiated properties the backend reported, if any.
// Entries that are not key/value objects are skipped.
func (h *Handle) Properties() []Property {
	raw, ok := h.Extra[fieldProperties].([]any)
	if !ok {
		return nil
	}
	props := make([]Property, 0, len(raw))
	for _, item := range raw {
		kv, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key, ok := kv["key"].(string)
		if !ok {
			continue
		}
		props = append(props, Property{Key: key, Value: kv["value"]})
	}
	return props
}

func (h *Handle) toMap() map[string]any {
	kv := make(map[string]any, len(h.Extra)+2)
	maps.Copy(kv, h.Extra)
	kv[fieldType] = h.Type
	kv[fieldID] = h.ID
	return kv
}

func (h *Handle) fromMap(kv map[string]any) error {
	t, ok := kv[fieldType].(string)
	if !ok || t == "" {
		return errors.Wrap(ErrMissingType, "decoding session")
	}
	h.Type = t
	h.ID = idString(kv[fieldID])
	h.Extra = make(map[string]any, len(kv))
	for k, v := range kv {
		if k == fieldType || k == fieldID {
			continue
		}
		h.Extra[k] = v
	}
	return nil
}

// ids are opaque but some engines hand out numeric ones
func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprint(id)
	}
}

func (h *Handle) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.toMap())
}

func (h *Handle) UnmarshalJSON(buf []byte) error {
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	var kv map[string]any
	if err := dec.Decode(&kv); err != nil {
		return err
	}
	return h.fromMap(kv)
}

var _ msgpack.CustomEncoder = (*Handle)(nil)
var _ msgpack.CustomDecoder = (*Handle)(nil)

func (h *Handle) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(h.toMap())
}

func (h *Handle) DecodeMsgpack(dec *msgpack.Decoder) error {
	var kv map[string]any
	if err := dec.Decode(&kv); err != nil {
		return err
	}
	return h.fromMap(kv)
}
