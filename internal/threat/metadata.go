package threat

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Known metadata keys read by the pattern detector and ingestion.
const (
	KeyIOCs            = "iocs"
	KeyTags            = "tags"
	KeyAffectedSectors = "affectedSectors"
	KeyLink            = "link"
	KeyFeedID          = "feedId"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindList
)

// Value is one entry of a Metadata bag.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []string
}

func String(s string) Value  { return Value{kind: KindString, str: s} }
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }

func List(items ...string) Value {
	return Value{kind: KindList, list: append([]string(nil), items...)}
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// String renders any variant as text.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		return fmt.Sprint(v.list)
	default:
		return v.str
	}
}

// Strings returns list items, or a one-element slice for a non-empty string.
func (v Value) Strings() []string {
	switch v.kind {
	case KindList:
		return v.list
	case KindString:
		if v.str != "" {
			return []string{v.str}
		}
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	default:
		return json.Marshal(v.str)
	}
}

// UnmarshalJSON maps JSON scalars onto the matching variant. Arrays become
// string lists; nested objects are kept as their compact JSON text.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = fromAny(raw)
	return nil
}

func fromAny(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return String("")
	case string:
		return String(x)
	case float64:
		return Number(x)
	case bool:
		return Bool(x)
	case []any:
		items := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				items = append(items, s)
				continue
			}
			b, _ := json.Marshal(item)
			items = append(items, string(b))
		}
		return List(items...)
	default:
		b, _ := json.Marshal(x)
		return String(string(b))
	}
}

// Metadata is the open key-value extension bag attached to a Record.
type Metadata map[string]Value

// FromMap converts a decoded JSON object into Metadata.
func FromMap(m map[string]any) Metadata {
	if len(m) == 0 {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = fromAny(v)
	}
	return out
}

// String returns the text form of key, or "" when absent.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	return v.String()
}

// IOCs returns indicators of compromise listed under "iocs".
func (m Metadata) IOCs() []string { return m[KeyIOCs].Strings() }

// Tags returns the "tags" list.
func (m Metadata) Tags() []string { return m[KeyTags].Strings() }

// AffectedSectors returns the "affectedSectors" list.
func (m Metadata) AffectedSectors() []string { return m[KeyAffectedSectors].Strings() }
