package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Provenance tags stored under MetaMessageFlow.
const (
	MetaMessageFlow = "message_flow"

	FlowInboundOriginal   = "inbound_original"
	FlowAutomationCreated = "automation_created"
	FlowAutomationUpdated = "automation_updated"
)

// Metadata is a JSON object column. It is stored as text so the same schema
// works on SQLite and Postgres.
type Metadata map[string]any

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("metadata: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*m = Metadata{}
		return nil
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// Flow returns the provenance tag, or "" when absent.
func (m Metadata) Flow() string {
	s, _ := m[MetaMessageFlow].(string)
	return s
}

// Merge returns a copy of m with the keys of other applied on top.
func (m Metadata) Merge(other map[string]any) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}
