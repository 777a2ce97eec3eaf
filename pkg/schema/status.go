package schema

import "encoding/json"

// StatusEnvelope is the control-plane status message published (retained)
// to cupertino/control/<service_id>/status. Per spec.md §9(d) this pins
// the shape the Python source left inconsistent: always an object with an
// optional detail payload, never a bare string.
type StatusEnvelope struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	ClientID  string         `json:"client_id"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Marshal serializes the status envelope to JSON.
func (e StatusEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
