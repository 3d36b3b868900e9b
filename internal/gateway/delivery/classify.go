package delivery

import "encoding/json"

type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeDelivered
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Classify reads the provider's answer. The provider has been seen to signal
// success in three different shapes, so any one of them counts:
//
//	{"success": true}
//	{"status": "delivered"}
//	{"Status": "successful"}
//
// Anything that matches neither a success nor a known failure shape is
// Unknown and should be logged so the table can be extended.
func Classify(body json.RawMessage) Outcome {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil || m == nil {
		return OutcomeUnknown
	}

	if v, ok := m["success"].(bool); ok && v {
		return OutcomeDelivered
	}
	if v, ok := m["status"].(string); ok && v == "delivered" {
		return OutcomeDelivered
	}
	if v, ok := m["Status"].(string); ok && v == "successful" {
		return OutcomeDelivered
	}

	if v, ok := m["success"].(bool); ok && !v {
		return OutcomeFailed
	}
	for _, key := range []string{"status", "Status"} {
		if v, ok := m[key].(string); ok {
			switch v {
			case "failed", "Failed", "error", "failure", "fail":
				return OutcomeFailed
			}
		}
	}
	if _, ok := m["error"]; ok {
		return OutcomeFailed
	}
	return OutcomeUnknown
}
