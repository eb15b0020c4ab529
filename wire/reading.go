package wire

import "strings"

// Reading is a sensor value report. Timestamp is seconds since epoch; a
// value of 0 means the reading is server-stamped by the platform on
// receipt (see the keepalive service).
type Reading struct {
	Reference string   `json:"reference"`
	Timestamp int64    `json:"timestamp"`
	Values    []string `json:"values"`
}

// JoinValues renders the reading's values for the wire, joining composite
// (delimiter-bearing) readings with the manifest's delimiter.
func (r Reading) JoinValues(delimiter string) string {
	if delimiter == "" {
		if len(r.Values) == 0 {
			return ""
		}
		return r.Values[0]
	}
	return strings.Join(r.Values, delimiter)
}

// SplitValues parses a wire value into a Reading's Values slice, splitting
// on delimiter when non-empty.
func SplitValues(raw, delimiter string) []string {
	if delimiter == "" {
		return []string{raw}
	}
	return strings.Split(raw, delimiter)
}

// ActuatorState reports the operational state of an actuator.
type ActuatorState string

const (
	ActuatorStateReady ActuatorState = "READY"
	ActuatorStateBusy  ActuatorState = "BUSY"
	ActuatorStateError ActuatorState = "ERROR"
)

func (s ActuatorState) String() string {
	return string(s)
}

// ActuatorStatus reports the current value and state of an actuator.
type ActuatorStatus struct {
	Reference string        `json:"reference"`
	Value     string        `json:"value"`
	State     ActuatorState `json:"state"`
}

// ConfigurationItem reports or sets a configuration slot's values.
type ConfigurationItem struct {
	Reference string   `json:"reference"`
	Values    []string `json:"values"`
}
