package simulation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a simulation job.
type Status int

const (
	StatusCreated Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusStopped
)

var statusNames = [...]string{
	StatusCreated:   "CREATED",
	StatusRunning:   "RUNNING",
	StatusCompleted: "COMPLETED",
	StatusFailed:    "FAILED",
	StatusStopped:   "STOPPED",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("unknown status %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus parses the wire name of a status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// OutputStatus tracks post-run output preparation independently of Status.
type OutputStatus int

const (
	OutputMissing OutputStatus = iota
	OutputComputing
	OutputReady
	OutputFailed
)

var outputStatusNames = [...]string{
	OutputMissing:   "MISSING",
	OutputComputing: "COMPUTING",
	OutputReady:     "READY",
	OutputFailed:    "FAILED",
}

func (s OutputStatus) String() string {
	if s < 0 || int(s) >= len(outputStatusNames) {
		return fmt.Sprintf("OutputStatus(%d)", int(s))
	}
	return outputStatusNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s OutputStatus) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(outputStatusNames) {
		return nil, fmt.Errorf("unknown output status %d", int(s))
	}
	return []byte(outputStatusNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *OutputStatus) UnmarshalText(text []byte) error {
	for i, n := range outputStatusNames {
		if n == string(text) {
			*s = OutputStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown output status %q", text)
}

// Parameters is the validated input configuration of a simulation.
// Lengths are in metres, power in watts, speed in metres per second.
type Parameters struct {
	LaserPower        float64 `json:"laserPower" yaml:"laserPower"`
	LaserSpeed        float64 `json:"laserSpeed" yaml:"laserSpeed"`
	SphereDiameter    float64 `json:"sphereDiameter" yaml:"sphereDiameter"`
	Phi               float64 `json:"phi" yaml:"phi"`
	PowderLayerHeight float64 `json:"powderLayerHeight" yaml:"powderLayerHeight"`
}

// Callback represents lifecycle callback configuration for a job.
type Callback struct {
	URL    string   `json:"url"`
	Events []string `json:"events,omitempty"`
	Key    string   `json:"key,omitempty"` // HMAC signing key
}

// Summary is a list entry.
type Summary struct {
	ID         string     `json:"id"`
	Parameters Parameters `json:"parameters"`
	State      Status     `json:"state"`
}

// Info is a detailed point-in-time view of a job.
type Info struct {
	ID          string       `json:"id"`
	Parameters  Parameters   `json:"parameters"`
	State       Status       `json:"state"`
	OutputState OutputStatus `json:"outputState"`
	ExitCode    *int         `json:"exitCode,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	FinishedAt  *time.Time   `json:"finishedAt,omitempty"`
}

// Result is the structured output of a successful run, keyed by channel name.
// It serializes as a flat object: {"id": ..., "<channel>": [...], ...}.
type Result struct {
	ID       string
	Channels map[string][]float64
}

// MarshalJSON implements json.Marshaler.
func (r *Result) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Channels)+1)
	for name, values := range r.Channels {
		flat[name] = values
	}
	flat["id"] = r.ID
	return json.Marshal(flat)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Result) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	r.Channels = make(map[string][]float64, len(flat))
	for name, raw := range flat {
		if name == "id" {
			if err := json.Unmarshal(raw, &r.ID); err != nil {
				return fmt.Errorf("id: %w", err)
			}
			continue
		}
		var values []float64
		if err := json.Unmarshal(raw, &values); err != nil {
			return fmt.Errorf("channel %s: %w", name, err)
		}
		r.Channels[name] = values
	}
	return nil
}
