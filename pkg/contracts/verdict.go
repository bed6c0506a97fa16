package contracts

import (
	"encoding/json"
	"fmt"
)

// RiskLevel orders the classifier's judgment from benign to critical.
// The integer backing makes ceiling comparisons explicit; the wire form
// is always the lowercase string.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskNames = map[RiskLevel]string{
	RiskNone:     "none",
	RiskLow:      "low",
	RiskMedium:   "medium",
	RiskHigh:     "high",
	RiskCritical: "critical",
}

func (r RiskLevel) String() string {
	if name, ok := riskNames[r]; ok {
		return name
	}
	return fmt.Sprintf("risk(%d)", int(r))
}

// ParseRiskLevel converts the wire form back to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for level, name := range riskNames {
		if name == s {
			return level, nil
		}
	}
	return RiskNone, fmt.Errorf("unknown risk level %q", s)
}

func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	level, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// UnmarshalYAML lets policy files spell levels as plain strings.
func (r *RiskLevel) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	level, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// SignalCategory names a matched detector signal.
type SignalCategory string

const (
	SignalInjection       SignalCategory = "injection"
	SignalJailbreak       SignalCategory = "jailbreak"
	SignalExfiltration    SignalCategory = "exfiltration"
	SignalPIIEmail        SignalCategory = "pii-email"
	SignalPIIPhone        SignalCategory = "pii-phone"
	SignalPIISSN          SignalCategory = "pii-ssn"
	SignalDetectorTimeout SignalCategory = "detector-timeout"
)

// RiskVerdict is the Classifier Gate's structured judgment of a proposed
// action. Attached to exactly one ProposedAction, never mutated.
type RiskVerdict struct {
	Level      RiskLevel        `json:"level"`
	Signals    []SignalCategory `json:"signals,omitempty"`
	Confidence float64          `json:"confidence"`
	// PIIFields lists payload field paths where PII was detected. The
	// Audit Ledger redacts these before persisting any snapshot.
	PIIFields []string `json:"pii_fields,omitempty"`
}

// HasSignal reports whether the verdict carries the given category.
func (v RiskVerdict) HasSignal(cat SignalCategory) bool {
	for _, s := range v.Signals {
		if s == cat {
			return true
		}
	}
	return false
}
