package classifier

import (
	"context"
	"regexp"
	"sort"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
)

// HeuristicDetector is the default in-process detector. It walks the string
// fields of the action payload and matches them against fixed pattern sets.
// Deterministic for a given payload, so the gate's purity contract holds.
type HeuristicDetector struct {
	patterns map[contracts.SignalCategory][]*regexp.Regexp
}

// Pattern sets. These cover the common cases; production deployments layer a
// model-backed detector behind the same interface.
var (
	injectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior)\s+(instructions|prompts)`),
		regexp.MustCompile(`(?i)disregard\s+(the\s+)?system\s+prompt`),
		regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\s`),
		regexp.MustCompile(`(?i)override\s+(your|all)\s+(polic|instruction|guideline)`),
	}
	jailbreakPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bDAN\s+mode\b`),
		regexp.MustCompile(`(?i)developer\s+mode\s+enabled`),
		regexp.MustCompile(`(?i)\bjailbreak\b`),
		regexp.MustCompile(`(?i)without\s+(any\s+)?(restrictions|limitations|filters)`),
	}
	exfiltrationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(send|post|upload|forward)\s+.{0,40}(api[-_ ]?key|credential|password|secret)`),
		regexp.MustCompile(`(?i)exfiltrat`),
		regexp.MustCompile(`(?i)(dump|export)\s+.{0,30}(contact\s+list|database|all\s+records)`),
	}
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d{1,2}[\s.\-]?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
)

// NewHeuristicDetector creates the default detector.
func NewHeuristicDetector() *HeuristicDetector {
	return &HeuristicDetector{
		patterns: map[contracts.SignalCategory][]*regexp.Regexp{
			contracts.SignalInjection:    injectionPatterns,
			contracts.SignalJailbreak:    jailbreakPatterns,
			contracts.SignalExfiltration: exfiltrationPatterns,
			contracts.SignalPIIEmail:     {emailPattern},
			contracts.SignalPIIPhone:     {phonePattern},
			contracts.SignalPIISSN:       {ssnPattern},
		},
	}
}

func (d *HeuristicDetector) Detect(ctx context.Context, action *contracts.ProposedAction) (contracts.RiskVerdict, error) {
	signals := make(map[contracts.SignalCategory]bool)
	piiFields := make(map[string]bool)
	matches := 0

	walkStrings(action.Payload, "", func(path, value string) {
		for category, patterns := range d.patterns {
			for _, p := range patterns {
				if !p.MatchString(value) {
					continue
				}
				signals[category] = true
				matches++
				if isPII(category) {
					piiFields[path] = true
				}
			}
		}
	})

	verdict := contracts.RiskVerdict{
		Level:      levelFor(signals),
		Signals:    sortedSignals(signals),
		Confidence: confidenceFor(matches),
		PIIFields:  sortedKeys(piiFields),
	}
	return verdict, nil
}

// levelFor maps matched signal categories to a risk level. Exfiltration is
// critical outright; injection or jailbreak is high; PII alone is medium.
func levelFor(signals map[contracts.SignalCategory]bool) contracts.RiskLevel {
	switch {
	case signals[contracts.SignalExfiltration]:
		return contracts.RiskCritical
	case signals[contracts.SignalInjection] || signals[contracts.SignalJailbreak]:
		return contracts.RiskHigh
	case signals[contracts.SignalPIISSN]:
		return contracts.RiskHigh
	case signals[contracts.SignalPIIEmail] || signals[contracts.SignalPIIPhone]:
		return contracts.RiskMedium
	default:
		return contracts.RiskNone
	}
}

// confidenceFor turns match density into a confidence score. A clean payload
// is a confident verdict too.
func confidenceFor(matches int) float64 {
	if matches == 0 {
		return 0.95
	}
	c := 0.6 + 0.15*float64(matches)
	if c > 0.99 {
		c = 0.99
	}
	return c
}

func isPII(cat contracts.SignalCategory) bool {
	switch cat {
	case contracts.SignalPIIEmail, contracts.SignalPIIPhone, contracts.SignalPIISSN:
		return true
	}
	return false
}

// walkStrings visits every string leaf of a payload map with its dot path.
func walkStrings(node map[string]any, prefix string, visit func(path, value string)) {
	for key, value := range node {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		switch v := value.(type) {
		case string:
			visit(path, v)
		case map[string]any:
			walkStrings(v, path, visit)
		case []any:
			for _, elem := range v {
				if s, ok := elem.(string); ok {
					visit(path, s)
				} else if m, ok := elem.(map[string]any); ok {
					walkStrings(m, path, visit)
				}
			}
		}
	}
}

func sortedSignals(set map[contracts.SignalCategory]bool) []contracts.SignalCategory {
	out := make([]contracts.SignalCategory, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
