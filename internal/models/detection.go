package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DetectionType names one of the content detectors. It doubles as the
// service type of the configuration profile that drives that detector.
type DetectionType string

const (
	DetectionToxic    DetectionType = "toxic"
	DetectionFakeNews DetectionType = "fake_news"
	DetectionPrivacy  DetectionType = "privacy"
)

// DetectionTypes lists every detector in a stable order
var DetectionTypes = []DetectionType{DetectionToxic, DetectionFakeNews, DetectionPrivacy}

// ParseDetectionType validates a user-supplied detection type
func ParseDetectionType(s string) (DetectionType, error) {
	switch DetectionType(strings.TrimSpace(s)) {
	case DetectionToxic:
		return DetectionToxic, nil
	case DetectionFakeNews:
		return DetectionFakeNews, nil
	case DetectionPrivacy:
		return DetectionPrivacy, nil
	}
	return "", NewValidationError("detection_type", "unsupported detection type %q", s)
}

// ContentKind describes what the backend is asked to judge
type ContentKind string

const (
	ContentText            ContentKind = "text"
	ContentVideoTranscript ContentKind = "video_transcript+frames"
)

// DetectionResult is the cached verdict for one fingerprint. It is written
// once by the computation that won the dedup race.
type DetectionResult struct {
	Fingerprint   string        `db:"fingerprint" json:"fingerprint"`
	DetectionType DetectionType `db:"detection_type" json:"detection_type"`
	VerdictJSON   string        `db:"verdict" json:"-"`
	PromptVersion int           `db:"prompt_version" json:"prompt_version"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	ExpiresAt     time.Time     `db:"expires_at" json:"expires_at"`
}

// Live reports whether the result may still be served from cache at now
func (r *DetectionResult) Live(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// Verdict returns the raw structured verdict
func (r *DetectionResult) Verdict() json.RawMessage {
	return json.RawMessage(r.VerdictJSON)
}

// MarshalJSON adds the raw verdict to the serialized result
func (r DetectionResult) MarshalJSON() ([]byte, error) {
	type alias DetectionResult
	return json.Marshal(struct {
		alias
		Verdict json.RawMessage `json:"verdict"`
	}{alias(r), r.Verdict()})
}

// Detection outcomes recorded in the log
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// DetectionLogEntry points at a DetectionResult and is the unit scanned by
// report generation. It keeps the verdict's risk level as observed when it
// was appended; the result row may later be replaced by a recomputation.
type DetectionLogEntry struct {
	ID            int64         `db:"id" json:"id"`
	UserID        string        `db:"user_id" json:"user_id"`
	DetectionType DetectionType `db:"detection_type" json:"detection_type"`
	Category      string        `db:"category" json:"category"`
	Fingerprint   string        `db:"fingerprint" json:"fingerprint"`
	Detected      bool          `db:"detected" json:"detected"`
	RiskLevel     string        `db:"risk_level" json:"risk_level,omitempty"`
	Outcome       string        `db:"outcome" json:"outcome"`
	CreatedAt     time.Time     `db:"created_at" json:"timestamp"`
}

// Risk levels after normalization
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"

	// RiskUnknown counts detected entries logged without a level
	RiskUnknown = "unknown"
)

// Verdict is the normalized view of a backend verdict
type Verdict struct {
	Detected  bool   `json:"detected"`
	Category  string `json:"category,omitempty"`
	RiskLevel string `json:"risk_level"`
	Reminder  string `json:"reminder,omitempty"`
}

type verdictFields struct {
	detected []string
	category []string
	level    []string
	reminder []string
}

// Field names follow the per-detector response tables; older names are
// accepted as fallbacks.
var verdictFieldTable = map[DetectionType]verdictFields{
	DetectionToxic: {
		detected: []string{"is_toxic_for_elderly", "has_toxicity", "is_toxic"},
		category: []string{"toxicity_category"},
		level:    []string{"severity", "severity_level", "risk_level"},
		reminder: []string{"elderly_explanation", "friendly_alternative", "clean_version"},
	},
	DetectionFakeNews: {
		detected: []string{"is_fake_for_elderly", "is_fake_news", "is_fake", "is_detected"},
		category: []string{"fake_news_category"},
		level:    []string{"risk_level", "severity"},
		reminder: []string{"truth_explanation", "factual_version"},
	},
	DetectionPrivacy: {
		detected: []string{"has_privacy_risk", "has_privacy_leak", "is_detected"},
		category: []string{"privacy_category"},
		level:    []string{"risk_level", "severity"},
		reminder: []string{"elderly_explanation", "safe_version"},
	},
}

// CategoryField returns the verdict field that carries the category for t
func CategoryField(t DetectionType) string {
	if f, ok := verdictFieldTable[t]; ok && len(f.category) > 0 {
		return f.category[0]
	}
	return "category"
}

// ParseVerdict extracts the normalized verdict from a raw backend response.
// A response without a detection flag is an error, never a clean verdict.
func ParseVerdict(t DetectionType, raw json.RawMessage) (Verdict, error) {
	fields, ok := verdictFieldTable[t]
	if !ok {
		return Verdict{}, fmt.Errorf("no verdict fields for detection type %q", t)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return Verdict{}, fmt.Errorf("failed to decode verdict: %w", err)
	}

	detected, ok := firstBool(data, fields.detected)
	if !ok {
		return Verdict{}, fmt.Errorf("verdict for %s carries none of %s", t, strings.Join(fields.detected, ", "))
	}

	v := Verdict{
		Detected:  detected,
		Category:  firstString(data, fields.category),
		RiskLevel: NormalizeRiskLevel(firstString(data, fields.level)),
		Reminder:  firstString(data, fields.reminder),
	}
	if !v.Detected {
		v.Category = ""
		v.Reminder = ""
		v.RiskLevel = RiskLow
	} else if v.RiskLevel == RiskLow && firstString(data, fields.level) == "" {
		v.RiskLevel = RiskMedium
	}
	return v, nil
}

// NormalizeRiskLevel maps the backend's free-form severity to low/medium/high
func NormalizeRiskLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "high", "severe", "critical", "高", "高风险", "严重", "极高":
		return RiskHigh
	case "medium", "moderate", "中", "中等", "中风险", "中度":
		return RiskMedium
	default:
		return RiskLow
	}
}

// firstBool returns the first key holding a boolean, or a string that
// spells one, and whether any key did.
func firstBool(data map[string]interface{}, keys []string) (bool, bool) {
	for _, k := range keys {
		switch v := data[k].(type) {
		case bool:
			return v, true
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "是":
				return true, true
			case "false", "否":
				return false, true
			}
		}
	}
	return false, false
}

func firstString(data map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if s, ok := data[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
