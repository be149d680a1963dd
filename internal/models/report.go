package models

import "strings"

// ReportType selects what a report aggregates over
type ReportType string

const (
	ReportTotal    ReportType = "total"
	ReportToxic    ReportType = "toxic"
	ReportFakeNews ReportType = "fake_news"
	ReportPrivacy  ReportType = "privacy"
)

// ParseReportType validates a user-supplied report type
func ParseReportType(s string) (ReportType, error) {
	switch ReportType(strings.TrimSpace(s)) {
	case ReportTotal:
		return ReportTotal, nil
	case ReportToxic:
		return ReportToxic, nil
	case ReportFakeNews:
		return ReportFakeNews, nil
	case ReportPrivacy:
		return ReportPrivacy, nil
	}
	return "", NewValidationError("report_type", "unsupported report type %q", s)
}

// DetectionType returns the single detector a report covers, or "" for total
func (r ReportType) DetectionType() DetectionType {
	if r == ReportTotal {
		return ""
	}
	return DetectionType(r)
}

// ReportStat is one row of a report's breakdown
type ReportStat struct {
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Report is the statistical and narrative view of a user's recent detections
type Report struct {
	UserID          string         `json:"user_id"`
	ReportType      ReportType     `json:"report_type"`
	AnalyzedCount   int            `json:"analyzed_count"`
	RiskCount       int            `json:"risk_count"`
	Stats           []ReportStat   `json:"stats"`
	RiskLevels      map[string]int `json:"risk_levels"`
	Summary         string         `json:"summary"`
	Analysis        string         `json:"analysis"`
	Recommendations []string       `json:"recommendations"`
	Degraded        bool           `json:"degraded"`
}
