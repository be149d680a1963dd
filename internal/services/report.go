package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/agentx/guardian-backend/internal/llm"
	"github.com/agentx/guardian-backend/internal/models"
	"github.com/agentx/guardian-backend/internal/repository"
	"github.com/sirupsen/logrus"
)

const (
	DefaultReportLimit = 10
	MaxReportLimit     = 100
)

// NoRiskBucket counts analyzed entries without a detected risk in single-type reports
const NoRiskBucket = "未检测到风险"

var reportTypeNames = map[models.DetectionType]string{
	models.DetectionToxic:    "毒性内容",
	models.DetectionFakeNews: "虚假信息",
	models.DetectionPrivacy:  "隐私泄露",
}

// ReportService aggregates a user's recent detections into a report
type ReportService struct {
	detections repository.DetectionRepository
	client     llm.Client
	logger     *logrus.Logger
}

// NewReportService creates a report generator
func NewReportService(detections repository.DetectionRepository, client llm.Client, logger *logrus.Logger) *ReportService {
	return &ReportService{detections: detections, client: client, logger: logger}
}

// Generate builds a report over the user's most recent completed detections.
// Synthesis failures degrade the narrative, never the statistics.
func (s *ReportService) Generate(ctx context.Context, userID string, reportType models.ReportType, limit int) (*models.Report, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.NewValidationError("user_id", "user_id is required")
	}
	rt, err := models.ParseReportType(string(reportType))
	if err != nil {
		return nil, err
	}
	switch {
	case limit == 0:
		limit = DefaultReportLimit
	case limit < 0 || limit > MaxReportLimit:
		return nil, models.NewValidationError("limit", "limit must be between 1 and %d", MaxReportLimit)
	}

	entries, err := s.detections.RecentLogs(ctx, userID, rt.DetectionType(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read detection log: %w", err)
	}

	report := s.aggregate(userID, rt, entries)
	log := s.logger.WithFields(logrus.Fields{
		"user_id":     userID,
		"report_type": rt,
		"analyzed":    report.AnalyzedCount,
	})

	if report.AnalyzedCount == 0 {
		report.Summary = "近期没有记录到任何风险事件。"
		report.Analysis = "在统计范围内没有检测记录，所有统计数据均为零。"
		report.Recommendations = []string{"继续保持良好的上网习惯，遇到可疑内容可随时使用检测功能。"}
		return report, nil
	}

	if err := s.synthesize(ctx, report); err != nil {
		log.WithError(err).Warn("Report synthesis failed, using fallback narrative")
		fallbackNarrative(report)
		report.Degraded = true
	}
	log.Info("Report generated")
	return report, nil
}

// aggregate computes counts and percentages from the log entries alone
func (s *ReportService) aggregate(userID string, rt models.ReportType, entries []models.DetectionLogEntry) *models.Report {
	report := &models.Report{
		UserID:          userID,
		ReportType:      rt,
		AnalyzedCount:   len(entries),
		RiskLevels:      map[string]int{models.RiskLow: 0, models.RiskMedium: 0, models.RiskHigh: 0},
		Recommendations: []string{},
	}

	counts := make(map[string]int)
	var order []string
	if t := rt.DetectionType(); t == "" {
		for _, dt := range models.DetectionTypes {
			order = append(order, string(dt))
		}
	} else {
		order = append(order, StandardCategoriesOf(t)...)
	}

	for _, e := range entries {
		if e.Detected {
			report.RiskCount++
		}

		if rt == models.ReportTotal {
			counts[string(e.DetectionType)]++
		} else if e.Detected {
			category := models.CanonicalCategory(e.DetectionType, e.Category)
			if category == "" {
				category = "未分类"
			}
			counts[category]++
		} else {
			counts[NoRiskBucket]++
		}

		if e.Detected {
			report.RiskLevels[loggedRiskLevel(e)]++
		}
	}

	if rt != models.ReportTotal && counts[NoRiskBucket] > 0 {
		order = append(order, NoRiskBucket)
	}
	known := make(map[string]bool, len(order))
	for _, name := range order {
		known[name] = true
	}
	var extra []string
	for name := range counts {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)

	report.Stats = make([]models.ReportStat, 0, len(order))
	for _, name := range order {
		report.Stats = append(report.Stats, models.ReportStat{
			Name:       name,
			Count:      counts[name],
			Percentage: percentage(counts[name], report.AnalyzedCount),
		})
	}
	sort.SliceStable(report.Stats, func(i, j int) bool {
		return report.Stats[i].Count > report.Stats[j].Count
	})
	return report
}

// loggedRiskLevel is the level recorded with the entry. Entries logged
// without one are counted apart instead of being guessed.
func loggedRiskLevel(e models.DetectionLogEntry) string {
	switch e.RiskLevel {
	case models.RiskLow, models.RiskMedium, models.RiskHigh:
		return e.RiskLevel
	}
	return models.RiskUnknown
}

// reportStats is the only data sent for synthesis; it never carries content
type reportStats struct {
	ReportType    models.ReportType   `json:"report_type"`
	AnalyzedCount int                 `json:"analyzed_count"`
	RiskCount     int                 `json:"risk_count"`
	Stats         []models.ReportStat `json:"stats"`
	RiskLevels    map[string]int      `json:"risk_levels"`
}

func (s *ReportService) synthesize(ctx context.Context, report *models.Report) error {
	payload, err := json.Marshal(reportStats{
		ReportType:    report.ReportType,
		AnalyzedCount: report.AnalyzedCount,
		RiskCount:     report.RiskCount,
		Stats:         report.Stats,
		RiskLevels:    report.RiskLevels,
	})
	if err != nil {
		return err
	}

	var out struct {
		Summary         string   `json:"summary"`
		Analysis        string   `json:"analysis"`
		Recommendations []string `json:"recommendations"`
	}
	if _, err := llm.CompleteJSON(ctx, s.client, &llm.Request{
		Operation:   llm.OpReport,
		System:      llm.ReportPrompt,
		User:        string(payload),
		Temperature: 0.5,
	}, &out); err != nil {
		return err
	}
	if strings.TrimSpace(out.Summary) == "" {
		return fmt.Errorf("%w: %w: empty summary", models.ErrBackendUnavailable, llm.ErrMalformedOutput)
	}

	report.Summary = strings.TrimSpace(out.Summary)
	report.Analysis = strings.TrimSpace(out.Analysis)
	report.Recommendations = out.Recommendations
	if report.Recommendations == nil {
		report.Recommendations = []string{}
	}
	return nil
}

// fallbackNarrative writes a deterministic narrative from the statistics
func fallbackNarrative(report *models.Report) {
	scope := "全部类型"
	if t := report.ReportType.DetectionType(); t != "" {
		scope = reportTypeNames[t]
	}
	report.Summary = fmt.Sprintf("共分析%s检测记录%d条，其中%d条存在风险。", scope, report.AnalyzedCount, report.RiskCount)

	parts := make([]string, 0, len(report.Stats))
	for _, st := range report.Stats {
		if st.Count == 0 {
			continue
		}
		name := st.Name
		if n, ok := reportTypeNames[models.DetectionType(st.Name)]; ok {
			name = n
		}
		parts = append(parts, fmt.Sprintf("%s%d条(%.1f%%)", name, st.Count, st.Percentage))
	}
	report.Analysis = "分布情况：" + strings.Join(parts, "，") + "。"

	if report.RiskCount == 0 {
		report.Recommendations = []string{"近期未发现风险内容，请继续保持关注。"}
		return
	}
	report.Recommendations = []string{
		"请与老人沟通近期接触到的可疑内容。",
		"提醒老人不要轻信陌生来电和链接，不要透露个人信息。",
	}
	if report.RiskLevels[models.RiskHigh] > 0 {
		report.Recommendations = append(report.Recommendations, "存在高风险内容，建议尽快核实并处理。")
	}
}

// StandardCategoriesOf returns the standard category names of a detector
func StandardCategoriesOf(t models.DetectionType) []string {
	return append([]string(nil), models.StandardCategories[t].Standard...)
}

func percentage(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(count)*1000/float64(total)) / 10
}
