package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentx/guardian-backend/internal/llm"
	"github.com/agentx/guardian-backend/internal/models"
	"github.com/agentx/guardian-backend/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// AnonymousUser is logged for detections requested without a user
const AnonymousUser = "anonymous"

// DetectInput is one detection request
type DetectInput struct {
	UserID   string
	Type     models.DetectionType
	Content  string
	Kind     models.ContentKind
	Images   []string
	CacheKey string
	Platform string
}

// Detection is the outcome of one detector for one piece of content
type Detection struct {
	DetectionType models.DetectionType    `json:"detection_type"`
	Verdict       models.Verdict          `json:"verdict"`
	Result        *models.DetectionResult `json:"result"`
	Cached        bool                    `json:"cached"`
	ContentID     string                  `json:"content_id,omitempty"`
}

// RiskAssessment summarizes the verdicts of all detectors
type RiskAssessment struct {
	OverallRiskLevel string   `json:"overall_risk_level"`
	DetectedIssues   []string `json:"detected_issues"`
	Recommendations  []string `json:"recommendations"`
}

// ComprehensiveResult is the outcome of running every detector
type ComprehensiveResult struct {
	Detections     map[models.DetectionType]*Detection `json:"detections"`
	Errors         []string                            `json:"errors"`
	RiskAssessment RiskAssessment                      `json:"risk_assessment"`
	ContentID      string                              `json:"content_id,omitempty"`
}

var issueNames = map[models.DetectionType]string{
	models.DetectionFakeNews: "虚假信息",
	models.DetectionToxic:    "毒性内容",
	models.DetectionPrivacy:  "隐私泄露",
}

// RiskNotifier is told about high-risk verdicts
type RiskNotifier interface {
	Notify(ctx context.Context, ev RiskEvent) ([]models.RiskNotification, error)
}

// Detector runs content through the cached detection backend and records
// every invocation in the detection log.
type Detector struct {
	client   llm.Client
	cache    *ResultCache
	profiles *ProfileEngine
	logs     repository.DetectionRepository
	resolver *ContentResolver
	notifier RiskNotifier
	logger   *logrus.Logger
	now      func() time.Time
}

// NewDetector creates a detector. notifier may be nil.
func NewDetector(client llm.Client, cache *ResultCache, profiles *ProfileEngine, logs repository.DetectionRepository,
	resolver *ContentResolver, notifier RiskNotifier, logger *logrus.Logger) *Detector {
	return &Detector{
		client:   client,
		cache:    cache,
		profiles: profiles,
		logs:     logs,
		resolver: resolver,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Resolve resolves links in submitted content
func (d *Detector) Resolve(ctx context.Context, content string) (*ResolvedContent, error) {
	return d.resolver.Resolve(ctx, content)
}

// Input builds the detection input for resolved content
func (rc *ResolvedContent) Input(userID string, t models.DetectionType) DetectInput {
	return DetectInput{
		UserID:   userID,
		Type:     t,
		Content:  rc.Text,
		Kind:     rc.Kind,
		Images:   rc.Images,
		CacheKey: rc.CacheKey(),
		Platform: rc.Platform,
	}
}

// DetectContent resolves content and runs one detector over it
func (d *Detector) DetectContent(ctx context.Context, userID string, t models.DetectionType, content string) (*Detection, error) {
	if strings.TrimSpace(content) == "" {
		return nil, models.NewValidationError("content", "content must not be empty")
	}
	rc, err := d.Resolve(ctx, content)
	if err != nil {
		return nil, err
	}
	det, err := d.Detect(ctx, rc.Input(userID, t))
	if err != nil {
		return nil, err
	}
	det.ContentID = rc.ContentID
	return det, nil
}

// Detect returns the verdict of one detector, computing it at most once per
// fingerprint across concurrent callers.
func (d *Detector) Detect(ctx context.Context, in DetectInput) (*Detection, error) {
	t, err := models.ParseDetectionType(string(in.Type))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Content) == "" && len(in.Images) == 0 {
		return nil, models.NewValidationError("content", "content must not be empty")
	}
	if in.Kind == "" {
		in.Kind = models.ContentText
	}
	key := in.CacheKey
	if key == "" {
		key = NormalizeContent(in.Content)
	}
	userID := in.UserID
	if userID == "" {
		userID = AnonymousUser
	}

	log := d.logger.WithFields(logrus.Fields{"user_id": userID, "detection_type": t})

	result, cached, err := d.cache.GetOrCompute(ctx, t, key, func(ctx context.Context) (json.RawMessage, int, error) {
		return d.compute(ctx, t, in)
	})
	if err != nil {
		log.WithError(err).Warn("Detection failed")
		d.appendLog(ctx, log, &models.DetectionLogEntry{
			UserID:        userID,
			DetectionType: t,
			Fingerprint:   Fingerprint(t, key),
			Outcome:       models.OutcomeFailed,
			CreatedAt:     d.now(),
		})
		return nil, err
	}

	verdict, err := models.ParseVerdict(t, result.Verdict())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
	}

	// the cache write has happened by now; the log entry trails it
	d.appendLog(ctx, log, &models.DetectionLogEntry{
		UserID:        userID,
		DetectionType: t,
		Category:      verdict.Category,
		Fingerprint:   result.Fingerprint,
		Detected:      verdict.Detected,
		RiskLevel:     verdict.RiskLevel,
		Outcome:       models.OutcomeOK,
		CreatedAt:     d.now(),
	})

	log.WithFields(logrus.Fields{
		"fingerprint": result.Fingerprint,
		"detected":    verdict.Detected,
		"category":    verdict.Category,
		"cached":      cached,
	}).Debug("Detection completed")

	if verdict.Detected && verdict.RiskLevel == models.RiskHigh && d.notifier != nil && userID != AnonymousUser {
		if _, err := d.notifier.Notify(ctx, RiskEvent{
			ElderUserID:   userID,
			Fingerprint:   result.Fingerprint,
			DetectionType: t,
			Category:      verdict.Category,
			RiskLevel:     verdict.RiskLevel,
			Platform:      in.Platform,
			Suggestion:    verdict.Reminder,
		}); err != nil {
			log.WithError(err).Warn("Failed to notify caregivers")
		}
	}

	return &Detection{
		DetectionType: t,
		Verdict:       verdict,
		Result:        result,
		Cached:        cached,
	}, nil
}

// compute asks the backend for a verdict under the active profile. The
// profile is read here, after the cache captured its generation, so a
// verdict made with a replaced profile is never cached.
func (d *Detector) compute(ctx context.Context, t models.DetectionType, in DetectInput) (json.RawMessage, int, error) {
	profile, err := d.profiles.Active(t)
	if err != nil {
		return nil, 0, err
	}

	raw, err := llm.CompleteJSON(ctx, d.client, &llm.Request{
		Operation:   llm.OpDetect,
		Key:         string(t),
		System:      profile.ActivePrompt,
		User:        detectionMessage(profile.ActivePromptVersion, in),
		Images:      in.Images,
		Temperature: 0.1,
	}, nil)
	if err != nil {
		return nil, 0, err
	}
	if _, err := models.ParseVerdict(t, raw); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
	}
	return raw, profile.ActivePromptVersion, nil
}

func detectionMessage(promptVersion int, in DetectInput) string {
	return fmt.Sprintf("prompt_template_version: %d\ncontent_kind: %s\n\n待检测内容:\n%s", promptVersion, in.Kind, in.Content)
}

func (d *Detector) appendLog(ctx context.Context, log *logrus.Entry, entry *models.DetectionLogEntry) {
	if err := d.logs.AppendLog(context.WithoutCancel(ctx), entry); err != nil {
		log.WithError(err).Warn("Failed to append detection log")
	}
}

// Comprehensive runs every detector concurrently over the same content and
// assesses the combined risk. Detector failures are listed, not returned.
func (d *Detector) Comprehensive(ctx context.Context, userID, content string) (*ComprehensiveResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, models.NewValidationError("content", "content must not be empty")
	}
	rc, err := d.Resolve(ctx, content)
	if err != nil {
		return nil, err
	}

	dets := make([]*Detection, len(models.DetectionTypes))
	errs := make([]error, len(models.DetectionTypes))

	var g errgroup.Group
	for i, t := range models.DetectionTypes {
		g.Go(func() error {
			dets[i], errs[i] = d.Detect(ctx, rc.Input(userID, t))
			return nil
		})
	}
	_ = g.Wait()

	out := &ComprehensiveResult{
		Detections: make(map[models.DetectionType]*Detection),
		Errors:     []string{},
		ContentID:  rc.ContentID,
	}
	for i, t := range models.DetectionTypes {
		if errs[i] != nil {
			if errors.Is(errs[i], context.Canceled) {
				return nil, errs[i]
			}
			out.Errors = append(out.Errors, fmt.Sprintf("%s检测失败: %v", issueNames[t], errs[i]))
			continue
		}
		dets[i].ContentID = rc.ContentID
		out.Detections[t] = dets[i]
	}
	out.RiskAssessment = AssessRisk(out.Detections)
	return out, nil
}

// AssessRisk combines detector verdicts into one risk assessment. The
// overall level is the highest level among detected issues.
func AssessRisk(dets map[models.DetectionType]*Detection) RiskAssessment {
	ra := RiskAssessment{
		OverallRiskLevel: models.RiskLow,
		DetectedIssues:   []string{},
		Recommendations:  []string{},
	}
	for _, t := range []models.DetectionType{models.DetectionFakeNews, models.DetectionToxic, models.DetectionPrivacy} {
		det, ok := dets[t]
		if !ok || det == nil || !det.Verdict.Detected {
			continue
		}
		ra.DetectedIssues = append(ra.DetectedIssues, issueNames[t])
		if det.Verdict.Reminder != "" {
			ra.Recommendations = append(ra.Recommendations, det.Verdict.Reminder)
		}
		if riskRank(det.Verdict.RiskLevel) > riskRank(ra.OverallRiskLevel) {
			ra.OverallRiskLevel = det.Verdict.RiskLevel
		}
	}

	if len(ra.DetectedIssues) == 0 {
		ra.Recommendations = append(ra.Recommendations, "内容未检测到明显风险")
	} else {
		ra.Recommendations = append(ra.Recommendations,
			fmt.Sprintf("检测到以下问题：%s", strings.Join(ra.DetectedIssues, ", ")),
			"建议谨慎处理相关内容")
	}
	return ra
}

func riskRank(level string) int {
	switch level {
	case models.RiskHigh:
		return 2
	case models.RiskMedium:
		return 1
	}
	return 0
}
