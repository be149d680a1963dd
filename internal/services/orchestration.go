package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentx/guardian-backend/internal/llm"
	"github.com/agentx/guardian-backend/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// GenericReply is sent when the turn could not be understood
const GenericReply = "抱歉，我刚才没有听清楚，您可以再说一遍吗？"

// fallbackReply is sent when the reply itself could not be generated
const fallbackReply = "好的，我已经收到了您的消息。"

// PrivacyReview is the backend's judgement of content about to be published
type PrivacyReview struct {
	HasPrivacyRisk bool   `json:"has_privacy_risk"`
	RiskLevel      string `json:"risk_level"`
	ReminderText   string `json:"reminder_text"`
	SafeVersion    string `json:"safe_version"`
}

// OrchestrationService turns one user event into a reply. It routes the
// event, runs the requested branches concurrently and assembles the result.
type OrchestrationService struct {
	client   llm.Client
	memory   *MemoryManager
	detector *Detector
	logger   *logrus.Logger
}

// NewOrchestrationService creates the orchestrator
func NewOrchestrationService(client llm.Client, memory *MemoryManager, detector *Detector, logger *logrus.Logger) *OrchestrationService {
	return &OrchestrationService{
		client:   client,
		memory:   memory,
		detector: detector,
		logger:   logger,
	}
}

// turn collects what the branches of one event produced. Each branch
// writes only its own fields; the errgroup barrier publishes them.
type turn struct {
	event    models.Event
	session  *models.Session
	decision *models.RoutingDecision

	detections   []models.DetectionOutcome
	detectFailed bool

	review       *PrivacyReview
	reviewFailed bool

	support       string
	supportFailed bool

	memory           *models.MemoryContext
	memoryFailed     bool
	preferenceFailed bool
}

// Handle processes one event end to end
func (o *OrchestrationService) Handle(ctx context.Context, ev models.Event) (*models.TurnResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	session, err := o.memory.EnsureSession(ctx, ev.UserID, ev.SessionID)
	if err != nil {
		return nil, err
	}
	if _, err := o.memory.Record(ctx, session, models.SpeakerUser, turnText(ev)); err != nil {
		return nil, err
	}

	log := o.logger.WithFields(logrus.Fields{"user_id": ev.UserID, "session_id": session.ID})

	decision, err := Route(ctx, o.client, ev)
	if err != nil {
		log.WithError(err).Warn("Routing failed, replying generically")
		res := &models.TurnResult{
			SessionID:      session.ID,
			ReplySentence:  GenericReply,
			ActionList:     []models.Action{},
			UIReminders:    []string{},
			FailedBranches: []string{models.BranchRouting},
			Degraded:       true,
		}
		o.recordReply(ctx, log, session, res.ReplySentence)
		return res, nil
	}

	t := &turn{event: ev, session: session, decision: decision}

	var g errgroup.Group
	if decision.ScanningTextOrVideo {
		g.Go(func() error { o.runDetectors(ctx, log, t); return nil })
	}
	if decision.ContentRelease.HasContentRelease {
		g.Go(func() error { o.runReview(ctx, log, t); return nil })
	}
	if decision.NeedEmotionSupport {
		g.Go(func() error { o.runEmotion(ctx, log, t); return nil })
	}
	g.Go(func() error { o.runMemory(ctx, log, t); return nil })
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &models.TurnResult{
		SessionID:      session.ID,
		ActionList:     []models.Action{},
		UIReminders:    o.reminders(t),
		Detections:     t.detections,
		FailedBranches: t.failedBranches(),
	}

	reply, actions, err := o.respond(ctx, t)
	if err != nil {
		log.WithError(err).Warn("Response generation failed")
		res.FailedBranches = append(res.FailedBranches, models.BranchResponse)
		reply = fallbackReply
		if t.support != "" {
			reply = t.support
		}
	}
	res.ReplySentence = reply
	if len(actions) > 0 {
		res.ActionList = actions
	}
	res.Degraded = len(res.FailedBranches) > 0

	o.recordReply(ctx, log, session, res.ReplySentence)

	log.WithFields(logrus.Fields{
		"scanning":        decision.ScanningTextOrVideo,
		"failed_branches": res.FailedBranches,
		"reminders":       len(res.UIReminders),
	}).Info("Turn handled")
	return res, nil
}

func (o *OrchestrationService) recordReply(ctx context.Context, log *logrus.Entry, session *models.Session, reply string) {
	if _, err := o.memory.Record(ctx, session, models.SpeakerAssistant, reply); err != nil {
		log.WithError(err).Warn("Failed to record assistant reply")
	}
}

// runDetectors runs the three detectors over the event's content
func (o *OrchestrationService) runDetectors(ctx context.Context, log *logrus.Entry, t *turn) {
	ev := t.event
	if strings.TrimSpace(ev.Utterance) == "" && ev.ScreenshotRef == "" {
		return
	}

	rc, err := o.detector.Resolve(ctx, ev.Utterance)
	if err != nil {
		log.WithError(err).Warn("Content not resolved, skipping detection")
		t.detectFailed = true
		return
	}

	outcomes := make([]models.DetectionOutcome, len(models.DetectionTypes))
	var g errgroup.Group
	for i, dt := range models.DetectionTypes {
		g.Go(func() error {
			in := rc.Input(ev.UserID, dt)
			if ev.ScreenshotRef != "" {
				in.Images = append(append([]string(nil), in.Images...), ev.ScreenshotRef)
				in.CacheKey = in.CacheKey + "\x00screenshot:" + ev.ScreenshotRef
			}
			outcomes[i] = models.DetectionOutcome{DetectionType: dt}
			det, err := o.detector.Detect(ctx, in)
			if err != nil {
				outcomes[i].Error = err.Error()
				return nil
			}
			v := det.Verdict
			outcomes[i].Verdict = &v
			outcomes[i].Cached = det.Cached
			return nil
		})
	}
	_ = g.Wait()
	t.detections = outcomes
}

// runReview checks content the user is about to publish
func (o *OrchestrationService) runReview(ctx context.Context, log *logrus.Entry, t *turn) {
	var review PrivacyReview
	_, err := llm.CompleteJSON(ctx, o.client, &llm.Request{
		Operation:   llm.OpReview,
		System:      llm.PrivacyReviewPrompt,
		User:        turnText(t.event),
		Temperature: 0.1,
	}, &review)
	if err != nil {
		log.WithError(err).Warn("Privacy review failed")
		t.reviewFailed = true
		return
	}
	review.RiskLevel = models.NormalizeRiskLevel(review.RiskLevel)
	t.review = &review
}

// runEmotion produces a comforting sentence for the reply
func (o *OrchestrationService) runEmotion(ctx context.Context, log *logrus.Entry, t *turn) {
	prompt := t.decision.EmotionSupportPrompt
	if prompt == "" {
		prompt = "用户情绪低落，需要安慰"
	}
	var out struct {
		SupportSentence string `json:"support_sentence"`
	}
	_, err := llm.CompleteJSON(ctx, o.client, &llm.Request{
		Operation:   llm.OpEmotion,
		System:      llm.EmotionPrompt,
		User:        fmt.Sprintf("提示: %s\n用户: %s", prompt, t.event.Utterance),
		Temperature: 0.7,
	}, &out)
	if err != nil || strings.TrimSpace(out.SupportSentence) == "" {
		log.WithError(err).Warn("Emotion support failed")
		t.supportFailed = true
		return
	}
	t.support = strings.TrimSpace(out.SupportSentence)
}

// runMemory reads the memory context, then stores the turn's preference
func (o *OrchestrationService) runMemory(ctx context.Context, log *logrus.Entry, t *turn) {
	pref := t.decision.UserPreference

	mem, err := o.memory.Retrieve(ctx, t.event.UserID, t.session.ID, pref.PreferenceType)
	if err != nil {
		log.WithError(err).Warn("Memory retrieval failed")
		t.memoryFailed = true
	} else {
		t.memory = mem
	}

	if _, err := o.memory.StorePreference(ctx, t.event.UserID, pref); err != nil {
		log.WithError(err).Warn("Preference store failed")
		t.preferenceFailed = true
	}
}

func (t *turn) failedBranches() []string {
	failed := []string{}
	if t.detectFailed {
		failed = append(failed, models.BranchDetection)
	}
	for _, d := range t.detections {
		if d.Failed() {
			failed = append(failed, string(d.DetectionType))
		}
	}
	if t.reviewFailed {
		failed = append(failed, models.BranchReview)
	}
	if t.supportFailed {
		failed = append(failed, models.BranchEmotion)
	}
	if t.memoryFailed {
		failed = append(failed, models.BranchMemory)
	}
	if t.preferenceFailed {
		failed = append(failed, models.BranchPreference)
	}
	return failed
}

// reminders lists the routing reminder first, then review and detection
// reminders. Failed detectors contribute nothing.
func (o *OrchestrationService) reminders(t *turn) []string {
	out := []string{}
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	if t.decision.ContentRelease.HasContentRelease {
		add(t.decision.ContentRelease.ReminderText)
	}
	if t.review != nil && t.review.HasPrivacyRisk {
		add(t.review.ReminderText)
	}
	for _, d := range t.detections {
		if d.Verdict == nil || !d.Verdict.Detected {
			continue
		}
		if d.Verdict.Reminder != "" {
			add(d.Verdict.Reminder)
		} else {
			add(fmt.Sprintf("这条内容可能含有%s，请谨慎对待。", issueNames[d.DetectionType]))
		}
	}
	return out
}

// responderInput is the context the response generator sees
type responderInput struct {
	Utterance      string                    `json:"utterance"`
	UIAction       string                    `json:"ui_action,omitempty"`
	Memory         *models.MemoryContext     `json:"memory,omitempty"`
	Detections     []models.DetectionOutcome `json:"detections,omitempty"`
	PrivacyReview  *PrivacyReview            `json:"privacy_review,omitempty"`
	EmotionSupport string                    `json:"emotion_support,omitempty"`
}

func (o *OrchestrationService) respond(ctx context.Context, t *turn) (string, []models.Action, error) {
	in := responderInput{
		Utterance:      t.event.Utterance,
		UIAction:       t.event.UIAction,
		Memory:         t.memory,
		PrivacyReview:  t.review,
		EmotionSupport: t.support,
	}
	for _, d := range t.detections {
		if !d.Failed() {
			in.Detections = append(in.Detections, d)
		}
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return "", nil, err
	}

	var out struct {
		ReplySentence string          `json:"reply_sentence"`
		ActionList    []models.Action `json:"action_list"`
	}
	if _, err := llm.CompleteJSON(ctx, o.client, &llm.Request{
		Operation:   llm.OpRespond,
		System:      llm.RespondPrompt,
		User:        string(payload),
		Temperature: 0.7,
	}, &out); err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(out.ReplySentence) == "" {
		return "", nil, fmt.Errorf("%w: %w: empty reply", models.ErrBackendUnavailable, llm.ErrMalformedOutput)
	}
	return strings.TrimSpace(out.ReplySentence), out.ActionList, nil
}
