package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentx/guardian-backend/internal/llm"
	"github.com/agentx/guardian-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scanRoute = `{
	"scanning_text_or_video": true,
	"user_preference": {"has_user_preference": true, "preference_type": "戏曲", "preference_description": "喜欢京剧"},
	"content_release": {"has_content_release": false},
	"need_emotion_support": true,
	"emotion_support_prompt": "用户被冒犯，需要安慰"
}`

const toxicReminder = "这句话带有侮辱老年人的意味，不必理会。"

// responderSpy records what the response generator was shown
type responderSpy struct {
	mu       sync.Mutex
	payloads []string
}

func (s *responderSpy) handler(reply string) func(context.Context, *llm.Request) (string, error) {
	return func(_ context.Context, req *llm.Request) (string, error) {
		s.mu.Lock()
		s.payloads = append(s.payloads, req.User)
		s.mu.Unlock()
		return reply, nil
	}
}

func (s *responderSpy) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.payloads) == 0 {
		return ""
	}
	return s.payloads[len(s.payloads)-1]
}

func TestHandleRunsAllRequestedBranches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	spy := &responderSpy{}
	f.fake.Reply("route", scanRoute).
		Reply("detect:toxic", toxicVerdict).
		Reply("detect:fake_news", cleanFake).
		Reply("detect:privacy", cleanPrivacy).
		Reply("emotion_support", `{"support_sentence": "别难过，我一直陪着您。"}`).
		On("respond", spy.handler(`{"reply_sentence": "这句话不太友善，您别往心里去。", "action_list": [{"type": "show_reminder"}]}`))

	res, err := f.orch.Handle(ctx, models.Event{UserID: "elder-1", Utterance: "有人对我说：你这老东西"})
	require.NoError(t, err)

	assert.Equal(t, "这句话不太友善，您别往心里去。", res.ReplySentence)
	assert.Equal(t, []models.Action{{Type: "show_reminder"}}, res.ActionList)
	assert.Equal(t, []string{toxicReminder}, res.UIReminders)
	assert.Empty(t, res.FailedBranches)
	assert.False(t, res.Degraded)
	require.Len(t, res.Detections, 3)
	assert.True(t, res.Detections[0].Verdict.Detected)

	payload := spy.last()
	assert.Contains(t, payload, "别难过，我一直陪着您。")
	assert.Contains(t, payload, "公开羞辱与诋毁")
	// retrieval ran before this turn's preference was stored
	assert.NotContains(t, payload, "喜欢京剧")

	prefs, err := f.memory.Preferences(ctx, "elder-1")
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.Equal(t, "喜欢京剧", prefs[0].PreferenceValue)

	window, err := f.memory.Window(ctx, res.SessionID)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, models.SpeakerUser, window[0].Speaker)
	assert.Equal(t, models.SpeakerAssistant, window[1].Speaker)
	assert.Equal(t, res.ReplySentence, window[1].Text)

	// the next turn sees the stored preference and the cached verdicts
	res2, err := f.orch.Handle(ctx, models.Event{UserID: "elder-1", SessionID: res.SessionID, Utterance: "有人对我说：你这老东西"})
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, res2.SessionID)
	assert.Contains(t, spy.last(), "喜欢京剧")
	assert.True(t, res2.Detections[0].Cached)
	assert.Equal(t, 1, f.fake.Calls("detect:toxic"))
}

func TestHandlePrivacyTimeoutDegradesOnlyThatBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	guard := llm.NewGuard(f.fake, llm.GuardConfig{Timeout: 50 * time.Millisecond, BreakerFailures: 10}, quietLogger())
	f.detector.client = guard
	f.orch.client = guard

	f.fake.Reply("route", `{"scanning_text_or_video": true}`).
		Reply("detect:toxic", toxicVerdict).
		Reply("detect:fake_news", cleanFake).
		On("detect:privacy", func(ctx context.Context, _ *llm.Request) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}).
		Reply("respond", `{"reply_sentence": "别理他。", "action_list": [{"type": "block_user", "target": "sender"}]}`)

	res, err := f.orch.Handle(ctx, models.Event{UserID: "elder-1", Utterance: "你这老东西"})
	require.NoError(t, err)

	assert.Equal(t, "别理他。", res.ReplySentence)
	assert.Equal(t, []models.Action{{Type: "block_user", Target: "sender"}}, res.ActionList)
	assert.Equal(t, []string{models.BranchPrivacy}, res.FailedBranches)
	assert.True(t, res.Degraded)
	assert.Equal(t, []string{toxicReminder}, res.UIReminders)

	var privacy models.DetectionOutcome
	for _, d := range res.Detections {
		if d.DetectionType == models.DetectionPrivacy {
			privacy = d
		}
	}
	assert.True(t, privacy.Failed())
	assert.NotEmpty(t, privacy.Error)
}

func TestHandleRoutingFailureRepliesGenerically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fake.Reply("route", "抱歉，我不明白")
	f.scriptCleanDetectors()

	res, err := f.orch.Handle(ctx, models.Event{UserID: "elder-1", Utterance: "嗯嗯"})
	require.NoError(t, err)

	assert.Equal(t, GenericReply, res.ReplySentence)
	assert.Equal(t, []string{models.BranchRouting}, res.FailedBranches)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.ActionList)
	assert.Empty(t, res.UIReminders)
	assert.Zero(t, f.fake.Calls("detect:toxic"))
	assert.Zero(t, f.fake.Calls("respond"))

	window, err := f.memory.Window(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Len(t, window, 2)
}

func TestHandleContentReleaseReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fake.Reply("route", `{
		"privacy_content_release": {"has_content_release": true, "need_privacy_reminder": "发布前请确认不含个人信息"}
	}`).
		Reply("privacy_review", `{"has_privacy_risk": true, "risk_level": "高", "reminder_text": "内容包含您的住址，建议删除后再发布"}`).
		Fail("respond", models.ErrBackendUnavailable)

	res, err := f.orch.Handle(ctx, models.Event{UserID: "elder-1", Utterance: "帮我发朋友圈：我住在幸福路8号", UIAction: "publish"})
	require.NoError(t, err)

	assert.Equal(t, []string{"发布前请确认不含个人信息", "内容包含您的住址，建议删除后再发布"}, res.UIReminders)
	assert.Equal(t, fallbackReply, res.ReplySentence)
	assert.Equal(t, []string{models.BranchResponse}, res.FailedBranches)
	assert.Empty(t, res.Detections)
	assert.Zero(t, f.fake.Calls("detect:privacy"))

	reqs := f.fake.Requests()
	var review *llm.Request
	for i := range reqs {
		if reqs[i].Operation == llm.OpReview {
			review = &reqs[i]
		}
	}
	require.NotNil(t, review)
	assert.Contains(t, review.User, "[action] publish")
}

func TestHandleEmotionSupportBecomesFallbackReply(t *testing.T) {
	f := newFixture(t)
	f.fake.Reply("route", `{"emotion_support": {"need_emotion_support": true, "emotion_support_prompt_for_response_agent": "孤独"}}`).
		Reply("emotion_support", `{"support_sentence": "您不是一个人，我在这儿。"}`).
		Reply("respond", `{"reply_sentence": ""}`)

	res, err := f.orch.Handle(context.Background(), models.Event{UserID: "elder-1", Utterance: "孩子们都不回来看我"})
	require.NoError(t, err)

	assert.Equal(t, "您不是一个人，我在这儿。", res.ReplySentence)
	assert.Equal(t, []string{models.BranchResponse}, res.FailedBranches)

	reqs := f.fake.Requests()
	var emotion *llm.Request
	for i := range reqs {
		if reqs[i].Operation == llm.OpEmotion {
			emotion = &reqs[i]
		}
	}
	require.NotNil(t, emotion)
	assert.Contains(t, emotion.User, "孤独")
}

func TestHandleScreenshotOnlyEvent(t *testing.T) {
	f := newFixture(t)
	f.fake.Reply("route", `{"scanning_text_or_video": true}`).
		Reply("respond", `{"reply_sentence": "截图里的内容没有问题。"}`)
	f.scriptCleanDetectors()

	res, err := f.orch.Handle(context.Background(), models.Event{UserID: "elder-1", ScreenshotRef: "shot-1.png"})
	require.NoError(t, err)
	assert.Empty(t, res.FailedBranches)
	require.Len(t, res.Detections, 3)

	for _, req := range f.fake.Requests() {
		if req.Operation == llm.OpDetect {
			assert.Equal(t, []string{"shot-1.png"}, req.Images)
		}
	}
}

func TestHandleUnreachableLinkFailsDetectionBranch(t *testing.T) {
	f := newFixture(t)
	f.detector.resolver = NewContentResolver(&stubCrawler{err: context.DeadlineExceeded}, quietLogger())
	f.fake.Reply("route", `{"scanning_text_or_video": true}`).
		Reply("respond", `{"reply_sentence": "这个链接我打不开。"}`)

	res, err := f.orch.Handle(context.Background(), models.Event{UserID: "elder-1", Utterance: "看看 https://example.com/video/1"})
	require.NoError(t, err)
	assert.Equal(t, []string{models.BranchDetection}, res.FailedBranches)
	assert.Equal(t, "这个链接我打不开。", res.ReplySentence)
}

func TestHandleValidatesEvent(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Handle(context.Background(), models.Event{UserID: "elder-1"})
	assert.True(t, models.IsValidation(err))
	_, err = f.orch.Handle(context.Background(), models.Event{Utterance: "hi"})
	assert.True(t, models.IsValidation(err))
	assert.Empty(t, f.fake.Requests())
}

func TestParseRoutingDecisionShapes(t *testing.T) {
	flat, err := ParseRoutingDecision([]byte(`{
		"scanning_text_or_video": true,
		"content_release": {"has_content_release": true, "reminder_text": " 注意隐私 "},
		"need_emotion_support": false
	}`))
	require.NoError(t, err)
	assert.True(t, flat.ScanningTextOrVideo)
	assert.Equal(t, models.ContentRelease{HasContentRelease: true, ReminderText: "注意隐私"}, flat.ContentRelease)

	nested, err := ParseRoutingDecision([]byte(`{
		"privacy_content_release": {"has_content_release": true, "need_privacy_reminder": "注意隐私"},
		"emotion_support": {"need_emotion_support": true, "emotion_support_prompt_for_response_agent": "安慰"}
	}`))
	require.NoError(t, err)
	assert.True(t, nested.ContentRelease.HasContentRelease)
	assert.True(t, nested.NeedEmotionSupport)
	assert.Equal(t, "安慰", nested.EmotionSupportPrompt)
	assert.False(t, nested.UserPreference.HasUserPreference)

	_, err = ParseRoutingDecision([]byte(`[1,2]`))
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
}

func TestTurnText(t *testing.T) {
	got := turnText(models.Event{Utterance: " 你好 ", UIAction: "tap_share", ScreenshotRef: "s.png"})
	assert.Equal(t, strings.Join([]string{"你好", "[action] tap_share", "[screenshot] s.png"}, "\n"), got)
}
