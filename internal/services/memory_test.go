package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/agentx/guardian-backend/internal/repository/sqlstore"
	"github.com/agentx/guardian-backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSummarizer counts calls and tracks how many run at once
type stubSummarizer struct {
	calls    atomic.Int32
	running  atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	failures atomic.Int32
}

func (s *stubSummarizer) Summarize(ctx context.Context, userID string, messages []models.Message) (string, error) {
	s.calls.Add(1)
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if s.failures.Load() > 0 {
		s.failures.Add(-1)
		return "", errors.New("backend down")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return fmt.Sprintf("%s: %d messages", userID, len(messages)), nil
}

func newTestMemory(t *testing.T, summarizer Summarizer, threshold int) (*MemoryManager, *sqlstore.Store) {
	t.Helper()
	store := testutil.NewStore(t)
	m := NewMemoryManager(store, summarizer, MemoryConfig{
		WindowSize:       20,
		RetrievalK:       5,
		SummaryThreshold: threshold,
		SessionTimeout:   30 * time.Minute,
	}, quietLogger())
	t.Cleanup(m.Close)
	return m, store
}

func TestEnsureSessionReusesActiveSession(t *testing.T) {
	m, _ := newTestMemory(t, &stubSummarizer{}, 10)
	ctx := context.Background()

	s1, err := m.EnsureSession(ctx, "elder-1", "")
	require.NoError(t, err)
	s2, err := m.EnsureSession(ctx, "elder-1", "")
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID)

	other, err := m.EnsureSession(ctx, "elder-2", "")
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, other.ID)
}

func TestEnsureSessionStartsNewSessionAfterIdleTimeout(t *testing.T) {
	m, _ := newTestMemory(t, &stubSummarizer{}, 10)
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	s1, err := m.EnsureSession(ctx, "elder-1", "")
	require.NoError(t, err)

	now = now.Add(31 * time.Minute)
	s2, err := m.EnsureSession(ctx, "elder-1", s1.ID)
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)

	s3, err := m.EnsureSession(ctx, "elder-1", "")
	require.NoError(t, err)
	assert.Equal(t, s2.ID, s3.ID)
}

func TestEnsureSessionWithExplicitID(t *testing.T) {
	m, _ := newTestMemory(t, &stubSummarizer{}, 10)
	ctx := context.Background()

	s, err := m.EnsureSession(ctx, "elder-1", "client-session")
	require.NoError(t, err)
	assert.Equal(t, "client-session", s.ID)

	_, err = m.EnsureSession(ctx, "elder-2", "client-session")
	assert.True(t, models.IsValidation(err))
}

func TestRetireIdleRetiresStaleSessions(t *testing.T) {
	m, _ := newTestMemory(t, &stubSummarizer{}, 10)
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	s1, err := m.EnsureSession(ctx, "elder-1", "")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	n, err := m.RetireIdle(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// a retired session is never resumed, even when named explicitly
	now = now.Add(time.Minute)
	s2, err := m.EnsureSession(ctx, "elder-1", s1.ID)
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)
}

func TestRecordRejectsUnknownSpeaker(t *testing.T) {
	m, _ := newTestMemory(t, &stubSummarizer{}, 10)
	ctx := context.Background()

	s, err := m.EnsureSession(ctx, "elder-1", "")
	require.NoError(t, err)
	_, err = m.Record(ctx, s, "narrator", "hello")
	assert.True(t, models.IsValidation(err))
}

func TestRecordSummarizesAtThreshold(t *testing.T) {
	summarizer := &stubSummarizer{}
	m, store := newTestMemory(t, summarizer, 4)
	ctx := context.Background()

	s, err := m.EnsureSession(ctx, "elder-1", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := m.Record(ctx, s, models.SpeakerUser, fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}
	m.Wait()
	assert.Zero(t, summarizer.calls.Load())

	last, err := m.Record(ctx, s, models.SpeakerAssistant, "message 3")
	require.NoError(t, err)
	m.Wait()

	summaries, err := store.Summaries().ListByUser(ctx, "elder-1", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "elder-1: 4 messages", summaries[0].SummaryText)
	assert.Equal(t, last.Seq, summaries[0].ToSeq)

	// the window is unaffected by summarization
	window, err := m.Window(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, window, 4)
}

func TestRecordSummarizesOncePerThresholdUnderConcurrency(t *testing.T) {
	summarizer := &stubSummarizer{delay: 20 * time.Millisecond}
	m, store := newTestMemory(t, summarizer, 5)
	ctx := context.Background()

	s, err := m.EnsureSession(ctx, "elder-1", "")
	require.NoError(t, err)

	const writers = 23
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Record(ctx, s, models.SpeakerUser, fmt.Sprintf("message %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	m.Wait()

	assert.Equal(t, int32(1), summarizer.peak.Load())
	assert.LessOrEqual(t, summarizer.calls.Load(), int32(writers/5))
	assert.GreaterOrEqual(t, summarizer.calls.Load(), int32(1))

	summaries, err := store.Summaries().ListByUser(ctx, "elder-1", 100)
	require.NoError(t, err)
	require.NotEmpty(t, summaries)

	// newest first; ranges never overlap
	for i := 0; i+1 < len(summaries); i++ {
		assert.Greater(t, summaries[i].FromSeq, summaries[i+1].ToSeq)
	}
	left, err := store.Messages().CountByUserAfterSeq(ctx, "elder-1", summaries[0].ToSeq)
	require.NoError(t, err)
	assert.Less(t, left, 5)
}

func TestRecordRetriesSummarizationAfterFailure(t *testing.T) {
	summarizer := &stubSummarizer{}
	summarizer.failures.Store(1)
	m, store := newTestMemory(t, summarizer, 2)
	ctx := context.Background()

	s, err := m.EnsureSession(ctx, "elder-1", "")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := m.Record(ctx, s, models.SpeakerUser, "hi")
		require.NoError(t, err)
	}
	m.Wait()

	summaries, err := store.Summaries().ListByUser(ctx, "elder-1", 10)
	require.NoError(t, err)
	assert.Empty(t, summaries)

	_, err = m.Record(ctx, s, models.SpeakerUser, "again")
	require.NoError(t, err)
	m.Wait()

	summaries, err = store.Summaries().ListByUser(ctx, "elder-1", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "elder-1: 3 messages", summaries[0].SummaryText)
}

func TestRecordRestoresCounterFromStore(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()
	cfg := MemoryConfig{SummaryThreshold: 3}

	first := NewMemoryManager(store, &stubSummarizer{}, cfg, quietLogger())
	s, err := first.EnsureSession(ctx, "elder-1", "")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := first.Record(ctx, s, models.SpeakerUser, "hi")
		require.NoError(t, err)
	}
	first.Close()

	summarizer := &stubSummarizer{}
	second := NewMemoryManager(store, summarizer, cfg, quietLogger())
	defer second.Close()
	_, err = second.Record(ctx, s, models.SpeakerUser, "third")
	require.NoError(t, err)
	second.Wait()

	assert.Equal(t, int32(1), summarizer.calls.Load())
}

func TestStorePreferenceOverwritesByType(t *testing.T) {
	m, _ := newTestMemory(t, &stubSummarizer{}, 10)
	ctx := context.Background()

	stored, err := m.StorePreference(ctx, "elder-1", models.UserPreference{
		HasUserPreference:     true,
		PreferenceType:        "戏曲",
		PreferenceDescription: "喜欢京剧",
	})
	require.NoError(t, err)
	assert.True(t, stored)

	_, err = m.StorePreference(ctx, "elder-1", models.UserPreference{
		HasUserPreference:     true,
		PreferenceType:        "戏曲",
		PreferenceDescription: "喜欢越剧",
	})
	require.NoError(t, err)

	prefs, err := m.Preferences(ctx, "elder-1")
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.Equal(t, "喜欢越剧", prefs[0].PreferenceValue)
}

func TestStorePreferenceIgnoresAbsentPreference(t *testing.T) {
	m, _ := newTestMemory(t, &stubSummarizer{}, 10)
	ctx := context.Background()

	for _, pref := range []models.UserPreference{
		{HasUserPreference: false, PreferenceType: "戏曲", PreferenceDescription: "喜欢京剧"},
		{HasUserPreference: true, PreferenceType: "  ", PreferenceDescription: "喜欢京剧"},
	} {
		stored, err := m.StorePreference(ctx, "elder-1", pref)
		require.NoError(t, err)
		assert.False(t, stored)
	}

	prefs, err := m.Preferences(ctx, "elder-1")
	require.NoError(t, err)
	assert.Empty(t, prefs)
}

func TestRetrieveAssemblesMemoryContext(t *testing.T) {
	m, _ := newTestMemory(t, &stubSummarizer{}, 100)
	ctx := context.Background()

	s, err := m.EnsureSession(ctx, "elder-1", "")
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		_, err := m.Record(ctx, s, models.SpeakerUser, fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, p := range []models.UserPreference{
		{HasUserPreference: true, PreferenceType: "饮食", PreferenceDescription: "少油少盐"},
		{HasUserPreference: true, PreferenceType: "戏曲", PreferenceDescription: "喜欢京剧"},
		{HasUserPreference: true, PreferenceType: "运动", PreferenceDescription: "每天散步"},
	} {
		at := base.Add(time.Duration(i) * time.Minute)
		m.now = func() time.Time { return at }
		_, err := m.StorePreference(ctx, "elder-1", p)
		require.NoError(t, err)
	}

	mc, err := m.Retrieve(ctx, "elder-1", s.ID, "戏曲")
	require.NoError(t, err)

	require.Len(t, mc.RecentMessages, 5)
	assert.Equal(t, "message 3", mc.RecentMessages[0].Text)
	assert.Equal(t, "message 7", mc.RecentMessages[4].Text)

	require.Len(t, mc.Preferences, 1)
	assert.Equal(t, "戏曲", mc.Preferences[0].PreferenceType)
	assert.Nil(t, mc.Summary)

	mc, err = m.Retrieve(ctx, "elder-1", s.ID, "")
	require.NoError(t, err)
	require.Len(t, mc.Preferences, 3)
	assert.Equal(t, "运动", mc.Preferences[0].PreferenceType)

	mc, err = m.Retrieve(ctx, "elder-1", s.ID, "园艺")
	require.NoError(t, err)
	assert.Empty(t, mc.Preferences)
}

func TestRankPreferences(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	prefs := []models.PreferenceRecord{
		{PreferenceType: "新闻", PreferenceValue: "关注健康新闻", UpdatedAt: base},
		{PreferenceType: "健康", PreferenceValue: "控制血压", UpdatedAt: base.Add(time.Minute)},
		{PreferenceType: "音乐", PreferenceValue: "老歌", UpdatedAt: base.Add(2 * time.Minute)},
		{PreferenceType: "健康饮食", PreferenceValue: "低糖", UpdatedAt: base.Add(3 * time.Minute)},
	}

	RankPreferences(prefs, "健康")

	var order []string
	for _, p := range prefs {
		order = append(order, p.PreferenceType)
	}
	assert.Equal(t, []string{"健康", "健康饮食", "新闻", "音乐"}, order)
}

func TestRelevantPreferences(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	fresh := func() []models.PreferenceRecord {
		return []models.PreferenceRecord{
			{PreferenceType: "新闻", PreferenceValue: "关注健康新闻", UpdatedAt: base},
			{PreferenceType: "健康", PreferenceValue: "控制血压", UpdatedAt: base.Add(time.Minute)},
			{PreferenceType: "音乐", PreferenceValue: "老歌", UpdatedAt: base.Add(2 * time.Minute)},
			{PreferenceType: "健康饮食", PreferenceValue: "低糖", UpdatedAt: base.Add(3 * time.Minute)},
		}
	}
	types := func(prefs []models.PreferenceRecord) []string {
		out := []string{}
		for _, p := range prefs {
			out = append(out, p.PreferenceType)
		}
		return out
	}

	assert.Equal(t, []string{"健康", "健康饮食", "新闻"}, types(RelevantPreferences(fresh(), "健康", 10)))
	assert.Equal(t, []string{"健康", "健康饮食"}, types(RelevantPreferences(fresh(), "健康", 2)))
	assert.Equal(t, []string{"健康饮食", "音乐"}, types(RelevantPreferences(fresh(), "", 2)))
	assert.Empty(t, RelevantPreferences(fresh(), "旅游", 10))
}
