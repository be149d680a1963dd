package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/agentx/guardian-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MemoryConfig sizes short-term and long-term memory
type MemoryConfig struct {
	WindowSize       int
	RetrievalK       int
	SummaryThreshold int
	SessionTimeout   time.Duration
}

// userMemory tracks the unsummarized tail of one user's messages.
// mu serializes the user's appends so the counter matches the store.
type userMemory struct {
	mu           sync.Mutex
	loaded       bool
	unsummarized int
	summarizedTo int64
	running      bool
}

// MemoryManager owns sessions, messages, summaries and preferences
type MemoryManager struct {
	sessions    repository.SessionRepository
	messages    repository.MessageRepository
	summaries   repository.SummaryRepository
	preferences repository.PreferenceRepository
	summarizer  Summarizer
	cfg         MemoryConfig
	logger      *logrus.Logger
	now         func() time.Time

	mu    sync.Mutex
	users map[string]*userMemory

	// background summarization outlives the request that triggered it
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemoryManager creates a memory manager
func NewMemoryManager(store repository.Store, summarizer Summarizer, cfg MemoryConfig, logger *logrus.Logger) *MemoryManager {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20
	}
	if cfg.RetrievalK <= 0 || cfg.RetrievalK > cfg.WindowSize {
		cfg.RetrievalK = cfg.WindowSize
	}
	if cfg.SummaryThreshold <= 0 {
		cfg.SummaryThreshold = 10
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryManager{
		sessions:    store.Sessions(),
		messages:    store.Messages(),
		summaries:   store.Summaries(),
		preferences: store.Preferences(),
		summarizer:  summarizer,
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		users:       make(map[string]*userMemory),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// EnsureSession returns the session a turn belongs to, creating one on the
// user's first interaction or after the previous one went idle.
func (m *MemoryManager) EnsureSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	now := m.now()

	if sessionID != "" {
		s, err := m.sessions.Get(ctx, sessionID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			return m.createSession(ctx, sessionID, userID, now)
		case err != nil:
			return nil, fmt.Errorf("failed to get session: %w", err)
		case s.UserID != userID:
			return nil, models.NewValidationError("session_id", "session %s belongs to another user", sessionID)
		case s.Active(now, m.cfg.SessionTimeout):
			return s, nil
		}
		// retired or idle: continue in a fresh session
		return m.createSession(ctx, uuid.New().String(), userID, now)
	}

	s, err := m.sessions.LatestActive(ctx, userID)
	if err == nil && s.Active(now, m.cfg.SessionTimeout) {
		return s, nil
	}
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to get latest session: %w", err)
	}
	return m.createSession(ctx, uuid.New().String(), userID, now)
}

func (m *MemoryManager) createSession(ctx context.Context, id, userID string, now time.Time) (*models.Session, error) {
	s := models.Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	m.logger.WithFields(logrus.Fields{"user_id": userID, "session_id": id}).Debug("Created session")
	return &s, nil
}

// Record appends a message to the session and schedules summarization when
// the user's unsummarized count reaches the threshold.
func (m *MemoryManager) Record(ctx context.Context, session *models.Session, speaker models.Speaker, text string) (*models.Message, error) {
	if !speaker.Valid() {
		return nil, models.NewValidationError("speaker", "unsupported speaker %q", speaker)
	}

	um := m.user(session.UserID)
	um.mu.Lock()
	if !um.loaded {
		if err := m.load(ctx, session.UserID, um); err != nil {
			um.mu.Unlock()
			return nil, err
		}
	}

	msg := &models.Message{
		SessionID: session.ID,
		UserID:    session.UserID,
		Speaker:   speaker,
		Text:      text,
		CreatedAt: m.now(),
	}
	if err := m.messages.Append(ctx, msg); err != nil {
		um.mu.Unlock()
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	um.unsummarized++
	trigger := um.unsummarized >= m.cfg.SummaryThreshold && !um.running
	if trigger {
		um.running = true
	}
	um.mu.Unlock()

	if err := m.sessions.Touch(ctx, session.ID, msg.CreatedAt); err != nil {
		m.logger.WithError(err).WithField("session_id", session.ID).Warn("Failed to touch session")
	}

	if trigger {
		m.wg.Add(1)
		go m.summarize(session.UserID, um)
	}
	return msg, nil
}

func (m *MemoryManager) user(userID string) *userMemory {
	m.mu.Lock()
	defer m.mu.Unlock()

	um, ok := m.users[userID]
	if !ok {
		um = &userMemory{}
		m.users[userID] = um
	}
	return um
}

// load restores the counter from the store. Caller holds um.mu.
func (m *MemoryManager) load(ctx context.Context, userID string, um *userMemory) error {
	latest, err := m.summaries.Latest(ctx, userID)
	switch {
	case errors.Is(err, models.ErrNotFound):
	case err != nil:
		return fmt.Errorf("failed to load latest summary: %w", err)
	default:
		um.summarizedTo = latest.ToSeq
	}

	count, err := m.messages.CountByUserAfterSeq(ctx, userID, um.summarizedTo)
	if err != nil {
		return fmt.Errorf("failed to count unsummarized messages: %w", err)
	}
	um.unsummarized = count
	um.loaded = true
	return nil
}

// summarize is the single summarization job of a user. It keeps going while
// new messages crossed the threshold during the previous round.
func (m *MemoryManager) summarize(userID string, um *userMemory) {
	defer m.wg.Done()
	log := m.logger.WithField("user_id", userID)

	for {
		um.mu.Lock()
		from := um.summarizedTo
		um.mu.Unlock()

		summary, n, err := m.summarizeAfter(m.ctx, userID, from)
		if err != nil {
			log.WithError(err).Warn("Summarization failed")
			um.mu.Lock()
			um.running = false
			um.mu.Unlock()
			return
		}

		um.mu.Lock()
		um.summarizedTo = summary.ToSeq
		um.unsummarized -= n
		if um.unsummarized < 0 {
			um.unsummarized = 0
		}
		again := um.unsummarized >= m.cfg.SummaryThreshold
		if !again {
			um.running = false
		}
		um.mu.Unlock()

		log.WithFields(logrus.Fields{
			"from_seq": summary.FromSeq,
			"to_seq":   summary.ToSeq,
			"messages": n,
		}).Info("Stored memory summary")

		if !again {
			return
		}
	}
}

func (m *MemoryManager) summarizeAfter(ctx context.Context, userID string, from int64) (*models.MemorySummary, int, error) {
	count, err := m.messages.CountByUserAfterSeq(ctx, userID, from)
	if err != nil {
		return nil, 0, err
	}
	msgs, err := m.messages.ListByUserAfterSeq(ctx, userID, from, count)
	if err != nil {
		return nil, 0, err
	}
	if len(msgs) == 0 {
		return nil, 0, fmt.Errorf("no messages after seq %d", from)
	}

	text, err := m.summarizer.Summarize(ctx, userID, msgs)
	if err != nil {
		return nil, 0, err
	}

	summary := models.MemorySummary{
		ID:          uuid.New().String(),
		UserID:      userID,
		SummaryText: text,
		FromSeq:     msgs[0].Seq,
		ToSeq:       msgs[len(msgs)-1].Seq,
		CreatedAt:   m.now(),
	}
	if err := m.summaries.Create(ctx, summary); err != nil {
		return nil, 0, fmt.Errorf("failed to save summary: %w", err)
	}
	return &summary, len(msgs), nil
}

// StorePreference overwrites the user's preference of the given type. It is
// a no-op unless a preference was expressed and typed.
func (m *MemoryManager) StorePreference(ctx context.Context, userID string, pref models.UserPreference) (bool, error) {
	prefType := strings.TrimSpace(pref.PreferenceType)
	if !pref.HasUserPreference || prefType == "" {
		return false, nil
	}

	record := models.PreferenceRecord{
		UserID:          userID,
		PreferenceType:  prefType,
		PreferenceValue: strings.TrimSpace(pref.PreferenceDescription),
		UpdatedAt:       m.now(),
	}
	if err := m.preferences.Upsert(ctx, record); err != nil {
		return false, fmt.Errorf("failed to store preference: %w", err)
	}
	return true, nil
}

// Retrieve assembles the memory context of a turn: the last K messages of
// the session, up to K preferences relevant to preferenceType (the newest
// ones when no type is given) and the latest summary.
func (m *MemoryManager) Retrieve(ctx context.Context, userID, sessionID, preferenceType string) (*models.MemoryContext, error) {
	recent, err := m.messages.ListRecentBySession(ctx, sessionID, m.cfg.RetrievalK)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}

	prefs, err := m.preferences.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	prefs = RelevantPreferences(prefs, preferenceType, m.cfg.RetrievalK)

	out := &models.MemoryContext{RecentMessages: recent, Preferences: prefs}

	summary, err := m.summaries.Latest(ctx, userID)
	switch {
	case errors.Is(err, models.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to get latest summary: %w", err)
	default:
		out.Summary = summary
	}
	return out, nil
}

// Window returns the session's short-term window, oldest first
func (m *MemoryManager) Window(ctx context.Context, sessionID string) ([]models.Message, error) {
	return m.messages.ListRecentBySession(ctx, sessionID, m.cfg.WindowSize)
}

// Preferences lists a user's preferences
func (m *MemoryManager) Preferences(ctx context.Context, userID string) ([]models.PreferenceRecord, error) {
	return m.preferences.ListByUser(ctx, userID)
}

// Summaries lists a user's summaries newest first
func (m *MemoryManager) Summaries(ctx context.Context, userID string, limit int) ([]models.MemorySummary, error) {
	return m.summaries.ListByUser(ctx, userID, limit)
}

// RetireIdle retires sessions inactive for longer than the session timeout
func (m *MemoryManager) RetireIdle(ctx context.Context) (int64, error) {
	now := m.now()
	return m.sessions.RetireIdle(ctx, now.Add(-m.cfg.SessionTimeout), now)
}

// Wait blocks until running summarization jobs finish
func (m *MemoryManager) Wait() {
	m.wg.Wait()
}

// Close cancels summarization jobs and waits for them
func (m *MemoryManager) Close() {
	m.cancel()
	m.wg.Wait()
}

// preferenceRank is 0 for an exact type match, 1 for a related type or a
// value mentioning the type, 2 otherwise. Without a type everything ranks 2.
func preferenceRank(p models.PreferenceRecord, prefType string) int {
	if prefType == "" {
		return 2
	}
	t := strings.ToLower(p.PreferenceType)
	switch {
	case t == prefType:
		return 0
	case strings.Contains(t, prefType) || strings.Contains(prefType, t) ||
		strings.Contains(strings.ToLower(p.PreferenceValue), prefType):
		return 1
	}
	return 2
}

// RankPreferences orders preferences by relevance to prefType: exact type
// matches first, then related types, then the rest, newest first in each group.
func RankPreferences(prefs []models.PreferenceRecord, prefType string) {
	prefType = strings.ToLower(strings.TrimSpace(prefType))
	sort.SliceStable(prefs, func(i, j int) bool {
		ri, rj := preferenceRank(prefs[i], prefType), preferenceRank(prefs[j], prefType)
		if ri != rj {
			return ri < rj
		}
		return prefs[i].UpdatedAt.After(prefs[j].UpdatedAt)
	})
}

// RelevantPreferences ranks prefs and keeps at most k of them. With a type,
// only exact and related matches are kept.
func RelevantPreferences(prefs []models.PreferenceRecord, prefType string, k int) []models.PreferenceRecord {
	RankPreferences(prefs, prefType)
	key := strings.ToLower(strings.TrimSpace(prefType))

	out := make([]models.PreferenceRecord, 0, min(len(prefs), max(k, 0)))
	for _, p := range prefs {
		if len(out) == k {
			break
		}
		if key != "" && preferenceRank(p, key) == 2 {
			break
		}
		out = append(out, p)
	}
	return out
}
