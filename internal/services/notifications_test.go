package services

import (
	"context"
	"testing"
	"time"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyCreatesOneNotificationPerCaregiver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.notifier.Link(ctx, "elder-1", "child-1", "女儿")
	require.NoError(t, err)
	_, err = f.notifier.Link(ctx, "elder-1", "child-2", "儿子")
	require.NoError(t, err)
	f.pusher.connect("child-2")

	notes, err := f.notifier.Notify(ctx, RiskEvent{
		ElderUserID:   "elder-1",
		DetectionType: models.DetectionFakeNews,
		Category:      "身份冒充",
		RiskLevel:     models.RiskHigh,
	})
	require.NoError(t, err)
	require.Len(t, notes, 2)

	byChild := map[string]models.RiskNotification{}
	for _, n := range notes {
		byChild[n.ChildUserID] = n
		assert.Equal(t, "unknown", n.Platform)
		assert.Equal(t, "请及时关注并处理相关风险", n.Suggestion)
	}
	assert.Equal(t, models.NotificationPending, byChild["child-1"].Status)
	assert.Equal(t, models.NotificationSent, byChild["child-2"].Status)
	assert.Equal(t, 1, f.pusher.count("child-2"))
}

func TestNotifySuppressesRepeatsWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	f.notifier.now = func() time.Time { return now }
	f.notifier.SetRepeatWindow(time.Hour)

	_, err := f.notifier.Link(ctx, "elder-1", "child-1", "女儿")
	require.NoError(t, err)
	ev := RiskEvent{ElderUserID: "elder-1", Fingerprint: "fp-1", DetectionType: models.DetectionPrivacy, RiskLevel: models.RiskHigh}

	notes, err := f.notifier.Notify(ctx, ev)
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	now = now.Add(30 * time.Minute)
	notes, err = f.notifier.Notify(ctx, ev)
	require.NoError(t, err)
	assert.Empty(t, notes)

	other := ev
	other.Fingerprint = "fp-2"
	notes, err = f.notifier.Notify(ctx, other)
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	now = now.Add(time.Hour)
	notes, err = f.notifier.Notify(ctx, ev)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestNotifyWithoutCaregivers(t *testing.T) {
	f := newFixture(t)
	notes, err := f.notifier.Notify(context.Background(), RiskEvent{ElderUserID: "elder-1", DetectionType: models.DetectionToxic})
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestMarkStatusMovesForwardOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.notifier.Link(ctx, "elder-1", "child-1", "女儿")
	require.NoError(t, err)
	notes, err := f.notifier.Notify(ctx, RiskEvent{ElderUserID: "elder-1", DetectionType: models.DetectionPrivacy, RiskLevel: models.RiskHigh})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	id := notes[0].ID

	n, err := f.notifier.MarkStatus(ctx, id, "child-1", models.NotificationRead)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationRead, n.Status)

	_, err = f.notifier.MarkStatus(ctx, id, "child-1", models.NotificationSent)
	assert.True(t, models.IsValidation(err))

	// repeating the current status is accepted
	_, err = f.notifier.MarkStatus(ctx, id, "child-1", models.NotificationRead)
	assert.NoError(t, err)

	unread, err := f.notifier.List(ctx, "child-1", models.NotificationPending, 0)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestMarkStatusHidesOtherCaregiversNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.notifier.Link(ctx, "elder-1", "child-1", "女儿")
	require.NoError(t, err)
	notes, err := f.notifier.Notify(ctx, RiskEvent{ElderUserID: "elder-1", DetectionType: models.DetectionPrivacy})
	require.NoError(t, err)
	require.Len(t, notes, 1)

	_, err = f.notifier.MarkStatus(ctx, notes[0].ID, "child-9", models.NotificationRead)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.notifier.MarkStatus(ctx, "missing", "", models.NotificationRead)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLinkAndUnlink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.notifier.Link(ctx, "elder-1", "elder-1", "本人")
	assert.True(t, models.IsValidation(err))

	_, err = f.notifier.Link(ctx, "elder-1", "child-1", "女儿")
	require.NoError(t, err)
	_, err = f.notifier.Link(ctx, "elder-2", "child-1", "女儿")
	require.NoError(t, err)

	elders, err := f.notifier.Elders(ctx, "child-1")
	require.NoError(t, err)
	assert.Len(t, elders, 2)

	require.NoError(t, f.notifier.Unlink(ctx, "elder-1", "child-1"))
	caregivers, err := f.notifier.Caregivers(ctx, "elder-1")
	require.NoError(t, err)
	assert.Empty(t, caregivers)
}
