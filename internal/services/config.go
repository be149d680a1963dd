package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentx/guardian-backend/internal/llm"
	"github.com/agentx/guardian-backend/internal/models"
	"github.com/agentx/guardian-backend/internal/repository"
	"github.com/sirupsen/logrus"
)

// Invalidator drops cached results of a detection type
type Invalidator interface {
	Invalidate(ctx context.Context, t models.DetectionType) error
}

// ProfileEngine merges caregiver and elderly-user concern scores into the
// active prompt configuration of each detector. Reads are lock-free
// snapshots; updates are serialized per service type.
type ProfileEngine struct {
	store       repository.ProfileRepository
	invalidator Invalidator
	templates   map[models.DetectionType]string
	active      map[models.DetectionType]*atomic.Pointer[models.ConfigProfile]
	locks       map[models.DetectionType]*sync.Mutex
	logger      *logrus.Logger
	now         func() time.Time
}

// DefaultTemplates are the base detector prompts
var DefaultTemplates = map[models.DetectionType]string{
	models.DetectionToxic:    llm.ToxicTemplate,
	models.DetectionFakeNews: llm.FakeNewsTemplate,
	models.DetectionPrivacy:  llm.PrivacyTemplate,
}

// NewProfileEngine creates an engine with an empty profile per service type
func NewProfileEngine(store repository.ProfileRepository, invalidator Invalidator, logger *logrus.Logger) *ProfileEngine {
	e := &ProfileEngine{
		store:       store,
		invalidator: invalidator,
		templates:   DefaultTemplates,
		active:      make(map[models.DetectionType]*atomic.Pointer[models.ConfigProfile], len(models.DetectionTypes)),
		locks:       make(map[models.DetectionType]*sync.Mutex, len(models.DetectionTypes)),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, t := range models.DetectionTypes {
		p := &atomic.Pointer[models.ConfigProfile]{}
		p.Store(e.build(t, nil, nil, 0))
		e.active[t] = p
		e.locks[t] = &sync.Mutex{}
	}
	return e
}

// Load replaces the in-memory profiles with the persisted ones
func (e *ProfileEngine) Load(ctx context.Context) error {
	for _, t := range models.DetectionTypes {
		p, err := e.store.Get(ctx, t)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load profile %s: %w", t, err)
		}
		// regenerate so template changes take effect on restart
		p = e.build(t, p.ParentScores, p.ChildScores, p.ActivePromptVersion)
		e.active[t].Store(p)
	}
	return nil
}

// Active returns the current snapshot. Callers must not mutate it.
func (e *ProfileEngine) Active(t models.DetectionType) (*models.ConfigProfile, error) {
	p, ok := e.active[t]
	if !ok {
		return nil, models.NewValidationError("service_type", "unsupported service type %q", t)
	}
	return p.Load(), nil
}

// All returns every active snapshot
func (e *ProfileEngine) All() []*models.ConfigProfile {
	out := make([]*models.ConfigProfile, 0, len(models.DetectionTypes))
	for _, t := range models.DetectionTypes {
		out = append(out, e.active[t].Load())
	}
	return out
}

// Apply replaces one half of a service's scores and activates the result.
// Invalid input leaves the active profile untouched.
func (e *ProfileEngine) Apply(ctx context.Context, t models.DetectionType, source models.ScoreSource, scores map[string]float64) (*models.ConfigProfile, error) {
	ptr, ok := e.active[t]
	if !ok {
		return nil, models.NewValidationError("service_type", "unsupported service type %q", t)
	}
	canonical, err := canonicalScores(t, scores)
	if err != nil {
		return nil, err
	}

	mu := e.locks[t]
	mu.Lock()
	defer mu.Unlock()

	cur := ptr.Load()
	parent, child := cur.ParentScores, cur.ChildScores
	switch source {
	case models.SourceParent:
		parent = canonical
	case models.SourceChild:
		child = canonical
	default:
		return nil, models.NewValidationError("source", "unsupported source %q", source)
	}

	next := e.build(t, parent, child, cur.ActivePromptVersion+1)
	if err := e.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to persist profile %s: %w", t, err)
	}
	ptr.Store(next)

	e.logger.WithFields(logrus.Fields{
		"service_type":   t,
		"source":         source,
		"prompt_version": next.ActivePromptVersion,
		"categories":     len(next.CombinedScores),
	}).Info("Activated configuration profile")

	if e.invalidator != nil {
		if err := e.invalidator.Invalidate(ctx, t); err != nil {
			return next, fmt.Errorf("profile %s activated but cache invalidation failed: %w", t, err)
		}
	}
	return next, nil
}

// build derives combined scores, tiers and prompt text from the two halves
func (e *ProfileEngine) build(t models.DetectionType, parent, child map[string]float64, version int) *models.ConfigProfile {
	p := &models.ConfigProfile{
		ServiceType:         t,
		ParentScores:        copyScores(parent),
		ChildScores:         copyScores(child),
		CombinedScores:      make(map[string]float64),
		Tiers:               make(map[string]string),
		ActivePromptVersion: version,
		UpdatedAt:           e.now(),
	}

	for c := range p.ParentScores {
		p.CombinedScores[c] = 0
	}
	for c := range p.ChildScores {
		p.CombinedScores[c] = 0
	}
	for c := range p.CombinedScores {
		ps, ok := p.ParentScores[c]
		if !ok {
			ps = models.NeutralScore
		}
		cs, ok := p.ChildScores[c]
		if !ok {
			cs = models.NeutralScore
		}
		combined := (ps + cs) / 2
		p.CombinedScores[c] = combined
		p.Tiers[c] = models.TierFor(combined)
	}

	p.ActivePrompt = BuildPrompt(e.templates[t], p)
	return p
}

var tierOrder = []string{models.TierExtreme, models.TierHigh, models.TierMedium, models.TierLight, models.TierLow}

var tierGuidance = map[string]string{
	models.TierExtreme: "对这些类别极度敏感，即使轻微或间接的迹象也要标记，并给出详细解释",
	models.TierHigh:    "对这些类别严格检测，疑似内容也要标记",
	models.TierMedium:  "对这些类别保持常规检测标准",
	models.TierLight:   "对这些类别相对宽松，只标记较明显的问题",
	models.TierLow:     "对这些类别只标记明显有害的内容",
}

// BuildPrompt appends the profile's tier fragments to a base template
func BuildPrompt(base string, p *models.ConfigProfile) string {
	var b strings.Builder
	b.WriteString(base)

	if len(p.CombinedScores) > 0 {
		b.WriteString("\n\n## 关注度配置\n请根据以下各类别的关注程度调整检测严格度：\n")

		byTier := make(map[string][]string)
		for _, c := range p.Categories() {
			tier := p.Tiers[c]
			byTier[tier] = append(byTier[tier], fmt.Sprintf("%s(%.1f分)", c, p.CombinedScores[c]))
		}
		for _, tier := range tierOrder {
			cats := byTier[tier]
			if len(cats) == 0 {
				continue
			}
			fmt.Fprintf(&b, "\n**%s**: %s\n- %s\n", tier, strings.Join(cats, ", "), tierGuidance[tier])
		}
	}

	if table, ok := models.StandardCategories[p.ServiceType]; ok {
		fmt.Fprintf(&b, "\n**重要**: 返回的JSON中，%s字段必须使用以下标准类别名称之一：\n", models.CategoryField(p.ServiceType))
		for _, c := range table.Standard {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("不允许使用'其他'类别。\n")
	}
	return b.String()
}

// canonicalScores validates scores and maps category aliases onto the
// standard names. Aliases of the same category keep the highest score.
func canonicalScores(t models.DetectionType, scores map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(scores))
	for name, score := range scores {
		if math.IsNaN(score) || score < models.MinScore || score > models.MaxScore {
			return nil, models.NewValidationError("config_data", "score for %q must be between %.0f and %.0f, got %v",
				name, models.MinScore, models.MaxScore, score)
		}
		canon := models.CanonicalCategory(t, name)
		if canon == "" {
			return nil, models.NewValidationError("config_data", "category name must not be empty")
		}
		if prev, ok := out[canon]; !ok || score > prev {
			out[canon] = score
		}
	}
	return out, nil
}

func copyScores(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func equalScores(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
