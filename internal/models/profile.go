package models

import (
	"sort"
	"strings"
	"time"
)

// ScoreSource says which half of a profile an update targets
type ScoreSource string

const (
	SourceParent ScoreSource = "parent"
	SourceChild  ScoreSource = "child"
)

// ParseScoreSource validates a user-supplied source
func ParseScoreSource(s string) (ScoreSource, error) {
	switch ScoreSource(strings.TrimSpace(s)) {
	case SourceParent:
		return SourceParent, nil
	case SourceChild:
		return SourceChild, nil
	}
	return "", NewValidationError("source", "source must be %q or %q, got %q", SourceParent, SourceChild, s)
}

// Score bounds for a single category
const (
	MinScore     = 1.0
	MaxScore     = 5.0
	NeutralScore = 3.0
)

// Concern tiers, highest first
const (
	TierExtreme = "极度关注"
	TierHigh    = "高度关注"
	TierMedium  = "中度关注"
	TierLight   = "轻度关注"
	TierLow     = "低度关注"
)

// TierFor maps a combined score to its concern tier
func TierFor(score float64) string {
	switch {
	case score >= 4.5:
		return TierExtreme
	case score >= 3.5:
		return TierHigh
	case score >= 2.5:
		return TierMedium
	case score >= 1.5:
		return TierLight
	default:
		return TierLow
	}
}

// ConfigProfile is an immutable snapshot of one service's active
// configuration. Updates build a new value and swap it in.
type ConfigProfile struct {
	ServiceType         DetectionType      `json:"service_type"`
	ParentScores        map[string]float64 `json:"parent_scores"`
	ChildScores         map[string]float64 `json:"child_scores"`
	CombinedScores      map[string]float64 `json:"combined_scores"`
	Tiers               map[string]string  `json:"tiers"`
	ActivePrompt        string             `json:"active_prompt"`
	ActivePromptVersion int                `json:"active_prompt_version"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// Categories returns every category of the profile sorted by combined
// score descending, ties broken by name.
func (p *ConfigProfile) Categories() []string {
	out := make([]string, 0, len(p.CombinedScores))
	for c := range p.CombinedScores {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := p.CombinedScores[out[i]], p.CombinedScores[out[j]]
		if si != sj {
			return si > sj
		}
		return out[i] < out[j]
	})
	return out
}

// CategoryTable holds the standard categories of a service and the aliases
// that map onto them.
type CategoryTable struct {
	Standard []string
	Aliases  map[string][]string
}

// StandardCategories is the per-service category vocabulary
var StandardCategories = map[DetectionType]CategoryTable{
	DetectionToxic: {
		Standard: []string{"骚扰与网络霸凌", "仇恨言论与身份攻击", "威胁与恐吓", "公开羞辱与诋毁"},
		Aliases: map[string][]string{
			"骚扰与网络霸凌":   {"骚扰", "网络霸凌", "霸凌"},
			"仇恨言论与身份攻击": {"仇恨言论", "身份攻击", "歧视"},
			"威胁与恐吓":     {"威胁", "恐吓"},
			"公开羞辱与诋毁":   {"公开羞辱", "诋毁", "人肉搜索"},
		},
	},
	DetectionFakeNews: {
		Standard: []string{"身份冒充", "虚假致富经与技能培训", "伪科学养生与健康焦虑", "诱导性消费与直播陷阱", "AI生成式虚假内容"},
		Aliases: map[string][]string{
			"身份冒充":       {"情感操纵", "假明星", "假专家"},
			"虚假致富经与技能培训": {"虚假致富", "技能培训", "赚钱", "培训课程"},
			"伪科学养生与健康焦虑": {"伪科学", "养生", "健康", "保健品"},
			"诱导性消费与直播陷阱": {"诱导消费", "直播陷阱", "苦情戏", "商品推销"},
			"AI生成式虚假内容":  {"AI生成", "虚假内容", "合成", "深度伪造"},
		},
	},
	DetectionPrivacy: {
		Standard: []string{"核心身份与财务信息", "个人标识与安全验证信息", "实时位置与日常行踪", "个人生活与家庭关系"},
		Aliases: map[string][]string{
			"核心身份与财务信息":   {"核心身份", "财务信息", "银行卡", "密码", "社保号"},
			"个人标识与安全验证信息": {"个人标识", "安全验证", "出生日期", "住址", "电话"},
			"实时位置与日常行踪":   {"实时位置", "日常行踪", "定位", "行程", "GPS"},
			"个人生活与家庭关系":   {"个人生活", "家庭关系", "家庭信息", "健康状况"},
		},
	},
}

// CanonicalCategory maps an incoming category name onto the service's
// standard vocabulary. Exact matches win over substring matches; names that
// match nothing are returned trimmed but otherwise unchanged.
func CanonicalCategory(t DetectionType, name string) string {
	name = strings.TrimSpace(name)
	table, ok := StandardCategories[t]
	if !ok {
		return name
	}
	for _, std := range table.Standard {
		if name == std {
			return std
		}
		for _, alias := range table.Aliases[std] {
			if name == alias {
				return std
			}
		}
	}
	for _, std := range table.Standard {
		for _, alias := range table.Aliases[std] {
			if strings.Contains(name, alias) {
				return std
			}
		}
	}
	return name
}
