package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/share/video/(\d+)`),
	regexp.MustCompile(`/video/(\d+)`),
	regexp.MustCompile(`video_id=(\d+)`),
	regexp.MustCompile(`aweme_id=(\d+)`),
}

// CrawledContent is what the crawler returns for a link. Articles fill
// TextContent; videos fill FrameRefs and AudioTranscript.
type CrawledContent struct {
	TextContent     string   `json:"text_content"`
	FrameRefs       []string `json:"frame_refs"`
	AudioTranscript string   `json:"audio_transcript"`
}

// Crawler fetches the content behind a link
type Crawler interface {
	Fetch(ctx context.Context, link string) (*CrawledContent, error)
}

// ResolvedContent is submitted content after link resolution
type ResolvedContent struct {
	Text      string
	Kind      models.ContentKind
	Images    []string
	URL       string
	ContentID string
	Platform  string
}

// CacheKey is the fingerprint source: the content identifier when the
// content resolved to one, the normalized text otherwise.
func (rc *ResolvedContent) CacheKey() string {
	if rc.ContentID != "" {
		return ContentIDKey(rc.ContentID)
	}
	return NormalizeContent(rc.Text)
}

// ContentResolver extracts links from submitted content and, when a crawler
// is configured, replaces the text with what the link points to.
type ContentResolver struct {
	crawler Crawler
	logger  *logrus.Logger
}

// NewContentResolver creates a resolver. crawler may be nil.
func NewContentResolver(crawler Crawler, logger *logrus.Logger) *ContentResolver {
	return &ContentResolver{crawler: crawler, logger: logger}
}

// Resolve returns the content to judge. A crawler failure is reported as
// models.ErrContentUnreachable and is not retried.
func (r *ContentResolver) Resolve(ctx context.Context, content string) (*ResolvedContent, error) {
	rc := &ResolvedContent{Text: content, Kind: models.ContentText}

	urls := ExtractURLs(content)
	if len(urls) == 0 {
		return rc, nil
	}

	rc.URL = urls[0]
	for _, u := range urls {
		if id := VideoID(u); id != "" {
			rc.URL = NormalizeVideoURL(u)
			rc.ContentID = id
			break
		}
	}
	rc.Platform = Platform(rc.URL)

	if r.crawler == nil {
		return rc, nil
	}

	log := r.logger.WithFields(logrus.Fields{"url": rc.URL, "content_id": rc.ContentID})
	fetched, err := r.crawler.Fetch(ctx, rc.URL)
	if err != nil {
		log.WithError(err).Warn("Failed to fetch linked content")
		return nil, fmt.Errorf("%w: %s: %v", models.ErrContentUnreachable, rc.URL, err)
	}

	switch {
	case len(fetched.FrameRefs) > 0 || strings.TrimSpace(fetched.AudioTranscript) != "":
		rc.Kind = models.ContentVideoTranscript
		rc.Text = fetched.AudioTranscript
		rc.Images = fetched.FrameRefs
	case strings.TrimSpace(fetched.TextContent) != "":
		rc.Text = fetched.TextContent
	default:
		return nil, fmt.Errorf("%w: %s: crawler returned no content", models.ErrContentUnreachable, rc.URL)
	}

	log.WithField("kind", rc.Kind).Debug("Resolved linked content")
	return rc, nil
}

// ExtractURLs returns the distinct http(s) links in text, in order
func ExtractURLs(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range urlPattern.FindAllString(text, -1) {
		u = strings.TrimRight(u, "，。、；！？),.;!?）")
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// VideoID extracts a short-video identifier from a link, or ""
func VideoID(link string) string {
	for _, p := range videoIDPatterns {
		if m := p.FindStringSubmatch(link); m != nil {
			return m[1]
		}
	}
	return ""
}

// NormalizeVideoURL rewrites web video links to the share form
func NormalizeVideoURL(link string) string {
	if strings.Contains(link, "douyin.com/video/") && !strings.Contains(link, "iesdouyin.com") {
		if id := VideoID(link); id != "" {
			return "https://www.iesdouyin.com/share/video/" + id + "/"
		}
	}
	return link
}

// Platform names the site a link belongs to
func Platform(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.HasSuffix(host, "douyin.com"):
		return "douyin"
	case strings.HasSuffix(host, "kuaishou.com"):
		return "kuaishou"
	case strings.HasSuffix(host, "weixin.qq.com"):
		return "wechat"
	}
	return strings.TrimPrefix(host, "www.")
}

// HTTPCrawler asks an external transcriber service to fetch a link
type HTTPCrawler struct {
	endpoint string
	timeout  time.Duration
}

// NewHTTPCrawler creates a crawler that POSTs {"url": ...} to endpoint
func NewHTTPCrawler(endpoint string, timeout time.Duration) *HTTPCrawler {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPCrawler{endpoint: endpoint, timeout: timeout}
}

// Fetch implements Crawler
func (c *HTTPCrawler) Fetch(ctx context.Context, link string) (*CrawledContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}

	agent := fiber.Post(c.endpoint)
	agent.JSON(fiber.Map{"url": link})
	agent.Timeout(timeout)

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("crawler request failed: %w", errs[0])
	}
	if code != fiber.StatusOK {
		return nil, fmt.Errorf("crawler returned status %d", code)
	}

	var out CrawledContent
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode crawler response: %w", err)
	}
	return &out, nil
}
