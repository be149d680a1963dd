package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCrawler struct {
	mu      sync.Mutex
	fetched []string
	content *CrawledContent
	err     error
}

func (c *stubCrawler) Fetch(_ context.Context, link string) (*CrawledContent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched = append(c.fetched, link)
	if c.err != nil {
		return nil, c.err
	}
	return c.content, nil
}

func TestExtractURLs(t *testing.T) {
	got := ExtractURLs("看看这个 https://v.douyin.com/abc/ 还有 https://example.com/a?b=1。 https://v.douyin.com/abc/")
	assert.Equal(t, []string{"https://v.douyin.com/abc/", "https://example.com/a?b=1"}, got)
	assert.Empty(t, ExtractURLs("没有链接"))
}

func TestVideoID(t *testing.T) {
	tests := []struct {
		link string
		want string
	}{
		{"https://www.iesdouyin.com/share/video/7301234567890/", "7301234567890"},
		{"https://www.douyin.com/video/7301234567890", "7301234567890"},
		{"https://example.com/play?video_id=42", "42"},
		{"https://example.com/play?aweme_id=43", "43"},
		{"https://example.com/article/1", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, VideoID(tt.link), tt.link)
	}
}

func TestNormalizeVideoURL(t *testing.T) {
	assert.Equal(t, "https://www.iesdouyin.com/share/video/99/", NormalizeVideoURL("https://www.douyin.com/video/99"))
	assert.Equal(t, "https://example.com/video/99", NormalizeVideoURL("https://example.com/video/99"))
}

func TestPlatform(t *testing.T) {
	assert.Equal(t, "douyin", Platform("https://www.iesdouyin.com/share/video/1/"))
	assert.Equal(t, "kuaishou", Platform("https://v.kuaishou.com/xyz"))
	assert.Equal(t, "wechat", Platform("https://mp.weixin.qq.com/s/abc"))
	assert.Equal(t, "example.com", Platform("https://www.example.com/news"))
	assert.Equal(t, "", Platform("not a link"))
}

func TestResolvePlainText(t *testing.T) {
	r := NewContentResolver(&stubCrawler{err: errors.New("must not be called")}, quietLogger())

	rc, err := r.Resolve(context.Background(), "  今天天气很好  ")
	require.NoError(t, err)
	assert.Equal(t, models.ContentText, rc.Kind)
	assert.Empty(t, rc.ContentID)
	assert.Equal(t, "今天天气很好", rc.CacheKey())
}

func TestResolveVideoLink(t *testing.T) {
	crawler := &stubCrawler{content: &CrawledContent{
		FrameRefs:       []string{"frame-1.jpg", "frame-2.jpg"},
		AudioTranscript: "专家说每天喝醋能治高血压",
	}}
	r := NewContentResolver(crawler, quietLogger())

	rc, err := r.Resolve(context.Background(), "快看 https://www.douyin.com/video/7301234567890 太神奇了")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://www.iesdouyin.com/share/video/7301234567890/"}, crawler.fetched)
	assert.Equal(t, models.ContentVideoTranscript, rc.Kind)
	assert.Equal(t, "专家说每天喝醋能治高血压", rc.Text)
	assert.Equal(t, []string{"frame-1.jpg", "frame-2.jpg"}, rc.Images)
	assert.Equal(t, "7301234567890", rc.ContentID)
	assert.Equal(t, "douyin", rc.Platform)
	assert.Equal(t, ContentIDKey("7301234567890"), rc.CacheKey())
}

func TestResolveArticleLink(t *testing.T) {
	crawler := &stubCrawler{content: &CrawledContent{TextContent: "文章正文"}}
	r := NewContentResolver(crawler, quietLogger())

	rc, err := r.Resolve(context.Background(), "https://mp.weixin.qq.com/s/abc")
	require.NoError(t, err)
	assert.Equal(t, models.ContentText, rc.Kind)
	assert.Equal(t, "文章正文", rc.Text)
	assert.Equal(t, "wechat", rc.Platform)
}

func TestResolveUnreachableContent(t *testing.T) {
	for name, crawler := range map[string]*stubCrawler{
		"error": {err: errors.New("connection refused")},
		"empty": {content: &CrawledContent{}},
	} {
		t.Run(name, func(t *testing.T) {
			r := NewContentResolver(crawler, quietLogger())
			_, err := r.Resolve(context.Background(), "https://example.com/gone")
			assert.ErrorIs(t, err, models.ErrContentUnreachable)
		})
	}
}

func TestDetectContentSharesResultsAcrossLinksToSameVideo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.detector.resolver = NewContentResolver(&stubCrawler{content: &CrawledContent{
		AudioTranscript: "转发这条视频就能领红包",
	}}, quietLogger())
	f.fake.Reply("detect:fake_news", `{"is_fake_for_elderly": true, "fake_news_category": "诱导性消费与直播陷阱", "risk_level": "medium"}`)

	first, err := f.detector.DetectContent(ctx, "elder-1", models.DetectionFakeNews, "https://www.douyin.com/video/555")
	require.NoError(t, err)
	second, err := f.detector.DetectContent(ctx, "elder-2", models.DetectionFakeNews, "分享 https://www.iesdouyin.com/share/video/555/?from=app")
	require.NoError(t, err)

	assert.Equal(t, "555", first.ContentID)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, f.fake.Calls("detect:fake_news"))

	reqs := f.fake.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].User, "content_kind: video_transcript+frames")
}

func TestDetectContentUnreachableSkipsBackend(t *testing.T) {
	f := newFixture(t)
	f.detector.resolver = NewContentResolver(&stubCrawler{err: errors.New("timeout")}, quietLogger())

	_, err := f.detector.DetectContent(context.Background(), "elder-1", models.DetectionToxic, "https://example.com/x")
	assert.ErrorIs(t, err, models.ErrContentUnreachable)
	assert.Empty(t, f.fake.Requests())
}
