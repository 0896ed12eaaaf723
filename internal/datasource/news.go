package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/seenimoa/indexsignal/internal/analysis/sentiment"
	"github.com/seenimoa/indexsignal/internal/infra"
	"github.com/seenimoa/indexsignal/pkg/models"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

// NewsSource represents Indian financial news source configuration.
type NewsSource struct {
	Name   string
	RSSURL string
}

// DefaultNewsSources lists the configured Indian financial news RSS feeds.
var DefaultNewsSources = []NewsSource{
	{Name: "Moneycontrol", RSSURL: "https://www.moneycontrol.com/rss/marketreports.xml"},
	{Name: "Economic Times Markets", RSSURL: "https://economictimes.indiatimes.com/markets/rssfeeds/1977021501.cms"},
	{Name: "LiveMint Markets", RSSURL: "https://www.livemint.com/rss/markets"},
	{Name: "Business Standard Markets", RSSURL: "https://www.business-standard.com/rss/markets-106.rss"},
}

// Index keywords used to pick relevant headlines. NIFTY reads the whole
// market feed.
var indexKeywords = map[string][]string{
	"BANKNIFTY":  {"bank nifty", "banknifty", "bank", "lender", "rbi", "psu bank"},
	"FINNIFTY":   {"fin nifty", "finnifty", "financial", "nbfc", "bank", "insurance"},
	"MIDCPNIFTY": {"midcap", "mid-cap", "mid cap"},
}

// News fetches Indian market headlines and scores them into a sentiment read.
type News struct {
	sources []NewsSource
	parser  *gofeed.Parser
	store   infra.Store
	ttl     time.Duration
	now     func() time.Time
}

// NewNews creates a news source over sources (DefaultNewsSources when nil).
// Article lists are cached in store for ttl.
func NewNews(sources []NewsSource, timeout time.Duration, store infra.Store, ttl time.Duration) *News {
	if sources == nil {
		sources = DefaultNewsSources
	}
	if store == nil {
		store = infra.NopStore{}
	}
	parser := gofeed.NewParser()
	parser.UserAgent = DefaultUserAgent
	parser.Client = &http.Client{Timeout: timeout}
	return &News{
		sources: sources,
		parser:  parser,
		store:   store,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Name returns the data source name.
func (n *News) Name() string { return "Indian News" }

// GetSentiment scores recent headlines relevant to index.
func (n *News) GetSentiment(ctx context.Context, index string) (*models.Sentiment, error) {
	symbol := utils.NormalizeTicker(index)
	articles, err := n.GetMarketNews(ctx)
	if err != nil {
		return nil, err
	}
	relevant := filterArticles(articles, indexKeywords[symbol])
	if len(relevant) == 0 {
		relevant = articles
	}
	s := sentiment.Analyze(relevant, n.now())
	return &s, nil
}

// GetMarketNews returns recent market news from all configured sources,
// newest first. Failed feeds are skipped; it errors only when all fail.
func (n *News) GetMarketNews(ctx context.Context) ([]models.NewsArticle, error) {
	const cacheKey = "news:market"
	var cached []models.NewsArticle
	if err := infra.GetJSON(ctx, n.store, cacheKey, &cached); err == nil && len(cached) > 0 {
		return cached, nil
	}

	var all []models.NewsArticle
	var errs []error
	for _, src := range n.sources {
		articles, err := n.fetchRSS(ctx, src)
		if err != nil {
			// Non-critical: skip failed sources.
			errs = append(errs, err)
			continue
		}
		all = append(all, articles...)
	}
	if len(all) == 0 {
		if len(errs) == 0 {
			return nil, fmt.Errorf("%w: no news articles", ErrDataUnavailable)
		}
		return nil, fmt.Errorf("%w: all news feeds failed: %w", ErrDataUnavailable, errors.Join(errs...))
	}

	sortArticlesByDate(all)
	_ = infra.SetJSON(ctx, n.store, cacheKey, all, n.ttl)
	return all, nil
}

// --- Internal helpers ---

// fetchRSS parses an RSS feed and returns articles.
func (n *News) fetchRSS(ctx context.Context, src NewsSource) ([]models.NewsArticle, error) {
	feed, err := n.parser.ParseURLWithContext(src.RSSURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse RSS %s: %w", src.Name, err)
	}

	articles := make([]models.NewsArticle, 0, len(feed.Items))
	for _, item := range feed.Items {
		a := models.NewsArticle{
			Title:   strings.TrimSpace(item.Title),
			URL:     item.Link,
			Source:  src.Name,
			Summary: cleanHTML(item.Description),
		}
		if item.PublishedParsed != nil {
			a.PublishedAt = item.PublishedParsed.In(utils.IST)
		}
		articles = append(articles, a)
	}
	return articles, nil
}

// cleanHTML strips HTML tags from a string using goquery.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}

func filterArticles(articles []models.NewsArticle, keywords []string) []models.NewsArticle {
	if len(keywords) == 0 {
		return articles
	}
	var out []models.NewsArticle
	for _, a := range articles {
		if matchesAny(a.Title+" "+a.Summary, keywords) {
			out = append(out, a)
		}
	}
	return out
}

// matchesAny checks if text contains any of the keywords (case-insensitive).
func matchesAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// sortArticlesByDate sorts articles newest first; equal timestamps order by
// title so cached lists are stable.
func sortArticlesByDate(articles []models.NewsArticle) {
	sort.SliceStable(articles, func(i, j int) bool {
		if !articles[i].PublishedAt.Equal(articles[j].PublishedAt) {
			return articles[i].PublishedAt.After(articles[j].PublishedAt)
		}
		return articles[i].Title < articles[j].Title
	})
}
