package models

import "time"

// NewsArticle represents a single news article.
type NewsArticle struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"` // e.g., "Moneycontrol", "Economic Times"
	Summary     string    `json:"summary,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// HeadlineScore is the sentiment read of a single article.
type HeadlineScore struct {
	Source      string    `json:"source"`
	Headline    string    `json:"headline"`
	Score       float64   `json:"score"`      // -1.0 (very bearish) to +1.0 (very bullish)
	Confidence  float64   `json:"confidence"` // 0–1
	PublishedAt time.Time `json:"published_at"`
}
