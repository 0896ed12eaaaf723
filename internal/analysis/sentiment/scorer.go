// Package sentiment scores Indian market news headlines with a keyword
// lexicon and folds them into a time-decayed index read.
package sentiment

import (
	"math"
	"strings"
	"time"

	"github.com/seenimoa/indexsignal/pkg/models"
)

// HalfLife is the age at which a headline's weight halves.
const HalfLife = 24 * time.Hour

// neutralBand is the aggregate score inside which sentiment has no direction.
const neutralBand = 0.1

type keyword struct {
	term   string
	weight float64
}

// Lexicons are slices so that scoring sums in a fixed order.
var bullishWords = []keyword{
	{"bullish", 0.7}, {"rally", 0.6}, {"surge", 0.7}, {"upbeat", 0.5},
	{"positive", 0.4}, {"growth", 0.4}, {"upgrade", 0.6}, {"outperform", 0.6},
	{"buy", 0.5}, {"strong", 0.4}, {"recovery", 0.5}, {"breakout", 0.6},
	{"record high", 0.7}, {"all-time high", 0.7}, {"beat", 0.5},
	{"expansion", 0.4}, {"profit", 0.3}, {"gains", 0.4}, {"jumps", 0.5},
	{"fii inflow", 0.6}, {"rate cut", 0.5}, {"short covering", 0.4},
}

var bearishWords = []keyword{
	{"bearish", 0.7}, {"crash", 0.8}, {"plunge", 0.7}, {"slump", 0.6},
	{"negative", 0.4}, {"downgrade", 0.6}, {"underperform", 0.6},
	{"sell", 0.5}, {"weak", 0.4}, {"decline", 0.5}, {"loss", 0.4},
	{"selloff", 0.7}, {"fall", 0.4}, {"correction", 0.5},
	{"default", 0.7}, {"fraud", 0.8}, {"investigation", 0.5},
	{"miss", 0.5}, {"warning", 0.5}, {"concern", 0.3}, {"tumbles", 0.6},
	{"fii outflow", 0.6}, {"rate hike", 0.5}, {"inflation", 0.3},
}

// ScoreHeadline returns a score in [-1, 1] and a keyword-count confidence.
func ScoreHeadline(headline string) (score float64, confidence float64) {
	lower := strings.ToLower(headline)

	var bull, bear float64
	matches := 0
	for _, k := range bullishWords {
		if strings.Contains(lower, k.term) {
			bull += k.weight
			matches++
		}
	}
	for _, k := range bearishWords {
		if strings.Contains(lower, k.term) {
			bear += k.weight
			matches++
		}
	}

	if matches == 0 || bull+bear == 0 {
		return 0, 0.1 // no signal
	}
	score = (bull - bear) / (bull + bear)
	confidence = math.Min(float64(matches)*0.15+0.2, 0.85)
	return score, confidence
}

// ScoreArticle scores an article on its title and summary.
func ScoreArticle(a models.NewsArticle) models.HeadlineScore {
	text := a.Title
	if a.Summary != "" {
		text += " " + a.Summary
	}
	score, conf := ScoreHeadline(text)
	return models.HeadlineScore{
		Source:      a.Source,
		Headline:    a.Title,
		Score:       score,
		Confidence:  conf,
		PublishedAt: a.PublishedAt,
	}
}

// Aggregate folds headline scores into an index read, weighting each by its
// confidence and an exponential age decay measured from now.
func Aggregate(scores []models.HeadlineScore, now time.Time) models.Sentiment {
	var sum, total float64
	for _, s := range scores {
		age := now.Sub(s.PublishedAt)
		if age < 0 {
			age = 0
		}
		w := math.Exp(-math.Ln2*age.Hours()/HalfLife.Hours()) * s.Confidence
		sum += s.Score * w
		total += w
	}

	out := models.Sentiment{Direction: models.DirectionNeutral, Articles: len(scores)}
	if total > 0 {
		out.Score = math.Round(sum/total*1000) / 1000
	}
	switch {
	case out.Score > neutralBand:
		out.Direction = models.DirectionBullish
	case out.Score < -neutralBand:
		out.Direction = models.DirectionBearish
	}
	return out
}

// Analyze scores articles and aggregates them.
func Analyze(articles []models.NewsArticle, now time.Time) models.Sentiment {
	scores := make([]models.HeadlineScore, 0, len(articles))
	for _, a := range articles {
		scores = append(scores, ScoreArticle(a))
	}
	return Aggregate(scores, now)
}
