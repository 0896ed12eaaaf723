package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/internal/infra"
	"github.com/seenimoa/indexsignal/pkg/models"
)

// Provider routes each operation to the source that serves it best: NSE for
// quotes, chains, membership and VIX; Yahoo for history and as a quote
// backup; RSS feeds for sentiment.
type Provider struct {
	nse   *NSE
	yahoo *YFinance
	news  *News // nil when news is disabled
	log   zerolog.Logger
}

// NewProvider builds the live provider from configuration.
func NewProvider(cfg *config.Config, store infra.Store, log zerolog.Logger) *Provider {
	p := &Provider{
		nse:   NewNSE(cfg.Provider.NSEBaseURL, cfg.Provider.HTTPTimeout, store, cfg.Cache),
		yahoo: NewYFinance(cfg.Provider.YahooBaseURL, cfg.Provider.HTTPTimeout),
		log:   log,
	}
	if cfg.Provider.NewsEnabled {
		p.news = NewNews(nil, cfg.Provider.HTTPTimeout, store, cfg.Cache.SentimentTTL)
	}
	return p
}

// NewProviderFromSources assembles a provider from explicit sources. news may
// be nil.
func NewProviderFromSources(nse *NSE, yahoo *YFinance, news *News, log zerolog.Logger) *Provider {
	return &Provider{nse: nse, yahoo: yahoo, news: news, log: log}
}

// GetCandles implements MarketDataProvider.
func (p *Provider) GetCandles(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Candle, error) {
	return p.yahoo.GetCandles(ctx, symbol, tf, from, to)
}

// GetQuote implements MarketDataProvider. Rate limiting is returned as is so
// the caller can back off; other NSE failures fall back to Yahoo.
func (p *Provider) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	q, err := p.nse.GetQuote(ctx, symbol)
	if err == nil || errors.Is(err, ErrRateLimited) || ctx.Err() != nil {
		return q, err
	}
	p.log.Debug().Err(err).Str("symbol", symbol).Msg("NSE quote failed, using Yahoo")
	q, yerr := p.yahoo.GetQuote(ctx, symbol)
	if yerr != nil {
		return nil, errors.Join(err, yerr)
	}
	return q, nil
}

// GetOptionChain implements MarketDataProvider.
func (p *Provider) GetOptionChain(ctx context.Context, symbol string, strikeCount int) ([]models.OptionQuote, error) {
	return p.nse.GetOptionChain(ctx, symbol, strikeCount)
}

// GetConstituents implements MarketDataProvider, falling back to the
// built-in membership when NSE is unreachable.
func (p *Provider) GetConstituents(ctx context.Context, index string) ([]models.Constituent, error) {
	members, err := p.nse.GetConstituents(ctx, index)
	if err == nil {
		return members, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	static, serr := StaticConstituents(index)
	if serr != nil {
		return nil, errors.Join(err, serr)
	}
	p.log.Warn().Err(err).Str("index", index).Int("members", len(static)).Msg("using built-in constituent weights")
	return static, nil
}

// GetSentiment implements SentimentProvider.
func (p *Provider) GetSentiment(ctx context.Context, index string) (*models.Sentiment, error) {
	if p.news == nil {
		return nil, fmt.Errorf("%w: news disabled", ErrNotSupported)
	}
	return p.news.GetSentiment(ctx, index)
}

// GetVolatilityIndex implements VolatilityProvider.
func (p *Provider) GetVolatilityIndex(ctx context.Context, index string) (float64, error) {
	return p.nse.GetVolatilityIndex(ctx, index)
}
