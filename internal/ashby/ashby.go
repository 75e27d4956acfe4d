// Package ashby is a client for the parts of the Ashby API used to advance candidates.
package ashby

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/interview-advancer/internal/logger"
)

const (
	apiURL    = "https://api.ashbyhq.com"
	userAgent = "spigell/interview-advancer"
	// Max page size accepted by list endpoints.
	pageLimit = 100
	// Upper bound on pages of one list call.
	maxPages = 500
)

type Client struct {
	token      string
	logger     *zap.Logger
	limiter    *rate.Limiter
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

type Option func(*Client)

// WithRateLimit caps outgoing requests per second. Zero disables the limit.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.HTTPClient.Timeout = d
		}
	}
}

func WithAPIURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.APIURL = u
		}
	}
}

func New(log *zap.Logger, token string, opts ...Option) *Client {
	c := &Client{
		token:  token,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:    logger.OrNop(log),
		UserAgent: userAgent,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}
