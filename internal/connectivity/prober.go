package connectivity

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultProbeInterval = 5 * time.Second
	defaultProbeTimeout  = 3 * time.Second
)

var errMissingProbeURL = errors.New("connectivity: probe url is required")

// Publisher receives observed reachability.
type Publisher interface {
	Publish(connected bool)
}

type ProberConfig struct {
	URL        string
	Interval   time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client
	Publisher  Publisher
	Logger     *zap.Logger
}

// Prober polls a health endpoint and publishes whether it is reachable.
type Prober struct {
	url       string
	interval  time.Duration
	client    *http.Client
	publisher Publisher
	logger    *zap.Logger
}

func NewProber(cfg ProberConfig) (*Prober, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errMissingProbeURL
	}
	if cfg.Publisher == nil {
		return nil, errors.New("connectivity: publisher is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultProbeTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		url:       url,
		interval:  interval,
		client:    client,
		publisher: cfg.Publisher,
		logger:    logger,
	}, nil
}

// Run probes immediately and then on every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.probeAndPublish(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAndPublish(ctx)
		}
	}
}

func (p *Prober) probeAndPublish(ctx context.Context) {
	connected := p.Probe(ctx)
	if ctx.Err() != nil {
		return
	}
	p.publisher.Publish(connected)
}

// Probe performs a single reachability check.
func (p *Prober) Probe(ctx context.Context) bool {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		p.logger.Warn("connectivity probe request invalid", zap.Error(err))
		return false
	}
	response, err := p.client.Do(request)
	if err != nil {
		p.logger.Debug("connectivity probe failed", zap.String("url", p.url), zap.Error(err))
		return false
	}
	defer response.Body.Close()
	io.Copy(io.Discard, response.Body) //nolint:errcheck
	return response.StatusCode < http.StatusInternalServerError
}
