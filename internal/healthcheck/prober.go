package healthcheck

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/kirychukyurii/hv-balancer/internal/config"
	"github.com/kirychukyurii/hv-balancer/internal/util"
)

// reachableBody is the exact response body signalling a reachable host
const reachableBody = "yes"

// maxBodySize bounds how much of the response is read
const maxBodySize = 1024

// Prober checks instance reachability against an external ping endpoint:
// GET <base_url><path>?<query_param>=<fqdn>, optionally behind Basic auth.
type Prober struct {
	cfg      config.ProbeConfig
	endpoint *url.URL
	client   *http.Client
	logger   *slog.Logger
}

// NewProber creates a new reachability prober
func NewProber(cfg config.ProbeConfig, logger *slog.Logger) (*Prober, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse probe url: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLS != nil {
		tlsConfig, err := util.LoadTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Prober{
		cfg:      cfg,
		endpoint: base,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger: logger,
	}, nil
}

// Reachable reports whether the ping endpoint answers "yes" for fqdn.
// Transport failures, non-2xx responses and any other body count as unreachable.
func (p *Prober) Reachable(ctx context.Context, fqdn string) bool {
	body, err := p.probe(ctx, fqdn)
	if err != nil {
		p.logger.Warn("reachability check failed",
			slog.String("hostname", fqdn),
			slog.String("error", err.Error()),
		)
		return false
	}

	if body != reachableBody {
		p.logger.Warn("host is not reachable",
			slog.String("hostname", fqdn),
			slog.String("response", body),
		)
		return false
	}

	p.logger.Debug("host is reachable", slog.String("hostname", fqdn))

	return true
}

func (p *Prober) probe(ctx context.Context, fqdn string) (string, error) {
	u := *p.endpoint
	q := u.Query()
	q.Set(p.cfg.QueryParam, fqdn)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	if p.cfg.Username != "" {
		req.SetBasicAuth(p.cfg.Username, p.cfg.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return string(data), nil
}
