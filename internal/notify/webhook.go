// Package notify delivers alert webhooks to operator-configured
// endpoints. Delivery is best-effort and fully asynchronous: a slow or
// broken endpoint never slows down the tracking pipeline, and a
// repeatedly failing endpoint trips its circuit breaker.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/citewatch/citewatch/internal/models"
)

const (
	requestTimeout  = 10 * time.Second
	breakerTimeout  = 60 * time.Second
	breakerFailures = 5
	refreshInterval = 5 * time.Minute
)

// alertPayload is the webhook body.
type alertPayload struct {
	Event  string       `json:"event"`
	Alert  models.Alert `json:"alert"`
	SentAt time.Time    `json:"sentAt"`
}

type endpoint struct {
	url     string
	breaker *gobreaker.CircuitBreaker
}

// Dispatcher posts alerts to each configured webhook URL.
type Dispatcher struct {
	endpoints []*endpoint
	client    *http.Client
	resolver  *dnscache.Resolver

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewDispatcher builds a dispatcher for the given webhook URLs. The
// HTTP client resolves through a caching resolver and refuses to
// connect to private, loopback or link-local addresses, so a
// user-supplied URL cannot reach into the deployment network.
func NewDispatcher(urls []string) *Dispatcher {
	resolver := &dnscache.Resolver{}
	d := &Dispatcher{
		resolver: resolver,
		stop:     make(chan struct{}),
	}
	d.client = &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DialContext:         d.dialContext,
			MaxIdleConnsPerHost: 2,
		},
	}

	for _, u := range urls {
		u := u
		d.endpoints = append(d.endpoints, &endpoint{
			url: u,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    u,
				Timeout: breakerTimeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= breakerFailures
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					log.Warn().Str("webhook", name).
						Str("from", from.String()).Str("to", to.String()).
						Msg("Webhook circuit breaker state changed")
				},
			}),
		})
	}

	d.wg.Add(1)
	go d.refreshLoop()
	return d
}

// Enabled reports whether any webhook is configured.
func (d *Dispatcher) Enabled() bool {
	return len(d.endpoints) > 0
}

// NotifyAlert fans an alert out to every endpoint without blocking the
// caller. Plugs into the alert engine's OnAlert callback.
func (d *Dispatcher) NotifyAlert(alert models.Alert) {
	if len(d.endpoints) == 0 {
		return
	}
	payload, err := json.Marshal(alertPayload{Event: "alert.created", Alert: alert, SentAt: time.Now()})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal webhook payload")
		return
	}

	for _, ep := range d.endpoints {
		ep := ep
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			if _, err := ep.breaker.Execute(func() (any, error) {
				return nil, d.send(ctx, ep.url, payload)
			}); err != nil {
				log.Warn().Err(err).Str("webhook", ep.url).Str("alertId", alert.ID).
					Msg("Webhook delivery failed")
			}
		}()
	}
}

func (d *Dispatcher) send(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "CiteWatch/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// dialContext resolves through the cache and refuses non-public
// addresses, checking every resolved IP rather than just the first.
func (d *Dispatcher) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := d.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	var lastErr error
	for _, ip := range ips {
		parsed := net.ParseIP(ip)
		if parsed == nil || isForbiddenAddress(parsed) {
			lastErr = fmt.Errorf("refusing to connect to non-public address %s for host %s", ip, host)
			continue
		}
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses for host %s", host)
	}
	return nil, lastErr
}

func isForbiddenAddress(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// refreshLoop keeps cached DNS entries from going stale.
func (d *Dispatcher) refreshLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.resolver.Refresh(true)
		}
	}
}

// Close waits for in-flight deliveries and stops the refresher.
func (d *Dispatcher) Close() {
	close(d.stop)
	d.wg.Wait()
}
