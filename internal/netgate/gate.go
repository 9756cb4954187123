// Package netgate is a process-local switch that simulates blocking
// outbound network access.
//
// The gate is consulted only by connections opened through its Dialer,
// Transport or Client. It does not affect code that dials directly, and it
// never affects separately spawned processes. It is a demonstration aid,
// not a security boundary.
package netgate

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/procward/internal/domain"
)

// Policy decides whether a connection may be opened.
type Policy interface {
	Allow(network, address string) error
}

// Gate is the network-allowed predicate. The zero value allows traffic.
type Gate struct {
	blocked atomic.Bool
	denials prometheus.Counter
	logger  *slog.Logger
}

// New creates a gate in the given initial state.
func New(blocked bool, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{logger: logger}
	g.blocked.Store(blocked)
	return g
}

// WithMetrics registers a denial counter on reg. A nil reg is ignored.
func (g *Gate) WithMetrics(reg *prometheus.Registry) *Gate {
	if reg == nil {
		return g
	}
	g.denials = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "procward",
		Subsystem: "netgate",
		Name:      "denials_total",
		Help:      "Connections refused while the network gate was blocking.",
	})
	reg.MustRegister(g.denials)
	return g
}

// Toggle flips the gate and returns the new blocked state.
func (g *Gate) Toggle() bool {
	for {
		old := g.blocked.Load()
		if g.blocked.CompareAndSwap(old, !old) {
			g.logger.Info("network gate toggled", slog.Bool("blocked", !old))
			return !old
		}
	}
}

// Set forces the blocked state.
func (g *Gate) Set(blocked bool) {
	g.blocked.Store(blocked)
}

// Blocked reports the current state.
func (g *Gate) Blocked() bool {
	return g.blocked.Load()
}

// Allow implements Policy.
func (g *Gate) Allow(network, address string) error {
	if !g.blocked.Load() {
		return nil
	}
	if g.denials != nil {
		g.denials.Inc()
	}
	g.logger.Debug("connection refused by network gate",
		slog.String("network", network),
		slog.String("address", address),
	)
	return &net.OpError{
		Op:  "dial",
		Net: network,
		Err: fmt.Errorf("%s: %w", address, domain.ErrNetworkBlocked),
	}
}

// Dialer opens connections only when its policy allows them.
type Dialer struct {
	Policy Policy
	Dialer *net.Dialer
}

// DialContext checks the policy at connection-open time, then dials.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.Policy.Allow(network, address); err != nil {
		return nil, err
	}
	nd := d.Dialer
	if nd == nil {
		nd = &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	}
	return nd.DialContext(ctx, network, address)
}

// Dial is DialContext with a background context.
func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

// Apply routes every new connection of t through the gate.
func (g *Gate) Apply(t *http.Transport) *http.Transport {
	t.DialContext = (&Dialer{Policy: g}).DialContext
	return t
}

// Transport returns a clone of http.DefaultTransport routed through the gate.
func (g *Gate) Transport() *http.Transport {
	return g.Apply(http.DefaultTransport.(*http.Transport).Clone())
}

// Client returns an HTTP client whose connections consult the gate.
func (g *Gate) Client(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: g.Transport()}
}
