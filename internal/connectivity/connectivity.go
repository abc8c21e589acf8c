// Package connectivity provides the reachability oracle consumed by the
// remote client and the sync daemon: a boolean "is the network reachable"
// signal plus a change subscription, so remote operations are attempted
// only when they can plausibly succeed.
package connectivity

import (
	"context"
	"net"
	"sync"
	"time"
)

// Checker reports whether the backend is reachable.
type Checker interface {
	Online() bool
}

// Static is a fixed-answer Checker for tests and forced-offline modes.
type Static bool

// Online implements Checker.
func (s Static) Online() bool { return bool(s) }

// Prober checks reachability by dialing a TCP endpoint on an interval and
// notifies watchers when the answer flips.
type Prober struct {
	addr     string
	interval time.Duration
	timeout  time.Duration

	mu       sync.RWMutex
	online   bool
	watchers map[chan bool]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// ProberConfig holds prober configuration.
type ProberConfig struct {
	// Addr is the host:port to dial (default: "1.1.1.1:443").
	Addr string

	// Interval is how often to probe (default: 30s).
	Interval time.Duration

	// Timeout bounds each probe dial (default: 3s).
	Timeout time.Duration
}

// NewProber creates a prober. Call Start to begin probing.
func NewProber(config *ProberConfig) *Prober {
	if config == nil {
		config = &ProberConfig{}
	}
	addr := config.Addr
	if addr == "" {
		addr = "1.1.1.1:443"
	}
	interval := config.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}

	return &Prober{
		addr:     addr,
		interval: interval,
		timeout:  timeout,
		watchers: make(map[chan bool]struct{}),
		done:     make(chan struct{}),
	}
}

// Online implements Checker. It reports the result of the most recent
// probe; until Start has run its seed probe it reports false.
func (p *Prober) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

// Watch returns a channel that receives the new reachability state each
// time it flips. The channel is buffered; a slow consumer misses
// intermediate flips, never blocks the prober.
func (p *Prober) Watch() <-chan bool {
	ch := make(chan bool, 1)
	p.mu.Lock()
	p.watchers[ch] = struct{}{}
	p.mu.Unlock()
	return ch
}

// Start probes once synchronously to seed the state, then probes on the
// configured interval until ctx is cancelled.
func (p *Prober) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.setOnline(p.probe())

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.setOnline(p.probe())
			}
		}
	}()
}

// Stop halts probing and waits for the loop to exit.
func (p *Prober) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

func (p *Prober) probe() bool {
	conn, err := net.DialTimeout("tcp", p.addr, p.timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (p *Prober) setOnline(online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.online == online {
		return
	}
	p.online = online

	for ch := range p.watchers {
		select {
		case ch <- online:
		default:
		}
	}
}
