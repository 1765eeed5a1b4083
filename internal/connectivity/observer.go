// Package connectivity reports whether the backend is reachable and notifies
// listeners when it becomes reachable again.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Observer exposes the current connectivity state
type Observer interface {
	IsOnline() bool
	// OnConnectivityRestored registers cb to run on every offline -> online transition
	OnConnectivityRestored(cb func())
}

// HealthChecker is satisfied by client.APIClient
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type listeners struct {
	mu        sync.Mutex
	callbacks []func()
}

func (l *listeners) add(cb func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, cb)
}

func (l *listeners) fire() {
	l.mu.Lock()
	cbs := make([]func(), len(l.callbacks))
	copy(cbs, l.callbacks)
	l.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

// HealthProbe polls the backend health endpoint. It starts offline, so the
// first successful probe counts as a restore.
type HealthProbe struct {
	checker  HealthChecker
	interval time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	online    bool
	lastCheck time.Time
	listeners listeners

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewHealthProbe(checker HealthChecker, interval time.Duration, logger *zap.Logger) *HealthProbe {
	return &HealthProbe{
		checker:  checker,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (p *HealthProbe) IsOnline() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

func (p *HealthProbe) OnConnectivityRestored(cb func()) {
	p.listeners.add(cb)
}

// MarkOffline records a failed call so writers stop trying until the next
// successful probe
func (p *HealthProbe) MarkOffline() {
	p.setOnline(false)
}

// Check runs one probe and returns the resulting state
func (p *HealthProbe) Check(ctx context.Context) bool {
	err := p.checker.HealthCheck(ctx)
	if err != nil {
		p.logger.Debug("Backend health check failed", zap.Error(err))
	}

	p.mu.Lock()
	p.lastCheck = time.Now()
	p.mu.Unlock()

	p.setOnline(err == nil)
	return err == nil
}

func (p *HealthProbe) setOnline(online bool) {
	p.mu.Lock()
	was := p.online
	p.online = online
	p.mu.Unlock()

	if was == online {
		return
	}
	if online {
		p.logger.Info("Backend reachable, connectivity restored")
		p.listeners.fire()
	} else {
		p.logger.Warn("Backend unreachable, switching to offline mode")
	}
}

// Start probes immediately and then on every interval until Stop or ctx ends
func (p *HealthProbe) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		p.Check(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.Check(ctx)
			case <-p.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	p.logger.Info("Connectivity probe started", zap.Duration("interval", p.interval))
}

// Stop stops the probe loop and waits for it to exit
func (p *HealthProbe) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

// Manual is an Observer driven by explicit SetOnline calls
type Manual struct {
	mu        sync.RWMutex
	online    bool
	listeners listeners
}

func NewManual(online bool) *Manual {
	return &Manual{online: online}
}

func (m *Manual) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

func (m *Manual) OnConnectivityRestored(cb func()) {
	m.listeners.add(cb)
}

// SetOnline updates the state, firing restore callbacks on offline -> online
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	m.mu.Unlock()

	if !was && online {
		m.listeners.fire()
	}
}
