package server

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rbright/cadenza/internal/protocol"
)

// DefaultHeartbeatTTL is how long a worker stays registered without a status frame.
const DefaultHeartbeatTTL = 3 * time.Second

type workerState int

const (
	workerReady workerState = iota
	workerBusy
	// workerClaimed holds a worker that was handed a job whose reply has not been relayed.
	// Heartbeats sent before the job arrived must not make it ready again.
	workerClaimed
)

// registry tracks live workers by identity. Entries expire when heartbeats stop.
type registry struct {
	cache *ttlcache.Cache[string, workerState]
}

func newRegistry(ttl time.Duration, logger *slog.Logger) *registry {
	if ttl <= 0 {
		ttl = DefaultHeartbeatTTL
	}
	cache := ttlcache.New[string, workerState](
		ttlcache.WithTTL[string, workerState](ttl),
		ttlcache.WithDisableTouchOnHit[string, workerState](),
	)
	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, workerState]) {
		if reason == ttlcache.EvictionReasonExpired && logger != nil {
			logger.Warn("worker heartbeat expired", "worker", item.Key())
		}
	})
	go cache.Start()
	return &registry{cache: cache}
}

func (r *registry) close() { r.cache.Stop() }

// heartbeat records a status frame from a worker. A claimed worker stays claimed; the
// heartbeat only keeps it registered.
func (r *registry) heartbeat(id []byte, status string) {
	state := workerReady
	if status != protocol.WorkerReady {
		state = workerBusy
	}
	if item := r.cache.Get(string(id)); item != nil && item.Value() == workerClaimed {
		state = workerClaimed
	}
	r.cache.Set(string(id), state, ttlcache.DefaultTTL)
}

// claim reserves the worker for one job until release.
func (r *registry) claim(id []byte) {
	r.cache.Set(string(id), workerClaimed, ttlcache.DefaultTTL)
}

// release ends a claim once the worker's reply went out. The worker stays busy until its
// next heartbeat says otherwise.
func (r *registry) release(id []byte) {
	item := r.cache.Get(string(id))
	if item == nil || item.Value() != workerClaimed {
		return
	}
	r.cache.Set(string(id), workerBusy, ttlcache.DefaultTTL)
}

func (r *registry) known(id []byte) bool {
	return r.cache.Get(string(id)) != nil
}

// nextReady returns a ready worker, lowest identity first.
func (r *registry) nextReady() ([]byte, bool) {
	keys := r.cache.Keys()
	slices.Sort(keys)
	for _, key := range keys {
		item := r.cache.Get(key)
		if item != nil && item.Value() == workerReady {
			return []byte(key), true
		}
	}
	return nil, false
}

func (r *registry) counts() (ready, total int) {
	for _, key := range r.cache.Keys() {
		item := r.cache.Get(key)
		if item == nil {
			continue
		}
		total++
		if item.Value() == workerReady {
			ready++
		}
	}
	return ready, total
}
