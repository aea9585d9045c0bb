package proclist

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// ErrUnsupported means this platform has no usable process listing.
var ErrUnsupported = errors.New("process listing is not supported on this platform")

const (
	snapshotKey = "ps"
	snapshotTTL = time.Second
)

// Runner returns raw "pid args" lines for every process.
type Runner func(ctx context.Context) ([]byte, error)

// Locator lists cadenza processes. Listings are cached briefly so that one invocation
// scanning several times does not fork ps each time.
type Locator struct {
	run   Runner
	goos  string
	cache *ttlcache.Cache[string, []Record]
}

type Option func(*Locator)

// WithRunner replaces the ps invocation.
func WithRunner(run Runner) Option {
	return func(l *Locator) { l.run = run }
}

// WithTTL sets how long a listing is reused. Zero disables caching.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locator) {
		l.cache = newSnapshotCache(ttl)
	}
}

func withGOOS(goos string) Option {
	return func(l *Locator) { l.goos = goos }
}

// New returns a Locator. Close releases its cache.
func New(opts ...Option) *Locator {
	l := &Locator{
		run:  runPS,
		goos: runtime.GOOS,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cache == nil {
		l.cache = newSnapshotCache(snapshotTTL)
	}
	go l.cache.Start()
	return l
}

func newSnapshotCache(ttl time.Duration) *ttlcache.Cache[string, []Record] {
	if ttl <= 0 {
		ttl = time.Nanosecond
	}
	return ttlcache.New[string, []Record](
		ttlcache.WithTTL[string, []Record](ttl),
		ttlcache.WithDisableTouchOnHit[string, []Record](),
	)
}

// Close stops the cache expiration loop.
func (l *Locator) Close() {
	l.cache.Stop()
}

// List returns every marked process.
func (l *Locator) List(ctx context.Context) ([]Record, error) {
	switch l.goos {
	case "windows", "plan9":
		return nil, ErrUnsupported
	}
	if item := l.cache.Get(snapshotKey); item != nil && !item.IsExpired() {
		return append([]Record(nil), item.Value()...), nil
	}

	out, err := l.run(ctx)
	if err != nil {
		return nil, err
	}
	records := ParseListing(out)
	l.cache.Set(snapshotKey, records, ttlcache.DefaultTTL)
	return append([]Record(nil), records...), nil
}

// Refresh drops the cached listing.
func (l *Locator) Refresh() {
	l.cache.Delete(snapshotKey)
}

// HasServerOnPort reports whether a server process was launched for port.
func (l *Locator) HasServerOnPort(ctx context.Context, port int) (bool, error) {
	records, err := l.List(ctx)
	if err != nil {
		return false, err
	}
	for _, record := range records {
		if record.Role == RoleServer && record.Port == port {
			return true, nil
		}
	}
	return false, nil
}

func runPS(ctx context.Context) ([]byte, error) {
	path, err := exec.LookPath("ps")
	if err != nil {
		return nil, fmt.Errorf("%w: ps not found", ErrUnsupported)
	}
	cmd := exec.CommandContext(ctx, path, "-eo", "pid=,args=")
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if stderr := strings.TrimSpace(string(exitErr.Stderr)); stderr != "" {
				return nil, fmt.Errorf("ps failed: %w (%s)", err, stderr)
			}
		}
		return nil, fmt.Errorf("ps failed: %w", err)
	}
	return out, nil
}
