package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

// Defaults for broker address resolution.
const (
	DefaultTimeout     = 5 * time.Second
	DefaultMDNSService = "_mqtt._tcp"
)

// Source says where a resolved address came from.
type Source string

// Address sources, in order of preference after a literal.
const (
	SourceLiteral  Source = "literal"
	SourceResolved Source = "resolved"
	SourceCached   Source = "cached"
	SourceHostname Source = "hostname"
)

// ErrNotFound is returned by lookups that complete without an address.
var ErrNotFound = errors.New("resolver: no address found")

// Result is the address to dial for a broker host.
type Result struct {
	Host    string `json:"host"`
	Address string `json:"address"`
	Source  Source `json:"source"`
}

// LookupFunc resolves a host name through the system resolver.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// BrowseFunc lists mDNS service instances of the given type.
type BrowseFunc func(ctx context.Context, service string) ([]*mdns.ServiceEntry, error)

// Logger defines the logging interface used by the Resolver.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Resolver.
type Options struct {
	// Timeout bounds one Resolve call. Zero means DefaultTimeout.
	Timeout time.Duration

	// MDNS enables multicast DNS browsing for ".local" names the system
	// resolver cannot answer.
	MDNS bool

	// MDNSService is the service type browsed. Empty means DefaultMDNSService.
	MDNSService string

	// Lookup and Browse override the network lookups. Used by tests.
	Lookup LookupFunc
	Browse BrowseFunc
}

// Resolver turns a broker host name into an address to dial.
//
// Preference order: a freshly resolved address, then the last good address
// for that host, then the raw host name. A failed lookup never discards a
// cached address.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Resolver struct {
	timeout time.Duration
	mdns    bool
	service string
	lookup  LookupFunc
	browse  BrowseFunc

	mu    sync.Mutex
	cache map[string]string

	logger Logger
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	r := &Resolver{
		timeout: opts.Timeout,
		mdns:    opts.MDNS,
		service: opts.MDNSService,
		lookup:  opts.Lookup,
		browse:  opts.Browse,
		cache:   make(map[string]string),
		logger:  noopLogger{},
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.service == "" {
		r.service = DefaultMDNSService
	}
	if r.lookup == nil {
		r.lookup = net.DefaultResolver.LookupHost
	}
	if r.browse == nil {
		r.browse = r.queryMDNS
	}
	return r
}

// SetLogger sets the logger for the resolver.
func (r *Resolver) SetLogger(logger Logger) {
	r.logger = logger
}

// Seed records a known good address for host, e.g. one persisted by the
// application from a previous run.
func (r *Resolver) Seed(host, address string) {
	if host == "" || address == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[strings.ToLower(host)] = address
}

// Cached returns the last good address for host.
func (r *Resolver) Cached(host string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.cache[strings.ToLower(host)]
	return addr, ok
}

// Resolve picks the address to dial for host. It always returns a usable
// value; the Source field records which fallback was taken.
func (r *Resolver) Resolve(ctx context.Context, host string) Result {
	if ip := net.ParseIP(host); ip != nil {
		return Result{Host: host, Address: host, Source: SourceLiteral}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	key := strings.ToLower(host)
	addr, err := r.resolve(ctx, host)

	r.mu.Lock()
	prev, hadPrev := r.cache[key]
	if err == nil {
		r.cache[key] = addr
	}
	r.mu.Unlock()

	switch {
	case err == nil && !hadPrev:
		r.logger.Info("broker address resolved", "host", host, "address", addr)
		return Result{Host: host, Address: addr, Source: SourceResolved}
	case err == nil && prev != addr:
		r.logger.Info("new broker address resolved", "host", host, "address", addr, "previous", prev)
		return Result{Host: host, Address: addr, Source: SourceResolved}
	case err == nil:
		r.logger.Debug("broker address unchanged", "host", host, "address", addr)
		return Result{Host: host, Address: addr, Source: SourceResolved}
	case hadPrev:
		r.logger.Warn("broker address resolution failed, using cached address",
			"host", host, "address", prev, "error", err)
		return Result{Host: host, Address: prev, Source: SourceCached}
	default:
		r.logger.Warn("no broker address available, falling back to host name",
			"host", host, "error", err)
		return Result{Host: host, Address: host, Source: SourceHostname}
	}
}

// resolve tries the system resolver, then mDNS for ".local" names.
func (r *Resolver) resolve(ctx context.Context, host string) (string, error) {
	addrs, dnsErr := r.lookup(ctx, host)
	if dnsErr == nil {
		if addr := preferIPv4(addrs); addr != "" {
			return addr, nil
		}
		dnsErr = ErrNotFound
	}

	if !r.mdns || !isLocal(host) {
		return "", fmt.Errorf("dns lookup: %w", dnsErr)
	}

	entries, err := r.browse(ctx, r.service)
	if err != nil {
		return "", fmt.Errorf("dns lookup: %w; mdns browse: %w", dnsErr, err)
	}
	if addr := matchEntry(host, entries); addr != "" {
		return addr, nil
	}
	return "", fmt.Errorf("dns lookup: %w; mdns browse: %w", dnsErr, ErrNotFound)
}

// queryMDNS browses service for the remaining time on ctx.
func (r *Resolver) queryMDNS(ctx context.Context, service string) ([]*mdns.ServiceEntry, error) {
	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	entriesCh := make(chan *mdns.ServiceEntry, 16)
	var found []*mdns.ServiceEntry
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for e := range entriesCh {
			found = append(found, e)
		}
	}()

	params := mdns.DefaultParams(service)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true

	err := mdns.Query(params)
	close(entriesCh)
	<-collected

	if err != nil {
		return nil, err
	}
	return found, nil
}

func isLocal(host string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSuffix(host, ".")), ".local")
}

func preferIPv4(addrs []string) string {
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a
		}
	}
	if len(addrs) > 0 {
		return addrs[0]
	}
	return ""
}

// matchEntry returns the address of the entry whose host or instance name
// matches host.
func matchEntry(host string, entries []*mdns.ServiceEntry) string {
	want := strings.ToLower(strings.TrimSuffix(host, "."))
	label := strings.TrimSuffix(want, ".local")

	for _, e := range entries {
		if e == nil {
			continue
		}
		entryHost := strings.ToLower(strings.TrimSuffix(e.Host, "."))
		instance := strings.ToLower(e.Name)
		if entryHost != want && !strings.HasPrefix(instance, label+".") {
			continue
		}
		if e.AddrV4 != nil {
			return e.AddrV4.String()
		}
		if e.AddrV6 != nil {
			return e.AddrV6.String()
		}
	}
	return ""
}
