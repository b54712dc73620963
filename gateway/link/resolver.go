// Package link decides which URL a client gets for a virtual path: the
// gateway's own proxy endpoint, a provider-authoritative direct link, or a
// Worker-style url_proxy rewrite, per mount policy.
package link

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"

	"github.com/vfsgate/vfsgate/gateway/cachebus"
	"github.com/vfsgate/vfsgate/gateway/mount"
	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/internal/dcontext"
)

// ProxyPathPrefix is the gateway's streaming proxy endpoint.
const ProxyPathPrefix = "/api/p"

const urlCacheSize = 1024

// Resolver evaluates the three-tier link policy. Signed direct links are
// cached until their TTL; the cache subscribes to the cache bus so mutations
// evict stale URLs.
type Resolver struct {
	urls gcache.Cache

	// degraded remembers 302-redirect paths that a Windows MiniRedirector
	// client has already followed once; the second request is served through
	// the native proxy because MiniRedir mishandles successive redirects.
	mu        sync.Mutex
	redirSeen map[string]bool
	degraded  map[string]bool
}

// NewResolver builds a Resolver and registers its URL cache on the bus.
func NewResolver(bus *cachebus.Bus) *Resolver {
	r := &Resolver{
		urls:      gcache.New(urlCacheSize).LRU().Build(),
		redirSeen: make(map[string]bool),
		degraded:  make(map[string]bool),
	}
	if bus != nil {
		bus.Subscribe(cachebus.SubscriberFunc(r.onInvalidate))
	}
	return r
}

// Request carries one link resolution.
type Request struct {
	Mount  *mount.Mount
	Config *mount.StorageConfig
	Driver storagedriver.StorageDriver

	// FsPath is the full virtual path; SubPath the driver-relative one.
	FsPath  string
	SubPath string

	ExpiresIn     time.Duration
	ForceDownload bool
	ForceProxy    bool

	UserKind string
	UserRef  string

	// DAV marks requests from the WebDAV surface, which consults the
	// mount's webdav_policy; UserAgent feeds the MiniRedirector quirk.
	DAV       bool
	UserAgent string
}

// IsMiniRedirUA reports whether the user agent is the Windows WebDAV
// redirector.
func IsMiniRedirUA(ua string) bool {
	return strings.Contains(ua, "Microsoft-WebDAV") || strings.Contains(ua, "WebDAV-MiniRedir")
}

func (r *Resolver) proxyLink(req Request) *storagedriver.Link {
	u := ProxyPathPrefix + escapePath(req.FsPath)
	if req.ForceDownload {
		u += "?download=1"
	}
	return &storagedriver.Link{URL: u, Kind: storagedriver.LinkProxy}
}

func (r *Resolver) workerLink(req Request) *storagedriver.Link {
	base := strings.TrimRight(req.Config.URLProxy, "/")
	return &storagedriver.Link{
		URL:  base + escapePath(req.FsPath),
		Kind: storagedriver.LinkDirect,
	}
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// Resolve applies the policy tiers:
//  1. mount.web_proxy or forceProxy -> gateway proxy.
//  2. driver DIRECT_LINK -> provider-authoritative URL.
//  3. fall back to the proxy.
//
// DAV requests map webdav_policy onto those tiers first.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*storagedriver.Link, error) {
	// web_proxy pins the mount to the gateway proxy regardless of surface
	if req.Mount.WebProxy || req.ForceProxy {
		return r.proxyLink(req), nil
	}

	if req.DAV {
		switch req.Mount.WebDAVPolicy {
		case mount.PolicyNativeProxy:
			return r.proxyLink(req), nil
		case mount.PolicyUseProxyURL:
			if req.Config.URLProxy == "" {
				return r.proxyLink(req), nil
			}
			return r.workerLink(req), nil
		case mount.Policy302Redirect:
			if IsMiniRedirUA(req.UserAgent) && r.checkMiniRedir(req.FsPath) {
				dcontext.GetLogger(ctx).Debugf("link: degrading %s to proxy for MiniRedirector", req.FsPath)
				return r.proxyLink(req), nil
			}
		}
	}

	if !req.Driver.Capabilities().Has(storagedriver.CapDirectLink) {
		return r.proxyLink(req), nil
	}

	if link, ok := r.cachedURL(req); ok {
		return link, nil
	}
	link, err := req.Driver.DownloadURL(ctx, req.SubPath, storagedriver.LinkOptions{
		ExpiresIn:     req.ExpiresIn,
		ForceDownload: req.ForceDownload,
	})
	if err != nil {
		var capErr storagedriver.CapabilityError
		if errors.As(err, &capErr) {
			return r.proxyLink(req), nil
		}
		return nil, err
	}
	r.cacheURL(req, link)
	return link, nil
}

// checkMiniRedir records a 302 served to MiniRedir and reports whether this
// path was already redirected once before.
func (r *Resolver) checkMiniRedir(fsPath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.degraded[fsPath] {
		return true
	}
	if r.redirSeen[fsPath] {
		r.degraded[fsPath] = true
		return true
	}
	r.redirSeen[fsPath] = true
	return false
}

// --- signed URL cache ------------------------------------------------------

type urlCacheKey struct {
	ConfigID      string
	SubPath       string
	ForceDownload bool
	UserKind      string
	UserRef       string
}

func (r *Resolver) cacheKey(req Request) urlCacheKey {
	return urlCacheKey{
		ConfigID:      req.Config.ID,
		SubPath:       req.SubPath,
		ForceDownload: req.ForceDownload,
		UserKind:      req.UserKind,
		UserRef:       req.UserRef,
	}
}

func (r *Resolver) cachedURL(req Request) (*storagedriver.Link, bool) {
	v, err := r.urls.Get(r.cacheKey(req))
	if err != nil {
		return nil, false
	}
	link, ok := v.(*storagedriver.Link)
	return link, ok
}

func (r *Resolver) cacheURL(req Request, link *storagedriver.Link) {
	if link.ExpiresIn <= 0 {
		return
	}
	_ = r.urls.SetWithExpire(r.cacheKey(req), link, link.ExpiresIn)
}

// onInvalidate evicts cached URLs touched by a mutation event.
func (r *Resolver) onInvalidate(ev cachebus.Event) {
	for _, k := range r.urls.Keys(false) {
		key, ok := k.(urlCacheKey)
		if !ok {
			continue
		}
		if ev.StorageConfigID != "" && key.ConfigID != ev.StorageConfigID {
			continue
		}
		if len(ev.Paths) == 0 {
			r.urls.Remove(k)
			continue
		}
		for _, p := range ev.Paths {
			if key.SubPath == p || strings.HasPrefix(key.SubPath, strings.TrimRight(p, "/")+"/") {
				r.urls.Remove(k)
				break
			}
		}
	}
}
