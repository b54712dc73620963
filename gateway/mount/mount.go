// Package mount turns virtual paths into (driver, mount, sub-path) triples.
// Administrators attach storage configs at mount paths; the manager owns
// longest-prefix resolution and the bounded pool of live driver instances.
package mount

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"

	"github.com/vfsgate/vfsgate/internal/dcontext"
	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/gateway/storage/driver/factory"
)

// WebDAVPolicy selects how the DAV surface serves GETs under a mount.
type WebDAVPolicy string

const (
	PolicyNativeProxy WebDAVPolicy = "native_proxy"
	Policy302Redirect WebDAVPolicy = "302_redirect"
	PolicyUseProxyURL WebDAVPolicy = "use_proxy_url"
)

// Mount is an administrator-defined attachment point.
type Mount struct {
	ID              string
	Path            string // absolute virtual path, no trailing slash except root
	StorageConfigID string
	// WebProxy forces the gateway proxy for all links under this mount.
	WebProxy     bool
	WebDAVPolicy WebDAVPolicy
	// CacheTTL caps provider-metadata caching for this mount.
	CacheTTL time.Duration
	Active   bool
}

// StorageConfig is the decrypted provider credential blob plus the generic
// policy flags the core reads. Parameters stay opaque to everything but the
// driver factory.
type StorageConfig struct {
	ID         string
	Type       string
	Parameters map[string]interface{}

	// URLProxy is a Worker-style proxy base URL used by the use_proxy_url
	// WebDAV policy.
	URLProxy string
	// SignatureExpiresIn bounds presigned URL TTLs.
	SignatureExpiresIn time.Duration
	// ChunkSizeMB suggests a multipart part size.
	ChunkSizeMB int
	// Disabled configs fail resolution with a config error.
	Disabled bool
}

// ConfigSource hands out decrypted storage configs. Implemented outside the
// core by the admin repository.
type ConfigSource interface {
	Config(ctx context.Context, id string) (*StorageConfig, error)
}

// ErrNoMount is returned when no active mount prefixes the path.
type ErrNoMount struct {
	Path string
}

func (e ErrNoMount) Error() string {
	return fmt.Sprintf("no mount for path: %s", e.Path)
}

// ErrConfig is returned when a matching mount's storage config is disabled
// or cannot be loaded.
type ErrConfig struct {
	MountID string
	Reason  string
}

func (e ErrConfig) Error() string {
	return fmt.Sprintf("mount %s: storage config unavailable: %s", e.MountID, e.Reason)
}

const defaultDriverPoolSize = 64

// Manager owns the mount table and the driver instance pool.
type Manager struct {
	configs ConfigSource

	mu     sync.RWMutex
	mounts map[string]*Mount // by ID

	drivers gcache.Cache // storage config ID -> storagedriver.StorageDriver

	// buildMu serializes construction per config so two concurrent pool
	// misses don't double-initialize a driver.
	buildMu sync.Mutex
	builds  map[string]*sync.Mutex
}

// NewManager returns a manager with a bounded LRU driver pool.
func NewManager(configs ConfigSource) *Manager {
	return &Manager{
		configs: configs,
		mounts:  make(map[string]*Mount),
		drivers: gcache.New(defaultDriverPoolSize).LRU().Build(),
		builds:  make(map[string]*sync.Mutex),
	}
}

func normalizeMountPath(p string) (string, error) {
	if p == "" || p[0] != '/' {
		return "", fmt.Errorf("mount path must be absolute: %q", p)
	}
	if p != "/" {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	if strings.Contains(p, "//") {
		return "", fmt.Errorf("mount path has empty segment: %q", p)
	}
	return p, nil
}

// Register adds a mount, enforcing the table invariant: paths are unique,
// and no mount path is a strict prefix of another unless the two mounts
// reference different storage configs.
func (m *Manager) Register(mt *Mount) error {
	p, err := normalizeMountPath(mt.Path)
	if err != nil {
		return err
	}
	mt.Path = p
	if mt.WebDAVPolicy == "" {
		mt.WebDAVPolicy = PolicyNativeProxy
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.mounts {
		if other.Path == mt.Path {
			return fmt.Errorf("mount path already registered: %s", mt.Path)
		}
		if other.StorageConfigID == mt.StorageConfigID &&
			(isPrefixPath(other.Path, mt.Path) || isPrefixPath(mt.Path, other.Path)) {
			return fmt.Errorf("mount path %s nests under %s on the same storage", mt.Path, other.Path)
		}
	}
	m.mounts[mt.ID] = mt
	return nil
}

// Unregister removes a mount by ID. Unknown IDs are a no-op.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	delete(m.mounts, id)
	m.mu.Unlock()
}

// Mounts returns the active mounts sorted by path.
func (m *Manager) Mounts() []*Mount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Mount, 0, len(m.mounts))
	for _, mt := range m.mounts {
		if mt.Active {
			out = append(out, mt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Get returns a mount by ID.
func (m *Manager) Get(id string) (*Mount, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.mounts[id]
	return mt, ok
}

// isPrefixPath reports whether parent is "/" or a path-segment prefix of
// child.
func isPrefixPath(parent, child string) bool {
	if parent == "/" {
		return child != "/"
	}
	return strings.HasPrefix(child, parent+"/")
}

// Resolve selects the active mount with the longest path that prefixes p and
// derives the sub-path below it. The registration invariant makes ties
// impossible.
func (m *Manager) Resolve(p string) (*Mount, string, error) {
	if p == "" || p[0] != '/' {
		return nil, "", ErrNoMount{Path: p}
	}
	// Treat a trailing slash as naming the same resource.
	lookup := p
	if lookup != "/" {
		lookup = strings.TrimRight(lookup, "/")
		if lookup == "" {
			lookup = "/"
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *Mount
	for _, mt := range m.mounts {
		if !mt.Active {
			continue
		}
		if lookup == mt.Path || isPrefixPath(mt.Path, lookup) {
			if best == nil || len(mt.Path) > len(best.Path) {
				best = mt
			}
		}
	}
	if best == nil {
		return nil, "", ErrNoMount{Path: p}
	}

	sub := strings.TrimPrefix(lookup, best.Path)
	if !strings.HasPrefix(sub, "/") {
		sub = "/" + sub
	}
	return best, sub, nil
}

// Driver returns the live driver instance for a mount, constructing and
// pooling it on first use.
func (m *Manager) Driver(ctx context.Context, mt *Mount) (storagedriver.StorageDriver, error) {
	if v, err := m.drivers.Get(mt.StorageConfigID); err == nil {
		return v.(storagedriver.StorageDriver), nil
	}

	lock := m.buildLock(mt.StorageConfigID)
	lock.Lock()
	defer lock.Unlock()

	// Re-check after acquiring the build lock.
	if v, err := m.drivers.Get(mt.StorageConfigID); err == nil {
		return v.(storagedriver.StorageDriver), nil
	}

	cfg, err := m.configs.Config(ctx, mt.StorageConfigID)
	if err != nil {
		return nil, ErrConfig{MountID: mt.ID, Reason: err.Error()}
	}
	if cfg.Disabled {
		return nil, ErrConfig{MountID: mt.ID, Reason: "disabled"}
	}

	d, err := factory.Create(ctx, cfg.Type, cfg.Parameters)
	if err != nil {
		return nil, ErrConfig{MountID: mt.ID, Reason: err.Error()}
	}

	if err := m.drivers.Set(mt.StorageConfigID, d); err != nil {
		return nil, err
	}
	dcontext.GetLogger(ctx).Debugf("mount: constructed %s driver for config %s", cfg.Type, cfg.ID)
	return d, nil
}

// Config loads the storage config backing a mount.
func (m *Manager) Config(ctx context.Context, mt *Mount) (*StorageConfig, error) {
	cfg, err := m.configs.Config(ctx, mt.StorageConfigID)
	if err != nil {
		return nil, ErrConfig{MountID: mt.ID, Reason: err.Error()}
	}
	if cfg.Disabled {
		return nil, ErrConfig{MountID: mt.ID, Reason: "disabled"}
	}
	return cfg, nil
}

// InvalidateConfig drops the pooled driver for a storage config; the next
// resolve reconstructs it with fresh credentials.
func (m *Manager) InvalidateConfig(configID string) {
	m.drivers.Remove(configID)
}

func (m *Manager) buildLock(configID string) *sync.Mutex {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	lock, ok := m.builds[configID]
	if !ok {
		lock = &sync.Mutex{}
		m.builds[configID] = lock
	}
	return lock
}

// StaticConfigs is a ConfigSource backed by a fixed map, used by the CLI
// bootstrap and by tests.
type StaticConfigs map[string]*StorageConfig

func (s StaticConfigs) Config(_ context.Context, id string) (*StorageConfig, error) {
	cfg, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("unknown storage config: %s", id)
	}
	return cfg, nil
}
