// Package gateway assembles the storage gateway server from its parts: the
// mount table, the filesystem facade, the upload session manager, the link
// resolver and the HTTP surfaces.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	ghandlers "github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"

	"github.com/vfsgate/vfsgate/configuration"
	"github.com/vfsgate/vfsgate/gateway/api/errcode"
	"github.com/vfsgate/vfsgate/gateway/cachebus"
	"github.com/vfsgate/vfsgate/gateway/fs"
	"github.com/vfsgate/vfsgate/gateway/handlers"
	"github.com/vfsgate/vfsgate/gateway/handlers/dav"
	"github.com/vfsgate/vfsgate/gateway/health"
	"github.com/vfsgate/vfsgate/gateway/link"
	"github.com/vfsgate/vfsgate/gateway/mount"
	"github.com/vfsgate/vfsgate/gateway/upload"
	"github.com/vfsgate/vfsgate/internal/dcontext"

	// driver factory registrations
	_ "github.com/vfsgate/vfsgate/gateway/storage/driver/gdrive"
	_ "github.com/vfsgate/vfsgate/gateway/storage/driver/ghrelease"
	_ "github.com/vfsgate/vfsgate/gateway/storage/driver/inmemory"
	_ "github.com/vfsgate/vfsgate/gateway/storage/driver/local"
	_ "github.com/vfsgate/vfsgate/gateway/storage/driver/onedrive"
	_ "github.com/vfsgate/vfsgate/gateway/storage/driver/s3"
	_ "github.com/vfsgate/vfsgate/gateway/storage/driver/webdavfs"
)

// Gateway is a running server instance.
type Gateway struct {
	config *configuration.Configuration
	server *http.Server
	bus    *cachebus.Bus
	store  upload.Store
}

// NewGateway wires all components from a parsed configuration.
func NewGateway(ctx context.Context, config *configuration.Configuration) (*Gateway, error) {
	bus := cachebus.New()

	mounts := mount.NewManager(staticConfigs(config))
	for _, mc := range config.Mounts {
		if mc.Disabled {
			continue
		}
		mt := &mount.Mount{
			ID:              mc.ID,
			Path:            mc.Path,
			StorageConfigID: mc.Storage,
			WebProxy:        mc.WebProxy,
			WebDAVPolicy:    mount.WebDAVPolicy(mc.WebDAVPolicy),
			CacheTTL:        mc.CacheTTL,
			Active:          true,
		}
		if err := mounts.Register(mt); err != nil {
			return nil, fmt.Errorf("registering mount %s: %w", mc.ID, err)
		}
	}

	store, err := upload.NewBoltStore(config.SessionStore)
	if err != nil {
		return nil, fmt.Errorf("opening session store %s: %w", config.SessionStore, err)
	}

	fsys := fs.New(mounts, bus)
	uploads := upload.NewManager(store)
	links := link.NewResolver(bus)

	keys := make([]handlers.AccessKey, 0, len(config.Keys))
	for _, k := range config.Keys {
		keys = append(keys, handlers.AccessKey{
			Key:       k.Key,
			BasicPath: k.BasicPath,
			UserRef:   k.UserRef,
			UserKind:  k.UserKind,
		})
	}

	checks := health.NewRegistry()
	checks.RegisterFunc("session_store", func() error {
		_, err := store.ListActive(context.Background(), "/")
		return err
	})

	davHandler := dav.NewHandler(fsys, links, config.WebDAV.PutMode, davAuth(keys))
	app := handlers.NewApp(fsys, uploads, links, handlers.Options{
		Keys:   keys,
		DAV:    davHandler,
		Health: checks,
	})

	handler := ghandlers.CombinedLoggingHandler(os.Stdout, app)

	g := &Gateway{
		config: config,
		bus:    bus,
		store:  store,
		server: &http.Server{
			Addr:              config.HTTP.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	dcontext.GetLogger(ctx).Infof("gateway configured with %d mounts", len(config.Mounts))
	return g, nil
}

// davAuth adapts the API key list to the DAV surface. DAV clients present
// the key as the basic-auth password or as a bearer token.
func davAuth(keys []handlers.AccessKey) dav.AuthFunc {
	if len(keys) == 0 {
		return nil
	}
	return func(r *http.Request) (*dav.Identity, error) {
		presented := ""
		if _, password, ok := r.BasicAuth(); ok {
			presented = password
		} else if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			presented = strings.TrimPrefix(auth, "Bearer ")
		}
		if presented == "" {
			return nil, errcode.ErrorCodeUnauthorized
		}
		for i := range keys {
			if keys[i].Key == presented {
				return &dav.Identity{
					UserRef:   keys[i].UserRef,
					UserKind:  keys[i].UserKind,
					BasicPath: keys[i].BasicPath,
				}, nil
			}
		}
		return nil, errcode.ErrorCodeUnauthorized
	}
}

func staticConfigs(config *configuration.Configuration) mount.StaticConfigs {
	out := make(mount.StaticConfigs, len(config.Storages))
	for id, s := range config.Storages {
		out[id] = &mount.StorageConfig{
			ID:                 id,
			Type:               s.Type,
			Parameters:         s.Parameters,
			URLProxy:           s.URLProxy,
			SignatureExpiresIn: s.SignatureExpiresIn,
			ChunkSizeMB:        s.ChunkSizeMB,
			Disabled:           s.Disabled,
		}
	}
	return out
}

// ListenAndServe runs the server until it fails or Shutdown is called.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	dcontext.GetLogger(ctx).Infof("listening on %s", g.config.HTTP.Addr)
	err := g.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains connections and releases the session store and bus.
func (g *Gateway) Shutdown(ctx context.Context) error {
	err := g.server.Shutdown(ctx)
	g.bus.Close()
	if cerr := g.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// ConfigureLogging applies the log section to the logrus backend and
// returns a context carrying the configured logger.
func ConfigureLogging(ctx context.Context, config *configuration.Configuration) (context.Context, error) {
	log := logrus.StandardLogger()

	if config.Log.Level != "" {
		level, err := logrus.ParseLevel(config.Log.Level)
		if err != nil {
			return ctx, fmt.Errorf("invalid log level %q: %w", config.Log.Level, err)
		}
		log.SetLevel(level)
	}
	switch config.Log.Formatter {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return ctx, fmt.Errorf("unsupported log formatter %q", config.Log.Formatter)
	}

	entry := logrus.NewEntry(log)
	if len(config.Log.Fields) > 0 {
		fields := make(logrus.Fields, len(config.Log.Fields))
		for k, v := range config.Log.Fields {
			fields[k] = v
		}
		entry = entry.WithFields(fields)
	}
	dcontext.SetDefaultLogger(entry)
	return dcontext.WithLogger(ctx, entry), nil
}
