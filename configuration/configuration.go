// Package configuration loads the gateway's YAML configuration, with
// environment-variable overrides following the VFSGATE_ prefix scheme.
package configuration

import (
	"fmt"
	"io"
	"time"
)

// Configuration is the complete gateway configuration, provided by a yaml
// file and optionally modified by environment variables.
type Configuration struct {
	// Log configures the logrus backend.
	Log struct {
		// Level is one of the logrus level names; empty means info.
		Level string `yaml:"level"`
		// Formatter selects "text" or "json" output.
		Formatter string `yaml:"formatter"`
		// Fields are attached to every log record.
		Fields map[string]interface{} `yaml:"fields,omitempty"`
	} `yaml:"log"`

	// HTTP configures the listener.
	HTTP struct {
		// Addr is the bind address, e.g. ":8080".
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	// WebDAV configures the /dav surface.
	WebDAV struct {
		// PutMode is "chunked" (stream, default) or "single" (buffer whole
		// body before upload).
		PutMode string `yaml:"putmode"`
	} `yaml:"webdav"`

	// SessionStore is the path of the bbolt file holding upload sessions.
	SessionStore string `yaml:"session_store"`

	// Storages maps storage-config IDs to provider configurations.
	Storages map[string]Storage `yaml:"storages"`

	// Mounts attaches storages to virtual paths.
	Mounts []Mount `yaml:"mounts"`

	// Keys lists API credentials; empty leaves the API open.
	Keys []Key `yaml:"keys,omitempty"`
}

// Storage is one provider configuration. Parameters stay opaque to
// everything but the driver factory.
type Storage struct {
	Type       string                 `yaml:"type"`
	Parameters map[string]interface{} `yaml:"parameters"`

	URLProxy           string        `yaml:"url_proxy,omitempty"`
	SignatureExpiresIn time.Duration `yaml:"signature_expires_in,omitempty"`
	ChunkSizeMB        int           `yaml:"chunk_size_mb,omitempty"`
	Disabled           bool          `yaml:"disabled,omitempty"`
}

// Mount is one attachment point in the virtual tree.
type Mount struct {
	ID      string `yaml:"id"`
	Path    string `yaml:"path"`
	Storage string `yaml:"storage"`

	WebProxy     bool          `yaml:"web_proxy,omitempty"`
	WebDAVPolicy string        `yaml:"webdav_policy,omitempty"`
	CacheTTL     time.Duration `yaml:"cache_ttl,omitempty"`
	Disabled     bool          `yaml:"disabled,omitempty"`
}

// Key is one API credential, optionally scoped to a path prefix.
type Key struct {
	Key       string `yaml:"key"`
	BasicPath string `yaml:"basic_path,omitempty"`
	UserRef   string `yaml:"user_ref,omitempty"`
	UserKind  string `yaml:"user_kind,omitempty"`
}

// Parse reads a Configuration from rd and applies VFSGATE_* environment
// overrides.
func Parse(rd io.Reader) (*Configuration, error) {
	in, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}

	config := new(Configuration)
	if err := newParser("vfsgate").parse(in, config); err != nil {
		return nil, err
	}
	return config, config.validate()
}

func (c *Configuration) validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.SessionStore == "" {
		c.SessionStore = "vfsgate-sessions.db"
	}
	seen := make(map[string]struct{}, len(c.Mounts))
	for _, m := range c.Mounts {
		if m.ID == "" || m.Path == "" || m.Storage == "" {
			return fmt.Errorf("mount needs id, path and storage: %+v", m)
		}
		if _, ok := c.Storages[m.Storage]; !ok {
			return fmt.Errorf("mount %s references unknown storage %q", m.ID, m.Storage)
		}
		if _, ok := seen[m.ID]; ok {
			return fmt.Errorf("duplicate mount id %q", m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	for id, s := range c.Storages {
		if s.Type == "" {
			return fmt.Errorf("storage %s has no type", id)
		}
	}
	return nil
}
