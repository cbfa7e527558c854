// Package config materializes spec.md §6's VerifierConfig as a Go struct,
// with an optional TOML file form for standalone use, grounded on the
// teacher's pkg/sysregistriesv2 TOML-backed registries.conf loader: an
// intermediate tagged struct decoded with github.com/BurntSushi/toml,
// then translated into the typed configuration the rest of the module
// consumes.
package config

import (
	"io/ioutil"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/s4u/pgpverify-go/keysmap"
	"github.com/s4u/pgpverify-go/keyserver"
)

// ErrInvalidConfig is returned when a TOML config file fails to parse or
// references an invalid regular expression in a filter.
type ErrInvalidConfig string

func (e ErrInvalidConfig) Error() string { return string(e) }

// FilterConfig is the TOML-serializable form of keysmap.Filter, spec.md
// §3's `Filter = { pattern?: regex, value?: string }`.
type FilterConfig struct {
	Pattern string `toml:"pattern"`
	Value   string `toml:"value"`
}

// Compile turns a FilterConfig into the keysmap.Filter the keysmap
// package actually matches against.
func (f FilterConfig) Compile() (keysmap.Filter, error) {
	var re *regexp.Regexp
	if f.Pattern != "" {
		var err error
		re, err = regexp.Compile(f.Pattern)
		if err != nil {
			return keysmap.Filter{}, ErrInvalidConfig("invalid filter pattern " + f.Pattern + ": " + err.Error())
		}
	}
	return keysmap.Filter{Pattern: re, Value: f.Value}, nil
}

// KeysMapLocation is spec.md §3's KeysMapLocationConfig: one trust-map
// file plus the include/exclude filters applied to entries loaded from
// it.
type KeysMapLocation struct {
	Location       string         `toml:"location"`
	IncludeFilters []FilterConfig `toml:"includes"`
	ExcludeFilters []FilterConfig `toml:"excludes"`
}

// compiledFilters compiles every FilterConfig in fs in order.
func compiledFilters(fs []FilterConfig) ([]keysmap.Filter, error) {
	out := make([]keysmap.Filter, 0, len(fs))
	for _, f := range fs {
		cf, err := f.Compile()
		if err != nil {
			return nil, err
		}
		out = append(out, cf)
	}
	return out, nil
}

// Includes compiles l's include filters.
func (l KeysMapLocation) Includes() ([]keysmap.Filter, error) { return compiledFilters(l.IncludeFilters) }

// Excludes compiles l's exclude filters.
func (l KeysMapLocation) Excludes() ([]keysmap.Filter, error) { return compiledFilters(l.ExcludeFilters) }

// VerifierConfig is the full environment surface of a verification run,
// per spec.md §6. The outer driver may either build one of these
// directly or load it from a TOML file with Load.
type VerifierConfig struct {
	CacheDir   string        `toml:"cache_dir"`
	KeyServers []string      `toml:"key_servers"`
	LoadBalance bool         `toml:"load_balance"`
	NotFoundTTL time.Duration `toml:"-"`
	// NotFoundTTLHours is the TOML-facing form of NotFoundTTL, matching
	// spec.md §4.4's "not_found_ttl_hours" naming.
	NotFoundTTLHours float64 `toml:"not_found_ttl_hours"`
	Offline           bool   `toml:"offline"`

	ProxyHost     string   `toml:"proxy_host"`
	ProxyPort     int      `toml:"proxy_port"`
	ProxyProtocol string   `toml:"proxy_protocol"`
	ProxyNonHosts []string `toml:"proxy_non_proxy_hosts"`
	ProxyUsername string   `toml:"proxy_username"`
	ProxyPassword string   `toml:"proxy_password"`

	ConnectTimeout time.Duration `toml:"-"`
	ReadTimeout    time.Duration `toml:"-"`
	// ConnectTimeoutSeconds/ReadTimeoutSeconds are the TOML-facing forms,
	// since encoding/time.Duration has no native TOML representation.
	ConnectTimeoutSeconds float64 `toml:"connect_timeout_seconds"`
	ReadTimeoutSeconds    float64 `toml:"read_timeout_seconds"`

	FailWeakSignature bool `toml:"fail_weak_signature"`

	KeysMapLocations []KeysMapLocation `toml:"keys_map"`
}

// Proxy builds the *keyserver.ProxyConfig described by c's proxy_* TOML
// fields, or nil if no proxy host was configured.
func (c *VerifierConfig) Proxy() *keyserver.ProxyConfig {
	if c.ProxyHost == "" {
		return nil
	}
	return &keyserver.ProxyConfig{
		Host:          c.ProxyHost,
		Port:          c.ProxyPort,
		Protocol:      c.ProxyProtocol,
		NonProxyHosts: c.ProxyNonHosts,
		Username:      c.ProxyUsername,
		Password:      c.ProxyPassword,
	}
}

// applyDurations fills the time.Duration fields from their TOML-facing
// float seconds/hours counterparts, applying spec.md's defaults
// (connect 5s, read 20s, not-found-ttl 24h) when a field is zero.
func (c *VerifierConfig) applyDurations() {
	if c.NotFoundTTLHours > 0 {
		c.NotFoundTTL = time.Duration(c.NotFoundTTLHours * float64(time.Hour))
	} else {
		c.NotFoundTTL = 24 * time.Hour
	}
	if c.ConnectTimeoutSeconds > 0 {
		c.ConnectTimeout = time.Duration(c.ConnectTimeoutSeconds * float64(time.Second))
	} else {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReadTimeoutSeconds > 0 {
		c.ReadTimeout = time.Duration(c.ReadTimeoutSeconds * float64(time.Second))
	} else {
		c.ReadTimeout = 20 * time.Second
	}
}

// Load reads and decodes a TOML configuration file at path, mirroring
// the teacher's loadRegistryConf: read the whole file, then
// toml.Unmarshal into the typed struct. This is a convenience for a
// standalone binary; the core verification pipeline only ever consumes
// a *VerifierConfig, however it was constructed.
func Load(path string) (*VerifierConfig, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &VerifierConfig{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, ErrInvalidConfig("cannot parse config file " + path + ": " + err.Error())
	}
	cfg.applyDurations()
	return cfg, nil
}
