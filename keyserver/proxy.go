package keyserver

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/s4u/pgpverify-go/keysmap"
)

// ProxyConfig is spec.md §4.3's proxy surface: one proxy applied to every
// request, with a glob-based nonProxyHosts exclusion list.
type ProxyConfig struct {
	Host          string
	Port          int
	Protocol      string // "http" or "https"
	NonProxyHosts []string
	Username      string
	Password      string
}

// proxyFunc builds an http.Transport.Proxy function from cfg, reusing
// keysmap's glob compiler for nonProxyHosts since both are the same
// restricted single-wildcard glob syntax (spec.md §4.3/§4.5).
func proxyFunc(cfg *ProxyConfig) func(*http.Request) (*url.URL, error) {
	if cfg == nil {
		return nil
	}
	var skip []*regexp.Regexp
	for _, h := range cfg.NonProxyHosts {
		if re, err := keysmap.CompileGlob(h); err == nil {
			skip = append(skip, re)
		}
	}
	proxyURL := &url.URL{Scheme: cfg.Protocol, Host: cfg.Host + ":" + strconv.Itoa(cfg.Port)}
	if cfg.Username != "" {
		proxyURL.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return func(req *http.Request) (*url.URL, error) {
		host := req.URL.Hostname()
		for _, re := range skip {
			if re.MatchString(host) {
				return nil, nil
			}
		}
		return proxyURL, nil
	}
}
