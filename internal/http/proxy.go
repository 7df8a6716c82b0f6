package http

import (
	"fmt"
	nethttp "net/http"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpproxy"

	"github.com/closetconnect/closet-tracker/internal/config"
	"github.com/closetconnect/closet-tracker/internal/constants"
	"github.com/closetconnect/closet-tracker/internal/logging"
)

// ProxyFunc is the proxy selector shared by the REST transport and the
// websocket dialer.
type ProxyFunc func(*nethttp.Request) (*url.URL, error)

// NewProxyFunc returns the proxy selector for cfg.Proxy. A nil result
// means direct connections.
func NewProxyFunc(cfg *config.Config, logger *logging.Logger) (ProxyFunc, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	switch strings.ToLower(cfg.Proxy.Mode) {
	case "no-proxy", "":
		return nil, nil

	case "system":
		return nethttp.ProxyFromEnvironment, nil

	case "basic", "ntlm":
		// Fall back to direct connections when the host is missing so a
		// half-written config does not block the tracker.
		if cfg.Proxy.Host == "" {
			logger.Warn().Str("mode", cfg.Proxy.Mode).Msg("Proxy host is missing, falling back to no-proxy mode")
			return nil, nil
		}
		if cfg.Proxy.User != "" && cfg.Proxy.Password == "" {
			logger.Warn().Msg("Proxy user configured but password missing, proxy auth disabled until CLOSET_PROXY_PASSWORD is set")
		}
		return proxyFuncWithBypass(buildProxyURL(cfg), cfg.Proxy.NoProxy, logger), nil

	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", cfg.Proxy.Mode)
	}
}

// buildProxyURL constructs a proxy URL from config
func buildProxyURL(cfg *config.Config) *url.URL {
	port := cfg.Proxy.Port
	if port == 0 {
		port = constants.DefaultProxyPort
	}

	proxyURL := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", cfg.Proxy.Host, port),
	}

	// Only embed credentials if both user AND password are provided
	if cfg.Proxy.User != "" && cfg.Proxy.Password != "" {
		proxyURL.User = url.UserPassword(cfg.Proxy.User, cfg.Proxy.Password)
	}

	return proxyURL
}

// usesNTLM reports whether REST traffic must negotiate NTLM with the proxy.
// A missing host means direct connections, so there is nothing to negotiate.
func usesNTLM(cfg *config.Config) bool {
	return strings.ToLower(cfg.Proxy.Mode) == "ntlm" && cfg.Proxy.Host != ""
}

// proxyFuncWithBypass returns a proxy function that respects the NoProxy bypass list.
// If noProxy is empty, behaves identically to nethttp.ProxyURL.
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string, logger *logging.Logger) ProxyFunc {
	if noProxy == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	pcfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := pcfg.ProxyFunc()
	return func(req *nethttp.Request) (*url.URL, error) {
		target := *req.URL
		// httpproxy only knows http and https; websocket upgrades ride on them.
		switch target.Scheme {
		case "ws":
			target.Scheme = "http"
		case "wss":
			target.Scheme = "https"
		}
		result, err := proxyFunc(&target)
		if result == nil {
			logger.Debug().Str("host", req.URL.Host).Msg("Proxy bypass (direct connection)")
		} else {
			logger.Debug().Str("host", req.URL.Host).Str("proxy", result.Host).Msg("Proxied")
		}
		return result, err
	}
}

// NeedsProxyPassword returns true if the proxy configuration names a user
// but no password has been provided.
func NeedsProxyPassword(cfg *config.Config) bool {
	switch strings.ToLower(cfg.Proxy.Mode) {
	case "basic", "ntlm":
	default:
		return false
	}
	return cfg.Proxy.User != "" && cfg.Proxy.Password == ""
}
