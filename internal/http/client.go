package http

import (
	"crypto/tls"
	"net"
	nethttp "net/http"
	"os"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"golang.org/x/net/http2"

	"github.com/closetconnect/closet-tracker/internal/config"
	"github.com/closetconnect/closet-tracker/internal/constants"
	"github.com/closetconnect/closet-tracker/internal/logging"
)

// NewClient creates the HTTP client used for every REST call, with proxy
// support from cfg.
//
// HTTP/2 is attempted unless a proxy is active or CLOSET_DISABLE_HTTP2=true.
// Proxies often mishandle HTTP/2 multiplexing so proxied traffic is kept on
// HTTP/1.1. In ntlm mode the transport is wrapped in an NTLM negotiator;
// the websocket dialer shares the proxy selector but only sends the basic
// credentials embedded in the proxy URL.
func NewClient(cfg *config.Config, logger *logging.Logger) (*nethttp.Client, error) {
	proxy, err := NewProxyFunc(cfg, logger)
	if err != nil {
		return nil, err
	}

	tr := &nethttp.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
	}

	if proxyActive(cfg) || os.Getenv("CLOSET_DISABLE_HTTP2") == "true" {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	} else {
		tr.ForceAttemptHTTP2 = true
		_ = http2.ConfigureTransport(tr)
	}

	if usesNTLM(cfg) {
		return &nethttp.Client{
			Transport: ntlmssp.Negotiator{RoundTripper: tr},
			Timeout:   constants.RequestTimeout,
		}, nil
	}

	return &nethttp.Client{
		Transport: tr,
		Timeout:   constants.RequestTimeout,
	}, nil
}

func proxyActive(cfg *config.Config) bool {
	switch cfg.Proxy.Mode {
	case "no-proxy", "":
		return false
	case "system":
		return os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
			os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	default:
		return cfg.Proxy.Host != ""
	}
}
