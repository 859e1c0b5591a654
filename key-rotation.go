package keyproxy

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// KeyRotationConfig is the configuration for NewKeyRotation.
type KeyRotationConfig struct {
	KeyHeader  string
	Transport  http.RoundTripper
	BufferPool BufferPool
	OnRequest  func(req *http.Request) error
	OnResponse func(res *http.Response) error
	OnRotate   func(prev, next int)
	//
	MaxRequestBodyBytes int64
	//
	Metrics *Metrics
	//
	OnError func(err error, rw http.ResponseWriter, req *http.Request)
}

// NewKeyRotation creates a Proxy that forwards every request to target,
// authenticating each attempt with one of keys.
// target is the URL of the upstream API.
// cfg is the configuration for the Proxy.
//   - KeyHeader is the header the key is written to, default x-api-key.
//   - Transport executes upstream requests, default DefaultTransport(0).
//   - BufferPool provides buffers for streaming response bodies.
//   - MaxRequestBodyBytes rejects larger request bodies with 413.
//   - OnRequest is the hook that is called once before the first attempt.
//   - OnResponse is the hook that is called with the response returned to the caller.
//   - OnRotate is the hook that is called after each key rotation.
//   - Metrics records attempt outcomes.
//   - OnError is the hook that is called when an error occurs.
//
// The inbound path and query are kept. When target carries a path, it is
// used as a prefix.
//
// Example:
//
//	// All requests will be forwarded to https://api.anthropic.com
//	NewKeyRotation("https://api.anthropic.com", []string{"key1", "key2"})
//
//	// Keys are sent in a custom header, rotations are logged by the caller
//	NewKeyRotation("https://api.example.com/v2", keys, &KeyRotationConfig{
//		KeyHeader: "X-Goog-Api-Key",
//		OnRotate: func(prev, next int) {
//			// do something
//		},
//	})
func NewKeyRotation(target string, keys []string, cfg ...*KeyRotationConfig) (*Proxy, error) {
	targetX, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy target: %w", err)
	}
	if targetX.Scheme == "" || targetX.Host == "" {
		return nil, fmt.Errorf("invalid proxy target: %s", target)
	}

	cfgX := &KeyRotationConfig{}
	if len(cfg) != 0 && cfg[0] != nil {
		cfgX = cfg[0]
	}

	basePath := strings.TrimSuffix(targetX.Path, "/")
	baseRawPath := strings.TrimSuffix(targetX.EscapedPath(), "/")

	return New(&Config{
		Keys:       keys,
		KeyHeader:  cfgX.KeyHeader,
		Transport:  cfgX.Transport,
		BufferPool: cfgX.BufferPool,
		//
		MaxRequestBodyBytes: cfgX.MaxRequestBodyBytes,
		//
		OnRequest: func(outReq, inReq *http.Request) error {
			outReq.URL.Scheme = targetX.Scheme
			outReq.URL.Host = targetX.Host

			if basePath != "" {
				outReq.URL.Path = joinURLPath(basePath, outReq.URL.Path)
				if outReq.URL.RawPath != "" {
					outReq.URL.RawPath = joinURLPath(baseRawPath, outReq.URL.RawPath)
				}
			}

			if cfgX.OnRequest != nil {
				if err := cfgX.OnRequest(outReq); err != nil {
					return err
				}
			}

			return nil
		},
		OnResponse: func(res *http.Response, inReq *http.Request) error {
			if cfgX.OnResponse != nil {
				return cfgX.OnResponse(res)
			}

			return nil
		},
		OnError:  cfgX.OnError,
		OnRotate: cfgX.OnRotate,
		Metrics:  cfgX.Metrics,
	})
}

func joinURLPath(base, path string) string {
	if path == "" || path == "/" {
		return base + "/"
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return base + path
}
