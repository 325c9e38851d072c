/*
Copyright 2026 Warpgate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package connector

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"

	lru "github.com/hashicorp/golang-lru"

	"github.com/gravitational/oxy/forward"
	"github.com/gravitational/trace"

	"github.com/warpgate-bastion/warpgate/lib/services"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

const httpTransportCacheSize = 256

// HTTPUpstream bundles the pieces the HTTP proxy core needs to reverse
// proxy a single request to a target: the target's parsed base URL to
// rewrite requests onto, and a Forwarder pre-bound to an http.RoundTripper
// configured for that target's TLS mode.
type HTTPUpstream struct {
	BaseURL   *url.URL
	Forwarder *forward.Forwarder
}

// httpDialer does not dial a socket up front the way the other three
// protocol dialers do — HTTP upstreams are accessed request-by-request
// through oxy's Forwarder, which opens and reuses its own connections. What
// it dials, in effect, is the cached *http.Transport/Forwarder pair for a
// target, amortizing TLS handshakes across requests the way the teacher's
// app.transport does for a single application.
type httpDialer struct {
	credentials services.Credentials
	transports  *lru.Cache
}

func newHTTPDialer(svc services.Services) *httpDialer {
	cache, err := lru.New(httpTransportCacheSize)
	if err != nil {
		// lru.New only errors on a non-positive size, which
		// httpTransportCacheSize never is.
		panic(err)
	}
	return &httpDialer{credentials: svc, transports: cache}
}

// connect resolves (or builds and caches) the target's Forwarder and
// returns it wrapped as an UpstreamConnection whose ReadWriteCloser is nil
// — the HTTP proxy core drives requests through Forwarder.ServeHTTP rather
// than a byte-level splice, since HTTP is framed at the request level, not
// the connection level.
func (d *httpDialer) connect(ctx context.Context, target *types.Target) (*UpstreamConnection, error) {
	upstream, err := d.forTarget(target)
	if err != nil {
		return nil, newConnectError(FailureDialError, trace.Wrap(err))
	}
	return &UpstreamConnection{
		Target: target,
		http:   upstream,
	}, nil
}

func (d *httpDialer) forTarget(target *types.Target) (*HTTPUpstream, error) {
	if cached, ok := d.transports.Get(target.ID); ok {
		return cached.(*HTTPUpstream), nil
	}

	base, err := url.Parse(target.Options.HTTPBaseURL)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	if base.Scheme == "https" {
		tr.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: target.Options.TLSMode != types.TLSVerifyFull,
			ServerName:         base.Hostname(),
		}
	}

	fwd, err := forward.New(
		forward.RoundTripper(tr),
		forward.PassHostHeader(true),
	)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	upstream := &HTTPUpstream{BaseURL: base, Forwarder: fwd}
	d.transports.Add(target.ID, upstream)
	return upstream, nil
}
