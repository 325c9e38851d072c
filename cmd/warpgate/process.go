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

// Package main wires the State Store, Authentication Pipeline, Target
// Connector, Recording Pipeline, and the four Protocol Proxy Cores into a
// single running process, the way the teacher's lib/service.Process
// composes its own registered services — narrowed here to one flat
// `process.start` function since Warpgate has no supervisor tree of
// auth/proxy/node roles, only the four always-on listeners.
package main

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/warpgate-bastion/warpgate/lib/auth"
	"github.com/warpgate-bastion/warpgate/lib/backend/sqlite"
	"github.com/warpgate-bastion/warpgate/lib/config"
	"github.com/warpgate-bastion/warpgate/lib/connector"
	"github.com/warpgate-bastion/warpgate/lib/limiter"
	"github.com/warpgate-bastion/warpgate/lib/multiplexer"
	"github.com/warpgate-bastion/warpgate/lib/recorder"
	"github.com/warpgate-bastion/warpgate/lib/services"
	"github.com/warpgate-bastion/warpgate/lib/srv"
	"github.com/warpgate-bastion/warpgate/lib/srv/mysqlproxy"
	"github.com/warpgate-bastion/warpgate/lib/srv/pgproxy"
	"github.com/warpgate-bastion/warpgate/lib/srv/sshproxy"
	"github.com/warpgate-bastion/warpgate/lib/srv/webproxy"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "warpgate"})

// process holds every long-lived component started from a single Config,
// so run can serve them and close every listener on shutdown.
type process struct {
	cfg       *config.Config
	listeners *srv.Listeners

	sshSrv   *sshproxy.Server
	mysqlSrv *mysqlproxy.Server
	pgSrv    *pgproxy.Server
	webSrv   *webproxy.Server
}

// start opens the state database, seeds any configured bootstrap users and
// targets, binds every enabled listener, and returns a process whose run
// method blocks until ctx is canceled. A failure here is Fatal per
// spec.md section 7: the process exits before any listener Accepts.
func start(ctx context.Context, cfg *config.Config) (*process, error) {
	clock := clockwork.NewRealClock()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := os.MkdirAll(cfg.RecordingsDir, 0o700); err != nil {
		return nil, trace.Wrap(err)
	}

	bk, err := sqlite.New(sqlite.Config{
		Path:  filepath.Join(cfg.DataDir, "state.db"),
		Clock: clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	svc := services.New(bk)

	if err := bootstrap(ctx, svc, cfg); err != nil {
		return nil, trace.Wrap(err)
	}

	authPipeline, err := auth.New(auth.Config{
		Services: svc,
		Clock:    clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	hostKey, err := loadOrCreateHostKey(filepath.Join(cfg.DataDir, "host_key"))
	if err != nil {
		return nil, trace.Wrap(err)
	}

	conn, err := connector.New(connector.Config{
		Services: svc,
		HostKeys: connector.NewKeyPool(),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	rec, err := recorder.New(recorder.Config{
		Directory: cfg.RecordingsDir,
		Services:  svc,
		Clock:     clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	connLimiter, err := limiter.NewConnectionsLimiter(limiter.Config{})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	listeners := srv.NewListeners()
	p := &process{cfg: cfg, listeners: listeners}

	if cfg.SSH.Addr != "" {
		l, err := net.Listen("tcp", cfg.SSH.Addr)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if err := listeners.Register(srv.ListenerSSH, l); err != nil {
			return nil, trace.Wrap(err)
		}
		p.sshSrv, err = sshproxy.New(sshproxy.Config{
			Listener:    l,
			HostKey:     hostKey,
			Services:    svc,
			Auth:        authPipeline,
			Connector:   conn,
			Recorder:    rec,
			Limiter:     connLimiter,
			Clock:       clock,
			IdleTimeout: cfg.IdleTimeout,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	if cfg.MySQL.Addr != "" {
		l, err := net.Listen("tcp", cfg.MySQL.Addr)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if err := listeners.Register(srv.ListenerMySQL, l); err != nil {
			return nil, trace.Wrap(err)
		}
		p.mysqlSrv, err = mysqlproxy.New(mysqlproxy.Config{
			Listener:  l,
			Services:  svc,
			Auth:      authPipeline,
			Connector: conn,
			Recorder:  rec,
			Limiter:   connLimiter,
			Clock:     clock,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	if cfg.Postgres.Addr != "" {
		l, err := net.Listen("tcp", cfg.Postgres.Addr)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if err := listeners.Register(srv.ListenerPostgres, l); err != nil {
			return nil, trace.Wrap(err)
		}
		var tlsConfig *tls.Config
		if cfg.TLS.CertFile != "" {
			tlsConfig, err = buildTLSConfig(cfg)
			if err != nil {
				return nil, trace.Wrap(err)
			}
		}
		p.pgSrv, err = pgproxy.New(pgproxy.Config{
			Listener:    l,
			Services:    svc,
			Auth:        authPipeline,
			Connector:   conn,
			Recorder:    rec,
			Limiter:     connLimiter,
			Clock:       clock,
			TLSConfig:   tlsConfig,
			IdleTimeout: cfg.IdleTimeout,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	if cfg.HTTPS.Addr != "" {
		if cfg.TLS.CertFile == "" {
			return nil, trace.BadParameter("config: https listener enabled but no tls.cert_file configured")
		}
		rawListener, err := net.Listen("tcp", cfg.HTTPS.Addr)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if err := listeners.Register(srv.ListenerHTTPS, rawListener); err != nil {
			return nil, trace.Wrap(err)
		}
		getCert, err := buildCertificateMap(cfg)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		tlsListener, err := multiplexer.NewTLSListener(multiplexer.TLSListenerConfig{
			Listener:       rawListener,
			GetCertificate: getCert,
			Clock:          clock,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		go func() {
			if err := tlsListener.Serve(); err != nil {
				log.WithError(err).Debug("tls multiplexer stopped")
			}
		}()

		p.webSrv, err = webproxy.New(webproxy.Config{
			Listener:         tlsListener.HTTP(),
			Services:         svc,
			Auth:             authPipeline,
			Connector:        conn,
			Recorder:         rec,
			Clock:            clock,
			CookieSigningKey: []byte(cfg.CookieSigningKey),
			ProtocolPorts:    listeners.Ports(),
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	return p, nil
}

// run blocks, serving every bound listener, until ctx is canceled or one
// listener returns a non-shutdown error.
func (p *process) run(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	serve := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				log.WithError(err).WithField("core", name).Warn("proxy core stopped")
				select {
				case errCh <- err:
				default:
				}
			}
		}()
	}

	if p.sshSrv != nil {
		serve("ssh", p.sshSrv.Serve)
	}
	if p.mysqlSrv != nil {
		serve("mysql", p.mysqlSrv.Serve)
	}
	if p.pgSrv != nil {
		serve("postgres", p.pgSrv.Serve)
	}
	if p.webSrv != nil {
		serve("https", p.webSrv.Serve)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		p.listeners.CloseAll()
		<-done
		return nil
	case err := <-errCh:
		p.listeners.CloseAll()
		<-done
		return trace.Wrap(err)
	case <-done:
		return nil
	}
}

func buildTLSConfig(cfg *config.Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// buildCertificateMap implements spec.md section 6's "optional
// SNI-to-certificate map" for the HTTP(S) listener.
func buildCertificateMap(cfg *config.Config) (func(*tls.ClientHelloInfo) (*tls.Certificate, error), error) {
	defaultCert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	m := &multiplexer.CertificateMap{
		Default:  &defaultCert,
		ByServer: make(map[string]*tls.Certificate, len(cfg.TLSSNIMap)),
	}
	for _, entry := range cfg.TLSSNIMap {
		cert, err := tls.LoadX509KeyPair(entry.CertFile, entry.KeyFile)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		m.ByServer[entry.ServerName] = &cert
	}
	return m.GetCertificate, nil
}

// bootstrap upserts the users and targets declared in the configuration
// file. Real administration happens through the REST CRUD surface spec.md
// marks out of scope; this exists only so a single YAML file is enough to
// stand up a working bastion.
func bootstrap(ctx context.Context, svc services.Services, cfg *config.Config) error {
	for _, bu := range cfg.BootstrapUsers {
		existing, err := svc.GetUserByName(ctx, bu.Name)
		var userID string
		if err != nil {
			if !trace.IsNotFound(err) {
				return trace.Wrap(err)
			}
			userID = bu.Name
		} else {
			userID = existing.ID
		}

		user := types.User{
			ID:               userID,
			Name:             bu.Name,
			DisplayName:      bu.DisplayName,
			Roles:            bu.Roles,
			CredentialPolicy: bu.Policy,
		}
		if err := svc.UpsertUser(ctx, user); err != nil {
			return trace.Wrap(err)
		}

		for i, bc := range bu.Credentials {
			cred := types.Credential{
				ID:     bu.Name + "-" + string(bc.Kind) + "-" + strconv.Itoa(i),
				UserID: userID,
				Kind:   bc.Kind,
			}
			switch bc.Kind {
			case types.CredentialPassword:
				hash, err := auth.HashPassword(bc.Password)
				if err != nil {
					return trace.Wrap(err)
				}
				cred.PasswordHash = hash
			case types.CredentialPublicKey:
				cred.PublicKey = bc.PublicKey
			case types.CredentialOTP:
				cred.OTPSecret = types.Secret(bc.OTPSecret)
				cred.OTPDigits = 6
				cred.OTPPeriod = 30
			}
			if err := svc.UpsertCredential(ctx, cred); err != nil {
				return trace.Wrap(err)
			}
		}
	}

	for _, bt := range cfg.BootstrapTargets {
		target := types.Target{
			ID:           bt.Name,
			Name:         bt.Name,
			Kind:         bt.Kind,
			Address:      bt.Address,
			AllowedRoles: bt.AllowedRoles,
			Options:      bt.Options,
		}
		if err := svc.UpsertTarget(ctx, target); err != nil {
			return trace.Wrap(err)
		}
	}

	return nil
}
