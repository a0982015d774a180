// Package dialer establishes the TCP and TLS streams the engine runs on.
// Dialers handle pretty much everything related to the raw connection:
// resolution overrides, connect deadlines, and the TLS client handshake.
package dialer

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/roldriel/reqivo/internal/errs"
	"github.com/roldriel/reqivo/internal/proto"
)

// ResolveConfig overrides name resolution at dial time.
type ResolveConfig struct {
	Network     string            // one of "ip4", "ip6", default is "ip"
	StaticHosts map[string]string // resembles /etc/hosts
}

func (c *ResolveConfig) Clone() *ResolveConfig {
	if c == nil {
		return nil
	}
	hosts := make(map[string]string, len(c.StaticHosts))
	for k, v := range c.StaticHosts {
		hosts[k] = v
	}
	return &ResolveConfig{Network: c.Network, StaticHosts: hosts}
}

// CoreDialer opens TCP streams to an origin and wraps TLS where the
// scheme requires it. The zero value is usable.
type CoreDialer struct {
	ResolveConfig *ResolveConfig
	TLSConfig     *tls.Config // cloned before use; ServerName is always set to the origin host
}

func (d *CoreDialer) Clone() *CoreDialer {
	return &CoreDialer{
		ResolveConfig: d.ResolveConfig.Clone(),
		TLSConfig:     d.TLSConfig.Clone(),
	}
}

var zeroDialer net.Dialer

// Dial opens a stream to origin, finishing before deadline (zero means
// unbounded). TLS origins get SNI, hostname verification and a 1.2 floor.
func (d *CoreDialer) Dial(ctx context.Context, origin proto.Origin, deadline time.Time) (net.Conn, error) {
	network, dst := d.target(origin)

	dialer := zeroDialer
	dialer.Deadline = deadline
	conn, err := dialer.DialContext(ctx, network, dst)
	if err != nil {
		return nil, classifyDialError(err, origin)
	}

	if origin.TLS() {
		config := d.TLSConfig.Clone()
		if config == nil {
			config = &tls.Config{}
		}
		if config.MinVersion < tls.VersionTLS12 {
			config.MinVersion = tls.VersionTLS12
		}
		config.ServerName = origin.Host
		tc := tls.Client(conn, config)
		if !deadline.IsZero() {
			tc.SetDeadline(deadline)
		}
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, classifyTLSError(err, origin)
		}
		if !deadline.IsZero() {
			tc.SetDeadline(time.Time{})
		}
		return tc, nil
	}
	return conn, nil
}

func (d *CoreDialer) target(origin proto.Origin) (network, dst string) {
	network = "tcp"
	host := origin.Host
	if cfg := d.ResolveConfig; cfg != nil {
		if cfg.Network == "ip4" {
			network = "tcp4"
		} else if cfg.Network == "ip6" {
			network = "tcp6"
		}
		if static, ok := cfg.StaticHosts[host]; ok {
			host = static
		}
	}
	return network, net.JoinHostPort(host, strconv.Itoa(origin.Port))
}

func classifyDialError(err error, origin proto.Origin) error {
	op := "dial " + origin.String()
	if isTimeout(err) {
		return errs.Wrap(errs.KindConnectTimeout, op, err)
	}
	return errs.Wrap(errs.KindConnect, op, err)
}

func classifyTLSError(err error, origin proto.Origin) error {
	op := "tls handshake " + origin.String()
	if isTimeout(err) {
		return errs.Wrap(errs.KindConnectTimeout, op, err)
	}
	// certificate, hostname and handshake failures all land here
	return errs.Wrap(errs.KindTLS, op, err)
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}
