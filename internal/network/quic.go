package network

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"

	"supernode/internal/debuglog"
	"supernode/internal/node"
)

const quicALPN = "supernode/1"

// Peers are authenticated by the producer handshake, not the certificate.
func ephemeralCert() (tls.Certificate, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}
	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"supernode"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, err := ephemeralCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{quicALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func clientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicALPN},
		MinVersion:         tls.VersionTLS13,
	}
}

func quicConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: node.DefaultHandshakeTimeout,
		MaxIdleTimeout:       KeepAliveIdle + KeepAliveCount*KeepAliveInterval,
		KeepAlivePeriod:      KeepAliveIdle / 4,
	}
}

// quicStream carries one session over a QUIC connection. On the accepting
// side the stream is opened on first use, off the accept loop.
type quicStream struct {
	conn   *quic.Conn
	once   sync.Once
	stream *quic.Stream
	err    error
}

func (s *quicStream) open() (*quic.Stream, error) {
	s.once.Do(func() {
		if s.stream != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), node.DefaultHandshakeTimeout)
		defer cancel()
		s.stream, s.err = s.conn.OpenStreamSync(ctx)
		if s.err != nil {
			debuglog.Debugf("quic open stream failed remote=%s err=%v", s.conn.RemoteAddr(), s.err)
			_ = s.conn.CloseWithError(0, "open stream")
		}
	})
	return s.stream, s.err
}

func (s *quicStream) Read(p []byte) (int, error) {
	st, err := s.open()
	if err != nil {
		return 0, err
	}
	return st.Read(p)
}

func (s *quicStream) Write(p []byte) (int, error) {
	st, err := s.open()
	if err != nil {
		return 0, err
	}
	return st.Write(p)
}

func (s *quicStream) SetReadDeadline(t time.Time) error {
	st, err := s.open()
	if err != nil {
		return err
	}
	return st.SetReadDeadline(t)
}

func (s *quicStream) SetWriteDeadline(t time.Time) error {
	st, err := s.open()
	if err != nil {
		return err
	}
	return st.SetWriteDeadline(t)
}

func (s *quicStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *quicStream) Close() error {
	return s.conn.CloseWithError(0, "")
}

type quicListener struct {
	ln *quic.Listener
}

// ListenQUIC accepts QUIC connections. The server speaks first, so it is
// the side that opens the session stream.
func ListenQUIC(addr string) (Listener, error) {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, err
	}
	return &quicListener{ln: ln}, nil
}

func (l *quicListener) Accept(ctx context.Context) (node.Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &quicStream{conn: conn}, nil
}

func (l *quicListener) Close() error { return l.ln.Close() }

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }

func dialQUIC(ctx context.Context, addr string) (node.Conn, error) {
	conn, err := quic.DialAddr(ctx, addr, clientTLSConfig(), quicConfig())
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "accept stream")
		return nil, err
	}
	return &quicStream{conn: conn, stream: stream}, nil
}
