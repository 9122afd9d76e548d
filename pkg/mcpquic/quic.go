// Package mcpquic carries MCP JSON-RPC over a single bidirectional QUIC
// stream. A client opens the stream, sends the 4-byte preamble and then
// exchanges newline-delimited JSON messages.
package mcpquic

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	ALPN             = "onboard-mcp-v1"
	Preamble         = "CRM1"
	MaxMessageSize   = 8 << 20
	HandshakeTimeout = 10 * time.Second
	IdleTimeout      = 5 * time.Minute
	KeepAlive        = 30 * time.Second
)

// Stream and connection error codes.
const (
	streamErrPreamble quic.StreamErrorCode      = 0x02
	connErrNone       quic.ApplicationErrorCode = 0x00
	ConnErrALPN       quic.ApplicationErrorCode = 0x01
	connErrProtocol   quic.ApplicationErrorCode = 0x03
)

var (
	ErrPreamble = errors.New("invalid stream preamble")
	ErrALPN     = errors.New("peer did not negotiate " + ALPN)
	ErrNotReady = errors.New("client not connected")
)

// QUICConfig returns the transport settings shared by listeners and clients.
func QUICConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout:       HandshakeTimeout,
		MaxStreamReceiveWindow:     MaxMessageSize,
		MaxConnectionReceiveWindow: 4 * MaxMessageSize,
		MaxIdleTimeout:             IdleTimeout,
		KeepAlivePeriod:            KeepAlive,
	}
}

// LoadTLSConfig reads a certificate pair and advertises protos (ALPN when empty).
func LoadTLSConfig(certFile, keyFile string, protos ...string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return serverTLS(cert, protos), nil
}

// SelfSignedTLSConfig generates an ECDSA P-256 certificate for localhost,
// valid for a year, and advertises protos (ALPN when empty). For development.
func SelfSignedTLSConfig(protos ...string) (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"Onboarding CRM Dev"}, CommonName: "localhost"},
		NotBefore:             now,
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	return serverTLS(tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, protos), nil
}

func serverTLS(cert tls.Certificate, protos []string) *tls.Config {
	if len(protos) == 0 {
		protos = []string{ALPN}
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		NextProtos:   protos,
	}
}

// ClientTLSConfig negotiates ALPN; insecure skips certificate checks.
func ClientTLSConfig(insecure bool) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{ALPN},
		InsecureSkipVerify: insecure,
	}
}

func readPreamble(r io.Reader) error {
	buf := make([]byte, len(Preamble))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("read preamble: %w", err)
	}
	if !bytes.Equal(buf, []byte(Preamble)) {
		return fmt.Errorf("%w: got %q", ErrPreamble, buf)
	}
	return nil
}

func writePreamble(w io.Writer) error {
	if _, err := io.WriteString(w, Preamble); err != nil {
		return fmt.Errorf("write preamble: %w", err)
	}
	return nil
}
