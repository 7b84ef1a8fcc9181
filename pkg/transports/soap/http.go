package soap

import (
	"crypto/sha1" //nolint:gosec // thumbprints are SHA-1 by convention
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// HTTPClient returns a client for the plain HTTPS URLs an endpoint hands out,
// such as guest file transfer tickets. It applies the same certificate
// policy as the SOAP connection.
func HTTPClient(cfg Config) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.DialTimeout > 0 {
		tr.DialContext = (&net.Dialer{Timeout: cfg.DialTimeout}).DialContext
	}

	switch {
	case cfg.Insecure:
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	case cfg.Thumbprint != "":
		want := normalizeThumbprint(cfg.Thumbprint)
		tr.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
			VerifyPeerCertificate: func(raw [][]byte, _ [][]*x509.Certificate) error {
				if len(raw) == 0 {
					return fmt.Errorf("no peer certificate presented")
				}
				cert, err := x509.ParseCertificate(raw[0])
				if err != nil {
					return err
				}
				if got := Thumbprint(cert); got != want {
					return fmt.Errorf("certificate thumbprint %s does not match %s", got, want)
				}
				return nil
			},
		}
	}

	return &http.Client{Transport: tr}
}

// Thumbprint returns the SHA-1 thumbprint of cert in the colon separated
// upper case form vSphere displays.
func Thumbprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

func normalizeThumbprint(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
