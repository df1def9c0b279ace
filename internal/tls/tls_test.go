package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_Disabled(t *testing.T) {
	cfg, err := Setup(Config{})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.Error(t, Config{Enabled: true}.Validate())
	assert.Error(t, Config{Enabled: true, CertFile: "a.crt"}.Validate())
	assert.Error(t, Config{Enabled: true, Dir: "x", MinVersion: "1.1"}.Validate())
	assert.NoError(t, Config{Enabled: true, Dir: "x", MinVersion: "1.2", MaxVersion: "tls1.3"}.Validate())
}

func TestSetup_AutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	cfg, err := Setup(Config{
		Enabled:      true,
		Dir:          dir,
		AutoGenerate: true,
		AutoGen:      AutoGenTLS{CommonName: "pdpwatch.local", DNSNames: []string{"pdpwatch.local"}},
	})
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MaxVersion)

	for _, f := range []string{tlsCrt, tlsKey, tlsCaCrt} {
		assert.FileExists(t, filepath.Join(dir, f))
	}
	info, err := os.Stat(filepath.Join(dir, tlsKey))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(filepath.Join(dir, tlsCrt))
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "pdpwatch.local", cert.Subject.CommonName)
	assert.Contains(t, cert.DNSNames, "pdpwatch.local")

	// a second call reuses the existing pair
	_, err = Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)
	raw2, err := os.ReadFile(filepath.Join(dir, tlsCrt))
	require.NoError(t, err)
	assert.Equal(t, raw, raw2)
}

func TestSetup_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := Setup(Config{Enabled: true, Dir: dir})
	assert.Error(t, err, "missing files without auto_generate")

	_, err = Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.3", MaxVersion: "1.2"})
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.crt"), []byte("nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.key"), []byte("nope"), 0o600))
	_, err = Setup(Config{Enabled: true, CertFile: filepath.Join(dir, "bad.crt"), KeyFile: filepath.Join(dir, "bad.key")})
	assert.Error(t, err)
}

func TestSetup_ServesHTTPS(t *testing.T) {
	cfg, err := Setup(Config{Enabled: true, Dir: t.TempDir(), AutoGenerate: true})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
		ReadHeaderTimeout: time.Second,
	}
	go func() { _ = srv.Serve(tls.NewListener(ln, cfg)) }()
	defer func() { _ = srv.Close() }()

	client := &http.Client{Timeout: 5 * time.Second, Transport: &http.Transport{
		// #nosec G402 self-signed test certificate
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}}
	resp, err := client.Get("https://" + ln.Addr().String())
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.NotNil(t, resp.TLS)
	require.NotEmpty(t, resp.TLS.PeerCertificates)
	assert.Equal(t, "localhost", resp.TLS.PeerCertificates[0].Subject.CommonName)
}

func readCert(t *testing.T, dir string) *x509.Certificate {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(dir, tlsCrt))
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}

func TestSetup_AutoGenerateNamesListenHost(t *testing.T) {
	t.Run("ip host", func(t *testing.T) {
		dir := t.TempDir()
		_, err := Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true}.ForListen("10.1.2.3:8443"))
		require.NoError(t, err)
		cert := readCert(t, dir)
		assert.Equal(t, "10.1.2.3", cert.Subject.CommonName)
		assert.NoError(t, cert.VerifyHostname("10.1.2.3"))
		assert.NoError(t, cert.VerifyHostname("127.0.0.1"))
		assert.Equal(t, []string{"localhost"}, cert.DNSNames)
	})

	t.Run("dns host", func(t *testing.T) {
		dir := t.TempDir()
		_, err := Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true}.ForListen("pdp.example.internal:8443"))
		require.NoError(t, err)
		cert := readCert(t, dir)
		assert.Equal(t, "pdp.example.internal", cert.Subject.CommonName)
		assert.NoError(t, cert.VerifyHostname("pdp.example.internal"))
		assert.NoError(t, cert.VerifyHostname("localhost"))
	})

	t.Run("wildcard host", func(t *testing.T) {
		dir := t.TempDir()
		_, err := Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true}.ForListen("0.0.0.0:8443"))
		require.NoError(t, err)
		cert := readCert(t, dir)
		assert.Equal(t, "localhost", cert.Subject.CommonName)
		for _, ip := range cert.IPAddresses {
			assert.False(t, ip.IsUnspecified())
		}
		if name, err := os.Hostname(); err == nil && name != "" {
			assert.Contains(t, cert.DNSNames, name)
		}
	})

	t.Run("explicit names win", func(t *testing.T) {
		dir := t.TempDir()
		_, err := Setup(Config{
			Enabled:      true,
			Dir:          dir,
			AutoGenerate: true,
			AutoGen:      AutoGenTLS{CommonName: "admin", IPAddresses: []string{"192.168.0.9"}},
		}.ForListen("10.1.2.3:8443"))
		require.NoError(t, err)
		cert := readCert(t, dir)
		assert.Equal(t, "admin", cert.Subject.CommonName)
		assert.Empty(t, cert.DNSNames)
		require.Len(t, cert.IPAddresses, 1)
		assert.True(t, cert.IPAddresses[0].Equal(net.ParseIP("192.168.0.9")))
	})
}

func TestSetup_AutoGenerateRejectsBadIP(t *testing.T) {
	_, err := Setup(Config{
		Enabled:      true,
		Dir:          t.TempDir(),
		AutoGenerate: true,
		AutoGen:      AutoGenTLS{IPAddresses: []string{"not-an-ip"}},
	})
	assert.ErrorContains(t, err, "not-an-ip")
}

func TestMintSelfSigned(t *testing.T) {
	now := time.Now()
	pair, err := mintSelfSigned(identity{commonName: "x", organization: "o"}, time.Hour, now)
	require.NoError(t, err)
	_, err = tls.X509KeyPair(pair.cert, pair.key)
	require.NoError(t, err)

	block, _ := pem.Decode(pair.cert)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, x509.ECDSA, cert.PublicKeyAlgorithm)
	assert.True(t, cert.NotBefore.Before(now))
	assert.WithinDuration(t, now.Add(time.Hour), cert.NotAfter, time.Second)
	assert.NotEmpty(t, cert.SubjectKeyId)

	dir := filepath.Join(t.TempDir(), "nested")
	require.NoError(t, pair.install(dir))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temp files left behind")
}
