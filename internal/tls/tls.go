package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// Config enables HTTPS on the admin API. Explicit CertFile/KeyFile win over
// Dir; with AutoGenerate a self-signed pair is written to Dir when missing.
type Config struct {
	Enabled      bool       `mapstructure:"enabled"`
	CertFile     string     `mapstructure:"cert_file"`
	KeyFile      string     `mapstructure:"key_file"`
	Dir          string     `mapstructure:"dir"`
	AutoGenerate bool       `mapstructure:"auto_generate"`
	MinVersion   string     `mapstructure:"min_version"` // "1.2" or "1.3"
	MaxVersion   string     `mapstructure:"max_version"`
	AutoGen      AutoGenTLS `mapstructure:"auto_gen"`

	listen string
}

// ForListen returns a copy of c whose generated certificate names the host
// the admin API listens on.
func (c Config) ForListen(addr string) Config {
	c.listen = addr
	return c
}

// AutoGenTLS tunes generated certificates.
type AutoGenTLS struct {
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

// Validate checks the settings that can be checked without touching disk.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("tls: cert_file and key_file must be set together")
	}
	if c.CertFile == "" && c.Dir == "" {
		return errors.New("tls: enabled but neither cert_file/key_file nor dir is set")
	}
	for _, v := range []string{c.MinVersion, c.MaxVersion} {
		if _, ok := parseTLSVersion(v); !ok {
			return fmt.Errorf("tls: unsupported version %q", v)
		}
	}
	return nil
}

// parseTLSVersion maps a version string to its constant. The empty string
// is accepted and yields 0.
func parseTLSVersion(ver string) (uint16, bool) {
	switch strings.ToLower(ver) {
	case "", "default":
		return 0, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	default:
		return 0, false
	}
}

// safeReadFile reads file content safely within base directory
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// getCertificationFunc reloads the pair on every handshake so renewed
// certificates are picked up without a restart.
func getCertificationFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		readCert, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		readKey, err := safeReadFile(baseDir, keyFile)
		if err != nil {
			return nil, err
		}
		certificate, err := tls.X509KeyPair(readCert, readKey)
		return &certificate, err
	}
}

// Setup returns the server TLS configuration, or nil when TLS is disabled.
func Setup(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	minVer, _ := parseTLSVersion(cfg.MinVersion)
	maxVer, _ := parseTLSVersion(cfg.MaxVersion)
	if minVer == 0 {
		minVer = tls.VersionTLS12
	}
	if maxVer == 0 {
		maxVer = tls.VersionTLS13
	}
	if minVer > maxVer {
		return nil, fmt.Errorf("tls: min_version %s is above max_version %s", cfg.MinVersion, cfg.MaxVersion)
	}

	certPath, keyPath := cfg.CertFile, cfg.KeyFile
	if certPath == "" {
		certPath = filepath.Join(cfg.Dir, tlsCrt)
		keyPath = filepath.Join(cfg.Dir, tlsKey)
		if cfg.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generateCertificate(cfg); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	if !certificatesExist(certPath, keyPath) {
		return nil, fmt.Errorf("tls: certificate %s or key %s not found", certPath, keyPath)
	}
	if _, err := getCertificationFunc(certPath, keyPath)(nil); err != nil {
		return nil, fmt.Errorf("tls: load key pair: %w", err)
	}

	// #nosec G402 min version is 1.2 unless configured higher
	return &tls.Config{
		GetCertificate: getCertificationFunc(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

// identityFor fills the unset parts of autoGen from the admin listen
// address. A concrete host becomes the common name and joins the loopback
// SANs; a wildcard host adds the machine hostname instead.
func identityFor(autoGen AutoGenTLS, listen string) (identity, error) {
	id := identity{
		commonName:   autoGen.CommonName,
		organization: autoGen.Organization,
		dnsNames:     append([]string(nil), autoGen.DNSNames...),
	}
	if id.organization == "" {
		id.organization = "pdpwatch"
	}
	for _, s := range autoGen.IPAddresses {
		ip := net.ParseIP(s)
		if ip == nil {
			return identity{}, fmt.Errorf("tls: auto_gen ip_addresses: %q is not an IP", s)
		}
		id.ips = append(id.ips, ip)
	}
	explicit := len(id.dnsNames) > 0 || len(id.ips) > 0

	host := listen
	if h, _, err := net.SplitHostPort(listen); err == nil {
		host = h
	}
	hostIP := net.ParseIP(host)
	wildcard := host == "" || (hostIP != nil && hostIP.IsUnspecified())

	if !explicit {
		id.dnsNames = []string{"localhost"}
		id.ips = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
		switch {
		case wildcard && listen != "":
			if name, err := os.Hostname(); err == nil && name != "" {
				id.dnsNames = appendName(id.dnsNames, name)
			}
		case hostIP != nil:
			id.ips = appendIP(id.ips, hostIP)
		case !wildcard:
			id.dnsNames = appendName(id.dnsNames, host)
		}
	}
	if id.commonName == "" {
		id.commonName = "localhost"
		if !wildcard {
			id.commonName = host
		}
	}
	return id, nil
}

func appendName(names []string, name string) []string {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return names
		}
	}
	return append(names, name)
}

func appendIP(ips []net.IP, ip net.IP) []net.IP {
	for _, existing := range ips {
		if existing.Equal(ip) {
			return ips
		}
	}
	return append(ips, ip)
}

func generateCertificate(cfg Config) error {
	id, err := identityFor(cfg.AutoGen, cfg.listen)
	if err != nil {
		return err
	}
	validDays := cfg.AutoGen.ValidDays
	if validDays <= 0 {
		validDays = 365
	}
	pair, err := mintSelfSigned(id, time.Duration(validDays)*24*time.Hour, time.Now())
	if err != nil {
		return err
	}
	return pair.install(cfg.Dir)
}
