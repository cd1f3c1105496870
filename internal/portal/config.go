package portal

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// AuthMode selects where call identity comes from.
type AuthMode string

const (
	// AuthCustom sends the caller's business principal with every call.
	AuthCustom AuthMode = "custom"
	// AuthHost relies on the hosting environment for identity. Calls carry
	// no principal.
	AuthHost AuthMode = "host"
)

// ParseAuthMode accepts "custom", "host" and its alias "windows".
func ParseAuthMode(s string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(AuthCustom):
		return AuthCustom, nil
	case string(AuthHost), "windows":
		return AuthHost, nil
	}
	return "", fmt.Errorf("unknown authentication mode %q", s)
}

// ProxyKind selects how the client reaches the router.
type ProxyKind string

const (
	ProxyLocal ProxyKind = "local"
	ProxyHTTP  ProxyKind = "http"
)

// ParseProxyKind accepts "local" and "http".
func ParseProxyKind(s string) (ProxyKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ProxyLocal):
		return ProxyLocal, nil
	case string(ProxyHTTP):
		return ProxyHTTP, nil
	}
	return "", fmt.Errorf("unknown proxy %q", s)
}

// Config is read on every call and never cached.
type Config interface {
	AuthenticationMode() AuthMode
	ProxyKind() ProxyKind
	Endpoint() string
}

// Configuration keys shared by the viper-backed config and the CLI flags.
const (
	KeyAuthMode      = "auth-mode"
	KeyProxy         = "proxy"
	KeyEndpoint      = "endpoint"
	KeyStorageDriver = "storage-driver"
	KeyStorageDSN    = "storage-dsn"
	KeyListen        = "listen"
	KeyLogLevel      = "log-level"
	KeyLogFormat     = "log-format"
)

// StaticConfig is a fixed configuration. Zero fields take the defaults.
type StaticConfig struct {
	Auth  AuthMode
	Proxy ProxyKind
	URL   string
}

func (c StaticConfig) AuthenticationMode() AuthMode {
	if c.Auth == "" {
		return AuthCustom
	}
	return c.Auth
}

func (c StaticConfig) ProxyKind() ProxyKind {
	if c.Proxy == "" {
		return ProxyLocal
	}
	return c.Proxy
}

func (c StaticConfig) Endpoint() string { return c.URL }

// ViperConfig reads the portal settings from a viper instance at each call,
// so changes to the underlying config source apply to the next call.
// Invalid values fall back to the defaults.
type ViperConfig struct {
	v *viper.Viper
}

// NewViper returns a viper instance with the portal defaults and the
// ENTITYPORTAL_ environment prefix.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ENTITYPORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault(KeyAuthMode, string(AuthCustom))
	v.SetDefault(KeyProxy, string(ProxyLocal))
	v.SetDefault(KeyStorageDriver, "memory")
	v.SetDefault(KeyListen, ":8080")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
	return v
}

// NewViperConfig wraps v.
func NewViperConfig(v *viper.Viper) *ViperConfig {
	return &ViperConfig{v: v}
}

func (c *ViperConfig) AuthenticationMode() AuthMode {
	m, err := ParseAuthMode(c.v.GetString(KeyAuthMode))
	if err != nil {
		return AuthCustom
	}
	return m
}

func (c *ViperConfig) ProxyKind() ProxyKind {
	k, err := ParseProxyKind(c.v.GetString(KeyProxy))
	if err != nil {
		return ProxyLocal
	}
	return k
}

func (c *ViperConfig) Endpoint() string { return c.v.GetString(KeyEndpoint) }

// Validate reports invalid portal settings.
func (c *ViperConfig) Validate() error {
	if _, err := ParseAuthMode(c.v.GetString(KeyAuthMode)); err != nil {
		return err
	}
	k, err := ParseProxyKind(c.v.GetString(KeyProxy))
	if err != nil {
		return err
	}
	if k == ProxyHTTP && c.Endpoint() == "" {
		return fmt.Errorf("%s is required when %s=%s", KeyEndpoint, KeyProxy, ProxyHTTP)
	}
	return nil
}
