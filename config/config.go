// Package config decodes the agent's bootstrap configuration: listen
// transports, default VACM views, initial USM users, and the engine-id
// seed, per SPEC_FULL.md's ambient configuration section. This is
// distinct from package persist's runtime state file: Bootstrap shapes
// how an engine starts; persist.Store is the runtime state file format,
// which neither the engine nor cmd/priotd loads or saves.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Bootstrap is the top-level bootstrap configuration document.
type Bootstrap struct {
	EngineID      string             `yaml:"engineID"`
	Listeners     []Listener         `yaml:"listeners"`
	Users         []User             `yaml:"users"`
	Views         []View             `yaml:"views"`
	Groups        []Group            `yaml:"groups"`
	Access        []Access           `yaml:"access"`
	Contexts      []string           `yaml:"contexts"`
	PersistPath   string             `yaml:"persistPath"`
	CacheSize     int                `yaml:"registryCacheSize"`
	MetricsListen string             `yaml:"metricsListen"`
}

// Listener is one transport binding the engine listens on.
type Listener struct {
	Transport string `yaml:"transport"` // "udp" or "tcp"
	Addr      string `yaml:"addr"`
}

// User is an initial USM user, credentials in cleartext passphrase form
// (localized at load time, never persisted in this form by package
// persist).
type User struct {
	Name          string `yaml:"name"`
	AuthProtocol  string `yaml:"authProtocol"`  // "none", "md5", "sha1"
	AuthPassword  string `yaml:"authPassword"`
	PrivProtocol  string `yaml:"privProtocol"`  // "none", "des", "aes128"
	PrivPassword  string `yaml:"privPassword"`
}

// View is one named view-tree-family entry.
type View struct {
	Name     string `yaml:"name"`
	Subtree  string `yaml:"subtree"` // dotted OID
	Mask     string `yaml:"mask"`    // hex-encoded, e.g. "ff80"
	Included bool   `yaml:"included"`
}

// Group maps a security-model/security-name pair to a group name.
type Group struct {
	SecurityModel int    `yaml:"securityModel"`
	SecurityName  string `yaml:"securityName"`
	GroupName     string `yaml:"groupName"`
}

// Access is one VACM access row.
type Access struct {
	GroupName     string `yaml:"groupName"`
	ContextPrefix string `yaml:"contextPrefix"`
	ContextMatch  string `yaml:"contextMatch"` // "exact" or "prefix"
	SecurityModel int    `yaml:"securityModel"`
	SecurityLevel string `yaml:"securityLevel"` // "noAuthNoPriv", "authNoPriv", "authPriv"
	ReadView      string `yaml:"readView"`
	WriteView     string `yaml:"writeView"`
	NotifyView    string `yaml:"notifyView"`
}

// Load reads and decodes a Bootstrap document from path.
func Load(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var b Bootstrap
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	b.applyDefaults()
	return &b, nil
}

func (b *Bootstrap) applyDefaults() {
	if b.CacheSize == 0 {
		b.CacheSize = 256
	}
	if b.PersistPath == "" {
		b.PersistPath = "priot.state"
	}
	if len(b.Listeners) == 0 {
		b.Listeners = []Listener{{Transport: "udp", Addr: ":161"}}
	}
}
