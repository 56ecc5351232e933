// Package usm implements the user-based security model's user table,
// engine clock bookkeeping and failure counters, per spec.md §4.3 and
// §3's "USM user" entry. Authentication/privacy wire processing lives in
// package mp, which consults Table and Clock but owns no state of its
// own.
package usm

import (
	"crypto/md5"
	"crypto/sha1"
	"errors"
	"hash"
	"sync"

	"github.com/duniansampa/priot/pcrypto"
	"github.com/duniansampa/priot/rowstatus"
)

// AuthProtocol names a USM authentication protocol.
type AuthProtocol int

const (
	AuthNone AuthProtocol = iota
	AuthMD5
	AuthSHA1
)

// Digest returns the pcrypto.Digest for p, or nil for AuthNone.
func (p AuthProtocol) Digest() pcrypto.Digest {
	switch p {
	case AuthMD5:
		return pcrypto.HMACMD5_96
	case AuthSHA1:
		return pcrypto.HMACSHA1_96
	default:
		return nil
	}
}

func (p AuthProtocol) hashFunc() func() hash.Hash {
	switch p {
	case AuthMD5:
		return md5.New
	case AuthSHA1:
		return sha1.New
	default:
		return nil
	}
}

// PrivProtocol names a USM privacy protocol.
type PrivProtocol int

const (
	PrivNone PrivProtocol = iota
	PrivDES
	PrivAES128
)

// Cipher returns the pcrypto.Cipher for p, or nil for PrivNone.
func (p PrivProtocol) Cipher() pcrypto.Cipher {
	switch p {
	case PrivDES:
		return pcrypto.CBCDES
	case PrivAES128:
		return pcrypto.CFBAES128
	default:
		return nil
	}
}

// User is the USM user entry of spec.md §3: keyed by (engine-id,
// user-name), holding localized key material only — raw passphrases are
// never retained past key derivation.
type User struct {
	EngineID string
	Name     string

	AuthProtocol AuthProtocol
	AuthKey      []byte // localized

	PrivProtocol PrivProtocol
	PrivKey      []byte // localized

	CloneFrom   string // user-name this row was cloned from, if any
	StorageType StorageType
	Row         *rowstatus.Row
}

// StorageType mirrors the SNMPv2 textual convention the same way rows do.
type StorageType int

const (
	StorageOther StorageType = iota
	StorageVolatile
	StorageNonVolatile
	StorageReadOnly
	StoragePermanent
)

// NewUser derives a user's localized keys from passphrases and returns a
// row in the notReady state, ready for Row.Set(Active, true) once storage
// is confirmed.
func NewUser(engineID, name string, authProto AuthProtocol, authPass string, privProto PrivProtocol, privPass string) (*User, error) {
	u := &User{
		EngineID:     engineID,
		Name:         name,
		AuthProtocol: authProto,
		PrivProtocol: privProto,
		StorageType:  StorageNonVolatile,
		Row:          rowstatus.NewRow(),
	}

	if authProto != AuthNone {
		key, err := pcrypto.DeriveLocalizedKey(authProto.hashFunc(), []byte(authPass), []byte(engineID))
		if err != nil {
			return nil, err
		}
		u.AuthKey = key
	}
	if privProto != PrivNone {
		if authProto == AuthNone {
			return nil, ErrPrivWithoutAuth
		}
		key, err := pcrypto.DeriveLocalizedKey(authProto.hashFunc(), []byte(privPass), []byte(engineID))
		if err != nil {
			return nil, err
		}
		// Privacy keys are truncated/expanded to the cipher's own key
		// length; MD5 and SHA-1 digest sizes (16, 20) already cover the
		// 16-octet keys CBC-DES and CFB-AES-128 need.
		c := privProto.Cipher()
		if len(key) < c.KeyLen() {
			return nil, ErrShortKey
		}
		u.PrivKey = key[:c.KeyLen()]
	}

	return u, nil
}

// Errors surfaced by user construction and lookup.
var (
	ErrPrivWithoutAuth = errors.New("usm: privacy requires authentication")
	ErrShortKey        = errors.New("usm: derived key shorter than cipher requires")
	ErrUnknownUser     = errors.New("usm: unknown (engine-id, user-name)")
)

type userKey struct {
	engineID string
	name     string
}

// Table is the USM user store, a sync.Map-backed structure in the style
// of the teacher's track.Head — concurrent lookups are lock-free, writes
// are rare (configuration or management SETs) and serialize naturally via
// sync.Map's own semantics.
type Table struct {
	entries sync.Map // userKey -> *User
}

// NewTable returns an empty user table.
func NewTable() *Table { return &Table{} }

// Put inserts or replaces a user row.
func (t *Table) Put(u *User) {
	t.entries.Store(userKey{u.EngineID, u.Name}, u)
}

// Get looks up a user by (engineID, name). Rows in a transient state are
// still returned — callers doing authorization must check
// Row.UsableForAuthorization themselves, per spec.md §5.
func (t *Table) Get(engineID, name string) (*User, bool) {
	v, ok := t.entries.Load(userKey{engineID, name})
	if !ok {
		return nil, false
	}
	return v.(*User), true
}

// Delete removes a user row outright (used once its RowStatus reaches
// Destroy and the agent reaps it).
func (t *Table) Delete(engineID, name string) {
	t.entries.Delete(userKey{engineID, name})
}

// Range iterates all user rows in unspecified order.
func (t *Table) Range(fn func(u *User) bool) {
	t.entries.Range(func(_, v any) bool {
		return fn(v.(*User))
	})
}
