package pcrypto

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
)

// hmacMD5_96 implements the HMAC-MD5-96 authentication protocol.
type hmacMD5_96 struct{}

// HMACMD5_96 is the shared HMAC-MD5-96 Digest.
var HMACMD5_96 Digest = hmacMD5_96{}

func (hmacMD5_96) Size() int   { return md5.Size }
func (hmacMD5_96) KeyLen() int { return md5.Size }

func (hmacMD5_96) Sum(key, msg []byte) []byte {
	mac := hmac.New(md5.New, key)
	mac.Write(msg)
	return mac.Sum(nil)[:MACLen]
}

// hmacSHA1_96 implements the HMAC-SHA-1-96 authentication protocol.
type hmacSHA1_96 struct{}

// HMACSHA1_96 is the shared HMAC-SHA-1-96 Digest.
var HMACSHA1_96 Digest = hmacSHA1_96{}

func (hmacSHA1_96) Size() int   { return sha1.Size }
func (hmacSHA1_96) KeyLen() int { return sha1.Size }

func (hmacSHA1_96) Sum(key, msg []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(msg)
	return mac.Sum(nil)[:MACLen]
}

// Verify reports whether mac is the truncated digest of msg under key,
// using constant-time comparison.
func Verify(d Digest, key, msg, mac []byte) bool {
	if len(mac) != MACLen {
		return false
	}
	want := d.Sum(key, msg)
	return hmac.Equal(want, mac)
}
