package pcrypto

import "hash"

// passwordToKeyRounds is the number of octets of repeated passphrase
// material hashed together, per RFC 3414 appendix A.2.
const passwordToKeyRounds = 1048576

// PasswordToKey implements the RFC 3414 "password to key" algorithm Ku =
// H(repeat(passphrase) to 2^20 octets). newHash constructs the raw digest
// (crypto/md5.New or crypto/sha1.New) to use; it must match the digest
// protocol the resulting key will authenticate with.
func PasswordToKey(newHash func() hash.Hash, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}

	h := newHash()
	var window [64]byte
	passIndex := 0
	for count := 0; count < passwordToKeyRounds; count += 64 {
		for i := 0; i < 64; i++ {
			window[i] = passphrase[passIndex%len(passphrase)]
			passIndex++
		}
		h.Write(window[:])
	}
	return h.Sum(nil), nil
}

// Localize implements RFC 3414 §2.6's localization step: Kul =
// H(Ku || engineID || Ku), turning a user's master key into the key
// localized for a specific authoritative engine.
func Localize(newHash func() hash.Hash, ku, engineID []byte) ([]byte, error) {
	if len(engineID) == 0 {
		return nil, ErrEmptyEngineID
	}
	h := newHash()
	h.Write(ku)
	h.Write(engineID)
	h.Write(ku)
	return h.Sum(nil), nil
}

// DeriveLocalizedKey runs PasswordToKey followed by Localize in one step,
// the common case when bootstrapping a USM user from a configured
// passphrase.
func DeriveLocalizedKey(newHash func() hash.Hash, passphrase, engineID []byte) ([]byte, error) {
	ku, err := PasswordToKey(newHash, passphrase)
	if err != nil {
		return nil, err
	}
	return Localize(newHash, ku, engineID)
}

// RecoverKeyChange implements RFC 3414 §5's key-change recovery: the
// incoming key-change octet string is split into two equal halves,
// "random" and "delta" (delta = newKey XOR H(oldKey || random)); given
// oldKey and the wire value this recovers newKey.
func RecoverKeyChange(newHash func() hash.Hash, oldKey, keyChange []byte) (newKey []byte, err error) {
	half := newHash().Size()
	if len(keyChange) != 2*half {
		return nil, ErrDecryptionError
	}
	random := keyChange[:half]
	delta := keyChange[half:]

	h := newHash()
	h.Write(oldKey)
	h.Write(random)
	digest := h.Sum(nil)

	newKey = make([]byte, half)
	for i := range newKey {
		newKey[i] = digest[i] ^ delta[i]
	}
	return newKey, nil
}

// BuildKeyChange is the inverse of RecoverKeyChange: given oldKey,
// newKey and a caller-supplied random half (which must be the digest
// size for newHash), it produces the wire key-change octet string.
func BuildKeyChange(newHash func() hash.Hash, oldKey, newKey, random []byte) ([]byte, error) {
	half := newHash().Size()
	if len(random) != half || len(newKey) != half {
		return nil, ErrDecryptionError
	}
	h := newHash()
	h.Write(oldKey)
	h.Write(random)
	digest := h.Sum(nil)

	delta := make([]byte, half)
	for i := range delta {
		delta[i] = digest[i] ^ newKey[i]
	}
	out := make([]byte, 0, 2*half)
	out = append(out, random...)
	out = append(out, delta...)
	return out, nil
}
