package pcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
)

// cbcDES implements the CBC-DES privacy protocol of RFC 3414 §8.1.1. The
// localized key is 16 octets: the first 8 form the DES key, the last 8
// form the "pre-IV" that gets XORed with the salt to produce the actual
// IV.
type cbcDES struct{}

// CBCDES is the shared CBC-DES Cipher.
var CBCDES Cipher = cbcDES{}

func (cbcDES) KeyLen() int  { return 16 }
func (cbcDES) SaltLen() int { return des.BlockSize }

func (cbcDES) Encrypt(key, plaintext, salt []byte, boots, engineTime uint32) ([]byte, error) {
	if len(key) != 16 {
		return nil, ErrDecryptionError
	}
	if len(plaintext)%des.BlockSize != 0 {
		return nil, ErrDecryptionError
	}
	block, err := des.NewCipher(key[:8])
	if err != nil {
		return nil, err
	}
	iv := xorIV(key[8:16], salt)
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

func (cbcDES) Decrypt(key, ciphertext, salt []byte, boots, engineTime uint32) ([]byte, error) {
	if len(key) != 16 {
		return nil, ErrDecryptionError
	}
	if len(ciphertext) == 0 || len(ciphertext)%des.BlockSize != 0 {
		return nil, ErrDecryptionError
	}
	block, err := des.NewCipher(key[:8])
	if err != nil {
		return nil, ErrDecryptionError
	}
	iv := xorIV(key[8:16], salt)
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

func xorIV(preIV, salt []byte) []byte {
	iv := make([]byte, len(preIV))
	for i := range iv {
		iv[i] = preIV[i] ^ salt[i]
	}
	return iv
}

// cfbAES128 implements the CFB-AES-128 privacy protocol of RFC 3826. The
// IV is formed from engine-boots || engine-time || salt, 16 octets total,
// and the cipher runs in CFB stream mode so plaintext of arbitrary length
// is supported without padding.
type cfbAES128 struct{}

// CFBAES128 is the shared CFB-AES-128 Cipher.
var CFBAES128 Cipher = cfbAES128{}

func (cfbAES128) KeyLen() int  { return 16 }
func (cfbAES128) SaltLen() int { return 8 }

func (cfbAES128) Encrypt(key, plaintext, salt []byte, boots, engineTime uint32) ([]byte, error) {
	if len(key) != 16 {
		return nil, ErrDecryptionError
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := aesIV(boots, engineTime, salt)
	out := make([]byte, len(plaintext))
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(out, plaintext)
	return out, nil
}

func (cfbAES128) Decrypt(key, ciphertext, salt []byte, boots, engineTime uint32) ([]byte, error) {
	if len(key) != 16 {
		return nil, ErrDecryptionError
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrDecryptionError
	}
	iv := aesIV(boots, engineTime, salt)
	out := make([]byte, len(ciphertext))
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(out, ciphertext)
	return out, nil
}

func aesIV(boots, engineTime uint32, salt []byte) []byte {
	iv := make([]byte, 16)
	iv[0] = byte(boots >> 24)
	iv[1] = byte(boots >> 16)
	iv[2] = byte(boots >> 8)
	iv[3] = byte(boots)
	iv[4] = byte(engineTime >> 24)
	iv[5] = byte(engineTime >> 16)
	iv[6] = byte(engineTime >> 8)
	iv[7] = byte(engineTime)
	copy(iv[8:], salt)
	return iv
}
