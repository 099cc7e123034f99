// Package vault implements C9, the Secret Vault: authenticated encryption
// of credential secrets with rotatable keys. Sealing uses AES-256-GCM, the
// same construction the project has always used for at-rest secrets, now
// generalized from file-oriented encryption to byte-oriented seal/open over
// an explicit key rather than a password-derived one, since an Encryption
// Key is a first-class catalog row (spec §3, §4.8).
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"sync"

	"github.com/netraven/core/errs"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Key is a symmetric key identified by id. Plaintext key material is held
// only in memory; Encryption Key rows in the catalog never store it.
type Key struct {
	ID     string
	Secret [KeySize]byte
}

// DeriveKey derives a Key's secret bytes from an operator-supplied salt and
// an id, via SHA-256, the same derivation EncryptFile/DecryptFile used for
// password-derived keys. It gives ENCRYPTION_SALT (spec §6) a concrete use:
// seeding the very first active key at bootstrap.
func DeriveKey(id, salt string) Key {
	return Key{ID: id, Secret: sha256.Sum256([]byte(salt + ":" + id))}
}

// Vault seals and opens ciphertext under a rotatable set of keys. At most
// one key is active; retired keys remain available for Open so historical
// ciphertexts keep decrypting (spec §4.8 invariant).
type Vault struct {
	mu     sync.RWMutex
	active string
	keys   map[string]Key
}

// New creates an empty Vault. Callers must AddKey at least once and
// Activate a key before Seal will succeed.
func New() *Vault {
	return &Vault{keys: make(map[string]Key)}
}

// AddKey registers a key as available for Open, without making it active.
func (v *Vault) AddKey(k Key) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[k.ID] = k
}

// Activate marks an already-registered key as the active sealing key.
func (v *Vault) Activate(keyID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.keys[keyID]; !ok {
		return errs.New(errs.NotFound, "key not registered: "+keyID)
	}
	v.active = keyID
	return nil
}

// ActiveKeyID returns the id of the currently active key.
func (v *Vault) ActiveKeyID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.active
}

// Seal encrypts plaintext under the active key, returning the sealing key
// id and a nonce-prepended ciphertext blob.
func (v *Vault) Seal(plaintext []byte) (keyID string, ciphertext []byte, err error) {
	v.mu.RLock()
	active := v.active
	key, ok := v.keys[active]
	v.mu.RUnlock()
	if active == "" || !ok {
		return "", nil, errs.New(errs.VaultError, "no active encryption key")
	}

	ct, err := sealWith(key, plaintext)
	if err != nil {
		return "", nil, errs.Wrap(errs.VaultError, err, "seal failed")
	}
	return active, ct, nil
}

// Open decrypts ciphertext that was sealed under keyID.
func (v *Vault) Open(keyID string, ciphertext []byte) ([]byte, error) {
	v.mu.RLock()
	key, ok := v.keys[keyID]
	v.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.VaultError, "unknown encryption key: "+keyID)
	}
	pt, err := openWith(key, ciphertext)
	if err != nil {
		return nil, errs.Wrap(errs.VaultError, err, "open failed")
	}
	return pt, nil
}

// RetireKey removes a key from the vault. The caller (catalog) is
// responsible for verifying no ciphertext still references it, per the
// invariant in spec §4.8.
func (v *Vault) RetireKey(keyID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active == keyID {
		return // never retire the active key out from under itself
	}
	delete(v.keys, keyID)
}

// HasKey reports whether a key id is currently registered.
func (v *Vault) HasKey(keyID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.keys[keyID]
	return ok
}

func sealWith(key Key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key.Secret[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func openWith(key Key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key.Secret[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errs.New(errs.VaultError, "ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, ct, nil)
}
