package credential

import "encoding/json"

// Secret is the plaintext payload sealed inside Credential.SecretCipher:
// whichever of Password/KeyPEM the Credential's transport needs (spec §3 —
// a Credential carries "a username plus either a password or an SSH key").
type Secret struct {
	Password string `json:"password,omitempty"`
	KeyPEM   []byte `json:"key_pem,omitempty"`
}

// MarshalSecret serializes a Secret for vault.Vault.Seal.
func MarshalSecret(s Secret) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSecret parses the plaintext vault.Vault.Open returns.
func UnmarshalSecret(raw []byte) (Secret, error) {
	var s Secret
	err := json.Unmarshal(raw, &s)
	return s, err
}
