// Package signature provides helper functions for handling the blockchain
// signature and address needs.
package signature

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160"
)

// addressVersion is the version byte prepended to the public key hash
// before the Base58Check encoding.
const addressVersion byte = 0x00

// addressHashLen is the length of the RIPEMD160 public key hash inside
// an address.
const addressHashLen = 20

// ZeroHash represents a hash code of zeros.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// =============================================================================

// Hash returns the hex encoded SHA256 hash for the value. The value is
// marshaled to JSON first, which gives a deterministic byte encoding since
// map keys are marshaled in sorted order.
func Hash(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return ZeroHash
	}

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Sign signs the value with the specified private key and returns the hex
// encoded signature.
func Sign(value any, privateKey *ecdsa.PrivateKey) (string, error) {
	digest, err := digest(value)
	if err != nil {
		return "", err
	}

	sig, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(sig), nil
}

// Verify checks the signature was produced over the value by the private
// key matching the specified hex encoded public key.
func Verify(value any, sigHex string, publicKeyHex string) error {
	digest, err := digest(value)
	if err != nil {
		return err
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("decoding signature: %w", err)
	}
	if len(sig) < 64 {
		return errors.New("signature is too short")
	}

	publicKey, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return fmt.Errorf("decoding public key: %w", err)
	}

	if !crypto.VerifySignature(publicKey, digest, sig[:64]) {
		return errors.New("signature does not verify")
	}

	return nil
}

// =============================================================================

// PublicKeyString returns the hex encoding of the uncompressed public key.
func PublicKeyString(publicKey *ecdsa.PublicKey) string {
	return hex.EncodeToString(crypto.FromECDSAPub(publicKey))
}

// DeriveAddress converts a hex encoded public key into the Base58Check
// address that owns it: version byte + RIPEMD160(SHA256(pubkey)) + checksum.
func DeriveAddress(publicKeyHex string) (string, error) {
	publicKey, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return "", fmt.Errorf("decoding public key: %w", err)
	}

	sha := sha256.Sum256(publicKey)

	rip := ripemd160.New()
	if _, err := rip.Write(sha[:]); err != nil {
		return "", err
	}

	return base58.CheckEncode(rip.Sum(nil), addressVersion), nil
}

// ValidateAddress checks the address is a well formed Base58Check value
// with the expected version and payload length.
func ValidateAddress(address string) error {
	payload, version, err := base58.CheckDecode(address)
	if err != nil {
		return fmt.Errorf("decoding address: %w", err)
	}

	if version != addressVersion {
		return fmt.Errorf("unknown address version 0x%02x", version)
	}

	if len(payload) != addressHashLen {
		return fmt.Errorf("address payload is %d bytes, expected %d", len(payload), addressHashLen)
	}

	return nil
}

// =============================================================================

// digest produces the 32 byte digest to sign: the SHA256 hash of the JSON
// encoding of the value.
func digest(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(data)
	return hash[:], nil
}
