/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package keycodec converts ed25519 key material between its compact wire forms and the
// multicodec/multibase forms used by the Ed25519Signature2020 suite.
package keycodec

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hyperledger/aries-framework-go/pkg/doc/did"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-varint"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
)

const (
	// Ed25519PrivMultiCodec is the multicodec code of an ed25519 secret key.
	Ed25519PrivMultiCodec uint64 = 0x1300
	// Ed25519PubMultiCodec is the multicodec code of an ed25519 public key.
	Ed25519PubMultiCodec uint64 = 0xed

	multibasePrefix = 'z'
	hexPrefix       = "0x"
)

// Expand appends the public key derived from a 32-byte seed to the seed, prefixes the 64-byte secret
// with the ed25519-priv multicodec tag and returns it multibase (base58btc) encoded.
func Expand(seed []byte) (string, error) {
	if len(seed) != ed25519.SeedSize {
		return "", authzerr.New(authzerr.KeyFormatError, "seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	pub, ok := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	if !ok || len(pub) != ed25519.PublicKeySize {
		return "", authzerr.New(authzerr.KeyFormatError, "derived public key must be %d bytes", ed25519.PublicKeySize)
	}

	secret := make([]byte, 0, ed25519.PrivateKeySize)
	secret = append(secret, seed...)
	secret = append(secret, pub...)

	encoded, err := multibase.Encode(multibase.Base58BTC, withCodec(Ed25519PrivMultiCodec, secret))
	if err != nil {
		return "", authzerr.Wrap(authzerr.KeyFormatError, err, "encode expanded secret")
	}

	return encoded, nil
}

// DecodeSecret reverses Expand. The tag, length and the public half are all checked.
func DecodeSecret(expanded string) (ed25519.PrivateKey, error) {
	body, err := decodeTagged(expanded, Ed25519PrivMultiCodec)
	if err != nil {
		return nil, err
	}

	if len(body) != ed25519.PrivateKeySize {
		return nil, authzerr.New(authzerr.KeyFormatError, "expanded secret must be %d bytes, got %d",
			ed25519.PrivateKeySize, len(body))
	}

	key := ed25519.NewKeyFromSeed(body[:ed25519.SeedSize])
	if !bytes.Equal(key[ed25519.SeedSize:], body[ed25519.SeedSize:]) {
		return nil, authzerr.New(authzerr.KeyFormatError, "public half does not match seed")
	}

	return key, nil
}

// ParseSeed accepts a hex seed, a hex seed||public pair, hex DER PKCS#8 or an expanded secret
// and returns the signing key.
func ParseSeed(value string) (ed25519.PrivateKey, error) {
	value = strings.TrimSpace(value)

	if value != "" && value[0] == multibasePrefix {
		return DecodeSecret(value)
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(value, hexPrefix))
	if err != nil {
		return nil, authzerr.Wrap(authzerr.KeyFormatError, err, "secret key is neither multibase nor hex")
	}

	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !bytes.Equal(key, raw) {
			return nil, authzerr.New(authzerr.KeyFormatError, "public half does not match seed")
		}

		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(raw)
	if err != nil {
		return nil, authzerr.Wrap(authzerr.KeyFormatError, err, "parse pkcs8 secret key")
	}

	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, authzerr.New(authzerr.KeyFormatError, "pkcs8 key is %T, not ed25519", parsed)
	}

	return key, nil
}

// EncodePublicKey returns the publicKeyMultibase form of an ed25519 public key.
func EncodePublicKey(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", authzerr.New(authzerr.KeyFormatError, "public key must be %d bytes, got %d",
			ed25519.PublicKeySize, len(pub))
	}

	encoded, err := multibase.Encode(multibase.Base58BTC, withCodec(Ed25519PubMultiCodec, pub))
	if err != nil {
		return "", authzerr.Wrap(authzerr.KeyFormatError, err, "encode public key")
	}

	return encoded, nil
}

// ExtractPublicKey recovers the raw 32-byte ed25519 public key from an encoded blob: publicKeyMultibase,
// hex raw key (optionally 0x prefixed) or hex DER SubjectPublicKeyInfo.
func ExtractPublicKey(blob string) (ed25519.PublicKey, error) {
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return nil, authzerr.New(authzerr.KeyFormatError, "empty public key")
	}

	if blob[0] == multibasePrefix {
		body, err := decodeTagged(blob, Ed25519PubMultiCodec)
		if err != nil {
			return nil, err
		}

		return checkPublicKey(body)
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(blob, hexPrefix))
	if err != nil {
		return nil, authzerr.Wrap(authzerr.KeyFormatError, err, "public key is neither multibase nor hex")
	}

	if len(raw) == ed25519.PublicKeySize {
		return raw, nil
	}

	return parseDERPublicKey(raw)
}

// PublicKeyFromVerificationMethod returns the ed25519 key held by a DID document verification method.
func PublicKeyFromVerificationMethod(vm *did.VerificationMethod) (ed25519.PublicKey, error) {
	if vm == nil {
		return nil, authzerr.New(authzerr.KeyFormatError, "verification method is nil")
	}

	switch {
	case len(vm.Value) == ed25519.PublicKeySize:
		return vm.Value, nil
	case len(vm.Value) > 0:
		code, n, err := varint.FromUvarint(vm.Value)
		if err == nil && code == Ed25519PubMultiCodec {
			return checkPublicKey(vm.Value[n:])
		}

		return parseDERPublicKey(vm.Value)
	}

	if jwk := vm.JSONWebKey(); jwk != nil {
		if pub, ok := jwk.Key.(ed25519.PublicKey); ok {
			return checkPublicKey(pub)
		}

		return nil, authzerr.New(authzerr.KeyFormatError, "jwk of %s is not ed25519", vm.ID)
	}

	return nil, authzerr.New(authzerr.KeyFormatError, "verification method %s carries no key", vm.ID)
}

func withCodec(code uint64, body []byte) []byte {
	tag := varint.ToUvarint(code)

	out := make([]byte, 0, len(tag)+len(body))
	out = append(out, tag...)

	return append(out, body...)
}

func decodeTagged(value string, want uint64) ([]byte, error) {
	enc, data, err := multibase.Decode(value)
	if err != nil {
		return nil, authzerr.Wrap(authzerr.KeyFormatError, err, "decode multibase")
	}

	if enc != multibase.Base58BTC {
		return nil, authzerr.New(authzerr.KeyFormatError, "unsupported multibase encoding %q", string(rune(enc)))
	}

	code, n, err := varint.FromUvarint(data)
	if err != nil {
		return nil, authzerr.Wrap(authzerr.KeyFormatError, err, "read multicodec tag")
	}

	if code != want {
		return nil, authzerr.New(authzerr.KeyFormatError, "multicodec tag 0x%x, expected 0x%x", code, want)
	}

	return data[n:], nil
}

func parseDERPublicKey(der []byte) (ed25519.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, authzerr.Wrap(authzerr.KeyFormatError, err, "parse der public key")
	}

	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, authzerr.New(authzerr.KeyFormatError, "der key is %T, not ed25519", parsed)
	}

	return checkPublicKey(pub)
}

func checkPublicKey(pub []byte) (ed25519.PublicKey, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, authzerr.New(authzerr.KeyFormatError, "public key must be %d bytes, got %d",
			ed25519.PublicKeySize, len(pub))
	}

	return ed25519.PublicKey(pub), nil
}

// String returns the multibase form of pub for log and error messages.
func String(pub ed25519.PublicKey) string {
	encoded, err := EncodePublicKey(pub)
	if err != nil {
		return fmt.Sprintf("<invalid key of %d bytes>", len(pub))
	}

	return encoded
}
