/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/hyperledger/aries-framework-go/pkg/doc/did"
	"github.com/multiformats/go-multibase"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
	"github.com/trustbloc/agent-authz/pkg/didresolver"
	"github.com/trustbloc/agent-authz/pkg/keycodec"
)

// DIDResolver resolves the subject of a session.
type DIDResolver interface {
	Resolve(ctx context.Context, didID string) (*did.Doc, error)
}

// authenticate checks that init answers challenge with a signature by one of the subject's
// authentication keys. When a public key is supplied it must be one of them.
func authenticate(ctx context.Context, resolver DIDResolver, challenge string, hello *Message) error {
	if hello.Type != TypeInit {
		return authzerr.New(authzerr.AuthorizationDeniedError, "first message must be of type %s", TypeInit)
	}

	if hello.SubjectDID == "" {
		return authzerr.New(authzerr.AuthorizationDeniedError, "subject DID is required")
	}

	if subtle.ConstantTimeCompare([]byte(hello.Challenge), []byte(challenge)) != 1 {
		return authzerr.New(authzerr.ChallengeMismatchError, "init does not answer the session challenge")
	}

	sig, err := decodeSignature(hello.Signature)
	if err != nil {
		return err
	}

	doc, err := resolver.Resolve(ctx, hello.SubjectDID)
	if err != nil {
		return err
	}

	keys, err := authenticationKeys(doc, hello.PublicKey)
	if err != nil {
		return err
	}

	for _, pub := range keys {
		if ed25519.Verify(pub, []byte(challenge), sig) {
			return nil
		}
	}

	return authzerr.New(authzerr.SignatureInvalidError, "challenge signature does not verify for %s", hello.SubjectDID)
}

func authenticationKeys(doc *did.Doc, publicKey string) ([]ed25519.PublicKey, error) {
	methods := doc.VerificationMethods(did.Authentication)[did.Authentication]

	if publicKey != "" {
		pub, err := keycodec.ExtractPublicKey(publicKey)
		if err != nil {
			return nil, err
		}

		for i := range methods {
			if didresolver.HoldsKey(&methods[i].VerificationMethod, pub) {
				return []ed25519.PublicKey{pub}, nil
			}
		}

		return nil, authzerr.New(authzerr.VerificationMethodNotFound,
			"key %s is not an authentication key of %s", keycodec.String(pub), doc.ID)
	}

	var keys []ed25519.PublicKey

	for i := range methods {
		pub, err := keycodec.PublicKeyFromVerificationMethod(&methods[i].VerificationMethod)
		if err != nil {
			continue
		}

		keys = append(keys, pub)
	}

	if len(keys) == 0 {
		return nil, authzerr.New(authzerr.VerificationMethodNotFound, "%s has no ed25519 authentication key", doc.ID)
	}

	return keys, nil
}

// decodeSignature accepts hex (optionally 0x prefixed) or multibase.
func decodeSignature(value string) ([]byte, error) {
	if raw, err := hex.DecodeString(strings.TrimPrefix(value, "0x")); err == nil && len(raw) == ed25519.SignatureSize {
		return raw, nil
	}

	_, raw, err := multibase.Decode(value)
	if err != nil {
		return nil, authzerr.Wrap(authzerr.KeyFormatError, err, "signature is neither hex nor multibase")
	}

	if len(raw) != ed25519.SignatureSize {
		return nil, authzerr.New(authzerr.KeyFormatError, "signature must be %d bytes, got %d",
			ed25519.SignatureSize, len(raw))
	}

	return raw, nil
}

// SignChallenge returns the multibase signature of challenge used in init.
func SignChallenge(key ed25519.PrivateKey, challenge string) (string, error) {
	sig, err := multibase.Encode(multibase.Base58BTC, ed25519.Sign(key, []byte(challenge)))
	if err != nil {
		return "", authzerr.Wrap(authzerr.KeyFormatError, err, "encode signature")
	}

	return sig, nil
}
