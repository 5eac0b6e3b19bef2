/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package didresolver

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/hyperledger/aries-framework-go/pkg/doc/did"

	"github.com/trustbloc/agent-authz/pkg/keycodec"
)

const (
	creatorParts = 2

	invalidFormatErrMsgFmt = "verificationMethod value %s should be in did#keyID format"
)

// GetKeyIDFromVerificationMethod fetches the fragment of a did#keyID verification method.
func GetKeyIDFromVerificationMethod(creator string) (string, error) {
	idSplit := strings.Split(creator, "#")
	if len(idSplit) != creatorParts || idSplit[1] == "" {
		return "", fmt.Errorf(invalidFormatErrMsgFmt, creator)
	}

	return idSplit[1], nil
}

// GetDIDFromVerificationMethod fetches the did of a did#keyID verification method.
func GetDIDFromVerificationMethod(method string) (string, error) {
	idSplit := strings.Split(method, "#")
	if len(idSplit) != creatorParts {
		return "", fmt.Errorf(invalidFormatErrMsgFmt, method)
	}

	didPart := idSplit[0]
	if i := strings.IndexByte(didPart, '?'); i > 0 {
		didPart = didPart[:i]
	}

	id, err := did.Parse(didPart)
	if err != nil {
		return "", fmt.Errorf("failed to parse DID URI [%s]: %w", didPart, err)
	}

	return id.String(), nil
}

// GetVerificationMethodFromDID returns the first verification method found with the given relationship,
// as an absolute did#keyID.
func GetVerificationMethodFromDID(d *did.Doc, rel did.VerificationRelationship) (string, error) {
	methods := d.VerificationMethods(rel)

	if len(methods) == 0 || len(methods[rel]) == 0 {
		return "", fmt.Errorf("did %s does not declare the requested verification method", d.ID)
	}

	method := methods[rel][0].VerificationMethod.ID

	if method == "" {
		return "", fmt.Errorf("did %s has a public key with no id for verification method %d", d.ID, rel)
	}

	return AbsoluteID(d.ID, method), nil
}

// AbsoluteID turns a relative "#frag" or bare "frag" id into did#frag.
func AbsoluteID(didID, id string) string {
	switch {
	case strings.HasPrefix(id, "#"):
		return didID + id
	case !strings.Contains(id, "#") && !strings.HasPrefix(id, "did:"):
		return didID + "#" + id
	default:
		return id
	}
}

// FindVerificationMethod looks up a verification method by absolute or relative id, including
// methods embedded in verification relationships.
func FindVerificationMethod(d *did.Doc, id string) (*did.VerificationMethod, bool) {
	want := AbsoluteID(d.ID, id)

	for i := range d.VerificationMethod {
		if AbsoluteID(d.ID, d.VerificationMethod[i].ID) == want {
			return &d.VerificationMethod[i], true
		}
	}

	for _, rel := range [][]did.Verification{d.Authentication, d.AssertionMethod, d.CapabilityInvocation,
		d.CapabilityDelegation} {
		for i := range rel {
			vm := rel[i].VerificationMethod
			if AbsoluteID(d.ID, vm.ID) == want && (len(vm.Value) > 0 || vm.JSONWebKey() != nil) {
				return &vm, true
			}
		}
	}

	return nil, false
}

// VerificationMethodForKey returns the absolute id of a method holding pub, looking first at the methods
// referenced by rel and then at every method of the document.
func VerificationMethodForKey(d *did.Doc, rel did.VerificationRelationship, pub ed25519.PublicKey) (string, bool) {
	candidates := make([]did.VerificationMethod, 0, len(d.VerificationMethod))

	for _, v := range d.VerificationMethods(rel)[rel] {
		candidates = append(candidates, v.VerificationMethod)
	}

	candidates = append(candidates, d.VerificationMethod...)

	for i := range candidates {
		if HoldsKey(&candidates[i], pub) {
			return AbsoluteID(d.ID, candidates[i].ID), true
		}
	}

	return "", false
}

// HoldsKey reports whether vm carries the ed25519 key pub.
func HoldsKey(vm *did.VerificationMethod, pub ed25519.PublicKey) bool {
	key, err := keycodec.PublicKeyFromVerificationMethod(vm)

	return err == nil && bytes.Equal(key, pub)
}
