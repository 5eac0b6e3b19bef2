/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/hyperledger/aries-framework-go/pkg/doc/did"
	vdrapi "github.com/hyperledger/aries-framework-go/pkg/framework/aries/api/vdr"
	mockvdr "github.com/hyperledger/aries-framework-go/pkg/mock/vdr"
	"github.com/stretchr/testify/require"

	"github.com/trustbloc/agent-authz/pkg/didresolver"
)

const (
	// KeyFragment is the fragment of the single key of a test identity.
	KeyFragment = "key-1"

	verificationKeyType = "Ed25519VerificationKey2018"
)

// Identity is a DID with its document and signing key.
type Identity struct {
	DID   string
	KeyID string
	Key   ed25519.PrivateKey
	Doc   *did.Doc
}

// NewIdentity generates a key and a document for didID declaring that key for assertionMethod and
// authentication.
func NewIdentity(t *testing.T, didID string) *Identity {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return &Identity{
		DID:   didID,
		KeyID: didID + "#" + KeyFragment,
		Key:   priv,
		Doc:   NewDIDDoc(didID, pub, did.AssertionMethod, did.Authentication),
	}
}

// NewDIDDoc returns a document with one ed25519 verification method referenced by the given relationships.
func NewDIDDoc(didID string, pub ed25519.PublicKey, rels ...did.VerificationRelationship) *did.Doc {
	vm := did.NewVerificationMethodFromBytes(didID+"#"+KeyFragment, verificationKeyType, didID, pub)

	doc := &did.Doc{
		ID:                 didID,
		VerificationMethod: []did.VerificationMethod{*vm},
	}

	for _, rel := range rels {
		v := did.NewReferencedVerification(vm, rel)

		switch rel { // nolint:exhaustive // only the relationships used by tests
		case did.AssertionMethod:
			doc.AssertionMethod = append(doc.AssertionMethod, *v)
		case did.Authentication:
			doc.Authentication = append(doc.Authentication, *v)
		}
	}

	return doc
}

// VDR is a mock VDR registry over a mutable set of documents.
type VDR struct {
	*mockvdr.MockVDRegistry

	mu    sync.Mutex
	docs  map[string]*did.Doc
	calls map[string]int
}

// NewVDR returns a registry resolving the given documents.
func NewVDR(docs ...*did.Doc) *VDR {
	v := &VDR{docs: map[string]*did.Doc{}, calls: map[string]int{}}

	for _, d := range docs {
		v.docs[d.ID] = d
	}

	v.MockVDRegistry = &mockvdr.MockVDRegistry{
		ResolveFunc: func(didID string, _ ...vdrapi.DIDMethodOption) (*did.DocResolution, error) {
			v.mu.Lock()
			defer v.mu.Unlock()

			v.calls[didID]++

			d, ok := v.docs[didID]
			if !ok {
				return nil, vdrapi.ErrNotFound
			}

			return &did.DocResolution{DIDDocument: d}, nil
		},
	}

	return v
}

// Put adds or replaces a document.
func (v *VDR) Put(doc *did.Doc) {
	v.mu.Lock()
	v.docs[doc.ID] = doc
	v.mu.Unlock()
}

// Calls returns how many times didID was resolved.
func (v *VDR) Calls(didID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.calls[didID]
}

// Resolver returns a DID resolver over the given identities.
func Resolver(ids ...*Identity) (*didresolver.Resolver, *VDR) {
	docs := make([]*did.Doc, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, id.Doc)
	}

	vdr := NewVDR(docs...)

	return didresolver.New(vdr, didresolver.WithMaxRetries(0)), vdr
}
