/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ld serves the JSON-LD contexts used by credentials and presentations from memory and
// canonicalizes documents for signing.
package ld

import (
	"bytes"
	_ "embed" //nolint:gci // required for go:embed
	"fmt"
	"sort"
	"sync"

	"github.com/piprate/json-gold/ld"
	"github.com/trustbloc/edge-core/pkg/log"
)

var logger = log.New("agent-authz/ld")

// Known context IRIs.
const (
	Ed25519Signature2020Context = "https://w3id.org/security/suites/ed25519-2020/v1"
	CredentialsV1Context        = "https://www.w3.org/2018/credentials/v1"
	CredentialsV2Context        = "https://www.w3.org/ns/credentials/v2"
	AgentPermissionsContext     = "https://helixid.io/contexts/agent-permissions/v1"
)

// nolint:gochecknoglobals //embedded contexts
var (
	//go:embed contexts/ed25519-2020-v1.jsonld
	ed25519Signature2020Vocab []byte
	//go:embed contexts/credentials-v1.jsonld
	credentialsV1Vocab []byte
	//go:embed contexts/credentials-v2.jsonld
	credentialsV2Vocab []byte
	//go:embed contexts/agent-permissions-v1.jsonld
	agentPermissionsV1Vocab []byte
)

// ContextDocument is a JSON-LD context served from memory.
type ContextDocument struct {
	URL         string
	DocumentURL string
	Content     []byte
}

var embedContexts = []ContextDocument{ //nolint:gochecknoglobals
	{
		URL:     Ed25519Signature2020Context,
		Content: ed25519Signature2020Vocab,
	},
	{
		URL:     CredentialsV1Context,
		Content: credentialsV1Vocab,
	},
	{
		URL:     CredentialsV2Context,
		Content: credentialsV2Vocab,
	},
	{
		URL:     AgentPermissionsContext,
		Content: agentPermissionsV1Vocab,
	},
}

// Registry is a fixed set of context documents keyed by IRI. It is a json-gold document loader;
// IRIs it does not know go to the fallback loader, if one is configured.
type Registry struct {
	documents map[string]ContextDocument
	fallback  ld.DocumentLoader

	mu     sync.RWMutex
	parsed map[string]interface{}
}

// Option configures the Registry.
type Option func(r *Registry)

// WithFallback sets the loader used for IRIs not held by the registry.
func WithFallback(loader ld.DocumentLoader) Option {
	return func(r *Registry) {
		r.fallback = loader
	}
}

// WithExtraContexts adds context documents next to the embedded ones.
func WithExtraContexts(docs ...ContextDocument) Option {
	return func(r *Registry) {
		for _, d := range docs {
			r.documents[d.URL] = d
		}
	}
}

// NewRegistry returns a registry holding the embedded contexts.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		documents: make(map[string]ContextDocument, len(embedContexts)),
		parsed:    make(map[string]interface{}),
	}

	for _, d := range embedContexts {
		r.documents[d.URL] = d
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ResolveContext returns the parsed document for iri, or false when the registry does not hold it.
// The returned document is shared and must not be modified.
func (r *Registry) ResolveContext(iri string) (map[string]interface{}, bool) {
	doc, err := r.load(iri)
	if err != nil {
		if _, known := r.documents[iri]; known {
			logger.Errorf("embedded context %s is invalid: %s", iri, err)
		}

		return nil, false
	}

	m, ok := doc.(map[string]interface{})

	return m, ok
}

// LoadDocument implements ld.DocumentLoader.
func (r *Registry) LoadDocument(u string) (*ld.RemoteDocument, error) {
	doc, err := r.load(u)
	if err == nil {
		documentURL := u
		if d := r.documents[u]; d.DocumentURL != "" {
			documentURL = d.DocumentURL
		}

		return &ld.RemoteDocument{DocumentURL: documentURL, Document: doc}, nil
	}

	if _, known := r.documents[u]; known || r.fallback == nil {
		return nil, ld.NewJsonLdError(ld.LoadingDocumentFailed, fmt.Sprintf("context %s: %s", u, err))
	}

	logger.Debugf("context %s not embedded, using fallback loader", u)

	return r.fallback.LoadDocument(u) // nolint:wrapcheck // json-gold error
}

// Invalidate drops every parsed document; they are parsed again on next use.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.parsed = make(map[string]interface{})
	r.mu.Unlock()
}

// URLs lists the IRIs held by the registry.
func (r *Registry) URLs() []string {
	urls := make([]string, 0, len(r.documents))
	for u := range r.documents {
		urls = append(urls, u)
	}

	sort.Strings(urls)

	return urls
}

func (r *Registry) load(iri string) (interface{}, error) {
	r.mu.RLock()
	doc, ok := r.parsed[iri]
	r.mu.RUnlock()

	if ok {
		return doc, nil
	}

	d, known := r.documents[iri]
	if !known {
		return nil, fmt.Errorf("context %s is not registered", iri)
	}

	doc, err := ld.DocumentFromReader(bytes.NewReader(d.Content))
	if err != nil {
		return nil, fmt.Errorf("parse context %s: %w", iri, err)
	}

	r.mu.Lock()
	r.parsed[iri] = doc
	r.mu.Unlock()

	return doc, nil
}
