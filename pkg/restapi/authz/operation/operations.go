/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operation

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hyperledger/aries-framework-go/pkg/vdr/fingerprint"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
	"github.com/trustbloc/agent-authz/pkg/internal/common/support"
	"github.com/trustbloc/agent-authz/pkg/keycodec"
	commhttp "github.com/trustbloc/agent-authz/pkg/restapi/internal/common/http"
	"github.com/trustbloc/agent-authz/pkg/store"
	"github.com/trustbloc/agent-authz/pkg/vc"
	"github.com/trustbloc/agent-authz/pkg/vc/issuer"
	"github.com/trustbloc/agent-authz/pkg/vc/verifier"
)

var logger = log.New("agent-authz/restapi/authz")

const (
	// API endpoints
	agentsEndpoint           = "/agents"
	agentEndpoint            = agentsEndpoint + "/{id}"
	agentCredentialsEndpoint = agentEndpoint + "/credentials"
	credentialsEndpoint      = "/credentials"
	credentialEndpoint       = credentialsEndpoint + "/{id}"
	revokeEndpoint           = credentialEndpoint + "/revoke"
	challengesEndpoint       = "/challenges"
	presentationsEndpoint    = "/presentations"
	verifyPresentation       = "/verify/presentation"
	verifyCredential         = "/verify/credential"
	activityEndpoint         = "/activity"

	// http params
	idPathParam     = "id"
	limitQueryParam = "limit"

	invalidRequestErrMsg = "invalid request"

	hoursPerDay = 24
)

// Handler http handler for each controller API endpoint.
type Handler interface {
	Path() string
	Method() string
	Handle() http.HandlerFunc
}

// CredentialIssuer signs agent credentials.
type CredentialIssuer interface {
	Issue(ctx context.Context, issuerDID string, issuerKey ed25519.PrivateKey, holderDID string,
		claims *issuer.Claims) (*vc.Credential, error)
}

// PresentationBuilder builds signed presentations.
type PresentationBuilder interface {
	Present(ctx context.Context, credentials []*vc.Credential, holderDID string, holderKey ed25519.PrivateKey,
		challenge, domain string) (*vc.Presentation, error)
}

// Verifier verifies credentials and presentations.
type Verifier interface {
	VerifyPresentationJSON(ctx context.Context, raw []byte, expectedChallenge, expectedDomain string) *verifier.Result
	VerifyCredentialJSON(ctx context.Context, raw []byte) *verifier.Result
}

// Config defines configuration for authz operations.
type Config struct {
	Issuer       CredentialIssuer
	IssuerDID    string
	IssuerKey    ed25519.PrivateKey
	Builder      PresentationBuilder
	Verifier     Verifier
	Credentials  *store.CredentialStore
	Agents       *store.AgentRegistry
	Activity     *store.ActivityLog
	ChallengeTTL time.Duration
	// Clock drives challenge expiry.
	Clock gcache.Clock
}

// Operation defines handlers for authz operations.
type Operation struct {
	issuer      CredentialIssuer
	issuerDID   string
	issuerKey   ed25519.PrivateKey
	builder     PresentationBuilder
	verifier    Verifier
	credentials *store.CredentialStore
	agents      *store.AgentRegistry
	activity    *store.ActivityLog
	challenges  *challenges
	now         func() time.Time
}

// New returns authz rest instance.
func New(config *Config) (*Operation, error) {
	if config.Credentials == nil || config.Agents == nil || config.Activity == nil {
		return nil, errors.New("credential store, agent registry and activity log are mandatory")
	}

	if config.Verifier == nil || config.Builder == nil {
		return nil, errors.New("verifier and presentation builder are mandatory")
	}

	return &Operation{
		issuer:      config.Issuer,
		issuerDID:   config.IssuerDID,
		issuerKey:   config.IssuerKey,
		builder:     config.Builder,
		verifier:    config.Verifier,
		credentials: config.Credentials,
		agents:      config.Agents,
		activity:    config.Activity,
		challenges:  newChallenges(config.ChallengeTTL, config.Clock),
		now:         time.Now,
	}, nil
}

// GetRESTHandlers get all controller API handler available for this service.
func (o *Operation) GetRESTHandlers() []Handler {
	return []Handler{
		// agents
		support.NewHTTPHandler(agentsEndpoint, http.MethodPost, o.onboardAgentHandler),
		support.NewHTTPHandler(agentsEndpoint, http.MethodGet, o.listAgentsHandler),
		support.NewHTTPHandler(agentEndpoint, http.MethodGet, o.getAgentHandler),
		support.NewHTTPHandler(agentCredentialsEndpoint, http.MethodGet, o.listAgentCredentialsHandler),

		// credentials
		support.NewHTTPHandler(credentialsEndpoint, http.MethodPost, o.issueCredentialHandler),
		support.NewHTTPHandler(credentialsEndpoint, http.MethodGet, o.listCredentialsHandler),
		support.NewHTTPHandler(credentialEndpoint, http.MethodGet, o.getCredentialHandler),
		support.NewHTTPHandler(revokeEndpoint, http.MethodPost, o.revokeCredentialHandler),

		// presentations
		support.NewHTTPHandler(challengesEndpoint, http.MethodPost, o.challengeHandler),
		support.NewHTTPHandler(presentationsEndpoint, http.MethodPost, o.createPresentationHandler),
		support.NewHTTPHandler(verifyPresentation, http.MethodPost, o.verifyPresentationHandler),
		support.NewHTTPHandler(verifyCredential, http.MethodPost, o.verifyCredentialHandler),

		// activity
		support.NewHTTPHandler(activityEndpoint, http.MethodGet, o.activityHandler),
	}
}

func (o *Operation) onboardAgentHandler(rw http.ResponseWriter, req *http.Request) {
	data := &OnboardAgentRequest{}

	if err := json.NewDecoder(req.Body).Decode(data); err != nil {
		commhttp.WriteErrorResponse(rw, http.StatusBadRequest, fmt.Sprintf(invalidRequestErrMsg+": %s", err.Error()))

		return
	}

	resp := &OnboardAgentResponse{
		AgentRecord: &store.AgentRecord{
			ID:           uuid.New().String(),
			Name:         strings.TrimSpace(data.Name),
			Organization: data.Organization,
			DID:          data.DID,
			CreatedAt:    o.now().UTC(),
		},
	}

	if resp.DID == "" {
		if err := generateAgentKey(resp); err != nil {
			commhttp.WriteErrorResponse(rw, http.StatusInternalServerError,
				fmt.Sprintf("failed to generate agent key: %s", err.Error()))

			return
		}
	}

	if err := o.agents.Save(resp.AgentRecord); err != nil {
		commhttp.WriteErrorResponse(rw, http.StatusBadRequest, fmt.Sprintf("failed to onboard agent: %s", err.Error()))

		return
	}

	o.record(store.ActivityAgentCreated, map[string]interface{}{
		"agentId":   resp.ID,
		"agentName": resp.Name,
		"agentDid":  resp.DID,
	})

	commhttp.WriteResponseWithStatus(rw, http.StatusCreated, resp)
}

// generateAgentKey creates an ed25519 key pair and the did:key it controls.
func generateAgentKey(resp *OnboardAgentResponse) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}

	secret, err := keycodec.Expand(priv.Seed())
	if err != nil {
		return err
	}

	publicKey, err := keycodec.EncodePublicKey(pub)
	if err != nil {
		return err
	}

	resp.DID, _ = fingerprint.CreateDIDKey(pub)
	resp.PublicKeyMultibase = publicKey
	resp.SecretKey = secret

	return nil
}

func (o *Operation) listAgentsHandler(rw http.ResponseWriter, _ *http.Request) {
	agents, err := o.agents.List()
	if err != nil {
		commhttp.WriteErrorResponse(rw, http.StatusInternalServerError, fmt.Sprintf("failed to list agents: %s", err))

		return
	}

	commhttp.WriteResponse(rw, agents)
}

func (o *Operation) getAgentHandler(rw http.ResponseWriter, req *http.Request) {
	agent, err := o.agents.Get(mux.Vars(req)[idPathParam])
	if err != nil {
		writeStoreError(rw, "failed to get agent", err)

		return
	}

	commhttp.WriteResponse(rw, agent)
}

func (o *Operation) listAgentCredentialsHandler(rw http.ResponseWriter, req *http.Request) {
	agent, err := o.agents.Get(mux.Vars(req)[idPathParam])
	if err != nil {
		writeStoreError(rw, "failed to get agent", err)

		return
	}

	records, err := o.credentials.ListByAgent(agent.DID)
	if err != nil {
		commhttp.WriteErrorResponse(rw, http.StatusInternalServerError,
			fmt.Sprintf("failed to list credentials: %s", err))

		return
	}

	commhttp.WriteResponse(rw, records)
}

func (o *Operation) issueCredentialHandler(rw http.ResponseWriter, req *http.Request) { // nolint:funlen
	if o.issuer == nil || o.issuerDID == "" || o.issuerKey == nil {
		commhttp.WriteErrorResponse(rw, http.StatusServiceUnavailable, "credential issuance is not configured")

		return
	}

	data := &IssueCredentialRequest{}

	if err := json.NewDecoder(req.Body).Decode(data); err != nil {
		commhttp.WriteErrorResponse(rw, http.StatusBadRequest, fmt.Sprintf(invalidRequestErrMsg+": %s", err.Error()))

		return
	}

	agentID, agentDID, err := o.resolveAgent(data.AgentID, data.AgentDID)
	if err != nil {
		writeStoreError(rw, "failed to resolve agent", err)

		return
	}

	if data.ValidityDays < 0 {
		commhttp.WriteErrorResponseWithReason(rw, http.StatusBadRequest, string(authzerr.ClaimValidationError),
			"validityDays must not be negative")

		return
	}

	cred, err := o.issuer.Issue(req.Context(), o.issuerDID, o.issuerKey, agentDID, &issuer.Claims{
		Type:             data.Type,
		Name:             data.Name,
		Scopes:           data.Scopes,
		Constraints:      data.Constraints,
		ValidityDuration: time.Duration(data.ValidityDays) * hoursPerDay * time.Hour,
	})
	if err != nil {
		writeAuthzError(rw, "failed to issue credential", err)

		return
	}

	rec, err := store.NewCredentialRecord(agentID, cred)
	if err == nil {
		err = o.credentials.Put(rec)
	}

	if err != nil {
		commhttp.WriteErrorResponse(rw, http.StatusInternalServerError,
			fmt.Sprintf("failed to save credential: %s", err.Error()))

		return
	}

	o.record(store.ActivityVCIssued, map[string]interface{}{
		"vcId":     rec.VCID,
		"agentId":  rec.AgentID,
		"agentDid": rec.AgentDID,
		"type":     rec.Type,
		"scopes":   rec.Scopes,
	})

	commhttp.WriteResponseWithStatus(rw, http.StatusCreated, rec)
}

// resolveAgent returns the id and DID of the credential holder. A bare DID does not need to be registered.
func (o *Operation) resolveAgent(agentID, agentDID string) (string, string, error) {
	switch {
	case agentID != "":
		agent, err := o.agents.Get(agentID)
		if err != nil {
			return "", "", err
		}

		if agentDID != "" && agentDID != agent.DID {
			return "", "", fmt.Errorf("agent %s does not control %s", agentID, agentDID)
		}

		return agent.ID, agent.DID, nil
	case agentDID != "":
		agent, err := o.agents.GetByDID(agentDID)
		if err != nil {
			if errors.Is(err, storage.ErrDataNotFound) {
				return "", agentDID, nil
			}

			return "", "", err
		}

		return agent.ID, agent.DID, nil
	default:
		return "", "", errors.New("agentId or agentDid is mandatory")
	}
}

func (o *Operation) listCredentialsHandler(rw http.ResponseWriter, _ *http.Request) {
	records, err := o.credentials.List()
	if err != nil {
		commhttp.WriteErrorResponse(rw, http.StatusInternalServerError,
			fmt.Sprintf("failed to list credentials: %s", err))

		return
	}

	commhttp.WriteResponse(rw, records)
}

func (o *Operation) getCredentialHandler(rw http.ResponseWriter, req *http.Request) {
	rec, err := o.credentials.Get(mux.Vars(req)[idPathParam])
	if err != nil {
		writeStoreError(rw, "failed to get credential", err)

		return
	}

	commhttp.WriteResponse(rw, rec)
}

func (o *Operation) revokeCredentialHandler(rw http.ResponseWriter, req *http.Request) {
	rec, err := o.credentials.Revoke(mux.Vars(req)[idPathParam], o.now())
	if err != nil {
		if errors.Is(err, store.ErrCredentialRevoked) {
			commhttp.WriteErrorResponseWithReason(rw, http.StatusConflict, string(authzerr.CredentialRevoked),
				err.Error())

			return
		}

		writeStoreError(rw, "failed to revoke credential", err)

		return
	}

	o.record(store.ActivityVCRevoked, map[string]interface{}{
		"vcId":     rec.VCID,
		"agentId":  rec.AgentID,
		"agentDid": rec.AgentDID,
	})

	commhttp.WriteResponse(rw, rec)
}

func (o *Operation) challengeHandler(rw http.ResponseWriter, req *http.Request) {
	data := &ChallengeRequest{}

	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(data); err != nil {
			commhttp.WriteErrorResponse(rw, http.StatusBadRequest,
				fmt.Sprintf(invalidRequestErrMsg+": %s", err.Error()))

			return
		}
	}

	resp, err := o.challenges.issue(data.Domain)
	if err != nil {
		commhttp.WriteErrorResponse(rw, http.StatusInternalServerError, err.Error())

		return
	}

	commhttp.WriteResponse(rw, resp)
}

func (o *Operation) createPresentationHandler(rw http.ResponseWriter, req *http.Request) { // nolint:funlen
	data := &CreatePresentationRequest{}

	if err := json.NewDecoder(req.Body).Decode(data); err != nil {
		commhttp.WriteErrorResponse(rw, http.StatusBadRequest, fmt.Sprintf(invalidRequestErrMsg+": %s", err.Error()))

		return
	}

	if data.AgentDID == "" || data.SecretKey == "" {
		commhttp.WriteErrorResponse(rw, http.StatusBadRequest, "agentDid and secretKey are mandatory")

		return
	}

	key, err := keycodec.ParseSeed(data.SecretKey)
	if err != nil {
		writeAuthzError(rw, "invalid secret key", err)

		return
	}

	rec, err := o.presentable(data.VCID, data.AgentDID)
	if err != nil {
		writeStoreError(rw, "failed to find credential", err)

		return
	}

	cred, err := rec.Credential()
	if err != nil {
		commhttp.WriteErrorResponse(rw, http.StatusInternalServerError, err.Error())

		return
	}

	if data.Challenge == "" {
		challenge, errIssue := o.challenges.issue(data.Domain)
		if errIssue != nil {
			commhttp.WriteErrorResponse(rw, http.StatusInternalServerError, errIssue.Error())

			return
		}

		data.Challenge = challenge.Challenge
	}

	vp, err := o.builder.Present(req.Context(), []*vc.Credential{cred}, data.AgentDID, key, data.Challenge, data.Domain)
	if err != nil {
		writeAuthzError(rw, "failed to create presentation", err)

		return
	}

	raw, err := json.Marshal(vp)
	if err != nil {
		commhttp.WriteErrorResponse(rw, http.StatusInternalServerError, err.Error())

		return
	}

	o.record(store.ActivityVPIssued, map[string]interface{}{
		"vcId":     rec.VCID,
		"agentDid": data.AgentDID,
		"domain":   data.Domain,
	})

	commhttp.WriteResponseWithStatus(rw, http.StatusCreated, &CreatePresentationResponse{
		Presentation: raw,
		Challenge:    data.Challenge,
		Domain:       data.Domain,
	})
}

// presentable returns the credential to present: the one asked for, or the latest active one of the agent.
func (o *Operation) presentable(vcID, agentDID string) (*store.CredentialRecord, error) {
	if vcID == "" {
		return o.credentials.LatestActive(agentDID, "", o.now())
	}

	rec, err := o.credentials.Get(vcID)
	if err != nil {
		return nil, err
	}

	if rec.AgentDID != agentDID {
		return nil, fmt.Errorf("credential %s was not issued to %s: %w", vcID, agentDID, storage.ErrDataNotFound)
	}

	if !rec.Active(o.now()) {
		return nil, authzerr.New(authzerr.CredentialRevoked, "credential %s is %s or expired", vcID, rec.Status)
	}

	return rec, nil
}

func (o *Operation) verifyPresentationHandler(rw http.ResponseWriter, req *http.Request) {
	data := &VerifyPresentationRequest{}

	if err := json.NewDecoder(req.Body).Decode(data); err != nil {
		commhttp.WriteErrorResponse(rw, http.StatusBadRequest, fmt.Sprintf(invalidRequestErrMsg+": %s", err.Error()))

		return
	}

	if len(data.Presentation) == 0 || data.Challenge == "" {
		commhttp.WriteErrorResponse(rw, http.StatusBadRequest, "presentation and challenge are mandatory")

		return
	}

	var result *verifier.Result

	domain, err := o.challenges.consume(data.Challenge)

	switch {
	case err != nil:
		result = &verifier.Result{Reason: authzerr.ChallengeMismatchError, Details: err.Error()}
	case domain != "" && domain != data.Domain:
		result = &verifier.Result{
			Reason:  authzerr.ChallengeMismatchError,
			Details: fmt.Sprintf("challenge was issued for domain %q", domain),
		}
	default:
		result = o.verifier.VerifyPresentationJSON(req.Context(), data.Presentation, data.Challenge, data.Domain)
	}

	o.record(store.ActivityVPVerified, map[string]interface{}{
		"verified": result.Verified,
		"reason":   result.Reason,
		"holder":   result.Holder,
		"domain":   data.Domain,
	})

	commhttp.WriteResponse(rw, result)
}

func (o *Operation) verifyCredentialHandler(rw http.ResponseWriter, req *http.Request) {
	data := &VerifyCredentialRequest{}

	if err := json.NewDecoder(req.Body).Decode(data); err != nil {
		commhttp.WriteErrorResponse(rw, http.StatusBadRequest, fmt.Sprintf(invalidRequestErrMsg+": %s", err.Error()))

		return
	}

	if len(data.Credential) == 0 {
		commhttp.WriteErrorResponse(rw, http.StatusBadRequest, "credential is mandatory")

		return
	}

	commhttp.WriteResponse(rw, o.verifier.VerifyCredentialJSON(req.Context(), data.Credential))
}

func (o *Operation) activityHandler(rw http.ResponseWriter, req *http.Request) {
	limit := 0

	if v := req.URL.Query().Get(limitQueryParam); v != "" {
		var err error

		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			commhttp.WriteErrorResponse(rw, http.StatusBadRequest, fmt.Sprintf("invalid limit: %q", v))

			return
		}
	}

	entries, err := o.activity.List(limit)
	if err != nil {
		commhttp.WriteErrorResponse(rw, http.StatusInternalServerError, fmt.Sprintf("failed to list activity: %s", err))

		return
	}

	commhttp.WriteResponse(rw, entries)
}

func (o *Operation) record(t store.ActivityType, details map[string]interface{}) {
	if _, err := o.activity.Append(t, details); err != nil {
		logger.Warnf("failed to record %s activity: %s", t, err)
	}
}

func writeStoreError(rw http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, storage.ErrDataNotFound):
		commhttp.WriteErrorResponse(rw, http.StatusNotFound, fmt.Sprintf("%s: %s", msg, err))
	case authzerr.KindOf(err) != "":
		writeAuthzError(rw, msg, err)
	default:
		commhttp.WriteErrorResponse(rw, http.StatusBadRequest, fmt.Sprintf("%s: %s", msg, err))
	}
}

func writeAuthzError(rw http.ResponseWriter, msg string, err error) {
	kind := authzerr.KindOf(err)

	status := http.StatusBadRequest

	switch kind { // nolint:exhaustive // everything else is a client error
	case authzerr.IssuerKeyUnresolvable, authzerr.DidResolutionError:
		status = http.StatusInternalServerError
	case authzerr.CredentialRevoked:
		status = http.StatusConflict
	}

	commhttp.WriteErrorResponseWithReason(rw, status, string(kind), fmt.Sprintf("%s: %s", msg, err))
}
