// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/storage"
)

// registrationRequest is the RFC 7591 client metadata accepted by the
// registration endpoint.
type registrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// registrationResponse echoes the registration back per RFC 7591
// section 3.2.1.
type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// RegisterHandler handles POST /oauth/register: dynamic client
// registration. Public clients are allowed; a confidential client is
// created when the auth method asks for a secret.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidClientMetadata, "invalid JSON request body")
		return
	}

	if len(req.RedirectURIs) == 0 {
		writeOAuthError(w, http.StatusBadRequest, errInvalidClientMetadata, "redirect_uris is required")
		return
	}
	for _, uri := range req.RedirectURIs {
		if uri == oobRedirectURI {
			continue
		}
		u, err := url.Parse(uri)
		if err != nil || !u.IsAbs() {
			writeOAuthError(w, http.StatusBadRequest, errInvalidClientMetadata,
				"redirect_uris entries must be absolute URLs")
			return
		}
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}

	client := &storage.Client{
		ID:            uuid.NewString(),
		Name:          req.ClientName,
		RedirectURIs:  req.RedirectURIs,
		GrantTypes:    grantTypes,
		ResponseTypes: responseTypes,
		CreatedAt:     time.Now(),
	}
	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "none"
	}
	if authMethod != "none" {
		client.Secret = newToken()
	}

	if err := s.store.StoreOAuthClient(r.Context(), client); err != nil {
		logger.Errorw("failed to store client", "client_id", client.ID, "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "storage unavailable")
		return
	}

	logger.Infow("registered oauth client", "client_id", client.ID, "client_name", client.Name, "public", client.Public())

	writeJSON(w, http.StatusCreated, registrationResponse{
		ClientID:                client.ID,
		ClientSecret:            client.Secret,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		ClientName:              client.Name,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		TokenEndpointAuthMethod: authMethod,
	})
}
