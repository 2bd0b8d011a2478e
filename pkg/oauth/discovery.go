// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mcpgate/mcpgate/pkg/auth"
	"github.com/mcpgate/mcpgate/pkg/protocol"
)

// authServerMetadata is the RFC 8414 authorization-server metadata
// document.
type authServerMetadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	RegistrationEndpoint          string   `json:"registration_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	PKCERequired                  bool     `json:"pkce_required"`
	ResourceIndicatorsSupported   bool     `json:"resource_indicators_supported,omitempty"`
	RequireResourceParameter      bool     `json:"require_resource_parameter,omitempty"`
}

// protectedResourceMetadata is the RFC 9728 resource metadata document.
type protectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	MCPFeaturesSupported   []string `json:"mcp_features_supported"`
}

// AuthServerMetadataHandler serves /.well-known/oauth-authorization-server.
func (s *Server) AuthServerMetadataHandler(w http.ResponseWriter, r *http.Request) {
	baseURL := auth.BaseURL(s.cfg, r)
	ep := s.cfg.OAuth.AuthServer.Endpoints

	doc := authServerMetadata{
		Issuer:                        baseURL,
		AuthorizationEndpoint:         baseURL + ep.Authorize,
		TokenEndpoint:                 baseURL + ep.Token,
		RegistrationEndpoint:          baseURL + ep.Register,
		RevocationEndpoint:            baseURL + ep.Revoke,
		ScopesSupported:               s.cfg.ScopesSupported,
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported: []string{"S256"},
		PKCERequired:                  true,
	}
	if s.versions.SupportsVersion(protocol.V20250618) {
		doc.ResourceIndicatorsSupported = true
		doc.RequireResourceParameter = true
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, doc)
}

// ProtectedResourceMetadataHandler serves
// /.well-known/oauth-protected-resource[/<resource path>] per RFC 9728
// section 3.1: the trailing path names the protected resource.
func (s *Server) ProtectedResourceMetadataHandler(w http.ResponseWriter, r *http.Request) {
	baseURL := auth.BaseURL(s.cfg, r)

	resource := baseURL + "/mcp"
	if suffix := chi.URLParam(r, "*"); suffix != "" {
		resource = baseURL + "/" + suffix
	}

	doc := protectedResourceMetadata{
		Resource:               resource,
		AuthorizationServers:   []string{baseURL},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        s.cfg.ScopesSupported,
		MCPFeaturesSupported:   protocol.FeatureList(s.versions.Newest()),
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, doc)
}
