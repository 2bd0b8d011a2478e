// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/jsonrpc"
	"github.com/mcpgate/mcpgate/pkg/telemetry"
)

// BaseURL returns the canonical public URL for this deployment. A
// configured base_url wins; otherwise it is derived from the request,
// honoring X-Forwarded-Proto behind a proxy.
func BaseURL(cfg *config.Config, r *http.Request) string {
	if cfg.BaseURL != "" {
		return strings.TrimSuffix(cfg.BaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// ResourceURL builds the canonical RFC 8707 resource identifier for a
// tenant context.
func ResourceURL(baseURL, contextID string) string {
	if contextID == "" {
		return baseURL + "/mcp"
	}
	return baseURL + "/mcp/" + contextID
}

// ProtectedResourceMetadataURL builds the RFC 9728 section 3.1 metadata
// URL for a resource: the well-known path segment is inserted between
// the host and the resource path.
func ProtectedResourceMetadataURL(resource string) string {
	u, err := url.Parse(resource)
	if err != nil {
		return resource + "/.well-known/oauth-protected-resource"
	}
	path := u.Path
	u.Path = "/.well-known/oauth-protected-resource"
	if path != "/" {
		u.Path += path
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// oauthDiscovery is the error.data.oauth body of a discovery 401.
type oauthDiscovery struct {
	AuthorizationEndpoint               string `json:"authorization_endpoint"`
	TokenEndpoint                       string `json:"token_endpoint"`
	RegistrationEndpoint                string `json:"registration_endpoint"`
	Resource                            string `json:"resource"`
	ResourceMetadataEndpoint            string `json:"resource_metadata_endpoint"`
	AuthorizationServerMetadataEndpoint string `json:"authorization_server_metadata_endpoint"`
}

// WriteDiscoveryUnauthorized emits the 401 envelope that tells a
// well-behaved client where to go next: a -32000 JSON-RPC error whose
// data carries the OAuth endpoints, plus the RFC 9728 section 5.1
// WWW-Authenticate challenge.
func WriteDiscoveryUnauthorized(w http.ResponseWriter, cfg *config.Config, baseURL, contextID, message string) {
	telemetry.AuthFailures.Inc()

	resource := ResourceURL(baseURL, contextID)
	metadataURL := ProtectedResourceMetadataURL(resource)

	w.Header().Set("WWW-Authenticate",
		`Bearer realm="MCP Server", resource_metadata="`+metadataURL+`"`)

	endpoints := cfg.OAuth.AuthServer.Endpoints
	resp := &jsonrpc.Response{
		JSONRPC: jsonrpc.Version,
		Error: &jsonrpc.ErrorObject{
			Code:    jsonrpc.AuthRequired,
			Message: message,
			Data: map[string]any{
				"oauth": oauthDiscovery{
					AuthorizationEndpoint:               baseURL + endpoints.Authorize,
					TokenEndpoint:                       baseURL + endpoints.Token,
					RegistrationEndpoint:                baseURL + endpoints.Register,
					Resource:                            resource,
					ResourceMetadataEndpoint:            metadataURL,
					AuthorizationServerMetadataEndpoint: baseURL + "/.well-known/oauth-authorization-server",
				},
			},
		},
		ID: nil,
	}
	jsonrpc.WriteJSON(w, http.StatusUnauthorized, resp)
}
