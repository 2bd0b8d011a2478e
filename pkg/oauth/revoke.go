// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"net/http"

	"github.com/mcpgate/mcpgate/pkg/logger"
)

// RevokeHandler handles POST /oauth/revoke per RFC 7009. The endpoint
// always answers 200: revoking an unknown token tells the caller
// nothing it could use.
func (s *Server) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}

	token := r.PostForm.Get("token")
	if token != "" {
		if err := s.store.RevokeToken(r.Context(), token); err != nil {
			logger.Errorw("revocation failed", "error", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}
