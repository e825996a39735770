// Package session resolves which conversation a request belongs to.
package session

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// DefaultCookieName binds a browser to its last session id.
const DefaultCookieName = "chat_session_id"

// Resolver picks the session id for a request: an explicit id, then the
// cookie, then a freshly minted one.
type Resolver struct {
	CookieName string
}

// NewResolver returns a Resolver using cookieName, or the default when empty.
func NewResolver(cookieName string) Resolver {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return Resolver{CookieName: cookieName}
}

// Resolve returns the session id for r.
func (res Resolver) Resolve(r *http.Request, explicit string) string {
	if id := strings.TrimSpace(explicit); id != "" {
		return id
	}
	if r != nil {
		if c, err := r.Cookie(res.CookieName); err == nil {
			if id := strings.TrimSpace(c.Value); id != "" {
				return id
			}
		}
	}
	return uuid.NewString()
}

// Bind remembers id on the client for later requests.
func (res Resolver) Bind(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     res.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
