package auth

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	SessionCookieName       = "session-token"
	SecureSessionCookieName = "__Secure-session-token"
	SignInPath              = "/auth/signin"
)

var publicPrefixes = []string{
	"/api/auth",
	"/auth/signin",
	"/auth/signup",
	"/api/trpc",
}

// IsPublicPath reports whether path may be served without a session cookie.
// The root path is public only as an exact match.
func IsPublicPath(path string) bool {
	if path == "/" {
		return true
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// HasSessionCookie checks only for presence; verification happens at the API.
func HasSessionCookie(r *http.Request) bool {
	for _, name := range []string{SessionCookieName, SecureSessionCookieName} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return true
		}
	}
	return false
}

// SignInRedirect builds the sign-in URL carrying the original path and query.
func SignInRedirect(r *http.Request) string {
	target := r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return SignInPath + "?callbackUrl=" + url.QueryEscape(target)
}

// Gate redirects cookie-less requests for protected pages to the sign-in page.
func Gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsPublicPath(r.URL.Path) || HasSessionCookie(r) {
			next.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, SignInRedirect(r), http.StatusFound)
	})
}
