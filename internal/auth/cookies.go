package auth

import (
	"net/http"
	"time"
)

// Cookie names used for token transport
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain string // Empty string = current host only
	Secure bool   // HTTPS only, enabled in production
}

func tokenCookie(name, value string, ttl time.Duration, config CookieConfig) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   config.Domain,
		Expires:  time.Now().Add(ttl),
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true, // Never readable from JavaScript
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// SetTokenCookies delivers an access/refresh pair as HttpOnly cookies.
// An empty refresh token leaves the refresh cookie untouched.
func SetTokenCookies(w http.ResponseWriter, accessToken string, accessTTL time.Duration, refreshToken string, refreshTTL time.Duration, config CookieConfig) {
	http.SetCookie(w, tokenCookie(AccessTokenCookie, accessToken, accessTTL, config))
	if refreshToken != "" {
		http.SetCookie(w, tokenCookie(RefreshTokenCookie, refreshToken, refreshTTL, config))
	}
}

// ClearTokenCookies expires both token cookies
func ClearTokenCookies(w http.ResponseWriter, config CookieConfig) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		c := tokenCookie(name, "", 0, config)
		c.Expires = time.Unix(0, 0)
		c.MaxAge = -1 // Negative MaxAge deletes the cookie
		http.SetCookie(w, c)
	}
}

// GetRefreshTokenCookie retrieves the refresh token from cookies
func GetRefreshTokenCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(RefreshTokenCookie)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// GetAccessTokenCookie retrieves the access token from cookies
func GetAccessTokenCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(AccessTokenCookie)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}
