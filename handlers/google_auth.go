package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"battletrails/database"
	"battletrails/events"
	"battletrails/logging"
	"battletrails/models"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	oauthStateCookie  = "oauth_state"
)

// GoogleOAuthConfig builds the code-flow config, or nil when credentials are
// missing.
func GoogleOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	if clientID == "" || clientSecret == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}
}

type GoogleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

type GoogleAuthRequest struct {
	Credential string `json:"credential" binding:"required"`
}

// usernameFor derives a readable, probably unique username from an email.
func usernameFor(email string) string {
	local, _, found := strings.Cut(email, "@")
	local = strings.ReplaceAll(local, ".", "")
	if !found || local == "" {
		return "user_" + primitive.NewObjectID().Hex()[:8]
	}
	return strings.ToLower(local) + "_" + primitive.NewObjectID().Hex()[:4]
}

// GoogleAuthWithCredential signs in with an ID token from Google Identity
// Services. The token's signature and audience are verified.
func (h *Handler) GoogleAuthWithCredential(c *gin.Context) {
	var req GoogleAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		authError(c, http.StatusBadRequest, CodeInvalidCredential)
		return
	}
	if h.GoogleClientID == "" {
		authError(c, http.StatusServiceUnavailable, CodeOperationNotAllowed)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	payload, err := h.VerifyGoogle(ctx, req.Credential, h.GoogleClientID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("google credential rejected")
		authError(c, http.StatusUnauthorized, CodeInvalidCredential)
		return
	}

	claim := func(key string) string {
		s, _ := payload.Claims[key].(string)
		return s
	}
	info := GoogleUserInfo{
		ID:            payload.Subject,
		Email:         claim("email"),
		VerifiedEmail: emailVerified(payload.Claims["email_verified"]),
		Name:          claim("name"),
		Picture:       claim("picture"),
	}
	h.handleGoogleUser(c, info)
}

// GoogleAuthURL starts the code flow. The state is echoed back in a cookie
// and checked by the callback.
func (h *Handler) GoogleAuthURL(c *gin.Context) {
	if h.GoogleOAuth == nil {
		authError(c, http.StatusServiceUnavailable, CodeOperationNotAllowed)
		return
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		authError(c, http.StatusInternalServerError, "")
		return
	}
	state := hex.EncodeToString(b)

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, 600, "/api/google", "", c.Request.TLS != nil, true)
	c.JSON(http.StatusOK, gin.H{"url": h.GoogleOAuth.AuthCodeURL(state, oauth2.AccessTypeOnline)})
}

func (h *Handler) GoogleOAuthCallback(c *gin.Context) {
	if h.GoogleOAuth == nil {
		authError(c, http.StatusServiceUnavailable, CodeOperationNotAllowed)
		return
	}
	if c.Query("error") != "" {
		// the user closed or denied the consent screen
		authError(c, http.StatusUnauthorized, CodePopupClosedByUser)
		return
	}

	state, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		authError(c, http.StatusBadRequest, CodeInvalidCredential)
		return
	}
	code := c.Query("code")
	if code == "" {
		authError(c, http.StatusBadRequest, CodeInvalidCredential)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	token, err := h.GoogleOAuth.Exchange(ctx, code)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("google code exchange failed")
		authError(c, http.StatusUnauthorized, CodeInvalidCredential)
		return
	}

	info, err := fetchGoogleUser(h.GoogleOAuth.Client(ctx, token))
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to fetch google profile")
		authError(c, http.StatusBadGateway, "")
		return
	}
	h.handleGoogleUser(c, info)
}

func fetchGoogleUser(client *http.Client) (GoogleUserInfo, error) {
	var info GoogleUserInfo

	resp, err := client.Get(googleUserInfoURL)
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return info, fmt.Errorf("userinfo returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return info, fmt.Errorf("decode userinfo: %w", err)
	}
	return info, nil
}

// emailVerified reads the email_verified claim, which Google has issued both
// as a boolean and as the string "true".
func emailVerified(v interface{}) bool {
	switch v := v.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

func (h *Handler) handleGoogleUser(c *gin.Context, info GoogleUserInfo) {
	if info.Email == "" || info.ID == "" {
		authError(c, http.StatusBadRequest, CodeInvalidCredential)
		return
	}
	// accounts are linked by email
	if !info.VerifiedEmail {
		logging.Ctx(c.Request.Context()).Warn().Str("googleId", info.ID).Msg("google email not verified")
		authError(c, http.StatusUnauthorized, CodeInvalidCredential)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	name := info.Name
	if name == "" {
		name = strings.TrimSpace(info.GivenName + " " + info.FamilyName)
	}
	avatar := info.Picture
	if avatar == "" {
		avatar = fallbackAvatar
	}

	user, created, err := h.Users.RecordGoogleLogin(ctx, database.GoogleProfile{
		GoogleID: info.ID,
		Email:    info.Email,
		Name:     name,
		Picture:  avatar,
		Username: usernameFor(info.Email),
	})
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("google sign-in failed")
		authError(c, http.StatusInternalServerError, "")
		return
	}

	if created {
		h.publish(events.SubjectUserSignedUp, events.UserSignedUp{
			UserID: user.ID.Hex(), Email: user.Email, Provider: models.ProviderGoogle,
		})
	}
	h.authenticated(c, http.StatusOK, user, "Authentication successful")
}
