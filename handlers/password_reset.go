package handlers

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"

	"battletrails/database"
	"battletrails/events"
	"battletrails/logging"
	"battletrails/models"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type PasswordResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type PasswordResetConfirmRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (h *Handler) resetLink(token string) string {
	u, err := url.Parse(h.ResetURL)
	if err != nil {
		return h.ResetURL + "?token=" + token
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// RequestPasswordReset always answers 200 so callers cannot learn which
// emails are registered. The mailer picks the link up from NATS.
func (h *Handler) RequestPasswordReset(c *gin.Context) {
	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		authError(c, http.StatusBadRequest, CodeInvalidEmail)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	ok := gin.H{"message": "Si existe una cuenta con ese correo, recibirás un enlace para restablecer la contraseña."}

	user, err := h.Users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logging.Ctx(ctx).Error().Err(err).Msg("password reset lookup failed")
		}
		c.JSON(http.StatusOK, ok)
		return
	}
	if user.AuthProvider != models.ProviderEmail {
		c.JSON(http.StatusOK, ok)
		return
	}

	token, err := newResetToken()
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to generate reset token")
		authError(c, http.StatusInternalServerError, "")
		return
	}
	expires := h.Now().Add(h.ResetTokenTTL).Unix()
	if err := h.Users.SetResetToken(ctx, user.ID, hashResetToken(token), expires); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to store reset token")
		authError(c, http.StatusInternalServerError, "")
		return
	}

	h.publish(events.SubjectPasswordReset, events.PasswordReset{
		Email:     user.Email,
		Name:      user.Name,
		ResetURL:  h.resetLink(token),
		ExpiresAt: expires,
	})
	c.JSON(http.StatusOK, ok)
}

func (h *Handler) ConfirmPasswordReset(c *gin.Context) {
	var req PasswordResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		code := bindingCode(err)
		if code != CodeWeakPassword {
			code = CodeExpiredActionCode
		}
		authError(c, http.StatusBadRequest, code)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		authError(c, http.StatusInternalServerError, "")
		return
	}

	user, err := h.Users.ResetPassword(ctx, hashResetToken(req.Token), string(hashed))
	if errors.Is(err, database.ErrNotFound) {
		authError(c, http.StatusBadRequest, CodeExpiredActionCode)
		return
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("password reset failed")
		authError(c, http.StatusInternalServerError, "")
		return
	}

	logging.Ctx(ctx).Info().Str("user_id", user.ID.Hex()).Msg("password reset")
	c.JSON(http.StatusOK, gin.H{"message": "Contraseña actualizada."})
}
