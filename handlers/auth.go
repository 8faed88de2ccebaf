package handlers

import (
	"errors"
	"net/http"

	"battletrails/database"
	"battletrails/events"
	"battletrails/logging"
	"battletrails/models"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type SignupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"max=80"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	Token   string       `json:"token"`
	UserID  string       `json:"userId"`
	User    *models.User `json:"user"`
	Expires int64        `json:"expires"`
	Message string       `json:"message"`
}

func (h *Handler) authenticated(c *gin.Context, status int, user *models.User, message string) {
	token, ok := h.issueToken(c, user)
	if !ok {
		return
	}
	c.JSON(status, authResponse{
		Token:   token,
		UserID:  user.ID.Hex(),
		User:    user,
		Expires: h.Now().Add(h.TokenTTL).Unix(),
		Message: message,
	})
}

func (h *Handler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		authError(c, http.StatusBadRequest, bindingCode(err))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to hash password")
		authError(c, http.StatusInternalServerError, "")
		return
	}
	hash := string(hashed)

	user := &models.User{
		Email:        req.Email,
		PasswordHash: &hash,
		AuthProvider: models.ProviderEmail,
		Name:         req.Name,
		Avatar:       fallbackAvatar,
	}
	user.Username = usernameFor(req.Email)

	if err := h.Users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrAlreadyExists) {
			authError(c, http.StatusConflict, CodeEmailAlreadyInUse)
			return
		}
		logging.Ctx(ctx).Error().Err(err).Msg("failed to create user")
		authError(c, http.StatusInternalServerError, "")
		return
	}

	h.publish(events.SubjectUserSignedUp, events.UserSignedUp{
		UserID: user.ID.Hex(), Email: user.Email, Provider: user.AuthProvider,
	})
	h.authenticated(c, http.StatusCreated, user, "User created successfully")
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		authError(c, http.StatusBadRequest, bindingCode(err))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.Users.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, database.ErrNotFound) {
		authError(c, http.StatusUnauthorized, CodeUserNotFound)
		return
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to load user")
		authError(c, http.StatusInternalServerError, "")
		return
	}

	// Google accounts have no password
	if user.PasswordHash == nil {
		authError(c, http.StatusUnauthorized, CodeInvalidCredential)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)); err != nil {
		authError(c, http.StatusUnauthorized, CodeWrongPassword)
		return
	}

	if err := h.Users.TouchUser(ctx, user.ID); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("failed to update last seen")
	}
	h.authenticated(c, http.StatusOK, user, "Login successful")
}

// Me reports the session's user; clients poll it to observe sign-in state.
func (h *Handler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.Users.GetUser(ctx, userID)
	if err != nil {
		storeError(c, err, "User not found", "Failed to fetch user")
		return
	}
	if user.Avatar == "" {
		user.Avatar = fallbackAvatar
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "user": user})
}

// UpdateMe changes name, username and, from a multipart "avatar" file, the
// profile picture.
func (h *Handler) UpdateMe(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var upd database.ProfileUpdate
	if name, ok := c.GetPostForm("name"); ok {
		upd.Name = &name
	}
	if username, ok := c.GetPostForm("username"); ok && username != "" {
		upd.Username = &username
	}

	if file, _, err := c.Request.FormFile("avatar"); err == nil {
		defer file.Close()
		img, err := h.Images.Upload(ctx, file, "avatar_"+userID.Hex())
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("avatar upload failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to upload avatar"})
			return
		}
		upd.Avatar = &img.URL
	}

	user, err := h.Users.UpdateProfile(ctx, userID, upd)
	if err != nil {
		storeError(c, err, "User not found", "Failed to update profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Profile updated successfully", "user": user})
}
