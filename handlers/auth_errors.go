package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Auth error codes understood by the clients.
const (
	CodeInvalidEmail        = "auth/invalid-email"
	CodeUserNotFound        = "auth/user-not-found"
	CodeWrongPassword       = "auth/wrong-password"
	CodeEmailAlreadyInUse   = "auth/email-already-in-use"
	CodeWeakPassword        = "auth/weak-password"
	CodeTooManyRequests     = "auth/too-many-requests"
	CodeInvalidCredential   = "auth/invalid-credential"
	CodeExpiredActionCode   = "auth/expired-action-code"
	CodePopupClosedByUser   = "auth/popup-closed-by-user"
	CodeOperationNotAllowed = "auth/operation-not-allowed"
)

var authMessages = map[string]string{
	CodeInvalidEmail:      "El correo electrónico no es válido.",
	CodeUserNotFound:      "No existe ninguna cuenta con este correo electrónico.",
	CodeWrongPassword:     "La contraseña es incorrecta.",
	CodeEmailAlreadyInUse: "Este correo electrónico ya está registrado.",
	CodeWeakPassword:      "La contraseña debe tener al menos 6 caracteres.",
	CodeTooManyRequests:   "Demasiados intentos. Inténtalo de nuevo más tarde.",
	CodeInvalidCredential: "Las credenciales no son válidas.",
	CodeExpiredActionCode: "El enlace ha caducado o ya se ha usado. Solicita uno nuevo.",
	CodePopupClosedByUser: "Se cerró la ventana de inicio de sesión antes de completarlo.",
}

const genericAuthMessage = "Ha ocurrido un error. Inténtalo de nuevo."

// AuthMessage returns the user-facing message for code, falling back to a
// generic one for codes it does not know.
func AuthMessage(code string) string {
	if msg, ok := authMessages[code]; ok {
		return msg
	}
	return genericAuthMessage
}

// AuthErrorBody is the JSON shape of every auth failure.
func AuthErrorBody(code string) gin.H {
	return gin.H{"error": AuthMessage(code), "code": code}
}

func authError(c *gin.Context, status int, code string) {
	c.JSON(status, AuthErrorBody(code))
}

// bindingCode picks the auth code for a failed credential binding.
func bindingCode(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return CodeInvalidCredential
	}
	switch verrs[0].Field() {
	case "Email":
		return CodeInvalidEmail
	case "Password":
		if verrs[0].Tag() == "min" {
			return CodeWeakPassword
		}
	}
	return CodeInvalidCredential
}
