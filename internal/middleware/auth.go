package middleware

import (
	"crypto/subtle"
	"strings"

	"collaborative-draft-editor/auth"
	"collaborative-draft-editor/internal/errors"

	"github.com/gin-gonic/gin"
)

// UserIDKey is the gin context key of the authenticated caller
const UserIDKey = "user_id"

type Auth struct {
	Issuer         *auth.Issuer
	InternalSecret string
}

func (m *Auth) AuthMiddleWare() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		var token string
		tokenQuery := ctx.Query("token")

		if authHeader != "" {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else if tokenQuery != "" {
			token = tokenQuery
		} else {
			ctx.Error(errors.Unauthorized("Authorization is not found!", nil))
			ctx.Abort()
			return
		}

		parsedToken, err := m.Issuer.VerifyJWT(token)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid token!", err))
			ctx.Abort()
			return
		}

		userID, err := auth.UserID(parsedToken)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid token!", err))
			ctx.Abort()
			return
		}

		ctx.Set(UserIDKey, userID)
		ctx.Next()
	}
}

func (m *Auth) InternalAuthMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := strings.TrimPrefix(
			ctx.GetHeader("Authorization"),
			"Bearer ",
		)

		if subtle.ConstantTimeCompare([]byte(token), []byte(m.InternalSecret)) != 1 {
			ctx.Error(errors.Unauthorized("Unauthorized internal call!", nil))
			ctx.Abort()
			return
		}

		ctx.Next()
	}
}

// CallerID returns the authenticated user id set by AuthMiddleWare
func CallerID(ctx *gin.Context) string {
	return ctx.GetString(UserIDKey)
}
