package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// サブスクリプション管理APIの呼び出し元アドレスを識別するために使用する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// Address は認証済みユーザーのアドレス。
	// サブスクリプションの照合キーと同じ値を使用する。
	Address string `json:"address"`
}

// GenerateJWT はアドレスからJWTトークンを生成する。
// フロントエンドのログインフローがアドレスの所有を確認した後に呼び出す。
func GenerateJWT(secret, address string) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "pushrelay",
		},
		Address: address,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "address" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set("address", claims.Address)
		c.Next()
	}
}

// GetAddress はGinコンテキストから認証済みアドレスを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetAddress(c *gin.Context) string {
	address, _ := c.Get("address")
	if a, ok := address.(string); ok {
		return a
	}
	return ""
}
