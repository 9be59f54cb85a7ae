package services

import (
	"fmt"
	"strings"
	"time"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

type UserClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator is the authentication gate in front of every connection and privileged call.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

func NewAuthenticatorFromConfig() *Authenticator {
	return NewAuthenticator(
		viper.GetString("security.token_secret"),
		viper.GetString("security.token_issuer"),
	)
}

// Authenticate verifies a bearer credential and returns the stable user id it names.
func (v *Authenticator) Authenticate(rawToken string) (string, error) {
	account, err := v.Identify(rawToken)
	if err != nil {
		return "", err
	}
	return account.ID, nil
}

func (v *Authenticator) Identify(rawToken string) (models.Account, error) {
	rawToken = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rawToken), "Bearer "))
	if len(rawToken) == 0 {
		return models.Account{}, NewError(KindUnauthenticated, "missing identity token")
	}

	var claims UserClaims
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg(), jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if len(v.issuer) > 0 {
		options = append(options, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(rawToken, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method)
		}
		return v.secret, nil
	}, options...)
	if err != nil {
		return models.Account{}, &Error{Kind: KindUnauthenticated, Message: "invalid identity token", Err: err}
	} else if !token.Valid || len(claims.Subject) == 0 {
		return models.Account{}, NewError(KindUnauthenticated, "invalid identity token")
	}

	return models.Account{ID: claims.Subject, Name: claims.Name}, nil
}

// IssueToken signs a token for the account, used by development tooling and tests.
func (v *Authenticator) IssueToken(account models.Account, ttl time.Duration) (string, error) {
	claims := UserClaims{
		Name: account.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	tks, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %v", err)
	}
	return tks, nil
}
