package echoapi

import (
	"net/http"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core"
)

const (
	contextTokenKey   = "operatorToken"
	contextSessionKey = "session"
	jwtAudience       = "admissions-desk"
)

var (
	errUnauthorized   = echo.NewHTTPError(http.StatusUnauthorized, "operator not authenticated")
	errRefreshExpired = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
)

// Claims represents the operator's authorization claims transmitted via a JWT.
// The token is issued by the school's auth service and forwarded as-is to the REST backend.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt   int64  `json:"oriat,omitempty"`
	Username       string `json:"username,omitempty"`
	BranchID       int    `json:"branch_id"`
	BranchType     string `json:"branch_type"`
	AcademicYearID int    `json:"academic_year_id"`
}

type authenticator struct {
	config  middleware.JWTConfig
	secret  string
	issuer  string
	expires time.Duration
	refresh time.Duration
}

func newAuthenticator(opts *Options) *authenticator {
	return &authenticator{
		config: middleware.JWTConfig{
			SigningKey:    []byte(opts.SecretKey),
			SigningMethod: middleware.AlgorithmHS256,
			ContextKey:    contextTokenKey,
			Claims:        new(Claims),
		},
		secret:  opts.SecretKey,
		issuer:  opts.AppName,
		expires: opts.JWTExpirationDelta,
		refresh: opts.JWTRefreshExpirationDelta,
	}
}

// NewClaims returns the claims of an operator session.
func NewClaims(sess core.Session, issuer string, expires time.Duration, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	oriat := nownix
	if len(origIat) > 0 {
		oriat = origIat[0]
	}
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    issuer,
			Subject:   sess.UserID,
			Audience:  jwtAudience,
			ExpiresAt: now.Add(expires).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt:   oriat,
		Username:       sess.Username,
		BranchID:       sess.BranchID,
		BranchType:     sess.BranchType,
		AcademicYearID: sess.AcademicYearID,
	}
}

// GenerateToken generates a signed JWT token string representing the Claims.
func GenerateToken(claims *Claims, secretKey string) (string, error) {
	token := jwt.NewWithClaims(jwt.GetSigningMethod(middleware.AlgorithmHS256), claims)
	ss, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func getContextToken(ctx echo.Context) (*jwt.Token, Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return token, *claims, nil
		}
	}
	return nil, Claims{}, errUnauthorized
}

func (a *authenticator) refreshToken(ctx echo.Context) (string, error) {
	_, claims, err := getContextToken(ctx)
	if err != nil {
		return "", err
	}
	sess, err := getContextSession(ctx)
	if err != nil {
		return "", err
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(a.refresh)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	token, err := GenerateToken(NewClaims(sess, a.issuer, a.expires, claims.OrigIssuedAt), a.secret)
	return token, errors.Wrap(err, "generating token")
}

type TokenResponse struct {
	Token string `json:"token"`
}

func registerAuthAPI(g *echo.Group, authed []echo.MiddlewareFunc, auth *authenticator) {
	g.POST("/auth/token-refresh", func(ctx echo.Context) error {
		token, err := auth.refreshToken(ctx)
		if err != nil {
			return err
		}
		return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
	}, authed...)
	g.GET("/auth/session", func(ctx echo.Context) error {
		sess, err := getContextSession(ctx)
		if err != nil {
			return err
		}
		return ctx.JSON(http.StatusOK, sess)
	}, authed...)
}
