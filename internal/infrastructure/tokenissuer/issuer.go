// Package tokenissuer requests signed content tokens from the content
// storage service.
package tokenissuer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"courseledger/internal/application/access"
	"courseledger/internal/infrastructure/httpjson"
)

var tokenPath = httpjson.Template("/content/{content}/token")

type issueRequest struct {
	SubjectID string `json:"subject_id"`
}

type issueResponse struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Issuer implements access.Issuer.
type Issuer struct {
	http *httpjson.Client
}

var _ access.Issuer = (*Issuer)(nil)

func New(cfg httpjson.Config) *Issuer {
	return &Issuer{http: httpjson.New(cfg)}
}

func (i *Issuer) Issue(ctx context.Context, subjectID, contentID string) (access.Token, error) {
	var resp issueResponse
	err := i.http.Do(ctx, http.MethodPost, tokenPath,
		map[string]interface{}{"content": contentID},
		issueRequest{SubjectID: subjectID}, &resp)
	if err != nil {
		return access.Token{}, fmt.Errorf("failed to issue content token: %w", err)
	}
	if resp.Token == "" {
		return access.Token{}, fmt.Errorf("issuer returned an empty token for %s", contentID)
	}

	if resp.ExpiresAt != nil {
		return access.Token{Value: resp.Token, ExpiresAt: resp.ExpiresAt.UTC()}, nil
	}
	exp, err := jwtExpiry(resp.Token)
	if err != nil {
		return access.Token{}, err
	}
	return access.Token{Value: resp.Token, ExpiresAt: exp}, nil
}

// jwtExpiry reads the exp claim without verifying the signature; the
// token is opaque to us and only the content service checks it.
func jwtExpiry(raw string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, fmt.Errorf("token has no expires_at and is not a JWT: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("token has neither expires_at nor an exp claim")
	}
	return exp.Time.UTC(), nil
}
