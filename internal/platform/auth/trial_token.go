package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const trialTokenPrefix = "hpo_trial_v1"

var (
	ErrTrialTokenInvalid = errors.New("trial token is invalid")
	ErrTrialTokenExpired = errors.New("trial token is expired")
)

// TrialTokenClaims scope a token to one trial of one sweep.
type TrialTokenClaims struct {
	SweepID       string `json:"sweep_id"`
	TrialID       int    `json:"trial_id"`
	IssuedAtUnix  int64  `json:"iat"`
	ExpiresAtUnix int64  `json:"exp"`
}

func TrialTokenSubject(claims TrialTokenClaims) string {
	return "trial:" + strings.TrimSpace(claims.SweepID) + ":" + strconv.Itoa(claims.TrialID)
}

func ParseTrialTokenSubject(subject string) (sweepID string, trialID int, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(subject), "trial:")
	if !found {
		return "", 0, false
	}
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 {
		return "", 0, false
	}
	trialID, err := strconv.Atoi(rest[idx+1:])
	if err != nil || trialID < 0 {
		return "", 0, false
	}
	return rest[:idx], trialID, true
}

func GenerateTrialToken(secret string, claims TrialTokenClaims, now time.Time) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", errors.New("secret is required")
	}
	claims.SweepID = strings.TrimSpace(claims.SweepID)
	if claims.SweepID == "" {
		return "", errors.New("sweep_id is required")
	}
	if claims.TrialID < 0 {
		return "", errors.New("trial_id must be >= 0")
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}
	if claims.IssuedAtUnix == 0 {
		claims.IssuedAtUnix = now.UTC().Unix()
	}
	if claims.ExpiresAtUnix == 0 {
		return "", errors.New("exp is required")
	}
	if claims.ExpiresAtUnix <= now.UTC().Unix() {
		return "", errors.New("exp must be in the future")
	}

	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadJSON)
	return strings.Join([]string{trialTokenPrefix, payloadB64, trialTokenSignature(secret, payloadB64)}, "."), nil
}

func VerifyTrialToken(secret string, token string, now time.Time) (TrialTokenClaims, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return TrialTokenClaims{}, errors.New("secret is required")
	}

	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 || parts[0] != trialTokenPrefix || parts[1] == "" || parts[2] == "" {
		return TrialTokenClaims{}, ErrTrialTokenInvalid
	}
	payloadB64 := parts[1]

	expectedSig, err := base64.RawURLEncoding.DecodeString(trialTokenSignature(secret, payloadB64))
	if err != nil {
		return TrialTokenClaims{}, ErrTrialTokenInvalid
	}
	gotSig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return TrialTokenClaims{}, ErrTrialTokenInvalid
	}
	if !hmac.Equal(expectedSig, gotSig) {
		return TrialTokenClaims{}, ErrTrialTokenInvalid
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return TrialTokenClaims{}, ErrTrialTokenInvalid
	}
	var claims TrialTokenClaims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return TrialTokenClaims{}, ErrTrialTokenInvalid
	}
	claims.SweepID = strings.TrimSpace(claims.SweepID)
	if claims.SweepID == "" || claims.TrialID < 0 || claims.ExpiresAtUnix == 0 {
		return TrialTokenClaims{}, ErrTrialTokenInvalid
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}
	if claims.ExpiresAtUnix <= now.UTC().Unix() {
		return TrialTokenClaims{}, ErrTrialTokenExpired
	}
	return claims, nil
}

func trialTokenSignature(secret string, payloadB64 string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte("hpo-trial-token-v1\n"))
	_, _ = mac.Write([]byte(payloadB64))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// TrialTokenAuthenticator accepts trial tokens and hands every other bearer
// token to Next.
type TrialTokenAuthenticator struct {
	Secret string
	Next   Authenticator
	Now    func() time.Time
}

func (a TrialTokenAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	if token := tokenFromHeader(r); strings.HasPrefix(token, trialTokenPrefix+".") {
		if strings.TrimSpace(a.Secret) == "" {
			return Identity{}, ErrUnauthenticated
		}
		now := time.Now().UTC()
		if a.Now != nil {
			now = a.Now().UTC()
		}
		claims, err := VerifyTrialToken(a.Secret, token, now)
		if err != nil {
			return Identity{}, ErrUnauthenticated
		}
		return Identity{
			Subject: TrialTokenSubject(claims),
			Roles:   []string{RoleTrial},
		}, nil
	}

	if a.Next == nil {
		return Identity{}, ErrUnauthenticated
	}
	return a.Next.Authenticate(ctx, r)
}
