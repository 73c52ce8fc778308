package token_test

import (
	"encoding/json"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/realmkit/realmkit/oauth2"
	"github.com/realmkit/realmkit/token"
)

func TestAccessTokenJSONInlinesOtherClaims(t *testing.T) {
	accessToken := &token.AccessToken{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:      "jti-1",
			Subject: "user-1",
		},
		Type:        oauth2.TokenTypeBearer,
		IssuedFor:   "web-app",
		RealmAccess: &token.Access{Roles: []string{"user"}},
		ScopeIDs:    []string{"scope-1"},
	}
	accessToken.SetClaim("dept", "engineering")
	accessToken.SetClaim("groups", []any{"eng", "platform"})

	data, err := json.Marshal(accessToken)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	require.Equal(t, "engineering", payload["dept"])
	require.Equal(t, "Bearer", payload["typ"])
	require.NotContains(t, payload, "OtherClaims")

	var decoded token.AccessToken
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "jti-1", decoded.ID)
	require.Equal(t, []string{"scope-1"}, decoded.ScopeIDs)
	require.Equal(t, "engineering", decoded.OtherClaims["dept"])
	require.Equal(t, []any{"eng", "platform"}, decoded.OtherClaims["groups"])
	require.NotContains(t, decoded.OtherClaims, "typ")
	require.True(t, decoded.RealmAccess.HasRole("user"))
}

func TestIDTokenJSONInlinesOtherClaims(t *testing.T) {
	idToken := &token.IDToken{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
		Type:             oauth2.TokenTypeID,
		AccessTokenHash:  "hash",
	}
	idToken.SetClaim("name", "Jane Doe")

	data, err := json.Marshal(idToken)
	require.NoError(t, err)

	var decoded token.IDToken
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "Jane Doe", decoded.OtherClaims["name"])
	require.Equal(t, "hash", decoded.AccessTokenHash)
	require.NotContains(t, decoded.OtherClaims, "at_hash")
}

func TestAccessTokenAudienceHelpers(t *testing.T) {
	accessToken := &token.AccessToken{}
	accessToken.AppendAudience("api")
	accessToken.AppendAudience("api")
	accessToken.AppendAudience("billing")
	require.Equal(t, jwt.ClaimStrings{"api", "billing"}, accessToken.Audience)
}
