package oauth2_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/realmkit/realmkit/oauth2"
)

func TestAccessTokenResponseAlwaysEmitsNotBeforePolicy(t *testing.T) {
	data, err := json.Marshal(&oauth2.AccessTokenResponse{
		AccessToken: "tok",
		TokenType:   oauth2.TokenTypeBearer,
	})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	require.Contains(t, payload, "not-before-policy")
	require.EqualValues(t, 0, payload["not-before-policy"])

	// Unset optional fields stay off the wire.
	require.NotContains(t, payload, "refresh_token")
	require.NotContains(t, payload, "id_token")
}
