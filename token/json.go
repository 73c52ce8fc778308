package token

import "encoding/json"

// Mapper-contributed claims are serialized at the top level of the payload
// alongside the typed fields, so the wire format stays a flat OIDC claim
// set.

var accessTokenClaimNames = []string{
	"iss", "sub", "aud", "exp", "nbf", "iat", "jti",
	"typ", "azp", "nonce", "auth_time", "session_state", "acr",
	"allowed-origins", "realm_access", "resource_access",
	"authorization", "scope_ids",
}

var idTokenClaimNames = []string{
	"iss", "sub", "aud", "exp", "nbf", "iat", "jti",
	"typ", "azp", "nonce", "auth_time", "session_state", "acr",
	"at_hash", "c_hash", "s_hash",
}

func (t AccessToken) MarshalJSON() ([]byte, error) {
	type alias AccessToken
	return marshalWithClaims(alias(t), t.OtherClaims)
}

func (t *AccessToken) UnmarshalJSON(data []byte) error {
	type alias AccessToken
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*t = AccessToken(decoded)

	other, err := extraClaims(data, accessTokenClaimNames)
	if err != nil {
		return err
	}
	t.OtherClaims = other
	return nil
}

func (t IDToken) MarshalJSON() ([]byte, error) {
	type alias IDToken
	return marshalWithClaims(alias(t), t.OtherClaims)
}

func (t *IDToken) UnmarshalJSON(data []byte) error {
	type alias IDToken
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*t = IDToken(decoded)

	other, err := extraClaims(data, idTokenClaimNames)
	if err != nil {
		return err
	}
	t.OtherClaims = other
	return nil
}

func marshalWithClaims(token any, otherClaims map[string]any) ([]byte, error) {
	data, err := json.Marshal(token)
	if err != nil || len(otherClaims) == 0 {
		return data, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for name, value := range otherClaims {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		merged[name] = raw
	}
	return json.Marshal(merged)
}

func extraClaims(data []byte, knownNames []string) (map[string]any, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, name := range knownNames {
		delete(all, name)
	}
	if len(all) == 0 {
		return nil, nil
	}

	other := make(map[string]any, len(all))
	for name, raw := range all {
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, err
		}
		other[name] = value
	}
	return other, nil
}
