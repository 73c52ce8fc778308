package mappers_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/realmkit/realmkit/mappers"
	"github.com/realmkit/realmkit/users"
)

// claimRecorder captures what a mapper writes.
type claimRecorder struct {
	claims    map[string]any
	audiences []string
}

func newClaimRecorder() *claimRecorder {
	return &claimRecorder{claims: make(map[string]any)}
}

func (cr *claimRecorder) SetClaim(name string, value any) {
	cr.claims[name] = value
}

func (cr *claimRecorder) AppendAudience(audience string) {
	cr.audiences = append(cr.audiences, audience)
}

func testEnv() mappers.Env {
	return mappers.Env{
		User: &users.User{
			ID:        "u-1",
			FirstName: "Jane",
			LastName:  "Doe",
			Attributes: map[string][]string{
				"department": {"engineering", "platform"},
			},
		},
	}
}

func TestUserAttributeMapperCopiesFirstAttributeValue(t *testing.T) {
	decl := mappers.Declaration{
		Mapper: mappers.UserAttributeMapperID,
		Config: map[string]string{
			mappers.ConfigClaimName:     "dept",
			mappers.ConfigUserAttribute: "department",
		},
	}

	recorder := newClaimRecorder()
	mappers.UserAttributeMapper{}.TransformAccessToken(recorder, decl, testEnv())
	require.Equal(t, "engineering", recorder.claims["dept"])
}

func TestUserAttributeMapperHonoursTokenKindConfig(t *testing.T) {
	decl := mappers.Declaration{
		Mapper: mappers.UserAttributeMapperID,
		Config: map[string]string{
			mappers.ConfigClaimName:        "dept",
			mappers.ConfigUserAttribute:    "department",
			mappers.ConfigAccessTokenClaim: "false",
			mappers.ConfigIDTokenClaim:     "false",
		},
	}

	recorder := newClaimRecorder()
	mappers.UserAttributeMapper{}.TransformAccessToken(recorder, decl, testEnv())
	mappers.UserAttributeMapper{}.TransformIDToken(recorder, decl, testEnv())
	require.Empty(t, recorder.claims)

	mappers.UserAttributeMapper{}.TransformUserInfoToken(recorder, decl, testEnv())
	require.Equal(t, "engineering", recorder.claims["dept"])
}

func TestUserAttributeMapperSkipsMissingAttribute(t *testing.T) {
	decl := mappers.Declaration{
		Mapper: mappers.UserAttributeMapperID,
		Config: map[string]string{
			mappers.ConfigClaimName:     "shoe_size",
			mappers.ConfigUserAttribute: "shoeSize",
		},
	}

	recorder := newClaimRecorder()
	mappers.UserAttributeMapper{}.TransformAccessToken(recorder, decl, testEnv())
	require.Empty(t, recorder.claims)
}

func TestAudienceMapperAppendsAudience(t *testing.T) {
	decl := mappers.Declaration{
		Mapper: mappers.AudienceMapperID,
		Config: map[string]string{mappers.ConfigIncludedAudience: "billing-api"},
	}

	recorder := newClaimRecorder()
	mappers.AudienceMapper{}.TransformAccessToken(recorder, decl, testEnv())
	require.Equal(t, []string{"billing-api"}, recorder.audiences)
}

func TestFullNameMapperSetsNameClaim(t *testing.T) {
	recorder := newClaimRecorder()
	mappers.FullNameMapper{}.TransformIDToken(recorder, mappers.Declaration{}, testEnv())
	require.Equal(t, "Jane Doe", recorder.claims["name"])
}

func TestDefaultRegistryCapabilities(t *testing.T) {
	registry := mappers.NewDefaultRegistry()

	// The audience mapper only has the access-token capability.
	audience := registry.Lookup(mappers.AudienceMapperID)
	_, ok := audience.(mappers.AccessTokenTransformer)
	require.True(t, ok)
	_, ok = audience.(mappers.IDTokenTransformer)
	require.False(t, ok)

	fullName := registry.Lookup(mappers.FullNameMapperID)
	_, ok = fullName.(mappers.IDTokenTransformer)
	require.True(t, ok)

	require.Nil(t, registry.Lookup("unregistered"))
}
