package mappers

// Canonical registry ids of the built-in mappers.
const (
	UserAttributeMapperID = "oidc-usermodel-attribute-mapper"
	AudienceMapperID      = "oidc-audience-mapper"
	FullNameMapperID      = "oidc-full-name-mapper"
)

// UserAttributeMapper copies a user attribute into a named claim. The token
// kinds it applies to are driven by the declaration config, so one
// declaration can target any combination of access, ID and user-info
// tokens.
type UserAttributeMapper struct{}

var (
	_ AccessTokenTransformer = UserAttributeMapper{}
	_ IDTokenTransformer     = UserAttributeMapper{}
	_ UserInfoTransformer    = UserAttributeMapper{}
)

func (UserAttributeMapper) TransformAccessToken(token ClaimSetter, decl Declaration, env Env) {
	if decl.Config[ConfigAccessTokenClaim] == "false" {
		return
	}
	setUserAttributeClaim(token, decl, env)
}

func (UserAttributeMapper) TransformIDToken(token ClaimSetter, decl Declaration, env Env) {
	if decl.Config[ConfigIDTokenClaim] == "false" {
		return
	}
	setUserAttributeClaim(token, decl, env)
}

func (UserAttributeMapper) TransformUserInfoToken(token ClaimSetter, decl Declaration, env Env) {
	if decl.Config[ConfigUserInfoClaim] == "false" {
		return
	}
	setUserAttributeClaim(token, decl, env)
}

func setUserAttributeClaim(token ClaimSetter, decl Declaration, env Env) {
	if env.User == nil {
		return
	}
	claimName := decl.Config[ConfigClaimName]
	attribute := decl.Config[ConfigUserAttribute]
	if claimName == "" || attribute == "" {
		return
	}
	if value := env.User.FirstAttribute(attribute); value != "" {
		token.SetClaim(claimName, value)
	}
}

// AudienceMapper adds a configured audience to access tokens. It has no
// ID-token or user-info capability.
type AudienceMapper struct{}

var _ AccessTokenTransformer = AudienceMapper{}

func (AudienceMapper) TransformAccessToken(token ClaimSetter, decl Declaration, _ Env) {
	if audience := decl.Config[ConfigIncludedAudience]; audience != "" {
		token.AppendAudience(audience)
	}
}

// FullNameMapper sets the standard "name" claim from the user's first and
// last name.
type FullNameMapper struct{}

var (
	_ AccessTokenTransformer = FullNameMapper{}
	_ IDTokenTransformer     = FullNameMapper{}
	_ UserInfoTransformer    = FullNameMapper{}
)

func (FullNameMapper) TransformAccessToken(token ClaimSetter, _ Declaration, env Env) {
	setFullName(token, env)
}

func (FullNameMapper) TransformIDToken(token ClaimSetter, _ Declaration, env Env) {
	setFullName(token, env)
}

func (FullNameMapper) TransformUserInfoToken(token ClaimSetter, _ Declaration, env Env) {
	setFullName(token, env)
}

func setFullName(token ClaimSetter, env Env) {
	if env.User == nil {
		return
	}
	if name := env.User.FullName(); name != "" {
		token.SetClaim("name", name)
	}
}
