package common

// Header names shared by the auth service and the gateway.
const (
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "

	UserIDHeader       = "X-User-Id"
	UserEmailHeader    = "X-User-Email"
	UserRoleHeader     = "X-User-Role"
	UserNicknameHeader = "X-User-Nickname"
)

// IdentityHeaders lists every header the gateway owns. Client supplied
// copies are always removed before a request is forwarded.
var IdentityHeaders = []string{UserIDHeader, UserEmailHeader, UserRoleHeader, UserNicknameHeader}

// RefreshTokenBytes is the entropy of an opaque refresh token.
const RefreshTokenBytes = 32
