package users

import "time"

// User holds the identity attributes and role/group memberships the token
// core needs. Credential material and profile management live outside this
// module.
type User struct {
	ID       string `json:"id,omitempty"`       // Unique identifier for the user
	Username string `json:"username,omitempty"` // Unique username
	Email    string `json:"email,omitempty"`    // User's email address

	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`

	Enabled bool `json:"enabled,omitempty"` // Disabled users cannot refresh tokens

	// NotBefore is the per-user revocation watermark. Tokens issued before
	// this time are considered revoked for this user.
	NotBefore time.Time `json:"not_before,omitempty"`

	RoleIDs  []string `json:"role_ids,omitempty"`  // Directly assigned roles
	GroupIDs []string `json:"group_ids,omitempty"` // Group memberships (roles inherited up the parent chain)

	Attributes map[string][]string `json:"attributes,omitempty"` // Free-form multi-valued attributes
}

// FullName joins first and last name for the standard "name" claim.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// FirstAttribute returns the first value of a multi-valued attribute, or ""
// when the attribute is absent.
func (u *User) FirstAttribute(name string) string {
	values := u.Attributes[name]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Repo provides read access to user records.
type Repo interface {
	GetByID(userID string) (*User, error)
}
