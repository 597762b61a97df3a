package metadata

// UserContext is the authenticated caller, set by the auth middleware.
type UserContext struct {
	ID    string   `json:"id"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`
}

func (u *UserContext) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the caller may manage rules and lookup values.
func (u *UserContext) IsAdmin() bool {
	return u.HasRole("admin")
}
