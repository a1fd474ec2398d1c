package model

// RoleAdmin grants access to catalog and storage administration.
const RoleAdmin = "admin"

// Identity is the opaque "current identity" produced by whichever
// authentication mechanism vouched for the request.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Anonymous reports whether no provider authenticated the caller.
func (i Identity) Anonymous() bool { return i.ID == "" }

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }
