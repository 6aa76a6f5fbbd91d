package auth

// Unknown is recorded when an action has no authenticated id or email.
const Unknown = "unknown"

// Identity is the acting administrator.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Name is the identity recorded on status changes and audit entries.
func (i Identity) Name() string {
	if i.Email != "" {
		return i.Email
	}
	return Unknown
}

// Subject is the admin id recorded on audit entries.
func (i Identity) Subject() string {
	if i.ID != "" {
		return i.ID
	}
	return Unknown
}
