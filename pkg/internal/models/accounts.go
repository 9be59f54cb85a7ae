package models

// Account is the identity resolved from a verified token.
// Profiles live in the identity provider, only the id and display name travel with a session.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (v Account) DisplayName() string {
	if len(v.Name) > 0 {
		return v.Name
	}
	return v.ID
}
