package domain

import "time"

// Credential is the model API key a user stored for later calls.
type Credential struct {
	UserID    string
	APIKey    string
	UpdatedAt time.Time
}

// Masked returns the key with everything but the last four characters hidden.
func (c *Credential) Masked() string {
	return MaskKey(c.APIKey)
}

// MaskKey hides all but the trailing four characters of key.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
