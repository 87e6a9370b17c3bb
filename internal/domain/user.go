package domain

// UserSummary is the participant detail resolved from the identity directory.
type UserSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}
