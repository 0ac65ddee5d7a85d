package settings

import (
	"strings"
	"time"
)

// Profile is one row of the user profiles table, validated at the boundary.
// UserID is immutable once assigned; there is at most one profile per user.
type Profile struct {
	UserID      string    `json:"user_id" msgpack:"userId"`
	Username    string    `json:"username" msgpack:"username"`
	DisplayName string    `json:"display_name" msgpack:"displayName"`
	Bio         string    `json:"bio" msgpack:"bio"`
	AvatarURL   string    `json:"avatar_url" msgpack:"avatarUrl"`
	BannerURL   string    `json:"banner_url" msgpack:"bannerUrl"`
	Website     string    `json:"website" msgpack:"website"`
	Instagram   string    `json:"instagram" msgpack:"instagram"`
	CreatedAt   time.Time `json:"created_at" msgpack:"createdAt"`
	UpdatedAt   time.Time `json:"updated_at" msgpack:"updatedAt"`
}

func (p Profile) valid() bool {
	return strings.TrimSpace(p.UserID) != ""
}

// Patch carries the fields an update may change. Nil pointers are left
// untouched; UserID is not patchable.
type Patch struct {
	Username    *string `json:"username,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	BannerURL   *string `json:"banner_url,omitempty"`
	Website     *string `json:"website,omitempty"`
	Instagram   *string `json:"instagram,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Username == nil &&
		p.DisplayName == nil &&
		p.Bio == nil &&
		p.AvatarURL == nil &&
		p.BannerURL == nil &&
		p.Website == nil &&
		p.Instagram == nil
}
