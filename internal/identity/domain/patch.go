package domain

import "strings"

// Patch is a partial update of the mutable identity fields. A nil field is left unchanged.
// Credentials, role, provider link and timestamps are not patchable.
type Patch struct {
	Username          *string
	Email             *string
	FirstName         *string
	LastName          *string
	Active            *bool
	AuthorDisplayName *string
	AvatarURL         *string
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Username == nil && p.Email == nil && p.FirstName == nil && p.LastName == nil &&
		p.Active == nil && p.AuthorDisplayName == nil && p.AvatarURL == nil
}

// Normalize trims string fields and lowercases the email.
func (p Patch) Normalize() Patch {
	trim := func(s *string) *string {
		if s == nil {
			return nil
		}
		v := strings.TrimSpace(*s)
		return &v
	}
	out := p
	out.Username = trim(p.Username)
	out.Email = trim(p.Email)
	if out.Email != nil {
		v := strings.ToLower(*out.Email)
		out.Email = &v
	}
	out.FirstName = trim(p.FirstName)
	out.LastName = trim(p.LastName)
	out.AuthorDisplayName = trim(p.AuthorDisplayName)
	out.AvatarURL = trim(p.AvatarURL)
	return out
}

// ApplyTo copies the set fields onto i and returns the names of the fields that changed.
// Author fields are applied only when i carries an author profile.
func (p Patch) ApplyTo(i *Identity) []string {
	var changed []string
	set := func(name string, dst *string, src *string) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = append(changed, name)
		}
	}
	set("username", &i.Username, p.Username)
	set("email", &i.Email, p.Email)
	set("first_name", &i.FirstName, p.FirstName)
	set("last_name", &i.LastName, p.LastName)
	if p.Active != nil && i.Active != *p.Active {
		i.Active = *p.Active
		changed = append(changed, "is_active")
	}
	if i.Author != nil {
		set("author_display_name", &i.Author.DisplayName, p.AuthorDisplayName)
		set("author_avatar_url", &i.Author.AvatarURL, p.AvatarURL)
	}
	return changed
}

// TouchesRemoteProfile reports whether any field propagated to the identity provider changed.
func TouchesRemoteProfile(changed []string) bool {
	for _, f := range changed {
		switch f {
		case "username", "email", "first_name", "last_name", "is_active":
			return true
		}
	}
	return false
}
