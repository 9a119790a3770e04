package domain

import (
	"errors"
	"strings"
	"time"
)

// RoleTag determines whether an Identity carries an AuthorProfile.
type RoleTag string

const (
	RolePlain  RoleTag = "PLAIN"
	RoleAuthor RoleTag = "AUTHOR"
)

// ParseRoleTag parses a role name case-insensitively. Returns false for unknown names.
func ParseRoleTag(s string) (RoleTag, bool) {
	switch RoleTag(strings.ToUpper(strings.TrimSpace(s))) {
	case RolePlain:
		return RolePlain, true
	case RoleAuthor:
		return RoleAuthor, true
	}
	return "", false
}

// Other returns the opposite managed role.
func (r RoleTag) Other() RoleTag {
	if r == RoleAuthor {
		return RolePlain
	}
	return RoleAuthor
}

// ProviderLocal is the provider recorded for identities registered with a password.
const ProviderLocal = "local"

var (
	ErrUsernameRequired   = errors.New("username is required")
	ErrEmailRequired      = errors.New("email is required")
	ErrShapeMismatch      = errors.New("author profile must be present if and only if role is AUTHOR")
	ErrUnknownRole        = errors.New("unknown role")
	ErrRemoteIDAlreadySet = errors.New("remote id is already set")
	ErrRemoteIDEmpty      = errors.New("remote id is empty")
)

// AuthorProfile holds author display data. It is owned by exactly one Identity.
type AuthorProfile struct {
	DisplayName string
	AvatarURL   string
}

// Identity is the local identity record. Author is non-nil exactly when Role is RoleAuthor.
type Identity struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         RoleTag
	Author       *AuthorProfile
	Provider     string
	ProviderID   string
	RemoteID     string // empty until the remote identity exists; never changes afterwards
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate validates the identity for persistence. Returns the first failure.
func (i *Identity) Validate() error {
	if strings.TrimSpace(i.Username) == "" {
		return ErrUsernameRequired
	}
	if strings.TrimSpace(i.Email) == "" {
		return ErrEmailRequired
	}
	switch i.Role {
	case RoleAuthor:
		if i.Author == nil {
			return ErrShapeMismatch
		}
	case RolePlain:
		if i.Author != nil {
			return ErrShapeMismatch
		}
	default:
		return ErrUnknownRole
	}
	return nil
}

// AttachRemoteID links the identity to its remote counterpart. It may be called once.
func (i *Identity) AttachRemoteID(remoteID string) error {
	if remoteID == "" {
		return ErrRemoteIDEmpty
	}
	if i.RemoteID != "" {
		return ErrRemoteIDAlreadySet
	}
	i.RemoteID = remoteID
	return nil
}

// BecomeAuthor attaches profile and sets the AUTHOR tag.
func (i *Identity) BecomeAuthor(profile AuthorProfile, now time.Time) {
	p := profile
	i.Author = &p
	i.Role = RoleAuthor
	i.UpdatedAt = now
}

// BecomePlain discards the author profile and sets the PLAIN tag.
func (i *Identity) BecomePlain(now time.Time) {
	i.Author = nil
	i.Role = RolePlain
	i.UpdatedAt = now
}

// Clone returns a deep copy.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	if i.Author != nil {
		a := *i.Author
		c.Author = &a
	}
	return &c
}

// DisplayName returns the author display name, or the derived name for plain identities.
func (i *Identity) DisplayName() string {
	if i.Author != nil && i.Author.DisplayName != "" {
		return i.Author.DisplayName
	}
	return DeriveDisplayName(i.FirstName, i.LastName, i.Username)
}

// DeriveDisplayName builds a display name from the profile fields: "first last", then whichever
// of first/last is present, then the part of username before "@", then username verbatim.
func DeriveDisplayName(firstName, lastName, username string) string {
	first := strings.TrimSpace(firstName)
	last := strings.TrimSpace(lastName)
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	case last != "":
		return last
	}
	if at := strings.Index(username, "@"); at >= 0 {
		return username[:at]
	}
	return username
}

// Summary is the outward view of an Identity. It never carries credentials.
type Summary struct {
	ID          string
	Username    string
	Email       string
	Role        RoleTag
	DisplayName string
	AvatarURL   string
	Active      bool
}

// Summary returns the outward view of the identity.
func (i *Identity) Summary() *Summary {
	s := &Summary{
		ID:       i.ID,
		Username: i.Username,
		Email:    i.Email,
		Role:     i.Role,
		Active:   i.Active,
	}
	if i.Author != nil {
		s.DisplayName = i.Author.DisplayName
		s.AvatarURL = i.Author.AvatarURL
	}
	return s
}
