package domain

import (
	"strings"
	"time"
	"unicode"
)

const (
	DefaultLanguage = "plaintext"
	DefaultTitle    = "Untitled Paste"
)

type Paste struct {
	ID             string     `json:"id" bson:"_id"`
	Content        string     `json:"content" bson:"content"`
	SyntaxLanguage string     `json:"language" bson:"syntaxLanguage"`
	Title          string     `json:"title" bson:"title"`
	CustomURL      string     `json:"customUrl,omitempty" bson:"customUrl,omitempty"`
	IsPrivate      bool       `json:"isPrivate" bson:"isPrivate"`
	CreatedAt      time.Time  `json:"createdAt" bson:"createdAt"`
	ExpiresAt      *time.Time `json:"expiresAt" bson:"expiresAt"`
	Views          int64      `json:"views" bson:"views"`
	ClientIPHash   string     `json:"-" bson:"clientIpHash,omitempty"`
}

// Visible reports whether p can be served at now. Expiry is a read-time
// predicate; a purge pass may or may not have run.
func (p *Paste) Visible(now time.Time) bool {
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}

// Key is the identifier clients should use to reach the paste.
func (p *Paste) Key() string {
	if p.CustomURL != "" {
		return p.CustomURL
	}
	return p.ID
}

// reservedSlugs are the static siblings of /pastes/{key}; a paste under one of
// these names could never be fetched.
var reservedSlugs = map[string]bool{
	"recent": true,
	"search": true,
	".":      true,
	"..":     true,
}

// ValidateCustomURL reports whether slug can be addressed as a single path
// segment under /pastes/.
func ValidateCustomURL(slug string) error {
	if reservedSlugs[strings.ToLower(slug)] {
		return ErrInvalidCustomURL
	}
	for _, r := range slug {
		if unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune(`/\?#%`, r) {
			return ErrInvalidCustomURL
		}
	}
	return nil
}

type CreateParams struct {
	Content        string
	SyntaxLanguage string
	Title          string
	CustomURL      string
	Expiration     string
	IsPrivate      bool
	ClientIPHash   string
}

// Normalize applies defaults for the optional free-form fields.
func (c CreateParams) Normalize() CreateParams {
	if strings.TrimSpace(c.SyntaxLanguage) == "" {
		c.SyntaxLanguage = DefaultLanguage
	}
	if strings.TrimSpace(c.Title) == "" {
		c.Title = DefaultTitle
	}
	c.CustomURL = strings.TrimSpace(c.CustomURL)
	return c
}

type SearchParams struct {
	Query    string
	Language string
}
