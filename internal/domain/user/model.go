// Package user defines the wallet-identified user record.
package user

import (
	"slices"
	"time"

	"github.com/R3E-Network/walletchat/internal/domain/files"
)

// Role of a user on the platform.
type Role string

const (
	RoleUser     Role = "user"
	RoleOperator Role = "operator"
)

// ItemKind separates purely cosmetic collectibles from feature entitlements.
type ItemKind string

const (
	ItemCosmetic ItemKind = "cosmetic"
	ItemFeature  ItemKind = "feature"
)

// Grant is a capability conferred by owning a feature item.
type Grant string

const (
	GrantUnlimitedAccess Grant = "unlimited_access"
	GrantElevatedTier    Grant = "elevated_tier"
)

// FeatureItem is an owned entitlement or collectible.
type FeatureItem struct {
	ID     string   `json:"id" yaml:"id"`
	Name   string   `json:"name" yaml:"name"`
	Kind   ItemKind `json:"kind" yaml:"kind"`
	Grants []Grant  `json:"grants,omitempty" yaml:"grants"`
}

// HasGrant reports whether the item confers g. Cosmetic items grant nothing.
func (i FeatureItem) HasGrant(g Grant) bool {
	return i.Kind == ItemFeature && slices.Contains(i.Grants, g)
}

// User is the per-wallet account record.
type User struct {
	Address         string        `json:"address"`
	Role            Role          `json:"role"`
	Credits         int64         `json:"credits"`
	Items           []FeatureItem `json:"items"`
	Conversations   []string      `json:"conversations"`
	Blocked         []string      `json:"blocked"`
	Following       []string      `json:"following"`
	Followers       []string      `json:"followers"`
	StorageCapacity int64         `json:"storage_capacity"`
	StorageUsed     int64         `json:"storage_used"`
	FileTree        *files.Node   `json:"file_tree"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Defaults are applied when a user is created on first access.
type Defaults struct {
	Credits         int64
	StorageCapacity int64
}

// New returns a user with defaults applied and an empty file tree.
func New(address string, d Defaults) User {
	return User{
		Address:         address,
		Role:            RoleUser,
		Credits:         d.Credits,
		StorageCapacity: d.StorageCapacity,
		FileTree:        files.NewRoot(),
	}
}

// HasGrant reports whether any owned item confers g.
func (u User) HasGrant(g Grant) bool {
	for _, item := range u.Items {
		if item.HasGrant(g) {
			return true
		}
	}
	return false
}

// OwnsItem reports whether an item with id is owned.
func (u User) OwnsItem(id string) bool {
	return slices.ContainsFunc(u.Items, func(i FeatureItem) bool { return i.ID == id })
}

// HasBlocked reports whether u blocked address.
func (u User) HasBlocked(address string) bool {
	return slices.Contains(u.Blocked, address)
}

// InConversation reports whether id is on the user's conversation list.
func (u User) InConversation(id string) bool {
	return slices.Contains(u.Conversations, id)
}

// Clone deep-copies slices and the file tree.
func (u User) Clone() User {
	u.Items = cloneItems(u.Items)
	u.Conversations = slices.Clone(u.Conversations)
	u.Blocked = slices.Clone(u.Blocked)
	u.Following = slices.Clone(u.Following)
	u.Followers = slices.Clone(u.Followers)
	u.FileTree = u.FileTree.Clone()
	return u
}

func cloneItems(items []FeatureItem) []FeatureItem {
	if items == nil {
		return nil
	}
	out := make([]FeatureItem, len(items))
	for i, it := range items {
		it.Grants = slices.Clone(it.Grants)
		out[i] = it
	}
	return out
}

// Update is a partial update; nil fields are left untouched. Credits are only
// changed through the backend's atomic credit adjustment.
type Update struct {
	Role            *Role          `json:"role,omitempty"`
	Items           *[]FeatureItem `json:"items,omitempty"`
	Conversations   *[]string      `json:"conversations,omitempty"`
	Blocked         *[]string      `json:"blocked,omitempty"`
	StorageCapacity *int64         `json:"storage_capacity,omitempty"`
	StorageUsed     *int64         `json:"storage_used,omitempty"`
	FileTree        *files.Node    `json:"file_tree,omitempty"`
}

// Apply copies the set fields of upd onto u.
func (upd Update) Apply(u *User) {
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.Items != nil {
		u.Items = cloneItems(*upd.Items)
	}
	if upd.Conversations != nil {
		u.Conversations = slices.Clone(*upd.Conversations)
	}
	if upd.Blocked != nil {
		u.Blocked = slices.Clone(*upd.Blocked)
	}
	if upd.StorageCapacity != nil {
		u.StorageCapacity = *upd.StorageCapacity
	}
	if upd.StorageUsed != nil {
		u.StorageUsed = *upd.StorageUsed
	}
	if upd.FileTree != nil {
		u.FileTree = upd.FileTree.Clone()
	}
}

// AddUnique appends v to list unless it is already present.
func AddUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

// Remove drops every occurrence of v from list.
func Remove(list []string, v string) []string {
	return slices.DeleteFunc(slices.Clone(list), func(s string) bool { return s == v })
}
