package model

import "time"

type Tier string

const (
	TierBasic   Tier = "BASIC"
	TierPremium Tier = "PREMIUM"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

const (
	AccountStatusActive    = "ACTIVE"
	AccountStatusSuspended = "SUSPENDED"
)

// Metadata keys written by the engine. Values are RFC 3339 timestamps.
const (
	MetaVoiceoverUnlockedAt  = "legacy_voiceover_unlocked_at"
	MetaVoiceoverGraceEndsAt = "legacy_voiceover_grace_ends_at"
)

type Account struct {
	ID              int64      `json:"id"`
	Email           string     `json:"email"`
	Tier            Tier       `json:"tier"`
	Role            Role       `json:"role"`
	Status          string     `json:"status"`
	StudioCreatedAt *time.Time `json:"studio_created_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Payment struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AccountRecord is an account together with the history the entitlement
// engine reads. Subscriptions are ordered newest first.
type AccountRecord struct {
	Account       Account           `json:"account"`
	Subscriptions []Subscription    `json:"subscriptions"`
	PaymentCount  int               `json:"payment_count"`
	Metadata      map[string]string `json:"metadata"`
	Categories    []Category        `json:"categories"`
}

// LatestSubscription returns the most recent subscription, or nil.
func (r *AccountRecord) LatestSubscription() *Subscription {
	if len(r.Subscriptions) == 0 {
		return nil
	}
	return &r.Subscriptions[0]
}

// HasExternalSubscription reports whether any subscription carries an
// external processor id.
func (r *AccountRecord) HasExternalSubscription() bool {
	for i := range r.Subscriptions {
		if !r.Subscriptions[i].IsSynthetic() {
			return true
		}
	}
	return false
}

// HasCategory reports whether c is among the account's listing categories.
func (r *AccountRecord) HasCategory(c Category) bool {
	for _, have := range r.Categories {
		if have == c {
			return true
		}
	}
	return false
}
