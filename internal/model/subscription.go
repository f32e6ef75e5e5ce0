package model

import (
	"time"

	stripe "github.com/stripe/stripe-go/v82"
)

// Subscription statuses share the payment processor's vocabulary so that
// synthetic grants and webhook-written rows compare equal.
const (
	SubscriptionStatusActive   = string(stripe.SubscriptionStatusActive)
	SubscriptionStatusCanceled = string(stripe.SubscriptionStatusCanceled)
	SubscriptionStatusPastDue  = string(stripe.SubscriptionStatusPastDue)
)

type Subscription struct {
	ID                   int64      `json:"id"`
	AccountID            int64      `json:"account_id"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id"`
	StripeCustomerID     *string    `json:"stripe_customer_id"`
	Status               string     `json:"status"`
	PeriodStart          *time.Time `json:"period_start"`
	PeriodEnd            *time.Time `json:"period_end"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IsPaid reports whether the subscription was billed by the payment
// processor. Rows without both external ids are internal grants.
func (s *Subscription) IsPaid() bool {
	return s.StripeSubscriptionID != nil && *s.StripeSubscriptionID != "" &&
		s.StripeCustomerID != nil && *s.StripeCustomerID != ""
}

// IsSynthetic reports whether the subscription carries no external id at
// all. Only synthetic rows may be reverted by a rollback.
func (s *Subscription) IsSynthetic() bool {
	return (s.StripeSubscriptionID == nil || *s.StripeSubscriptionID == "") &&
		(s.StripeCustomerID == nil || *s.StripeCustomerID == "")
}

// Start returns the period start, falling back to the creation time.
func (s *Subscription) Start() time.Time {
	if s.PeriodStart != nil {
		return *s.PeriodStart
	}
	return s.CreatedAt
}
