package entitlement

import "time"

type facts struct {
	admin        bool
	legacy       bool
	unlockMarker bool
	earned       bool
	graceEndsAt  *time.Time
	now          time.Time
}

type decision struct {
	name    string
	applies func(facts) bool
	decide  func(facts) Status
}

// decisionTable is evaluated top to bottom and the first applicable row
// wins. Precedence: administrator, non-legacy, unlock marker, earned
// unlock, restricted. Unlock rows sit above the restricted row so that an
// unlock always beats a grace marker.
var decisionTable = []decision{
	{
		name:    "administrator",
		applies: func(f facts) bool { return f.admin },
		decide:  unrestricted,
	},
	{
		name:    "non-legacy",
		applies: func(f facts) bool { return !f.legacy },
		decide:  unrestricted,
	},
	{
		name:    "unlock marker",
		applies: func(f facts) bool { return f.unlockMarker },
		decide:  unlocked,
	},
	{
		name:    "earned unlock",
		applies: func(f facts) bool { return f.earned },
		decide:  unlocked,
	},
	{
		name:    "restricted",
		applies: func(facts) bool { return true },
		decide:  restricted,
	},
}

func unrestricted(facts) Status {
	return Status{}
}

func unlocked(facts) Status {
	return Status{IsLegacy: true, HasUnlock: true}
}

func restricted(f facts) Status {
	s := Status{
		IsLegacy:                        true,
		IsRestricted:                    true,
		ShouldBlockRestrictedCapability: true,
	}
	if f.graceEndsAt != nil {
		ends := *f.graceEndsAt
		s.GraceEndsAt = &ends
		s.GraceActive = ends.After(f.now)
		s.ShouldRevokeExistingGrant = !s.GraceActive
	}
	return s
}
