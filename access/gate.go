package access

import (
	"github.com/itiky/drop-engine/model"
)

type (
	// Identity is the viewer identity supplied by the host page.
	Identity struct {
		UserId  model.UserId
		GroupId model.GroupId
		Login   string
		// Forum currency balance (used for chest purchase requests)
		Currency float64
	}

	// IdentityProvider is implemented by the host.
	IdentityProvider interface {
		Identity() Identity
	}

	// Policy holds the eligibility rules.
	Policy struct {
		// Groups allowed to run the engine (empty: every non-guest group)
		AllowedGroups []model.GroupId
		AdminGroups   []model.GroupId
		AdminUsers    []model.UserId
		GuestGroup    model.GroupId
		// Forums the engine runs in (empty: everywhere)
		AllowedForums []model.ForumId
	}

	// Decision is the evaluated access for one identity.
	Decision struct {
		Guest    bool
		Eligible bool
		Admin    bool
	}
)

// StaticIdentity is an IdentityProvider returning a fixed identity.
type StaticIdentity Identity

// Identity implements the IdentityProvider interface.
func (s StaticIdentity) Identity() Identity {
	return Identity(s)
}

// IsGuest reports whether the identity is an anonymous visitor.
// Forum engines reserve user id 1 (or lower) for guests.
func (p Policy) IsGuest(id Identity) bool {
	return id.UserId <= 1 || (p.GuestGroup != 0 && id.GroupId == p.GuestGroup)
}

// IsAdmin reports whether the identity may use admin operations.
func (p Policy) IsAdmin(id Identity) bool {
	if p.IsGuest(id) {
		return false
	}
	for _, userId := range p.AdminUsers {
		if userId == id.UserId {
			return true
		}
	}

	return containsGroup(p.AdminGroups, id.GroupId)
}

// IsEligible reports whether the identity may run the engine at all.
func (p Policy) IsEligible(id Identity) bool {
	if p.IsGuest(id) {
		return false
	}
	if p.IsAdmin(id) {
		return true
	}
	if len(p.AllowedGroups) == 0 {
		return true
	}

	return containsGroup(p.AllowedGroups, id.GroupId)
}

// InScope reports whether the page is one the engine runs on.
func (p Policy) InScope(page model.Page) bool {
	if len(p.AllowedForums) == 0 {
		return true
	}
	for _, forumId := range p.AllowedForums {
		if forumId == page.ForumId {
			return true
		}
	}

	return false
}

// Evaluate computes the Decision for an identity.
func (p Policy) Evaluate(id Identity) Decision {
	return Decision{
		Guest:    p.IsGuest(id),
		Eligible: p.IsEligible(id),
		Admin:    p.IsAdmin(id),
	}
}

func containsGroup(groups []model.GroupId, groupId model.GroupId) bool {
	for _, g := range groups {
		if g == groupId {
			return true
		}
	}

	return false
}
