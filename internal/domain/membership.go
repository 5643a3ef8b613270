package domain

import "time"

// Membership records that a user belongs to a team.
type Membership struct {
	ID       int64
	TeamID   int64
	UserID   int64
	JoinTime time.Time
}

// MembershipFilter selects memberships; zero fields are ignored.
type MembershipFilter struct {
	TeamID int64
	UserID int64
}

// Empty reports whether the filter would match every membership.
func (f MembershipFilter) Empty() bool {
	return f.TeamID == 0 && f.UserID == 0
}
