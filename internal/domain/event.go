package domain

import "time"

// TeamEvent types.
const (
	EventTeamCreated   = "team.created"
	EventTeamUpdated   = "team.updated"
	EventMemberJoined  = "member.joined"
	EventMemberLeft    = "member.left"
	EventOwnerChanged  = "owner.changed"
	EventTeamDisbanded = "team.disbanded"
)

// TeamEvent describes a committed change to a team.
type TeamEvent struct {
	Type    string    `json:"type"`
	TeamID  int64     `json:"teamId"`
	UserID  int64     `json:"userId,omitempty"`
	OwnerID int64     `json:"ownerId,omitempty"`
	At      time.Time `json:"at"`
}
