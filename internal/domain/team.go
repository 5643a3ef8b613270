package domain

import "time"

// TeamStatus is the visibility of a team. The numeric codes are persisted.
type TeamStatus int

const (
	TeamStatusPublic  TeamStatus = 0
	TeamStatusPrivate TeamStatus = 1
	TeamStatusSecret  TeamStatus = 2
)

// Valid reports whether s is one of the known status codes.
func (s TeamStatus) Valid() bool {
	switch s {
	case TeamStatusPublic, TeamStatusPrivate, TeamStatusSecret:
		return true
	}
	return false
}

func (s TeamStatus) String() string {
	switch s {
	case TeamStatusPublic:
		return "public"
	case TeamStatusPrivate:
		return "private"
	case TeamStatusSecret:
		return "secret"
	}
	return "unknown"
}

// Team is a user-created group with a member cap.
type Team struct {
	ID           int64
	OwnerID      int64
	Name         string
	Description  string
	MaxNum       int
	Status       TeamStatus
	PasswordHash []byte
	ExpireTime   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the team's expiry has passed relative to now.
func (t Team) Expired(now time.Time) bool {
	if t.ExpireTime == nil {
		return false
	}
	return !t.ExpireTime.After(now)
}

// TeamQuery filters team listings. Zero values mean "no filter".
type TeamQuery struct {
	ID          int64
	IDs         []int64
	SearchText  string
	Name        string
	Description string
	MaxNum      int
	OwnerID     int64
	Status      *TeamStatus
	Limit       int
	Offset      int
}

// TeamStats is a point-in-time snapshot used for gauges.
type TeamStats struct {
	Active      int
	Expired     int
	Memberships int
}

// TeamView is a team enriched for a particular caller.
type TeamView struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	MaxNum      int          `json:"maxNum"`
	Status      TeamStatus   `json:"status"`
	ExpireTime  *time.Time   `json:"expireTime,omitempty"`
	OwnerID     int64        `json:"userId"`
	Owner       *UserProfile `json:"createUser,omitempty"`
	JoinedCount int          `json:"hasJoinNum"`
	HasJoined   bool         `json:"hasJoin"`
	CreatedAt   time.Time    `json:"createTime"`
	UpdatedAt   time.Time    `json:"updateTime"`
}

// NewTeamView projects t without its secret.
func NewTeamView(t Team) TeamView {
	return TeamView{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		MaxNum:      t.MaxNum,
		Status:      t.Status,
		ExpireTime:  t.ExpireTime,
		OwnerID:     t.OwnerID,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}
