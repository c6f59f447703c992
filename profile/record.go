package profile

import (
	"encoding/json"
	"time"

	"github.com/zsportal/gatekeeper/identity"
)

type record struct {
	UserID       string     `json:"userId"`
	Roles        []string   `json:"roles"`
	Approved     bool       `json:"approved"`
	Blocked      bool       `json:"blocked"`
	LastLogoutAt *time.Time `json:"lastLogoutAt,omitempty"`
	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func marshalProfile(p identity.Profile) ([]byte, error) {
	return json.Marshal(record{
		UserID:       p.UserID,
		Roles:        p.Roles,
		Approved:     p.Approved,
		Blocked:      p.Blocked,
		LastLogoutAt: p.LastLogoutAt,
		LastActiveAt: p.LastActiveAt,
		CreatedAt:    p.CreatedAt,
	})
}

func unmarshalProfile(data []byte) (identity.Profile, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return identity.Profile{}, err
	}
	return identity.Profile{
		UserID:       r.UserID,
		Roles:        r.Roles,
		Approved:     r.Approved,
		Blocked:      r.Blocked,
		LastLogoutAt: r.LastLogoutAt,
		LastActiveAt: r.LastActiveAt,
		CreatedAt:    r.CreatedAt,
	}, nil
}
