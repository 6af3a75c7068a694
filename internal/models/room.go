package models

// Room is a conversation scope: an identifier plus an ordered member
// set. Immutable for a client session; selecting a different room
// triggers a full re-subscription.
type Room struct {
	ID      string `json:"id"`
	Members []User `json:"members"`
}

// Member returns the member with the given id, or nil.
func (r *Room) Member(id string) *User {
	for i := range r.Members {
		if r.Members[i].ID == id {
			return &r.Members[i]
		}
	}
	return nil
}

// MemberByDisplayName returns the first member whose display name
// matches exactly, or nil. Display names are not guaranteed unique;
// callers get the first in member order.
func (r *Room) MemberByDisplayName(name string) *User {
	for i := range r.Members {
		if r.Members[i].DisplayName == name {
			return &r.Members[i]
		}
	}
	return nil
}
