package models

// Snapshot is the live view of one day: tickets waiting and tickets being
// served, each oldest first.
type Snapshot struct {
	Waiting   []Ticket `json:"waiting"`
	InService []Ticket `json:"in_service"`
}
