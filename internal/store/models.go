package store

import "time"

// Request is the central record: a community issue report. OwnerID empty
// means guest submission; DisplayName then carries the generated anonymous
// handle.
type Request struct {
	ID          string
	Title       string
	Description string
	Category    string
	Location    string
	ContactInfo string
	PhotoRef    string
	Respondent  string
	Status      string
	Priority    string
	AdminNotes  string
	OwnerID     string
	DisplayName string
	SubmittedAt time.Time
	UpdatedAt   time.Time
}
