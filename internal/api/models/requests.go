package models

// AddEventRequest is the body of POST /events.
type AddEventRequest struct {
	Category string `json:"category"`
	Name     string `json:"name"`
}
