package models

// AddEventResponse carries the identifier assigned to a new event.
type AddEventResponse struct {
	EventID string `json:"event_id"`
}

// SubscriptionsResponse is the user's subscribed categories in
// subscription order.
type SubscriptionsResponse struct {
	Categories []string `json:"categories"`
}

// EventsResponse is the concatenated serialized event history for a
// user, in subscription order and per-category append order.
type EventsResponse struct {
	Events []string `json:"events"`
}
