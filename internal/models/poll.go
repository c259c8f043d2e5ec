package models

import "time"

// ResourceClass is a family of data refreshed on its own cadence.
type ResourceClass string

const (
	ResourceMessages ResourceClass = "messages"
	ResourceContacts ResourceClass = "contacts"
	ResourceLeadData ResourceClass = "lead_data"
)

// ResourceClasses lists every class in tick order.
var ResourceClasses = []ResourceClass{ResourceMessages, ResourceContacts, ResourceLeadData}

// ActivityTier selects the polling cadence.
type ActivityTier string

const (
	TierActive ActivityTier = "active"
	TierIdle   ActivityTier = "idle"
)

// PollCycle describes one scheduler tick.
type PollCycle struct {
	CycleID   uint64
	StartedAt time.Time
	Active    bool
	Resources []ResourceClass
}
