package models

import "time"

// SidePanelRecord is the lead enrichment shown next to a conversation.
// Every optional value is nil until a fetch for Phone resolves it.
type SidePanelRecord struct {
	Phone             string     `json:"phone"`
	LeadID            *string    `json:"lead_id"`
	LeadName          *string    `json:"lead_name"`
	LeadStatus        *string    `json:"lead_status"`
	Balance           *float64   `json:"balance"`
	Simulation        *float64   `json:"simulation"`
	ProposalID        *string    `json:"proposal_id"`
	ProposalStatus    *string    `json:"proposal_status"`
	ProposalValue     *float64   `json:"proposal_value"`
	ProposalCreatedAt *time.Time `json:"proposal_created_at"`
	FetchedAt         time.Time  `json:"fetched_at,omitempty"`
}

// HasLead reports whether a lead was resolved for the phone.
func (r SidePanelRecord) HasLead() bool {
	return r.LeadID != nil
}

// Lead is a CRM lead as returned by the collaborator.
type Lead struct {
	ID         string
	Name       string
	Phone      string
	Status     string
	Balance    *float64
	Simulation *float64
}

// Proposal is a CRM proposal attached to a lead.
type Proposal struct {
	ID        string
	LeadID    string
	Status    string
	Value     *float64
	CreatedAt time.Time
}
