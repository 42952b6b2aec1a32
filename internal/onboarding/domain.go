package onboarding

import "time"

// IntakeRecord is the raw discovery material received for a brief.
// Child of Brief: deleted first on compensation.
type IntakeRecord struct {
	ID             string
	BriefID        string
	DiscoveryNotes string
	ReceivedAt     time.Time
}

// Brief is the normalized statement of work produced from an intake.
type Brief struct {
	ID           string
	Scope        string
	NormalizedAt time.Time
}
