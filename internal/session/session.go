package session

import "context"

// AutomationMode controls what the remote agent does with its result.
type AutomationMode string

const (
	AutoCreatePR AutomationMode = "AUTO_CREATE_PR"
	DraftPR      AutomationMode = "DRAFT_PR"
	NoAutomation AutomationMode = "NONE"
)

// Request describes one session to create.
type Request struct {
	Prompt              string
	Source              string
	StartingBranch      string
	RequirePlanApproval bool
	AutomationMode      AutomationMode
}

// Response is the created session.
type Response struct {
	SessionID string
	Status    string
}

// Creator creates remote agent sessions.
type Creator interface {
	CreateSession(ctx context.Context, req Request) (Response, error)
}
