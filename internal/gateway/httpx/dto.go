package httpx

type CreateWorkflowRequest struct {
	ClientID    string `json:"client_id"`
	BriefID     string `json:"brief_id"`
	ForceQCFail bool   `json:"force_qc_fail"`
}

type WorkflowResponse struct {
	SagaID           string   `json:"saga_id"`
	Success          bool     `json:"success"`
	CompletedSteps   []string `json:"completed_steps"`
	CompensatedSteps []string `json:"compensated_steps"`
}

type RunResponse struct {
	ID          string `json:"id"`
	BriefID     string `json:"brief_id"`
	Status      string `json:"status"`
	ClaimedBy   string `json:"claimed_by,omitempty"`
	RetryCount  int    `json:"retry_count"`
	LastError   string `json:"last_error,omitempty"`
	TraceID     string `json:"trace_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
