package bus

import (
	"encoding/json"
	"fmt"

	"PotLedger/internal/settle"

	"github.com/google/uuid"
)

// Confirmation is the typed transfer confirmation from the chain watcher.
type Confirmation struct {
	SubmissionID uuid.UUID
	TxRef        settle.TxRef
}

// JSON wire format for confirmation payloads. Field names use snake_case
// to match the upstream watcher.
type confirmationJSON struct {
	SubmissionID string `json:"submission_id"`
	TxRef        string `json:"tx_ref"`
}

// ParseConfirmation converts a RawConfirmation into a typed Confirmation.
func ParseConfirmation(raw RawConfirmation) (Confirmation, error) {
	var j confirmationJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return Confirmation{}, fmt.Errorf("parse confirmation: %w", err)
	}

	submissionID, err := uuid.Parse(j.SubmissionID)
	if err != nil {
		return Confirmation{}, fmt.Errorf("parse submission_id: %w", err)
	}
	if j.TxRef == "" {
		return Confirmation{}, fmt.Errorf("confirmation missing tx_ref")
	}

	return Confirmation{
		SubmissionID: submissionID,
		TxRef:        settle.TxRef(j.TxRef),
	}, nil
}
