package queue

import (
	"fmt"
	"strings"
)

// BatchMessage asks a worker to execute the PENDING items of a planned batch.
type BatchMessage struct {
	BatchID       string `json:"batchId"`
	ActorID       string `json:"actorId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	// Resume marks a re-run of a batch that was already executed once.
	Resume bool `json:"resume,omitempty"`
}

func (m BatchMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	return nil
}
