package postgres

import (
	"context"
	"encoding/json"
	"fmt"
)

// AuditStore appends operational events to the audit_log table.
type AuditStore struct {
	client *Client
}

// NewAuditStore creates an AuditStore backed by the given client.
func NewAuditStore(client *Client) *AuditStore {
	return &AuditStore{client: client}
}

// Log records a named event with optional structured detail.
func (s *AuditStore) Log(ctx context.Context, action string, details map[string]any) error {
	var detail []byte
	if len(details) > 0 {
		var err error
		detail, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("postgres: marshal audit detail: %w", err)
		}
	}

	_, err := s.client.Pool().Exec(ctx,
		"INSERT INTO audit_log (event, detail) VALUES ($1, $2)",
		action, detail)
	if err != nil {
		return fmt.Errorf("postgres: insert audit event %q: %w", action, err)
	}
	return nil
}
