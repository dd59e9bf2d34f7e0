// Package notify announces run outcomes to operators.
//
// Two notifiers are provided, both implementing runner.Reporter:
//   - Webhook: JSON POST with retries (chat webhooks, alerting gateways)
//   - NATS: publish on a subject with NKey authentication
//
// Notification failures are reported to the runner, which logs them; they
// never alter the run's exit status or its outcome log line.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/doughall/backup-runner/internal/runner"
)

// MessageType identifies run outcome messages on shared channels.
const MessageType = "backup_run"

// Envelope wraps every outgoing message.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Host      string          `json:"host"`
	Text      string          `json:"text"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope builds the message for a finished run. Text is a one-line
// human summary that chat webhooks display as-is.
func NewEnvelope(rec *runner.Record) (*Envelope, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return &Envelope{
		Type:      MessageType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Host:      host,
		Text:      fmt.Sprintf("[%s] %s", host, rec.Message),
		Payload:   payload,
	}, nil
}
