package db

import (
	"time"

	"github.com/google/uuid"
)

// RuleType selects how an alert rule triggers.
type RuleType string

// RuleType values match the `rule_type` Postgres enum.
const (
	RuleTypeOnFailure        RuleType = "on_failure"
	RuleTypeFailuresInWindow RuleType = "failures_in_window"
)

// ValidRuleType reports whether s is a known rule type.
func ValidRuleType(s string) bool {
	return RuleType(s) == RuleTypeOnFailure || RuleType(s) == RuleTypeFailuresInWindow
}

// Channel is the notification delivery channel for an alert rule.
type Channel string

// Channel values match the `channel` Postgres enum.
const (
	ChannelSlack   Channel = "slack"
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
)

// ValidChannel reports whether s is a known channel.
func ValidChannel(s string) bool {
	switch Channel(s) {
	case ChannelSlack, ChannelEmail, ChannelWebhook:
		return true
	}
	return false
}

// AlertRule is stored alerting configuration scoped to a client,
// a pipeline, or both. Rule evaluation is outside CHM.
type AlertRule struct {
	ID            uuid.UUID  `json:"id"`
	ClientID      *uuid.UUID `json:"client_id,omitempty"`
	PipelineID    *uuid.UUID `json:"pipeline_id,omitempty"`
	RuleType      RuleType   `json:"rule_type"`
	Threshold     *int       `json:"threshold,omitempty"`
	WindowMinutes *int       `json:"window_minutes,omitempty"`
	Channel       Channel    `json:"channel"`
	Destination   string     `json:"destination"`
	IsEnabled     bool       `json:"is_enabled"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
