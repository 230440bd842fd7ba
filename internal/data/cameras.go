package data

import (
	"slices"
	"time"
)

// ChannelKind selects the notification transport for a recipient.
type ChannelKind string

const (
	ChannelChat    ChannelKind = "chat"
	ChannelWebhook ChannelKind = "webhook"
	ChannelNATS    ChannelKind = "nats"
	ChannelKafka   ChannelKind = "kafka"
	ChannelMQTT    ChannelKind = "mqtt"
)

// Recipient is one delivery target. Identity optionally binds a chat
// recipient to a specific sending device.
type Recipient struct {
	Channel  ChannelKind `yaml:"channel" json:"channel"`
	Name     string      `yaml:"name" json:"name,omitempty"`
	Target   string      `yaml:"target" json:"target"`
	Identity string      `yaml:"identity" json:"identity,omitempty"`
}

// Key identifies a recipient independent of its display name.
func (r Recipient) Key() string {
	return string(r.Channel) + "|" + r.Target
}

func (r Recipient) String() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Target
}

// Camera is the configured view of one camera. The pipeline never mutates it;
// runs work on a Snapshot taken at admission.
type Camera struct {
	ID                 string        `yaml:"id" json:"id"`
	Name               string        `yaml:"name" json:"name"`
	StreamURL          string        `yaml:"stream_url" json:"stream_url,omitempty"`
	SnapshotURL        string        `yaml:"snapshot_url" json:"snapshot_url,omitempty"`
	AnalysisPrompt     string        `yaml:"analysis_prompt" json:"analysis_prompt"`
	NotificationPrompt string        `yaml:"notification_prompt" json:"notification_prompt,omitempty"`
	Cooldown           time.Duration `yaml:"cooldown" json:"cooldown"`
	Triggers           []TriggerKind `yaml:"triggers" json:"triggers"`
	Recipients         []Recipient   `yaml:"recipients" json:"recipients"`
	ScheduleInterval   time.Duration `yaml:"schedule_interval" json:"schedule_interval,omitempty"`
}

// DisplayName falls back to the ID when no name is configured.
func (c Camera) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Accepts reports whether the trigger kind is enabled. An empty set enables
// every kind.
func (c Camera) Accepts(kind TriggerKind) bool {
	if len(c.Triggers) == 0 {
		return true
	}
	return slices.Contains(c.Triggers, kind)
}

// Snapshot returns a deep copy that shares no slices with c.
func (c Camera) Snapshot() Camera {
	out := c
	out.Triggers = slices.Clone(c.Triggers)
	out.Recipients = slices.Clone(c.Recipients)
	return out
}
