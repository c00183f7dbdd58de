package model

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a campaign.
type Status string

// Campaign status constants for lifecycle tracking.
const (
	StatusInactive Status = "inactive"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusFinished Status = "finished"
)

// Active reports whether a campaign in this state still blocks a new start.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusPaused || s == StatusStopping
}

// Terminal reports whether stop requests are ignored in this state.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusFinished || s == StatusInactive || s == ""
}

// CountdownType tells observers what the running countdown is waiting for.
type CountdownType string

const (
	CountdownIdle    CountdownType = "idle"
	CountdownSending CountdownType = "sending"
	CountdownPausing CountdownType = "pausing"
)

// Countdown is the state of the controlled delay published to observers.
type Countdown struct {
	IsActive      bool          `json:"isActive"`
	RemainingTime time.Duration `json:"remainingTime"`
	TotalTime     time.Duration `json:"totalTime"`
	Type          CountdownType `json:"type"`
	CampaignID    string        `json:"campaignId"`
}

// Message kinds accepted in Config.MessageKind.
const (
	KindText     = "text"
	KindImage    = "image"
	KindVideo    = "video"
	KindDocument = "document"
	KindAudio    = "audio"
)

// Config is the mutable campaign configuration. It may only be replaced while
// the campaign is paused.
type Config struct {
	Message     string `json:"message"`
	MediaPath   string `json:"mediaPath,omitempty"`
	MessageKind string `json:"messageKind,omitempty"`
	// ContactsPath is the file the contact source loads recipients from.
	ContactsPath string `json:"contactsPath"`

	PausaCada   int     `json:"pausaCada"`   // long pause every N successful sends
	PausaMinima float64 `json:"pausaMinima"` // minutes
	PausaMaxima float64 `json:"pausaMaxima"` // minutes
	SendDelay   int     `json:"sendDelay"`   // seconds between ordinary sends

	MaxRetries int `json:"maxRetries"`
	Timeout    int `json:"timeout"` // seconds per attempt

	SupervisorNumbers []string `json:"supervisorNumbers"`
	CurrentIndex      int      `json:"currentIndex"`
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := c
	if c.SupervisorNumbers != nil {
		out.SupervisorNumbers = append([]string(nil), c.SupervisorNumbers...)
	}
	return out
}

// Media returns the media attachment configured for the campaign, or nil for
// plain text campaigns.
func (c Config) Media() *Media {
	if strings.TrimSpace(c.MediaPath) == "" {
		return nil
	}
	kind := strings.ToLower(strings.TrimSpace(c.MessageKind))
	if kind == "" || kind == KindText {
		kind = KindDocument
	}
	return &Media{Path: c.MediaPath, Kind: kind}
}

// Media references an attachment on disk or behind an http(s) URL.
type Media struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

// Progress is the externally visible campaign state.
type Progress struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Sent   int    `json:"sent"`
	Total  int    `json:"total"`
	Config Config `json:"config"`
}

// Snapshot is the persisted form of a campaign used for hydration after a
// restart. LegacyCurrentIndex is read from snapshots written before the index
// moved into the config.
type Snapshot struct {
	ID                 string `json:"id"`
	Status             Status `json:"status"`
	Config             Config `json:"config"`
	Sent               int    `json:"sent"`
	Total              int    `json:"total"`
	LegacyCurrentIndex *int   `json:"currentIndex,omitempty"`
}

// Send outcome constants.
const (
	SendSent    = "sent"
	SendFailed  = "failed"
	SendSkipped = "skipped"
)

// SendResult describes what happened to one recipient.
type SendResult struct {
	CampaignID string    `json:"campaign_id"`
	Index      int       `json:"index"`
	Target     string    `json:"target"`
	Status     string    `json:"status"` // sent|failed|skipped
	Error      string    `json:"error,omitempty"`
	Preview    string    `json:"message_preview"`
	Attempts   int       `json:"attempts"`
	At         time.Time `json:"ts"`
}

// LogEntry keeps audit of send attempts.
type LogEntry struct {
	ID          int64     `json:"id" db:"id"`
	TS          time.Time `json:"ts" db:"ts"`
	CampaignID  string    `json:"campaign_id" db:"campaign_id"`
	Index       int       `json:"index" db:"idx"`
	Target      string    `json:"target" db:"target"`
	Status      string    `json:"status" db:"status"` // sent|failed|skipped
	Error       string    `json:"error" db:"error"`
	MessagePrev string    `json:"message_preview" db:"message_preview"`
	Attempt     int       `json:"attempt" db:"attempt"`
}

// CampaignLog is one human readable line from the campaign log.
type CampaignLog struct {
	ID         int64     `json:"id"`
	TS         time.Time `json:"ts"`
	CampaignID string    `json:"campaign_id"`
	Message    string    `json:"message"`
}
