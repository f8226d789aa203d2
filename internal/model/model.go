package model

import "time"

// AlarmStatus is the lifecycle state of an alarm. Only active alarms are
// considered by the trigger loop.
type AlarmStatus string

const (
	AlarmActive    AlarmStatus = "active"
	AlarmDismissed AlarmStatus = "dismissed"
)

// Alarm is a reminder that rings once at At.
type Alarm struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Notes string `json:"notes,omitempty"`

	// At is the absolute instant the alarm should ring.
	At time.Time `json:"alarm_datetime"`

	SoundEnabled        bool `json:"sound_enabled"`
	NotificationEnabled bool `json:"notification_enabled"`

	Status AlarmStatus `json:"status"`

	// Optional back-references, display only.
	ScheduledPostID string `json:"scheduled_post_id,omitempty"`
	PlannedPostID   string `json:"planned_post_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Active reports whether the trigger loop should look at this alarm.
func (a Alarm) Active() bool {
	return a.Status == AlarmActive
}

// NewAlarm carries the user-supplied fields of an alarm before the store
// assigns an id and timestamps.
type NewAlarm struct {
	Title               string
	Notes               string
	At                  time.Time
	SoundEnabled        bool
	NotificationEnabled bool
	ScheduledPostID     string
	PlannedPostID       string
}

// PostStatus tracks a scheduled post through publication.
type PostStatus string

const (
	PostDraft     PostStatus = "draft"
	PostScheduled PostStatus = "scheduled"
	PostPublished PostStatus = "published"
)

// ScheduledPost is a single planned social media post on a calendar day.
type ScheduledPost struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Caption string `json:"caption"`

	Platforms []string `json:"platforms"`

	// Date is YYYY-MM-DD and Time is HH:MM, both in Timezone.
	Date     string `json:"scheduled_date"`
	Time     string `json:"scheduled_time"`
	Timezone string `json:"timezone"`

	Status PostStatus `json:"status"`
	Notes  string     `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Start resolves the post's date, time and timezone into an instant.
// An unknown timezone falls back to UTC.
func (p ScheduledPost) Start() (time.Time, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil || p.Timezone == "" {
		loc = time.UTC
	}
	return time.ParseInLocation("2006-01-02 15:04", p.Date+" "+p.Time, loc)
}
