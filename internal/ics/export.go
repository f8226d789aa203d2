package ics

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "postcal/internal/log"
	"postcal/internal/model"
)

const (
	productID = "-//postcal//Scheduled Posts//EN"
	calName   = "postcal"
	uidDomain = "@postcal"

	postDuration = time.Hour
)

// Export writes posts and active alarms as one VCALENDAR. Each post is a
// one hour VEVENT at its local date and time. Each alarm is a zero length
// VEVENT carrying a DISPLAY VALARM that fires at the event start.
func Export(w io.Writer, posts []model.ScheduledPost, alarms []model.Alarm, now time.Time) error {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(calName)

	for _, p := range posts {
		start, err := p.Start()
		if err != nil {
			appLog.Warn("ics export skipped post", "id", p.ID, "err", err.Error())
			continue
		}
		ev := cal.AddEvent(p.ID + uidDomain)
		ev.SetDtStampTime(now)
		if !p.CreatedAt.IsZero() {
			ev.SetCreatedTime(p.CreatedAt)
		}
		ev.SetStartAt(start)
		ev.SetEndAt(start.Add(postDuration))
		ev.SetSummary(p.Title)
		if p.Caption != "" {
			ev.SetDescription(p.Caption)
		}
		for _, platform := range p.Platforms {
			ev.AddProperty(ical.ComponentPropertyCategories, platform)
		}
		ev.SetStatus(postStatus(p.Status))
	}

	for _, a := range alarms {
		if !a.Active() {
			continue
		}
		ev := cal.AddEvent(a.ID + uidDomain)
		ev.SetDtStampTime(now)
		if !a.CreatedAt.IsZero() {
			ev.SetCreatedTime(a.CreatedAt)
		}
		ev.SetStartAt(a.At)
		ev.SetEndAt(a.At)
		ev.SetSummary(a.Title)
		if a.Notes != "" {
			ev.SetDescription(a.Notes)
		}

		va := ev.AddAlarm()
		va.SetAction(ical.ActionDisplay)
		va.SetTrigger("PT0S")
		va.SetProperty(ical.ComponentPropertyDescription, "Alarm: "+a.Title)
	}

	return cal.SerializeTo(w)
}

func postStatus(s model.PostStatus) ical.ObjectStatus {
	if s == model.PostDraft {
		return ical.ObjectStatusTentative
	}
	return ical.ObjectStatusConfirmed
}
