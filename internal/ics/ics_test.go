package ics

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"postcal/internal/model"
	"postcal/internal/store/memory"
)

func calendar(lines ...string) []byte {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}, lines...)
	all = append(all, "END:VCALENDAR")
	return []byte(strings.Join(all, "\r\n") + "\r\n")
}

func seoul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

var weeklyEvent = []string{
	"BEGIN:VEVENT",
	"UID:weekly-1",
	"DTSTAMP:20240101T000000Z",
	"SUMMARY:Weekly drop",
	"DESCRIPTION:New product photos",
	"CATEGORIES:instagram,tiktok",
	"DTSTART;TZID=Asia/Seoul:20240103T090000",
	"DTEND;TZID=Asia/Seoul:20240103T100000",
	"RRULE:FREQ=WEEKLY;COUNT=4",
	"EXDATE;TZID=Asia/Seoul:20240110T090000",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:weekly-1",
	"DTSTAMP:20240101T000000Z",
	"SUMMARY:Moved drop",
	"RECURRENCE-ID;TZID=Asia/Seoul:20240117T090000",
	"DTSTART;TZID=Asia/Seoul:20240117T150000",
	"DTEND;TZID=Asia/Seoul:20240117T160000",
	"END:VEVENT",
}

func TestParse(t *testing.T) {
	loc := seoul(t)
	body := calendar(append(weeklyEvent,
		"BEGIN:VEVENT",
		"UID:allday-1",
		"DTSTAMP:20240101T000000Z",
		"SUMMARY:Launch day",
		"DTSTART;VALUE=DATE:20240105",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:floating-1",
		"DTSTAMP:20240101T000000Z",
		"DTSTART:20240106T100000",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"DTSTAMP:20240101T000000Z",
		"SUMMARY:no uid",
		"DTSTART:20240106T100000Z",
		"END:VEVENT",
	)...)

	events, err := Parse(body, loc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("want 4 events (uid-less skipped), got %d", len(events))
	}

	base := events[0]
	if base.UID != "weekly-1" || base.RawRRule != "FREQ=WEEKLY;COUNT=4" || base.IsOverride() {
		t.Fatalf("unexpected base event: %+v", base)
	}
	if !base.Start.Equal(time.Date(2024, 1, 3, 9, 0, 0, 0, loc)) {
		t.Fatalf("base start = %v", base.Start)
	}
	if len(base.ExDates) != 1 || !base.ExDates[0].Equal(time.Date(2024, 1, 10, 9, 0, 0, 0, loc)) {
		t.Fatalf("exdates = %v", base.ExDates)
	}
	if len(base.Categories) != 2 || base.Categories[1] != "tiktok" {
		t.Fatalf("categories = %v", base.Categories)
	}
	if !events[1].IsOverride() {
		t.Fatal("second event should be an override")
	}

	allDay := events[2]
	if !allDay.AllDay || !allDay.End.Equal(allDay.Start.AddDate(0, 0, 1)) {
		t.Fatalf("all-day event: %+v", allDay)
	}

	floating := events[3]
	if !floating.Start.Equal(time.Date(2024, 1, 6, 10, 0, 0, 0, loc)) {
		t.Fatalf("floating start = %v, want 10:00 in Asia/Seoul", floating.Start)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse(nil, time.UTC); !errors.Is(err, ErrEmptyCalendar) {
		t.Fatalf("err = %v, want ErrEmptyCalendar", err)
	}
	if _, err := Parse([]byte("not a calendar\r\n"), time.UTC); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestExpand_RRuleExDateOverride(t *testing.T) {
	loc := seoul(t)
	events, err := Parse(calendar(weeklyEvent...), loc)
	if err != nil {
		t.Fatal(err)
	}

	res, err := Expand(events, ExpandConfig{
		Location:   loc,
		RangeStart: time.Date(2024, 1, 1, 0, 0, 0, 0, loc),
		RangeEnd:   time.Date(2024, 2, 1, 0, 0, 0, 0, loc),
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	want := []struct {
		start   time.Time
		summary string
	}{
		{time.Date(2024, 1, 3, 9, 0, 0, 0, loc), "Weekly drop"},
		{time.Date(2024, 1, 17, 15, 0, 0, 0, loc), "Moved drop"},
		{time.Date(2024, 1, 24, 9, 0, 0, 0, loc), "Weekly drop"},
	}
	if len(res.Occurrences) != len(want) {
		t.Fatalf("got %d occurrences, want %d: %+v", len(res.Occurrences), len(want), res.Occurrences)
	}
	for i, w := range want {
		o := res.Occurrences[i]
		if !o.Start.Equal(w.start) || o.Summary != w.summary {
			t.Fatalf("occurrence %d = %v %q, want %v %q", i, o.Start, o.Summary, w.start, w.summary)
		}
		if o.End.Sub(o.Start) != time.Hour {
			t.Fatalf("occurrence %d duration = %v", i, o.End.Sub(o.Start))
		}
	}
}

func TestExpand_Cap(t *testing.T) {
	events, err := Parse(calendar(
		"BEGIN:VEVENT",
		"UID:daily",
		"DTSTAMP:20240101T000000Z",
		"DTSTART:20240101T120000Z",
		"RRULE:FREQ=DAILY",
		"END:VEVENT",
	), time.UTC)
	if err != nil {
		t.Fatal(err)
	}

	res, err := Expand(events, ExpandConfig{
		RangeStart:             time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:               time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		MaxOccurrencesPerEvent: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Occurrences) != 5 {
		t.Fatalf("got %d occurrences, want cap of 5", len(res.Occurrences))
	}
	if len(res.Truncated) != 1 || res.Truncated[0] != "daily" {
		t.Fatalf("truncated = %v", res.Truncated)
	}
}

func TestExpand_BadRange(t *testing.T) {
	now := time.Now()
	if _, err := Expand(nil, ExpandConfig{RangeStart: now, RangeEnd: now.Add(-time.Hour)}); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func TestExport(t *testing.T) {
	loc := seoul(t)
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	posts := []model.ScheduledPost{{
		ID:        "post-1",
		Title:     "Scheduled Post #1",
		Caption:   "Content to be generated",
		Platforms: []string{"instagram"},
		Date:      "2024-01-03",
		Time:      "09:00",
		Timezone:  "Asia/Seoul",
		Status:    model.PostDraft,
	}}
	alarms := []model.Alarm{
		{ID: "alarm-1", Title: "Post reminder", At: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Status: model.AlarmActive},
		{ID: "alarm-2", Title: "Old", At: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Status: model.AlarmDismissed},
	}

	var buf bytes.Buffer
	if err := Export(&buf, posts, alarms, now); err != nil {
		t.Fatalf("export: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"BEGIN:VALARM", "ACTION:DISPLAY", "TRIGGER:PT0S",
		"CATEGORIES:instagram", "STATUS:TENTATIVE", "UID:post-1@postcal",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("export missing %q:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "BEGIN:VEVENT"); n != 2 {
		t.Fatalf("want 2 VEVENTs (dismissed alarm dropped), got %d", n)
	}

	events, err := Parse(buf.Bytes(), time.UTC)
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("re-parsed %d events", len(events))
	}
	if want := time.Date(2024, 1, 3, 9, 0, 0, 0, loc); !events[0].Start.Equal(want) {
		t.Fatalf("post start = %v, want %v", events[0].Start, want)
	}
	if events[0].End.Sub(events[0].Start) != time.Hour {
		t.Fatalf("post duration = %v", events[0].End.Sub(events[0].Start))
	}
}

func newTestImporter(t *testing.T, loc *time.Location, f *Fetcher) (*Importer, *memory.Store) {
	t.Helper()
	st := memory.New()
	im := NewImporter(st, f, ImportConfig{Location: loc, Platforms: []string{"instagram"}, DefaultTime: "08:30"})
	im.now = func() time.Time { return time.Date(2024, 1, 2, 12, 0, 0, 0, loc) }
	return im, st
}

func TestImporter_ImportBody(t *testing.T) {
	loc := seoul(t)
	im, st := newTestImporter(t, loc, nil)
	ctx := context.Background()

	body := calendar(append(weeklyEvent,
		"BEGIN:VEVENT",
		"UID:past",
		"DTSTAMP:20240101T000000Z",
		"DTSTART;TZID=Asia/Seoul:20231201T090000",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:allday",
		"DTSTAMP:20240101T000000Z",
		"DTSTART;VALUE=DATE:20240105",
		"END:VEVENT",
	)...)

	got, err := im.ImportBody(ctx, body)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("imported %d posts, want 4: %+v", len(got), got)
	}

	first := got[0]
	if first.Date != "2024-01-03" || first.Time != "09:00" || first.Timezone != "Asia/Seoul" {
		t.Fatalf("first post = %+v", first)
	}
	if first.Status != model.PostDraft || first.Caption != "New product photos" {
		t.Fatalf("first post = %+v", first)
	}
	if len(first.Platforms) != 2 || first.Platforms[0] != "instagram" {
		t.Fatalf("platforms = %v", first.Platforms)
	}

	allDay := got[1]
	if allDay.Date != "2024-01-05" || allDay.Time != "08:30" || allDay.Title != "Imported Post" {
		t.Fatalf("all-day post = %+v", allDay)
	}
	if len(allDay.Platforms) != 1 || allDay.Platforms[0] != "instagram" {
		t.Fatalf("default platforms not applied: %v", allDay.Platforms)
	}

	stored, _ := st.ListPosts(ctx)
	if len(stored) != 4 {
		t.Fatalf("store holds %d posts", len(stored))
	}

	if _, err := im.ImportBody(ctx, []byte("garbage")); !errors.Is(err, ErrInvalidCalendar) {
		t.Fatalf("err = %v, want ErrInvalidCalendar", err)
	}
}

func TestFetcher_CacheAndFallback(t *testing.T) {
	body := string(calendar(
		"BEGIN:VEVENT",
		"UID:remote",
		"DTSTAMP:20240101T000000Z",
		"DTSTART:20240110T090000Z",
		"END:VEVENT",
	))

	var failing atomic.Bool
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if failing.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	ctx := context.Background()

	res, err := f.Fetch(ctx, srv.URL+"/cal.ics?token=secret")
	if err != nil || res.FromCache || string(res.Body) != body {
		t.Fatalf("first fetch: res=%+v err=%v", res, err)
	}

	res, err = f.Fetch(ctx, srv.URL+"/cal.ics?token=secret")
	if err != nil || !res.FromCache || string(res.Body) != body {
		t.Fatalf("conditional fetch: res=%+v err=%v", res, err)
	}

	failing.Store(true)
	res, err = f.Fetch(ctx, srv.URL+"/cal.ics?token=secret")
	if err != nil || !res.FromCache {
		t.Fatalf("fallback fetch: res=%+v err=%v", res, err)
	}

	if _, err := f.Fetch(ctx, srv.URL+"/other.ics"); !errors.Is(err, ErrFetch) {
		t.Fatalf("uncached failure err = %v, want ErrFetch", err)
	}
	if hits.Load() != 4 {
		t.Fatalf("server hits = %d, want 4", hits.Load())
	}
}

func TestFetcher_RejectsScheme(t *testing.T) {
	f := NewFetcher("", nil)
	if _, err := f.Fetch(context.Background(), "file:///etc/passwd"); !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
}

func TestImporter_ImportURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(calendar(
			"BEGIN:VEVENT",
			"UID:remote",
			"DTSTAMP:20240101T000000Z",
			"SUMMARY:Remote post",
			"DTSTART:20240110T090000Z",
			"END:VEVENT",
		))
	}))
	defer srv.Close()

	im, _ := newTestImporter(t, time.UTC, NewFetcher("", srv.Client()))
	got, err := im.ImportURL(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("import url: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Remote post" || got[0].Date != "2024-01-10" {
		t.Fatalf("unexpected posts: %+v", got)
	}

	noFetch, _ := newTestImporter(t, time.UTC, nil)
	if _, err := noFetch.ImportURL(context.Background(), srv.URL); !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("https://calendar.example.com/private/abc.ics?token=x"); got != "https://calendar.example.com/...(redacted)" {
		t.Fatalf("redactURL = %q", got)
	}
	if got := redactURL("nonsense"); got != "ics://...(redacted)" {
		t.Fatalf("redactURL = %q", got)
	}
}
