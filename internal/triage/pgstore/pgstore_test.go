package pgstore_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/docket/internal/postgres"
	"github.com/linnemanlabs/docket/internal/triage"
	"github.com/linnemanlabs/docket/internal/triage/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("DOCKET_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("DOCKET_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func newTicket(t *testing.T, s *pgstore.Store) *triage.Ticket {
	t.Helper()
	now := time.Now().Truncate(time.Microsecond).UTC()
	tk := &triage.Ticket{
		ID:          "test-" + ulid.Make().String(),
		Title:       "Invoice payment failed",
		Body:        "Card declined twice at checkout.",
		ProductArea: "billing",
		Tags:        []string{"checkout", "payments"},
		Status:      triage.TicketOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.CreateTicket(context.Background(), tk); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	return tk
}

func TestCreateAndGetTicket(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	tk := newTicket(t, s)

	got, ok, err := s.GetTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if !ok {
		t.Fatal("GetTicket returned ok=false, want true")
	}

	assertEqual(t, "Title", tk.Title, got.Title)
	assertEqual(t, "Body", tk.Body, got.Body)
	assertEqual(t, "ProductArea", tk.ProductArea, got.ProductArea)
	assertEqual(t, "Status", tk.Status, got.Status)
	if !got.CreatedAt.Equal(tk.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, tk.CreatedAt)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "checkout" || got.Tags[1] != "payments" {
		t.Errorf("Tags = %v", got.Tags)
	}

	if err := s.CreateTicket(ctx, tk); err == nil {
		t.Error("expected error for duplicate ID")
	}
}

func TestGetTicketMissing(t *testing.T) {
	s := openStore(t)

	_, ok, err := s.GetTicket(context.Background(), "nonexistent-ticket-id")
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestUpdateTicket(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	tk := newTicket(t, s)

	status := triage.TicketTriaged
	level := triage.P1
	conf := 0.85
	assignee := "finance_accounting"
	later := tk.UpdatedAt.Add(time.Minute)
	err := s.UpdateTicket(ctx, tk.ID, triage.TicketUpdate{
		Status:     &status,
		Priority:   &level,
		Confidence: &conf,
		AssigneeID: &assignee,
		UpdatedAt:  later,
	})
	if err != nil {
		t.Fatalf("UpdateTicket: %v", err)
	}

	got, _, _ := s.GetTicket(ctx, tk.ID)
	assertEqual(t, "Status", triage.TicketTriaged, got.Status)
	assertEqual(t, "Priority", triage.P1, got.Priority)
	assertEqual(t, "Confidence", 0.85, got.Confidence)
	assertEqual(t, "AssigneeID", assignee, got.AssigneeID)
	assertEqual(t, "Title", tk.Title, got.Title)
	assertEqual(t, "AssigneeName", "", got.AssigneeName)
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, later)
	}

	err = s.UpdateTicket(ctx, "nonexistent-ticket-id", triage.TicketUpdate{Status: &status})
	if !errors.Is(err, triage.ErrTicketNotFound) {
		t.Errorf("err = %v, want ErrTicketNotFound", err)
	}
}

func TestUpdateTicketContentFields(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	tk := newTicket(t, s)

	title := "Refund not issued"
	tags := []string{"refunds"}
	if err := s.UpdateTicket(ctx, tk.ID, triage.TicketUpdate{Title: &title, Tags: &tags}); err != nil {
		t.Fatalf("UpdateTicket: %v", err)
	}

	got, _, _ := s.GetTicket(ctx, tk.ID)
	assertEqual(t, "Title", title, got.Title)
	assertEqual(t, "Body", tk.Body, got.Body)
	assertEqual(t, "ProductArea", tk.ProductArea, got.ProductArea)
	if len(got.Tags) != 1 || got.Tags[0] != "refunds" {
		t.Errorf("Tags = %v, want [refunds]", got.Tags)
	}
	if !got.UpdatedAt.Equal(tk.UpdatedAt) {
		t.Errorf("zero UpdatedAt moved the column: %v", got.UpdatedAt)
	}
}

func TestListTicketsNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	older := newTicket(t, s)
	newer := &triage.Ticket{
		ID: "test-" + ulid.Make().String(), Title: "Later ticket", Status: triage.TicketOpen,
		CreatedAt: older.CreatedAt.Add(time.Hour), UpdatedAt: older.CreatedAt.Add(time.Hour),
	}
	if err := s.CreateTicket(ctx, newer); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	got, err := s.ListTickets(ctx, 0)
	if err != nil {
		t.Fatalf("ListTickets: %v", err)
	}
	pos := map[string]int{}
	for i, tk := range got {
		pos[tk.ID] = i
	}
	io, okOld := pos[older.ID]
	in, okNew := pos[newer.ID]
	if !okOld || !okNew {
		t.Fatalf("tickets missing from list of %d", len(got))
	}
	if in > io {
		t.Errorf("newer ticket at %d, older at %d; want newest first", in, io)
	}

	limited, err := s.ListTickets(ctx, 1)
	if err != nil {
		t.Fatalf("ListTickets(1): %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len = %d, want 1", len(limited))
	}
}

func TestDeleteTicket(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	tk := newTicket(t, s)

	_ = s.AddComment(ctx, &triage.Comment{ID: "c-" + ulid.Make().String(), TicketID: tk.ID, Text: "hi", CreatedAt: tk.CreatedAt})
	_ = s.AppendActivity(ctx, &triage.ActivityEntry{
		ID: "e-" + ulid.Make().String(), TicketID: tk.ID, EventType: triage.ActivityUpdated,
		Payload: map[string]any{"fields": []string{"title"}}, Timestamp: tk.CreatedAt,
	})

	if err := s.DeleteTicket(ctx, tk.ID); err != nil {
		t.Fatalf("DeleteTicket: %v", err)
	}
	if _, ok, _ := s.GetTicket(ctx, tk.ID); ok {
		t.Error("ticket still present after delete")
	}
	comments, _ := s.ListComments(ctx, tk.ID, 0)
	activity, _ := s.ListActivity(ctx, tk.ID)
	if len(comments) != 0 || len(activity) != 0 {
		t.Errorf("children left behind: %d comments, %d activity", len(comments), len(activity))
	}

	if err := s.DeleteTicket(ctx, tk.ID); !errors.Is(err, triage.ErrTicketNotFound) {
		t.Errorf("second delete err = %v, want ErrTicketNotFound", err)
	}
}

func TestCommentsOldestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	tk := newTicket(t, s)

	for i := 12; i > 0; i-- {
		err := s.AddComment(ctx, &triage.Comment{
			ID:        fmt.Sprintf("%s-c-%02d", tk.ID, i),
			TicketID:  tk.ID,
			Author:    "agent",
			Text:      fmt.Sprintf("comment %d", i),
			CreatedAt: tk.CreatedAt.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AddComment: %v", err)
		}
	}

	got, err := s.ListComments(ctx, tk.ID, 10)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	assertEqual(t, "first", "comment 1", got[0].Text)
	assertEqual(t, "last", "comment 10", got[9].Text)

	all, _ := s.ListComments(ctx, tk.ID, 0)
	assertEqual(t, "unlimited", 12, len(all))
}

func TestAttachments(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	tk := newTicket(t, s)

	for i := range 7 {
		err := s.AddAttachment(ctx, &triage.Attachment{
			ID:          fmt.Sprintf("%s-a-%d", tk.ID, i),
			TicketID:    tk.ID,
			Filename:    fmt.Sprintf("trace-%d.log", i),
			Size:        int64(1024 * (i + 1)),
			ContentType: "text/plain",
			CreatedAt:   tk.CreatedAt.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AddAttachment: %v", err)
		}
	}

	got, err := s.ListAttachments(ctx, tk.ID, 5)
	if err != nil {
		t.Fatalf("ListAttachments: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	assertEqual(t, "Filename", "trace-0.log", got[0].Filename)
	assertEqual(t, "Size", int64(1024), got[0].Size)
}

func TestRoster(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	suffix := ulid.Make().String()
	a := "team-a-" + suffix
	b := "team-b-" + suffix

	if err := s.UpsertTeam(ctx, &triage.Team{ID: a, Name: "A", Skills: []string{"billing"}}); err != nil {
		t.Fatalf("UpsertTeam: %v", err)
	}
	if err := s.UpsertTeam(ctx, &triage.Team{ID: b, Name: "B"}); err != nil {
		t.Fatalf("UpsertTeam: %v", err)
	}
	if err := s.IncrementWorkload(ctx, a); err != nil {
		t.Fatalf("IncrementWorkload: %v", err)
	}
	if err := s.IncrementWorkload(ctx, "nonexistent-team"); err != nil {
		t.Fatalf("IncrementWorkload unknown: %v", err)
	}
	if err := s.UpsertTeam(ctx, &triage.Team{ID: a, Name: "Alpha", Skills: []string{"billing", "refund"}}); err != nil {
		t.Fatalf("UpsertTeam again: %v", err)
	}

	got, ok, err := s.GetTeam(ctx, a)
	if err != nil || !ok {
		t.Fatalf("GetTeam = %v, %v", ok, err)
	}
	assertEqual(t, "Name", "Alpha", got.Name)
	assertEqual(t, "Workload", 1, got.Workload)
	assertEqual(t, "Skills", 2, len(got.Skills))

	teams, err := s.ListTeams(ctx)
	if err != nil {
		t.Fatalf("ListTeams: %v", err)
	}
	ia, ib := -1, -1
	for i, tm := range teams {
		switch tm.ID {
		case a:
			ia = i
		case b:
			ib = i
		}
	}
	if ia < 0 || ib < 0 || ia > ib {
		t.Errorf("roster order: %s at %d, %s at %d", a, ia, b, ib)
	}

	if _, ok, _ := s.GetTeam(ctx, "nonexistent-team"); ok {
		t.Error("expected ok=false for unknown team")
	}
}

func TestResultsAndActivity(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	tk := newTicket(t, s)

	for i, level := range []triage.Level{triage.P2, triage.P1} {
		err := s.AppendResult(ctx, &triage.TriageResult{
			ID:                fmt.Sprintf("%s-r-%d", tk.ID, i),
			TicketID:          tk.ID,
			Priority:          level,
			Confidence:        0.8,
			PriorityRationale: "billing failure",
			AssigneeID:        "finance_accounting",
			ReplyDraft:        "Hello",
			CreatedAt:         tk.CreatedAt.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendResult: %v", err)
		}
	}

	results, err := s.ListResults(ctx, tk.ID)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len = %d, want 2", len(results))
	}
	assertEqual(t, "first priority", triage.P2, results[0].Priority)
	assertEqual(t, "second priority", triage.P1, results[1].Priority)

	err = s.AppendActivity(ctx, &triage.ActivityEntry{
		ID:        tk.ID + "-e-1",
		TicketID:  tk.ID,
		EventType: triage.ActivityTriageRun,
		Payload:   map[string]any{"priority": "P1", "confidence": 0.85},
		Timestamp: tk.CreatedAt,
	})
	if err != nil {
		t.Fatalf("AppendActivity: %v", err)
	}

	entries, err := s.ListActivity(ctx, tk.ID)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	assertEqual(t, "EventType", triage.ActivityTriageRun, entries[0].EventType)
	assertEqual(t, "payload priority", any("P1"), entries[0].Payload["priority"])
	assertEqual(t, "payload confidence", any(0.85), entries[0].Payload["confidence"])
}

func assertEqual[T comparable](t *testing.T, field string, want, got T) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %v, got %v", field, want, got)
	}
}
