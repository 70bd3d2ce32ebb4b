package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/docket/internal/triage"
)

func testNotification() *triage.Notification {
	return &triage.Notification{
		Ticket: triage.Ticket{
			ID:          "01JN123",
			Title:       "Invoice payment failed at checkout",
			ProductArea: "billing",
			CreatedAt:   time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
		},
		Outcome: triage.Outcome{
			Priority:   triage.P0,
			Confidence: 0.9,
			Assignee:   "finance_accounting",
			Rationale:  "Payment failures block revenue.",
			ReplyDraft: "Hello",
		},
	}
}

func TestNotify_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	if err := n.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}
	// header, fields, divider, rationale, context
	if len(blocks) != 5 {
		t.Errorf("blocks count = %d, want 5", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "Invoice payment failed") {
		t.Errorf("header text = %q, want ticket title", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Error("header should contain red circle for P0")
	}

	fields := blocks[1].(map[string]any)["fields"].([]any)
	conf := fields[1].(map[string]any)["text"].(string)
	if conf != "*Confidence:* 90%" {
		t.Errorf("confidence field = %q", conf)
	}

	footer := blocks[4].(map[string]any)["elements"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(footer, "01JN123") || !strings.Contains(footer, "2026-02-26 14:23 UTC") {
		t.Errorf("footer = %q", footer)
	}
}

func TestNotify_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", log.Nop())
	if err := n.Notify(context.Background(), &triage.Notification{}); err != nil {
		t.Fatalf("Notify with empty URL should be no-op, got: %v", err)
	}
}

func TestNotify_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL, nil)
	err := n.Notify(context.Background(), testNotification())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestRationaleBlock_Truncates(t *testing.T) {
	t.Parallel()

	note := testNotification()
	note.Outcome.Rationale = strings.Repeat("é", 4000)

	text := rationaleBlock(note)["text"].(map[string]any)["text"].(string)
	body := strings.TrimPrefix(text, "*Rationale*\n\n")
	if n := utf8.RuneCountInString(body); n != maxRationaleLen {
		t.Errorf("rationale runes = %d, want %d", n, maxRationaleLen)
	}
	if !utf8.ValidString(body) || !strings.HasSuffix(body, "...") {
		t.Error("expected valid UTF-8 ending with ...")
	}

	note.Outcome.Rationale = ""
	text = rationaleBlock(note)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(text, "No rationale") {
		t.Errorf("empty rationale text = %q", text)
	}
}

func TestPriorityEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level triage.Level
		want  string
	}{
		{triage.P0, "\U0001f534"},
		{triage.P1, "\U0001f7e0"},
		{triage.P2, "\U0001f7e1"},
		{triage.P3, "\U0001f7e2"},
		{"", "\U0001f7e2"},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			t.Parallel()
			if got := priorityEmoji(tt.level); got != tt.want {
				t.Errorf("priorityEmoji(%q) = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("Login broken", "auth", "Users cannot sign in.", "P1")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "billing", "*bold* _italic_ ~strike~", "P0")
	f.Add("title\x00\x01\x02", "area\nline", "rationale\ttab", "P9")
	f.Add(strings.Repeat("A", 5000), "x", strings.Repeat("x", 10000), "P3")

	f.Fuzz(func(t *testing.T, title, area, rationale, priority string) {
		note := &triage.Notification{
			Ticket:  triage.Ticket{ID: "fuzz-id", Title: title, ProductArea: area},
			Outcome: triage.Outcome{Priority: triage.Level(priority), Rationale: rationale},
		}

		data, err := json.Marshal(buildMessage(note))
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}
		if blocks, ok := decoded["blocks"].([]any); !ok || len(blocks) != 5 {
			t.Fatalf("blocks = %v", decoded["blocks"])
		}
	})
}
