package triage

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var errBoom = errors.New("boom")

// fakeStore implements Store in memory. Setting a method name in fail makes
// that method return the mapped error.
type fakeStore struct {
	mu          sync.Mutex
	tickets     map[string]*Ticket
	comments    map[string][]Comment
	attachments map[string][]Attachment
	teams       []Team
	results     []TriageResult
	activity    []ActivityEntry
	fail        map[string]error
	calls       []string
}

func newFakeStore(teams ...Team) *fakeStore {
	return &fakeStore{
		tickets:     make(map[string]*Ticket),
		comments:    make(map[string][]Comment),
		attachments: make(map[string][]Attachment),
		teams:       teams,
		fail:        make(map[string]error),
	}
}

func (f *fakeStore) failOn(method string, err error) *fakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] = err
	return f
}

// enter records the call and returns the injected error for method, if any.
// Callers hold f.mu.
func (f *fakeStore) enter(method string) error {
	f.calls = append(f.calls, method)
	return f.fail[method]
}

func (f *fakeStore) CreateTicket(_ context.Context, t *Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateTicket"); err != nil {
		return err
	}
	cp := *t
	f.tickets[t.ID] = &cp
	return nil
}

func (f *fakeStore) GetTicket(_ context.Context, id string) (*Ticket, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetTicket"); err != nil {
		return nil, false, err
	}
	t, ok := f.tickets[id]
	if !ok {
		return nil, false, nil
	}
	cp := *t
	return &cp, true, nil
}

func (f *fakeStore) UpdateTicket(_ context.Context, id string, upd TicketUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateTicket"); err != nil {
		return err
	}
	t, ok := f.tickets[id]
	if !ok {
		return ErrTicketNotFound
	}
	if upd.Title != nil {
		t.Title = *upd.Title
	}
	if upd.Body != nil {
		t.Body = *upd.Body
	}
	if upd.ProductArea != nil {
		t.ProductArea = *upd.ProductArea
	}
	if upd.Tags != nil {
		t.Tags = slices.Clone(*upd.Tags)
	}
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	if upd.Priority != nil {
		t.Priority = *upd.Priority
	}
	if upd.Confidence != nil {
		t.Confidence = *upd.Confidence
	}
	if upd.AssigneeID != nil {
		t.AssigneeID = *upd.AssigneeID
	}
	if upd.AssigneeName != nil {
		t.AssigneeName = *upd.AssigneeName
	}
	if upd.Rationale != nil {
		t.Rationale = *upd.Rationale
	}
	if upd.ReplyDraft != nil {
		t.ReplyDraft = *upd.ReplyDraft
	}
	t.UpdatedAt = upd.UpdatedAt
	return nil
}

func (f *fakeStore) ListTickets(_ context.Context, limit int) ([]Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListTickets"); err != nil {
		return nil, err
	}
	out := make([]Ticket, 0, len(f.tickets))
	for _, t := range f.tickets {
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b Ticket) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) DeleteTicket(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteTicket"); err != nil {
		return err
	}
	if _, ok := f.tickets[id]; !ok {
		return ErrTicketNotFound
	}
	delete(f.tickets, id)
	return nil
}

func (f *fakeStore) AddComment(_ context.Context, c *Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddComment"); err != nil {
		return err
	}
	f.comments[c.TicketID] = append(f.comments[c.TicketID], *c)
	return nil
}

func (f *fakeStore) ListComments(_ context.Context, ticketID string, limit int) ([]Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListComments"); err != nil {
		return nil, err
	}
	cs := slices.Clone(f.comments[ticketID])
	return cs[:min(len(cs), limit)], nil
}

func (f *fakeStore) AddAttachment(_ context.Context, a *Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddAttachment"); err != nil {
		return err
	}
	f.attachments[a.TicketID] = append(f.attachments[a.TicketID], *a)
	return nil
}

func (f *fakeStore) ListAttachments(_ context.Context, ticketID string, limit int) ([]Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListAttachments"); err != nil {
		return nil, err
	}
	as := slices.Clone(f.attachments[ticketID])
	return as[:min(len(as), limit)], nil
}

func (f *fakeStore) ListTeams(_ context.Context) ([]Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListTeams"); err != nil {
		return nil, err
	}
	return slices.Clone(f.teams), nil
}

func (f *fakeStore) GetTeam(_ context.Context, id string) (*Team, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetTeam"); err != nil {
		return nil, false, err
	}
	for _, t := range f.teams {
		if t.ID == id {
			cp := t
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeStore) IncrementWorkload(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("IncrementWorkload"); err != nil {
		return err
	}
	for i := range f.teams {
		if f.teams[i].ID == id {
			f.teams[i].Workload++
		}
	}
	return nil
}

func (f *fakeStore) UpsertTeam(_ context.Context, t *Team) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpsertTeam"); err != nil {
		return err
	}
	f.teams = append(f.teams, *t)
	return nil
}

func (f *fakeStore) AppendResult(_ context.Context, r *TriageResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AppendResult"); err != nil {
		return err
	}
	f.results = append(f.results, *r)
	return nil
}

func (f *fakeStore) ListResults(_ context.Context, ticketID string) ([]TriageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []TriageResult
	for _, r := range f.results {
		if r.TicketID == ticketID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) AppendActivity(_ context.Context, e *ActivityEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AppendActivity:" + string(e.EventType)); err != nil {
		return err
	}
	f.activity = append(f.activity, *e)
	return nil
}

func (f *fakeStore) ListActivity(_ context.Context, ticketID string) ([]ActivityEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ActivityEntry
	for _, e := range f.activity {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) activityOf(typ ActivityType) []ActivityEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ActivityEntry
	for _, e := range f.activity {
		if e.EventType == typ {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeStore) ticket(id string) Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.tickets[id]
}

// mockProvider returns preconfigured responses in sequence. Once the
// sequence is exhausted it repeats the last entry.
type mockProvider struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	requests  []*CompletionRequest
}

func (m *mockProvider) Complete(_ context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.requests)
	m.requests = append(m.requests, req)

	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if len(m.responses) == 0 {
		return &CompletionResponse{Model: testModel}, nil
	}
	text := m.responses[min(idx, len(m.responses)-1)]
	return &CompletionResponse{
		Text:  text,
		Model: testModel,
		Usage: Usage{InputTokens: 100, OutputTokens: 20},
	}, nil
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

const testModel = "claude-sonnet-4-20250514"

func testTeams() []Team {
	return []Team{
		{ID: "frontend_development", Name: "Frontend Development", Skills: []string{"react", "css", "ui", "frontend", "browser"}},
		{ID: "backend_development", Name: "Backend Development", Skills: []string{"api", "database", "server", "backend", "performance"}},
		{ID: "finance_accounting", Name: "Finance & Accounting", Skills: []string{"billing", "invoice", "payment", "refund"}},
		{ID: "customer_support", Name: "Customer Support", Skills: []string{"account", "password", "general"}},
	}
}

func testTicket() Ticket {
	return Ticket{
		ID:          "tkt-1",
		Title:       "Invoice payment failed at checkout",
		Body:        "Customers report their invoice payment failed when paying by card since this morning.",
		ProductArea: "billing",
		Tags:        []string{"checkout"},
		Status:      TicketOpen,
	}
}

// seeded returns a fake store holding t and the test roster.
func seeded(t Ticket) *fakeStore {
	fs := newFakeStore(testTeams()...)
	cp := t
	fs.tickets[t.ID] = &cp
	return fs
}

func disabled() *inference { return &inference{} }

func enabled(p Provider) *inference { return &inference{provider: p, enabled: true} }
