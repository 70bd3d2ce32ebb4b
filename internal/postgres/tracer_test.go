package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/linnemanlabs/go-core/log"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/docket/internal/triage/pgstore.(*Store).GetTicket", "(*Store).GetTicket"},
		{"already short", "(*Store).GetTicket", "GetTicket"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgstore.(*Store).ListTeams", "(*Store).ListTeams"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := shortenFuncName(tt.in); got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCompactSQL(t *testing.T) {
	t.Parallel()

	in := "UPDATE tickets SET\n\t\tstatus = COALESCE($2, status)\n\t WHERE id = $1"
	want := "UPDATE tickets SET status = COALESCE($2, status) WHERE id = $1"
	if got := compactSQL(in); got != want {
		t.Errorf("compactSQL = %q, want %q", got, want)
	}
}

func TestReqDBStats_AddQuery(t *testing.T) {
	t.Parallel()

	s := &ReqDBStats{}
	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))
	s.AddQuery(5*time.Millisecond, nil)

	n, total, errs := s.Snapshot()
	if n != 3 {
		t.Errorf("QueryCount = %d, want 3", n)
	}
	if total != 35*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 35ms", total)
	}
	if errs != 1 {
		t.Errorf("ErrorCount = %d, want 1", errs)
	}
}

func TestReqDBStatsContext(t *testing.T) {
	t.Parallel()

	if _, ok := ReqDBStatsFromContext(context.Background()); ok {
		t.Error("expected ok=false for plain context")
	}

	ctx := NewReqDBStatsContext(context.Background())
	got, ok := ReqDBStatsFromContext(ctx)
	if !ok || got == nil {
		t.Fatal("expected stats in context")
	}
	got.AddQuery(time.Millisecond, nil)
	again, _ := ReqDBStatsFromContext(ctx)
	if n, _, _ := again.Snapshot(); n != 1 {
		t.Errorf("QueryCount = %d, want 1 (same pointer)", n)
	}
}

func TestWithHTTPMethod(t *testing.T) {
	t.Parallel()

	if got := httpMethodFromContext(WithHTTPMethod(context.Background(), "POST")); got != "POST" {
		t.Errorf("httpMethodFromContext = %q, want POST", got)
	}
	if got := httpMethodFromContext(WithHTTPMethod(context.Background(), "")); got != "" {
		t.Errorf("httpMethodFromContext = %q, want empty", got)
	}
	if got := queryMethod(context.Background()); got != "NONE" {
		t.Errorf("queryMethod = %q, want NONE", got)
	}
	if got := queryRoute(context.Background()); got != "internal" {
		t.Errorf("queryRoute = %q, want internal", got)
	}
}

func TestQueryFields(t *testing.T) {
	t.Parallel()

	qs := &queryState{sql: "SELECT 1", args: []any{"secret ticket body"}, caller: "(*Store).GetTicket"}
	data := pgx.TraceQueryEndData{
		CommandTag: pgconn.NewCommandTag("UPDATE 2"),
		Err:        &pgconn.PgError{Code: "23505", ConstraintName: "tickets_pkey"},
	}

	fields := fieldMap(queryFields(qs, data, time.Second, false))
	if _, ok := fields["db.args"]; ok {
		t.Error("args logged without opt-in")
	}
	if fields["db.arg_count"] != 1 {
		t.Errorf("db.arg_count = %v, want 1", fields["db.arg_count"])
	}
	if fields["db.operation.name"] != "UPDATE" {
		t.Errorf("db.operation.name = %v", fields["db.operation.name"])
	}
	if fields["db.rows"] != int64(2) {
		t.Errorf("db.rows = %v, want 2", fields["db.rows"])
	}
	if fields["db.error_code"] != "23505" || fields["db.error_constraint"] != "tickets_pkey" {
		t.Errorf("pg error fields = %v/%v", fields["db.error_code"], fields["db.error_constraint"])
	}
	if fields["db.caller"] != "(*Store).GetTicket" {
		t.Errorf("db.caller = %v", fields["db.caller"])
	}

	withArgs := fieldMap(queryFields(qs, pgx.TraceQueryEndData{}, time.Second, true))
	if _, ok := withArgs["db.args"]; !ok {
		t.Error("args missing with opt-in")
	}
}

func fieldMap(kv []any) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

type recordingTracer struct {
	starts, ends int
}

func (r *recordingTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	r.starts++
	return ctx
}

func (r *recordingTracer) TraceQueryEnd(_ context.Context, _ *pgx.Conn, _ pgx.TraceQueryEndData) {
	r.ends++
}

// Not parallel: swaps the global query observer.
func TestLoggingTracer_RoundTrip(t *testing.T) {
	defer SetQueryObserver(nil)

	var gotMethod, gotRoute, gotOutcome string
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, method, route, outcome string, _ time.Duration) {
		gotMethod, gotRoute, gotOutcome = method, route, outcome
	}))

	inner := &recordingTracer{}
	tr := wrapQueryTracer(inner, options{})

	ctx := log.WithContext(context.Background(), log.Nop())
	ctx = NewReqDBStatsContext(WithHTTPMethod(ctx, "POST"))
	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	time.Sleep(time.Millisecond)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	if inner.starts != 1 || inner.ends != 1 {
		t.Errorf("inner starts/ends = %d/%d, want 1/1", inner.starts, inner.ends)
	}
	stats, _ := ReqDBStatsFromContext(ctx)
	if n, total, errs := stats.Snapshot(); n != 1 || errs != 1 || total <= 0 {
		t.Errorf("stats = %d queries, %v, %d errors", n, total, errs)
	}
	if gotMethod != "POST" || gotRoute != "internal" || gotOutcome != "error" {
		t.Errorf("observed %s %s %s", gotMethod, gotRoute, gotOutcome)
	}

	qs, _ := ctx.Value(ctxKeyQuery).(*queryState)
	if qs == nil || qs.caller == "" {
		t.Errorf("query state = %+v, want caller resolved", qs)
	}
}

// Not parallel: swaps the global query observer.
func TestSetQueryObserver(t *testing.T) {
	defer SetQueryObserver(nil)

	called := false
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, _, _, _ string, _ time.Duration) {
		called = true
	}))

	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "GET", "/api/v1/tickets/{id}", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	if got := getQueryObserver(); got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}
