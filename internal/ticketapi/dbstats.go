package ticketapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/docket/internal/postgres"
)

// dbStats attaches a per-request query counter and reports it once the
// handler returns. Requests that issued no queries are not reported.
func dbStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := postgres.NewReqDBStatsContext(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))

		stats, _ := postgres.ReqDBStatsFromContext(ctx)
		queries, total, errs := stats.Snapshot()
		if queries == 0 {
			return
		}

		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int("db.query_count", queries),
			attribute.Float64("db.total_duration_s", total.Seconds()),
		)
		log.FromContext(ctx).Info(ctx, "request db stats",
			"db.query_count", queries,
			"db.total_duration", total.Seconds(),
			"db.error_count", errs,
		)
	})
}
