package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// QueryObserver receives one observation per finished query.
type QueryObserver interface {
	QueryCompleted(operation string, took time.Duration, err error)
}

// Tracer implements pgx.QueryTracer on top of a QueryObserver.
type Tracer struct {
	observer QueryObserver
}

func NewTracer(observer QueryObserver) *Tracer {
	return &Tracer{observer: observer}
}

var _ pgx.QueryTracer = (*Tracer)(nil)

type queryContextKey struct{}

type queryContext struct {
	start     time.Time
	operation string
}

func (t *Tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{start: time.Now(), operation: operation(data.SQL)})
}

func (t *Tracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok {
		return
	}
	t.observer.QueryCompleted(qctx.operation, time.Since(qctx.start), data.Err)
}

// operation reduces a statement to its leading keyword to keep label
// cardinality bounded.
func operation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToUpper(fields[0])
}
