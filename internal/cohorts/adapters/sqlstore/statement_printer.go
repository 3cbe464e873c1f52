package sqlstore

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"cohort-retention-service/internal/cohorts/core/domain"
	"cohort-retention-service/internal/cohorts/core/ports"
)

// StatementPrinter is the dry-run sink: it renders each upsert with its values
// inlined and writes it to w instead of executing it.
type StatementPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	dialect Dialect
}

func NewStatementPrinter(w io.Writer, d Dialect) *StatementPrinter {
	return &StatementPrinter{w: w, dialect: d}
}

var _ ports.CohortSinkPort = (*StatementPrinter)(nil)

func (p *StatementPrinter) UpsertCohort(ctx context.Context, row domain.Row) error {
	if err := row.Validate(); err != nil {
		return err
	}
	stmt, err := upsertStatement(p.dialect, row.Granularity)
	if err != nil {
		return err
	}
	rendered := renderStatement(stmt, rowArgs(row))

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintln(p.w, rendered+";"); err != nil {
		return sinkErr("print statement", err)
	}
	return nil
}

func renderStatement(stmt string, args []any) string {
	var b strings.Builder
	i := 0
	for _, r := range stmt {
		if r != '?' || i >= len(args) {
			b.WriteRune(r)
			continue
		}
		b.WriteString(literal(args[i]))
		i++
	}
	return b.String()
}

func literal(v any) string {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprintf("'%v'", x)
	}
}
