package sqldb

import (
	"context"
	"database/sql"
	"strings"

	"github.com/warp/fee-ledger/ledger"
)

// =============================================================================
// LISTING (ledger.RecordQuerier interface)
// =============================================================================

// sortColumns maps allow-listed sort keys to fixed SQL expressions.
var sortColumns = map[ledger.SortKey]string{
	ledger.SortCreatedAt:     "r.created_at",
	ledger.SortUpdatedAt:     "r.updated_at",
	ledger.SortStudentID:     "r.student_id",
	ledger.SortStudentName:   "COALESCE(s.name, '')",
	ledger.SortAdmissionDate: "COALESCE(s.admission_date, '')",
}

// List filters, sorts and paginates fee records. Counting and fetching run
// in one read transaction so the page agrees with its total.
func (s *Store) List(ctx context.Context, q ledger.Query) (page *ledger.RecordPage, err error) {
	q, err = q.Normalize()
	if err != nil {
		return nil, err
	}
	where, args := whereClause(q.Filter)
	from := ` FROM fee_records r LEFT JOIN students s ON s.id = r.student_id` + where

	err = s.WithTx(ctx, func(st ledger.Store) error {
		ts := st.(*txStore)

		var total int64
		if err := ts.queryRow(ctx, `SELECT COUNT(*)`+from, args...).Scan(&total); err != nil {
			return classify("count fee records", err)
		}
		p := ledger.Paginate(total, q.Page, q.Limit)

		dir := "DESC"
		if q.SortOrder == ledger.SortAsc {
			dir = "ASC"
		}
		query := `SELECT ` + qualified("r") + from +
			` ORDER BY ` + sortColumns[q.SortBy] + ` ` + dir + `, r.receipt_number ` + dir +
			` LIMIT ? OFFSET ?`

		rows, err := ts.query(ctx, query, append(args, p.Limit, p.Offset())...)
		if err != nil {
			return classify("list fee records", err)
		}
		defer rows.Close()

		records := make([]ledger.FeeRecord, 0, p.Limit)
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return classify("scan fee record", err)
			}
			records = append(records, *rec)
		}
		if err := rows.Err(); err != nil {
			return classify("list fee records", err)
		}
		page = &ledger.RecordPage{Records: records, Pagination: p}
		return nil
	})
	return page, err
}

// whereClause translates RecordFilter into SQL. It follows the rules of
// RecordFilter.Matches.
func whereClause(f ledger.RecordFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	eq := func(column, value string) {
		if value != "" {
			conds = append(conds, column+" = ?")
			args = append(args, value)
		}
	}

	if !f.IncludeReversed {
		conds = append(conds, "r.reversed_at IS NULL")
	}
	eq("r.student_id", f.StudentID)
	eq("r.collected_by", f.CollectedBy)
	eq("r.session_id", f.SessionID)
	eq("r.payment_method", string(f.PaymentMethod))
	eq("r.fee_type", string(f.FeeType))
	eq("r.branch", string(f.Branch))

	switch f.Status {
	case ledger.StatusUnpaid:
		conds = append(conds, "r.received_cents = 0 AND r.payable_cents > 0")
	case ledger.StatusPartial:
		conds = append(conds, "r.received_cents > 0 AND r.received_cents < r.payable_cents")
	case ledger.StatusPaid:
		conds = append(conds, "r.received_cents >= r.payable_cents")
	}

	if f.FromDate != nil {
		conds = append(conds, "r.payment_date >= ?")
		args = append(args, formatTime(*f.FromDate))
	}
	if to := f.ToDateExclusive(); to != nil {
		conds = append(conds, "r.payment_date < ?")
		args = append(args, formatTime(*to))
	}
	if f.MinFee != nil {
		conds = append(conds, "r.payable_cents >= ?")
		args = append(args, f.MinFee.Cents())
	}
	if f.MaxFee != nil {
		conds = append(conds, "r.payable_cents <= ?")
		args = append(args, f.MaxFee.Cents())
	}

	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		like := "%" + escapeLike(needle) + "%"
		conds = append(conds, `(CAST(r.receipt_number AS TEXT) = ?`+
			` OR LOWER(COALESCE(s.name, '')) LIKE ? ESCAPE '\'`+
			` OR LOWER(COALESCE(s.code, '')) LIKE ? ESCAPE '\'`+
			` OR LOWER(COALESCE(s.guardian_phone, '')) LIKE ? ESCAPE '\'`+
			` OR LOWER(r.student_id) LIKE ? ESCAPE '\')`)
		args = append(args, needle, like, like, like, like)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// qualified prefixes every record column with a table alias.
func qualified(alias string) string {
	cols := strings.Split(recordColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// =============================================================================
// AUDIT (ledger.Auditor interface)
// =============================================================================

// Drift returns records whose log entries do not sum to their logged
// balance: received for live records, zero for reversed ones.
func (s *Store) Drift(ctx context.Context) (checked int, drifts []ledger.Drift, err error) {
	err = s.WithTx(ctx, func(st ledger.Store) error {
		ts := st.(*txStore)
		if err := ts.queryRow(ctx, `SELECT COUNT(*) FROM fee_records`).Scan(&checked); err != nil {
			return classify("count fee records", err)
		}

		rows, err := ts.query(ctx, `
			SELECT r.id, r.branch, r.received_cents, r.reversed_at,
				CAST(COALESCE(SUM(t.amount_cents), 0) AS BIGINT) AS logged
			FROM fee_records r
			LEFT JOIN transactions t ON t.reference_id = r.id
			GROUP BY r.id, r.branch, r.received_cents, r.reversed_at
			HAVING COALESCE(SUM(t.amount_cents), 0) <>
				CASE WHEN r.reversed_at IS NULL THEN r.received_cents ELSE 0 END
			ORDER BY r.id
		`)
		if err != nil {
			return classify("audit fee records", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id, branch       string
				received, logged int64
				reversedAt       sql.NullString
			)
			if err := rows.Scan(&id, &branch, &received, &reversedAt, &logged); err != nil {
				return classify("scan drift", err)
			}
			d := ledger.Drift{
				RecordID: ledger.RecordID(id),
				Branch:   ledger.Branch(branch),
				Expected: ledger.MoneyFromCents(received),
				Logged:   ledger.MoneyFromCents(logged),
				Reversed: reversedAt.Valid,
			}
			if d.Reversed {
				d.Expected = ledger.Zero
			}
			drifts = append(drifts, d)
		}
		return rows.Err()
	})
	return checked, drifts, err
}
