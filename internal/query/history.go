package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const maxHistoryLimit = 500

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

// JournalHistory returns journal entries touching accountPath, newest first.
// beforeSequence pages backwards.
func (s *Service) JournalHistory(
	ctx context.Context,
	accountPath string,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	if s.db == nil {
		return nil, ErrHistoryUnavailable
	}

	query := `
		SELECT journal_id, batch_id, event_ref, sequence, debit_account, credit_account,
		       token, amount, journal_type, block, timestamp
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []any{accountPath}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []JournalHistoryEntry{}
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Token, &e.Amount,
			&e.JournalType, &e.Block, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// OutcomeFilter narrows outcome history. Empty fields match everything.
type OutcomeFilter struct {
	Key            string
	Caller         string
	Kind           string
	Limit          int
	BeforeSequence *int64
}

// Outcomes returns lifecycle notifications from the projection, newest
// first.
func (s *Service) Outcomes(ctx context.Context, f OutcomeFilter) (*OutcomesResponse, error) {
	if s.db == nil {
		return nil, ErrHistoryUnavailable
	}
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT sequence, kind, key, market, reason, event_type, caller, timestamp
		FROM projections.outcomes
		WHERE TRUE
	`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND "+clause, len(args))
	}
	if f.Key != "" {
		add("key = $%d", f.Key)
	}
	if f.Caller != "" {
		add("caller = $%d", f.Caller)
	}
	if f.Kind != "" {
		add("kind = $%d", f.Kind)
	}
	if f.BeforeSequence != nil {
		add("sequence < $%d", *f.BeforeSequence)
	}
	args = append(args, clampLimit(f.Limit))
	query += fmt.Sprintf(" ORDER BY sequence DESC, ordinal LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &OutcomesResponse{AsOfSequence: asOf, Outcomes: []OutcomeEntry{}}
	for rows.Next() {
		var o OutcomeEntry
		if err := rows.Scan(&o.Sequence, &o.Kind, &o.Key, &o.Market, &o.Reason, &o.EventType, &o.Caller, &o.Timestamp); err != nil {
			return nil, err
		}
		resp.Outcomes = append(resp.Outcomes, o)
	}
	return resp, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks that live custody is zero-sum per token and, when
// the event log is reachable, that the persisted hash chain is unbroken and
// projected balances are zero-sum.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	live, err := s.liveImbalances()
	if err != nil {
		return nil, err
	}
	report.LiveImbalances = live

	if s.db != nil {
		if report.HashChainBreaks, err = s.hashChainBreaks(ctx); err != nil {
			return nil, err
		}
		if report.UnbalancedTokens, err = s.projectedImbalances(ctx); err != nil {
			return nil, err
		}
	}

	report.IsHealthy = len(report.LiveImbalances) == 0 &&
		len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedTokens) == 0
	return report, nil
}

func (s *Service) hashChainBreaks(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breaks []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		breaks = append(breaks, seq)
	}
	return breaks, rows.Err()
}

func (s *Service) projectedImbalances(ctx context.Context) ([]UnbalancedToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, SUM(balance) AS total
		FROM projections.balances
		GROUP BY token
		HAVING SUM(balance) != 0
		ORDER BY token
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnbalancedToken
	for rows.Next() {
		var u UnbalancedToken
		if err := rows.Scan(&u.Token, &u.Imbalance); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// watermark is the last sequence the projection worker applied, -1 before
// the first.
func (s *Service) watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}
