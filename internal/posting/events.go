package posting

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// EventKind tags entries in the posting event log.
type EventKind string

const (
	// EventPosted marks a document version entering the ledger.
	EventPosted EventKind = "POSTED"
	// EventReversed marks a posted version being backed out.
	EventReversed EventKind = "REVERSED"
)

// Event is one append-only posting log row. The log is the source of truth
// for what a document currently has in the ledger: the active journal is
// derived from it, never stored.
type Event struct {
	ID            int64
	DocType       string
	DocID         int64
	Kind          EventKind
	JournalID     int64
	CorrelationID string
	At            time.Time
}

// EventRepository is the transactional port for the posting event log.
type EventRepository interface {
	InsertEvent(ctx context.Context, e Event) (int64, error)
	ListEvents(ctx context.Context, docType string, docID int64) ([]Event, error)
}

type eventRepo struct {
	tx pgx.Tx
}

// NewEventTx wraps a transaction as an EventRepository.
func NewEventTx(tx pgx.Tx) EventRepository {
	return &eventRepo{tx: tx}
}

func (r *eventRepo) InsertEvent(ctx context.Context, e Event) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO posting_events (doc_type, doc_id, kind, journal_id, correlation_id, at)
VALUES ($1, $2, $3, $4, $5, NOW())
RETURNING id`, e.DocType, e.DocID, string(e.Kind), e.JournalID, e.CorrelationID).Scan(&id)
	return id, err
}

func (r *eventRepo) ListEvents(ctx context.Context, docType string, docID int64) ([]Event, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, doc_type, doc_id, kind, journal_id, correlation_id, at
FROM posting_events WHERE doc_type=$1 AND doc_id=$2 ORDER BY id`, docType, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var e Event
		var kind string
		if err := rows.Scan(&e.ID, &e.DocType, &e.DocID, &kind, &e.JournalID, &e.CorrelationID, &e.At); err != nil {
			return nil, err
		}
		e.Kind = EventKind(kind)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ActiveJournal derives the journal currently live for a document from its
// event log: the latest POSTED journal with no later REVERSED event.
func ActiveJournal(events []Event) (int64, bool) {
	active := map[int64]bool{}
	var last int64
	for _, e := range events {
		switch e.Kind {
		case EventPosted:
			active[e.JournalID] = true
			last = e.JournalID
		case EventReversed:
			delete(active, e.JournalID)
		}
	}
	if last != 0 && active[last] {
		return last, true
	}
	for id := range active {
		return id, true
	}
	return 0, false
}
