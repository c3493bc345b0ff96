package documents

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/posting"
	"github.com/meridian-erp/meridian-erp/internal/refdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// UnitRunner executes a function inside one posting unit of work.
type UnitRunner func(ctx context.Context, fn func(Tx) error) error

// PgRunner builds the production UnitRunner on a connection pool.
func PgRunner(pool *pgxpool.Pool) UnitRunner {
	return func(ctx context.Context, fn func(Tx) error) error {
		return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
			return fn(NewUnit(tx))
		})
	}
}

// RateLookup resolves conversion rates for document currencies.
type RateLookup interface {
	GetCurrencyRate(ctx context.Context, code string) (refdata.CurrencyRate, error)
}

// ApprovalPort records workflow decisions.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the document lifecycle. Approval posts the financial
// effects, edit approval and cancellation reverse them; drafts never touch
// stock or the ledger.
type Service struct {
	run          UnitRunner
	orchestrator *posting.Orchestrator
	rates        RateLookup
	cache        *ledger.BalanceCache
	approvals    ApprovalPort
	audit        AuditPort
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewService constructs the document Service.
func NewService(run UnitRunner, orchestrator *posting.Orchestrator, rates RateLookup, cache *ledger.BalanceCache,
	approvals ApprovalPort, audit AuditPort, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		run:          run,
		orchestrator: orchestrator,
		rates:        rates,
		cache:        cache,
		approvals:    approvals,
		audit:        audit,
		metrics:      metrics,
		logger:       logger,
	}
}

// resolveRate fills a missing rate from the currency table. Base-currency
// documents (no currency set) keep the default rate of 1.
func (s *Service) resolveRate(ctx context.Context, in *CreateInput) error {
	if in.Rate > 0 || in.Currency == "" || s.rates == nil {
		return nil
	}
	r, err := s.rates.GetCurrencyRate(ctx, in.Currency)
	if err != nil {
		return fmt.Errorf("currency %s: %w", in.Currency, err)
	}
	in.Rate = r.Rate
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *Service) recordApproval(ctx context.Context, docID, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module: "documents", RefID: docID, ActorID: actorID, Action: action, Note: note,
	}); err != nil {
		s.logger.Error("record approval", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, docID int64) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID: actorID, Action: action, Entity: "document", EntityID: fmt.Sprintf("%d", docID),
	}); err != nil {
		s.logger.Error("record audit", slog.Any("error", err))
	}
}

// Create stores a new draft. Totals are recomputed from the lines so a
// client cannot submit a mismatched header.
func (s *Service) Create(ctx context.Context, in CreateInput) (Document, error) {
	if len(in.Lines) == 0 {
		return Document{}, ErrNoLines
	}
	if err := s.resolveRate(ctx, &in); err != nil {
		return Document{}, err
	}
	doc := in.document()
	err := s.run(ctx, func(tx Tx) error {
		var err error
		doc.ID, err = tx.Documents().InsertDocument(ctx, doc)
		if err != nil {
			return err
		}
		doc.Number = fmt.Sprintf("%s-%d-%06d", doc.Kind, doc.DocDate.Year(), doc.ID)
		if err := tx.Documents().SetNumber(ctx, doc.ID, doc.Number); err != nil {
			return err
		}
		for i := range doc.Lines {
			doc.Lines[i].DocumentID = doc.ID
			doc.Lines[i].ID, err = tx.Documents().InsertLine(ctx, doc.Lines[i])
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	s.recordAudit(ctx, doc.CreatedBy, "document.create", doc.ID)
	return doc, nil
}

// Update replaces the contents of a draft or rejected document.
func (s *Service) Update(ctx context.Context, id, actorID int64, in CreateInput) (Document, error) {
	if len(in.Lines) == 0 {
		return Document{}, ErrNoLines
	}
	if err := s.resolveRate(ctx, &in); err != nil {
		return Document{}, err
	}
	var doc Document
	err := s.run(ctx, func(tx Tx) error {
		current, err := tx.Documents().GetDocumentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !current.canEdit() {
			return transitionErr(current, "edit")
		}
		doc = in.document()
		doc.ID = current.ID
		doc.ExternalID = current.ExternalID
		doc.Kind = current.Kind
		doc.Number = current.Number
		doc.Status = current.Status
		doc.EditState = current.EditState
		doc.CreatedBy = current.CreatedBy
		if err := tx.Documents().UpdateDocument(ctx, doc); err != nil {
			return err
		}
		if err := tx.Documents().DeleteLines(ctx, id); err != nil {
			return err
		}
		for i := range doc.Lines {
			doc.Lines[i].DocumentID = id
			doc.Lines[i].ID, err = tx.Documents().InsertLine(ctx, doc.Lines[i])
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	s.recordAudit(ctx, actorID, "document.update", id)
	return doc, nil
}

// Submit moves a draft into the approval queue.
func (s *Service) Submit(ctx context.Context, id, actorID int64) error {
	err := s.run(ctx, func(tx Tx) error {
		doc, err := tx.Documents().GetDocumentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := doc.canSubmit(); err != nil {
			return err
		}
		return tx.Documents().SetStatus(ctx, id, StatusSubmitted)
	})
	if err != nil {
		return err
	}
	s.metrics.DocumentTransition(string(StatusSubmitted))
	s.recordApproval(ctx, id, actorID, shared.ApprovalSubmit, "")
	s.recordAudit(ctx, actorID, "document.submit", id)
	return nil
}

// Approve posts the document's financial effects and marks it approved.
// Stock, journal, balances, event log and status all commit together.
func (s *Service) Approve(ctx context.Context, id, actorID int64, opts posting.Options) (posting.Result, error) {
	var result posting.Result
	var companyID int64
	err := s.run(ctx, func(tx Tx) error {
		doc, err := tx.Documents().GetDocumentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := doc.canDecide(); err != nil {
			return err
		}
		companyID = doc.CompanyID
		result, err = s.orchestrator.PostDocumentTx(ctx, tx, doc.PostingInput(), opts)
		if err != nil {
			return err
		}
		return tx.Documents().SetStatus(ctx, id, StatusApproved)
	})
	if err != nil {
		return posting.Result{}, err
	}
	s.cache.Invalidate(ctx, companyID)
	s.metrics.DocumentTransition(string(StatusApproved))
	s.recordApproval(ctx, id, actorID, shared.ApprovalApprove, "")
	s.recordAudit(ctx, actorID, "document.approve", id)
	return result, nil
}

// Reject sends a submitted document back to its author.
func (s *Service) Reject(ctx context.Context, id, actorID int64, note string) error {
	err := s.run(ctx, func(tx Tx) error {
		doc, err := tx.Documents().GetDocumentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := doc.canDecide(); err != nil {
			return err
		}
		return tx.Documents().SetStatus(ctx, id, StatusRejected)
	})
	if err != nil {
		return err
	}
	s.metrics.DocumentTransition(string(StatusRejected))
	s.recordApproval(ctx, id, actorID, shared.ApprovalReject, note)
	s.recordAudit(ctx, actorID, "document.reject", id)
	return nil
}

// RequestEdit flags an approved document for unlocking.
func (s *Service) RequestEdit(ctx context.Context, id, actorID int64, note string) error {
	err := s.run(ctx, func(tx Tx) error {
		doc, err := tx.Documents().GetDocumentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := doc.canRequestEdit(); err != nil {
			return err
		}
		return tx.Documents().SetEditState(ctx, id, EditPending)
	})
	if err != nil {
		return err
	}
	s.recordApproval(ctx, id, actorID, shared.ApprovalRequestEdit, note)
	s.recordAudit(ctx, actorID, "document.request_edit", id)
	return nil
}

// DecideEdit resolves a pending edit request. Approving it reverses the
// posted effects and reopens the document as a draft; rejecting it leaves
// the document approved and posted.
func (s *Service) DecideEdit(ctx context.Context, id, actorID int64, approve bool, note string) (posting.ReverseResult, error) {
	var result posting.ReverseResult
	var companyID int64
	var kind posting.DocKind
	err := s.run(ctx, func(tx Tx) error {
		doc, err := tx.Documents().GetDocumentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := doc.canDecideEdit(); err != nil {
			return err
		}
		if !approve {
			return tx.Documents().SetEditState(ctx, id, EditNone)
		}
		companyID = doc.CompanyID
		kind = doc.Kind
		result, err = s.orchestrator.ReverseDocumentTx(ctx, tx, string(doc.Kind), id, actorID)
		if err != nil {
			return err
		}
		if err := tx.Documents().SetEditState(ctx, id, EditNone); err != nil {
			return err
		}
		return tx.Documents().SetStatus(ctx, id, StatusDraft)
	})
	if err != nil {
		return posting.ReverseResult{}, err
	}
	if approve {
		s.cache.Invalidate(ctx, companyID)
		s.metrics.DocumentTransition(string(StatusDraft))
		s.recordApproval(ctx, id, actorID, shared.ApprovalApproveEdit, note)
		s.logger.Info("document reopened for edit",
			slog.String("doc_type", string(kind)), slog.Int64("doc_id", id))
	} else {
		s.recordApproval(ctx, id, actorID, shared.ApprovalRejectEdit, note)
	}
	s.recordAudit(ctx, actorID, "document.decide_edit", id)
	return result, nil
}

// Cancel reverses an approved document and retires it.
func (s *Service) Cancel(ctx context.Context, id, actorID int64, note string) (posting.ReverseResult, error) {
	var result posting.ReverseResult
	var companyID int64
	err := s.run(ctx, func(tx Tx) error {
		doc, err := tx.Documents().GetDocumentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := doc.canCancel(); err != nil {
			return err
		}
		companyID = doc.CompanyID
		result, err = s.orchestrator.ReverseDocumentTx(ctx, tx, string(doc.Kind), id, actorID)
		if err != nil {
			return err
		}
		return tx.Documents().SetStatus(ctx, id, StatusCancelled)
	})
	if err != nil {
		return posting.ReverseResult{}, err
	}
	s.cache.Invalidate(ctx, companyID)
	s.metrics.DocumentTransition(string(StatusCancelled))
	s.recordApproval(ctx, id, actorID, shared.ApprovalCancel, note)
	s.recordAudit(ctx, actorID, "document.cancel", id)
	return result, nil
}
