package pipeline

import (
	"context"

	"github.com/gregorydickson/loan-sub000/internal/logging"
	"github.com/gregorydickson/loan-sub000/internal/model"
	"github.com/gregorydickson/loan-sub000/internal/reconcile"
	"github.com/gregorydickson/loan-sub000/internal/store"
)

// Sink persists extracted borrowers. Before creating a row it matches
// the record against borrowers already on file, first by SSN hash and
// then by shared account or loan number, and merges into the stored row
// on a match so one person stays one record across documents.
type Sink struct {
	store      store.Store
	reconciler *reconcile.Reconciler
	log        *logging.Logger
}

// NewSink builds a sink over the given store.
func NewSink(st store.Store, log *logging.Logger) *Sink {
	if log == nil {
		log = logging.Nop()
	}
	return &Sink{store: st, reconciler: reconcile.New(log), log: log}
}

// Persist stores one borrower, merging when the record matches a person
// already on file.
func (s *Sink) Persist(ctx context.Context, b *model.BorrowerRecord) error {
	existing, err := s.match(ctx, b)
	if err != nil {
		return err
	}
	if existing == nil {
		return s.store.CreateBorrower(ctx, b)
	}

	res := s.reconciler.Reconcile([]model.BorrowerRecord{*existing, *b})
	if len(res.Borrowers) != 1 {
		// The lookup matched but the merge strategies kept the records
		// apart; store the new record on its own.
		return s.store.CreateBorrower(ctx, b)
	}
	merged := res.Borrowers[0]
	merged.ID = existing.ID
	merged.CreatedAt = existing.CreatedAt

	for _, w := range res.Warnings {
		s.log.Warn("cross-document consistency warning",
			"borrower_id", existing.ID,
			"warning_kind", string(w.Kind),
			"message", w.Message,
		)
	}
	if err := s.store.UpdateBorrower(ctx, &merged); err != nil {
		return err
	}
	s.log.Info("merged borrower into existing record",
		"borrower_id", existing.ID,
		"documents", len(merged.DocumentRefs),
	)
	return nil
}

// match finds the stored borrower this record most plausibly is, or nil.
func (s *Sink) match(ctx context.Context, b *model.BorrowerRecord) (*model.BorrowerRecord, error) {
	if b.SSNHash != "" {
		found, err := s.store.FindBorrowersBySSNHash(ctx, b.SSNHash)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			return found[0], nil
		}
	}
	identifiers := make([]string, 0, len(b.AccountNumbers)+len(b.LoanNumbers))
	identifiers = append(identifiers, b.AccountNumbers...)
	identifiers = append(identifiers, b.LoanNumbers...)
	for _, id := range identifiers {
		found, err := s.store.FindBorrowersByAccountNumber(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, cand := range found {
			// A shared identifier with a different SSN is two people on
			// a joint account, not one person.
			if cand.SSNHash != "" && b.SSNHash != "" && cand.SSNHash != b.SSNHash {
				continue
			}
			return cand, nil
		}
	}
	return nil, nil
}
