package reconcile

import (
	"time"

	"github.com/gregorydickson/loan-sub000/internal/logging"
	"github.com/gregorydickson/loan-sub000/internal/model"
)

// Result carries the reconciled borrower set plus bookkeeping.
type Result struct {
	Borrowers        []model.BorrowerRecord
	Warnings         []model.ConsistencyWarning
	ValidationErrors []model.ValidationError
}

// Reconciler deduplicates, merges, validates and scores borrower records.
type Reconciler struct {
	log *logging.Logger
	now func() time.Time
}

// New builds a reconciler. A nil logger is replaced with a no-op one.
func New(log *logging.Logger) *Reconciler {
	if log == nil {
		log = logging.Nop()
	}
	return &Reconciler{log: log, now: time.Now}
}

// Reconcile merges equivalent records, validates fields and scores each
// surviving borrower. The input slice is not modified.
func (r *Reconciler) Reconcile(records []model.BorrowerRecord) *Result {
	res := &Result{}
	if len(records) == 0 {
		return res
	}

	clusters := groupRecords(records)
	now := r.now()

	for _, cluster := range clusters {
		merged := mergeCluster(records, cluster)

		verrs := validateRecord(&merged, now)
		scoreRecord(&merged, len(verrs) == 0)

		res.ValidationErrors = append(res.ValidationErrors, verrs...)
		res.Warnings = append(res.Warnings, checkRecord(&merged)...)
		res.Borrowers = append(res.Borrowers, merged)
	}

	res.Warnings = append(res.Warnings, crossDocMismatch(res.Borrowers)...)

	if len(res.Borrowers) < len(records) {
		r.log.Info("deduplicated borrower records",
			"input", len(records),
			"output", len(res.Borrowers),
		)
	}
	return res
}
