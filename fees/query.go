package fees

import (
	"context"

	"github.com/warp/fee-ledger/ledger"
)

// Get returns a record with freshly derived due amount and status.
func (s *Service) Get(ctx context.Context, id ledger.RecordID) (*ledger.FeeRecord, error) {
	return s.store.Get(ctx, id)
}

// List returns one page of records. See ledger.Query for filters.
func (s *Service) List(ctx context.Context, q ledger.Query) (*ledger.RecordPage, error) {
	return s.store.List(ctx, q)
}

// History returns the log entries of a record in append order.
func (s *Service) History(ctx context.Context, id ledger.RecordID) ([]ledger.TransactionLogEntry, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Entries(ctx, id)
}

// Student looks a student up in the directory.
func (s *Service) Student(ctx context.Context, id string) (*ledger.Student, error) {
	return s.store.GetStudent(ctx, id)
}
