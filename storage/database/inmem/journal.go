// Package inmemdb keeps the enrollment journal in memory, for development and tests.
package inmemdb

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/admissions/core/enrollment"
)

type journalRepository struct {
	mutex   sync.RWMutex
	pkCount int64
	table   []enrollment.Entry
}

var _ enrollment.Journal = (*journalRepository)(nil) // interface compliance check

func NewJournalRepository() *journalRepository {
	return &journalRepository{}
}

func (repo *journalRepository) Record(_ context.Context, entry enrollment.Entry) (enrollment.Entry, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	repo.pkCount++
	entry.ID = repo.pkCount
	entry.CreatedAt = time.Now().UTC()
	repo.table = append(repo.table, entry)
	return entry, nil
}

func (repo *journalRepository) ListByReservation(_ context.Context, branchID, reservationID int) ([]enrollment.Entry, error) {
	repo.mutex.RLock()
	defer repo.mutex.RUnlock()

	entries := make([]enrollment.Entry, 0)
	for _, e := range repo.table {
		if e.BranchID == branchID && e.ReservationID == reservationID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}
