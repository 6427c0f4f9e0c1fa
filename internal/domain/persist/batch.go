// Package persist writes normalized transactions through the repository in
// bounded chunks, isolating per-item failures so one bad record never sinks
// a batch.
package persist

import (
	"context"
	"fmt"
	"log"

	"ledgerline/internal/domain/normalize"
	"ledgerline/internal/domain/transaction"
)

const defaultChunkSize = 100

// Failure records one item that could not be persisted. Reason carries the
// repository error text only, never provider payload.
type Failure struct {
	ExternalID string
	Reason     string
}

// Summary reports what a batch write actually did. Unresolved counts items
// held back because their account linkage never resolved; their raw records
// are retained, so they are not failures.
type Summary struct {
	Total      int
	Created    int
	Updated    int
	Failed     int
	Unresolved int
	Failures   []Failure
}

// Batcher chunks upserts against the transaction repository.
type Batcher struct {
	transactions transaction.Repository
	chunkSize    int
}

func NewBatcher(transactions transaction.Repository, chunkSize int) *Batcher {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Batcher{transactions: transactions, chunkSize: chunkSize}
}

// PersistTransactions upserts the batch chunk by chunk. Items that fail
// validation or the repository write are recorded in the summary and the
// rest of the batch continues. Context cancellation stops between chunks
// and returns the partial summary alongside the context error.
func (b *Batcher) PersistTransactions(ctx context.Context, txs []normalize.Transaction) (Summary, error) {
	summary := Summary{Total: len(txs)}

	for start := 0; start < len(txs); start += b.chunkSize {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("batch persist interrupted: %w", err)
		}

		end := start + b.chunkSize
		if end > len(txs) {
			end = len(txs)
		}

		for _, tx := range txs[start:end] {
			if !tx.Resolved {
				summary.Unresolved++
				continue
			}

			params := tx.UpsertParams()
			if err := params.Validate(); err != nil {
				summary.fail(tx.ExternalID, err.Error())
				continue
			}

			_, created, err := b.transactions.Upsert(ctx, params)
			if err != nil {
				summary.fail(tx.ExternalID, err.Error())
				continue
			}
			if created {
				summary.Created++
			} else {
				summary.Updated++
			}
		}
	}

	if summary.Failed > 0 {
		log.Printf("Batch persist: %d/%d transactions failed", summary.Failed, summary.Total)
	}
	if summary.Unresolved > 0 {
		log.Printf("Batch persist: %d/%d transactions held, account not resolved", summary.Unresolved, summary.Total)
	}
	return summary, nil
}

func (s *Summary) fail(externalID, reason string) {
	s.Failed++
	s.Failures = append(s.Failures, Failure{ExternalID: externalID, Reason: reason})
}
