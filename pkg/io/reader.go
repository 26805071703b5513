// Package io provides input/output utilities for transaction ingestion and
// verdict output.
package io

import (
	"fmt"

	"github.com/ShinTechz/fraud-detection-system/pkg/ensemble"
	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

// Reader is the interface for reading transactions from various sources.
type Reader interface {
	// Read returns every valid transaction. Rows that fail to parse or
	// validate are returned as RowErrors alongside.
	Read() ([]transaction.Transaction, []RowError, error)

	// Close releases resources.
	Close() error
}

// RowError is an input row that could not be turned into a transaction.
type RowError struct {
	// Line is the 1-based line number in the source.
	Line int
	Err  error
}

// Error implements error.
func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Unwrap returns the underlying error.
func (e RowError) Unwrap() error { return e.Err }

// Writer is the interface for writing verdicts.
type Writer interface {
	// Write outputs a single verdict.
	Write(v ensemble.Verdict) error

	// WriteAll outputs multiple verdicts.
	WriteAll(vs []ensemble.Verdict) error

	// Close flushes and releases resources.
	Close() error
}
