// Package csv reads transactions from header-driven CSV files.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	fgio "github.com/ShinTechz/fraud-detection-system/pkg/io"
	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

// ErrMissingColumn is returned when a required column is absent from the
// header.
var ErrMissingColumn = errors.New("missing required column")

// Column names. "transaction_type" is accepted as an alias of "type".
const (
	ColTransactionID      = "transaction_id"
	ColUserID             = "user_id"
	ColTimestamp          = "timestamp"
	ColValue              = "value"
	ColType               = "type"
	ColCategory           = "category"
	ColMerchant           = "merchant"
	ColCity               = "city"
	ColState              = "state"
	ColDevice             = "device"
	ColOriginAccount      = "origin_account"
	ColDestinationAccount = "destination_account"
	ColIPAddress          = "ip_address"
	ColLatitude           = "latitude"
	ColLongitude          = "longitude"
)

var required = []string{ColTransactionID, ColUserID, ColTimestamp, ColValue, ColType, ColCategory}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Reader reads transactions from a CSV source.
type Reader struct {
	closer  io.Closer
	reader  *csv.Reader
	headers []string
	index   map[string]int
	loc     *time.Location
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithLocation sets the zone for timestamps without an offset. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(r *Reader) {
		r.loc = loc
	}
}

// WithComma sets the field delimiter.
func WithComma(c rune) Option {
	return func(r *Reader) {
		r.reader.Comma = c
	}
}

// NewReader opens filename and reads its header.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	r, err := NewFromReader(file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// NewFromReader reads CSV from src. The caller keeps ownership of src.
func NewFromReader(src io.Reader, opts ...Option) (*Reader, error) {
	r := &Reader{
		reader: csv.NewReader(src),
		loc:    time.UTC,
	}
	r.reader.FieldsPerRecord = -1
	r.reader.TrimLeadingSpace = true

	for _, opt := range opts {
		opt(r)
	}

	headers, err := r.reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	r.headers = headers
	r.index = make(map[string]int, len(headers))
	for i, h := range headers {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if name == "transaction_type" {
			name = ColType
		}
		r.index[name] = i
	}
	for _, col := range required {
		if _, ok := r.index[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}
	return r, nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

var _ fgio.Reader = (*Reader)(nil)

// Read returns every valid transaction in file order together with the rows
// that were rejected.
func (r *Reader) Read() ([]transaction.Transaction, []fgio.RowError, error) {
	var (
		txs     []transaction.Transaction
		invalid []fgio.RowError
	)
	for {
		tx, rowErr, err := r.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if rowErr != nil {
			invalid = append(invalid, *rowErr)
			continue
		}
		txs = append(txs, *tx)
	}
	return txs, invalid, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// next reads one record. A parse or validation failure is reported as a
// RowError; err is reserved for I/O failures and io.EOF.
func (r *Reader) next() (*transaction.Transaction, *fgio.RowError, error) {
	record, err := r.reader.Read()
	if err == io.EOF {
		return nil, nil, io.EOF
	}
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, &fgio.RowError{Line: perr.Line, Err: err}, nil
		}
		return nil, nil, err
	}

	line, _ := r.reader.FieldPos(0)
	tx, err := r.parseRow(record)
	if err == nil {
		err = tx.Validate()
	}
	if err != nil {
		return nil, &fgio.RowError{Line: line, Err: err}, nil
	}
	return tx, nil, nil
}

func (r *Reader) field(record []string, col string) string {
	i, ok := r.index[col]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// parseRow converts a record into a transaction.
func (r *Reader) parseRow(record []string) (*transaction.Transaction, error) {
	ts, err := r.parseTime(r.field(record, ColTimestamp))
	if err != nil {
		return nil, err
	}
	value, err := decimal.NewFromString(r.field(record, ColValue))
	if err != nil {
		return nil, fmt.Errorf("%w: value %q: %v", transaction.ErrInvalid, r.field(record, ColValue), err)
	}
	typ, err := transaction.ParseType(r.field(record, ColType))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transaction.ErrInvalid, err)
	}

	tx := &transaction.Transaction{
		ID:                 r.field(record, ColTransactionID),
		UserID:             r.field(record, ColUserID),
		Timestamp:          ts,
		Value:              value,
		Type:               typ,
		Category:           r.field(record, ColCategory),
		Merchant:           r.field(record, ColMerchant),
		City:               r.field(record, ColCity),
		State:              r.field(record, ColState),
		Device:             r.field(record, ColDevice),
		OriginAccount:      r.field(record, ColOriginAccount),
		DestinationAccount: r.field(record, ColDestinationAccount),
		IPAddress:          r.field(record, ColIPAddress),
	}

	lat, lon := r.field(record, ColLatitude), r.field(record, ColLongitude)
	if lat != "" && lon != "" {
		p, err := parsePoint(lat, lon)
		if err != nil {
			return nil, err
		}
		tx.Location = p
	}
	return tx, nil
}

func (r *Reader) parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, r.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", transaction.ErrInvalid, s)
}

func parsePoint(lat, lon string) (*transaction.Point, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: latitude %q", transaction.ErrInvalid, lat)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: longitude %q", transaction.ErrInvalid, lon)
	}
	return &transaction.Point{Lat: la, Lon: lo}, nil
}
