package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RawPrice is a price as it arrives from a catalog parser: a JSON number,
// a string such as "$1,250.00", or null. It is parsed during indexing.
type RawPrice string

func (p *RawPrice) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = RawPrice(s)
		return nil
	}
	*p = RawPrice(data)
	return nil
}

// CatalogRow is one already-parsed row of an uploaded catalog file.
type CatalogRow struct {
	Name         string   `json:"name"`
	Price        RawPrice `json:"price,omitempty"`
	StoreID      string   `json:"store_id,omitempty"`
	Code         string   `json:"code,omitempty"`
	Category     string   `json:"category,omitempty"`
	Presentation string   `json:"presentation,omitempty"`
}

type CatalogEntry struct {
	ID            string          `json:"id"`
	CanonicalName string          `json:"canonical_name"`
	Price         decimal.Decimal `json:"price"`
	StoreID       string          `json:"store_id,omitempty"`
	Code          string          `json:"code,omitempty"`
	Category      string          `json:"category,omitempty"`
	Presentation  string          `json:"presentation,omitempty"`
	SourceFileID  string          `json:"source_file_id"`
	IndexedAt     time.Time       `json:"indexed_at"`
}

type ExtractedItem struct {
	RawName       string           `json:"raw_name"`
	ObservedPrice *decimal.Decimal `json:"observed_price"`
}

type Decision string

const (
	Matched Decision = "MATCHED"
	NoMatch Decision = "NO_MATCH"
)

type PriceStatus string

const (
	PriceOK       PriceStatus = "OK"
	PriceMismatch PriceStatus = "MISMATCH"
	PriceUnknown  PriceStatus = "UNKNOWN"
)

type Candidate struct {
	Entry      CatalogEntry `json:"entry"`
	Similarity float64      `json:"similarity"`
}

type MatchResult struct {
	Item         ExtractedItem `json:"item"`
	StoreID      string        `json:"store_id,omitempty"`
	MatchedEntry *CatalogEntry `json:"matched_entry"`
	Similarity   float64       `json:"similarity"`
	Decision     Decision      `json:"decision"`
	Candidates   []Candidate   `json:"candidates,omitempty"`
	Err          error         `json:"-"`
}

func (m MatchResult) MarshalJSON() ([]byte, error) {
	type alias MatchResult
	return json.Marshal(struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias(m), errString(m.Err)})
}

type Verdict struct {
	Match         MatchResult      `json:"match"`
	PriceStatus   PriceStatus      `json:"price_status"`
	ExpectedPrice *decimal.Decimal `json:"expected_price"`
	Delta         *decimal.Decimal `json:"delta"`
	Err           error            `json:"-"`
}

func (v Verdict) MarshalJSON() ([]byte, error) {
	type alias Verdict
	return json.Marshal(struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias(v), errString(v.Err)})
}

type Summary struct {
	MatchedCount  int `json:"matched_count"`
	MismatchCount int `json:"mismatch_count"`
	UnknownCount  int `json:"unknown_count"`
	NotFoundCount int `json:"not_found_count"`
	Total         int `json:"total"`
}

// Summarize counts verdicts by price status. NotFoundCount is the subset of
// UnknownCount whose match was NO_MATCH.
func Summarize(verdicts []Verdict) Summary {
	s := Summary{Total: len(verdicts)}
	for _, v := range verdicts {
		switch v.PriceStatus {
		case PriceOK:
			s.MatchedCount++
		case PriceMismatch:
			s.MismatchCount++
		default:
			s.UnknownCount++
		}
		if v.Match.Decision == NoMatch {
			s.NotFoundCount++
		}
	}
	return s
}

type RowError struct {
	Row     int    `json:"row"`
	EntryID string `json:"entry_id,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type IndexReport struct {
	FileID   string        `json:"file_id"`
	Indexed  int           `json:"indexed"`
	Failed   int           `json:"failed"`
	Errors   []RowError    `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// AddError records a failed row.
func (r *IndexReport) AddError(row int, entryID string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, RowError{
		Row:     row,
		EntryID: entryID,
		Kind:    KindOf(err),
		Message: errString(err),
	})
}

type CatalogStats struct {
	Entries int            `json:"entries"`
	Files   int            `json:"files"`
	Pending int            `json:"pending"`
	Vectors int            `json:"vectors"`
	ByStore map[string]int `json:"by_store"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
