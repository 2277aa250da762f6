// Package invoice implements invoice number issuance: a period-scoped
// sequence allocation combined with a pure composing step that renders the
// printable document number.
package invoice

import (
	"fmt"
	"time"
)

// CounterName is the sequence counter used for invoice numbering.
const CounterName = "invoiceNumbering"

// ResetPolicy controls when a numbering sequence restarts from 1.
type ResetPolicy string

const (
	ResetNever   ResetPolicy = "never"
	ResetYearly  ResetPolicy = "yearly"
	ResetMonthly ResetPolicy = "monthly"
	ResetDaily   ResetPolicy = "daily"
)

// PeriodKey buckets t according to the reset policy. Counters are scoped by
// this key, so a new period naturally restarts at 1 while previous periods
// keep their state. Unknown policies fall back to a single global bucket.
func (p ResetPolicy) PeriodKey(t time.Time) string {
	switch p {
	case ResetYearly:
		return "year-" + t.Format("2006")
	case ResetMonthly:
		return "month-" + t.Format("2006-01")
	case ResetDaily:
		return "day-" + t.Format("2006-01-02")
	default:
		return "global"
	}
}

// Config is the read-only numbering configuration. It is external input:
// this package never mutates it.
type Config struct {
	Enabled     bool
	Series      string
	Prefix      string
	Suffix      string
	Padding     int
	ResetPolicy ResetPolicy
}

// Compose renders the printable invoice number for a raw sequence value:
// prefix, series, the value zero-padded to Padding digits, suffix, in that
// order. Empty components are omitted and no separators are inserted beyond
// what the configuration encodes into prefix/suffix.
func Compose(cfg Config, n int64) string {
	padding := cfg.Padding
	if padding < 0 {
		padding = 0
	}
	return fmt.Sprintf("%s%s%0*d%s", cfg.Prefix, cfg.Series, padding, n, cfg.Suffix)
}
