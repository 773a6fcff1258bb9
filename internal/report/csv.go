package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/ocx/uaal/internal/analysis"
)

// CSVHeader lists the export columns in order.
var CSVHeader = []string{
	"timestamp",
	"action",
	"core_amount",
	"payload_amount",
	"delta_percent",
	"risk_level",
	"policy_decision",
	"policy_version",
	"core_intent_hash",
	"payload_hash",
}

// WriteCSV writes one row per record. Missing amounts and deltas are empty.
func WriteCSV(w io.Writer, records []analysis.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}

	for _, r := range records {
		row := []string{
			timestamp(r.Timestamp),
			r.Action(),
			optional(r.CoreAmount()),
			optional(r.PayloadAmount()),
			"",
			r.RiskLevel.String(),
			string(r.PolicyDecision),
			r.PolicyVersion,
			r.CoreIntentHash,
			r.PayloadHash,
		}
		if d := r.AmountDelta(); d != nil {
			row[4] = formatFloat(*d)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func optional(v float64, ok bool) string {
	if !ok {
		return ""
	}
	return formatFloat(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
