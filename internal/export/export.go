// Package export renders finished sessions to tabular (CSV) and
// structured (JSON) forms.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/soundwatch/noisemeter/internal/exposure"
	"github.com/soundwatch/noisemeter/internal/store"
	"github.com/soundwatch/noisemeter/internal/util"
)

// WriteJSON writes the full session document: summary plus readings.
func WriteJSON(w io.Writer, sess *store.StoredSession) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return util.WrapError("encode session", enc.Encode(sess))
}

// WriteCSV writes the reading sequence as a flat table with one row per
// reading: timestamp, dB value and classification category.
func WriteCSV(w io.Writer, sess *store.StoredSession) error {
	cw := csv.NewWriter(w)

	header := []string{"timestamp", "timestamp_ms", "value_db", "zone", "category", "risk_level"}
	if err := cw.Write(header); err != nil {
		return util.WrapError("write CSV header", err)
	}

	for _, r := range sess.Readings {
		c := exposure.Classify(r.ValueDB)
		row := []string{
			r.Timestamp().UTC().Format(time.RFC3339Nano),
			strconv.FormatInt(r.TimestampMs, 10),
			strconv.FormatFloat(r.ValueDB, 'f', 2, 64),
			string(c.Zone),
			c.Category,
			string(c.RiskLevel),
		}
		if err := cw.Write(row); err != nil {
			return util.WrapError("write CSV row", err)
		}
	}

	cw.Flush()
	return util.WrapError("flush CSV", cw.Error())
}
