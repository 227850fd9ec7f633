package live

import (
	"time"

	"github.com/FringeDweller/fleet2-sub005/obd"
	"github.com/FringeDweller/fleet2-sub005/poller"
)

// MetricView is the derived, read-only presentation of one parameter. It
// is recomputed from the current snapshot on demand and never stored.
type MetricView struct {
	Code        string       `json:"code"`
	Name        string       `json:"name"`
	Unit        string       `json:"unit"`
	Value       float64      `json:"value"`
	HasValue    bool         `json:"hasValue"`
	Loading     bool         `json:"loading"`
	Error       string       `json:"error,omitempty"`
	LastUpdated time.Time    `json:"lastUpdated"`
	Formatted   string       `json:"formatted"`
	Severity    obd.Severity `json:"severity"`
	Color       string       `json:"color"`
	Percent     float64      `json:"percent"`
}

// buildView derives one parameter's view from a snapshot. A snapshot that
// has never been produced (Seq 0) renders as loading; a produced snapshot
// without a value for the parameter renders as no-data.
func buildView(p obd.PID, snap poller.Snapshot, t obd.Thresholds, connErr error) MetricView {
	view := MetricView{
		Code:        p.Code,
		Name:        p.Name,
		Unit:        p.Unit,
		LastUpdated: snap.At,
		Formatted:   "--",
		Severity:    obd.SeverityInfo,
	}

	if connErr != nil {
		view.Error = connErr.Error()
	}

	if snap.Seq == 0 {
		view.Loading = true
		view.Color = view.Severity.Color()
		return view
	}

	sample := snap.Sample(p)

	if sample.Valid {
		view.Value = sample.Value
		view.HasValue = true
		view.Formatted = p.Format(sample.Value)
		view.Severity = t.Classify(p, sample.Value)
		view.Percent = obd.Percent(p, sample.Value)
	}

	view.Color = view.Severity.Color()

	return view
}
