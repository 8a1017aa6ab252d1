package telemetry

import (
	"time"

	"github.com/rjboer/SoapyTSDR/internal/logging"
)

// Counters are running totals of one streaming session.
type Counters struct {
	Deliveries int64 `json:"deliveries"`
	Clean      int64 `json:"clean"`
	Partial    int64 `json:"partial"`
	Aborted    int64 `json:"aborted"`
	// Samples counts complex samples handed to the host.
	Samples    int64 `json:"samples"`
	Dropped    int64 `json:"dropped"`
	Reads      int64 `json:"reads"`
	Overflows  int64 `json:"overflows"`
	Underflows int64 `json:"underflows"`
	Timeouts   int64 `json:"timeouts"`
}

// Delivery describes one flush of the accumulation buffer to the host.
type Delivery struct {
	Timestamp time.Time `json:"timestamp"`
	Outcome   string    `json:"outcome"`
	Items     int       `json:"items"`
	Dropped   int64     `json:"dropped"`
	Totals    Counters  `json:"totals"`
}

// Reporter captures delivery events.
type Reporter interface {
	ReportDelivery(d Delivery)
}

// MultiReporter fans out telemetry to multiple destinations.
type MultiReporter []Reporter

// ReportDelivery forwards the event to each configured reporter.
func (m MultiReporter) ReportDelivery(d Delivery) {
	for _, r := range m {
		if r != nil {
			r.ReportDelivery(d)
		}
	}
}

// LogReporter writes deliveries to a logger: unusable windows at warn level,
// everything else at debug.
type LogReporter struct {
	logger logging.Logger
}

// NewLogReporter builds a log reporter with the provided logger.
func NewLogReporter(logger logging.Logger) LogReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return LogReporter{logger: logger.With(logging.Subsystem("telemetry"))}
}

func (r LogReporter) ReportDelivery(d Delivery) {
	fields := []logging.Field{
		logging.F("outcome", d.Outcome),
		logging.F("items", d.Items),
	}
	if d.Dropped != 0 {
		fields = append(fields, logging.F("dropped", d.Dropped))
	}
	if d.Totals.Overflows != 0 {
		fields = append(fields, logging.F("overflows", d.Totals.Overflows))
	}
	if d.Totals.Underflows != 0 {
		fields = append(fields, logging.F("underflows", d.Totals.Underflows))
	}
	if d.Outcome == "aborted" {
		r.logger.Warn("delivery window dropped", fields...)
		return
	}
	r.logger.Debug("delivery", fields...)
}
