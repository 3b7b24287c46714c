package kafka

// TopicTelemetryFirehose carries every accepted sample from pitwall to
// downstream consumers (blackbox archives it into ClickHouse).
const TopicTelemetryFirehose = "telemetry_firehose"

// TopicTelemetryDLQ receives firehose records a consumer could not
// process, wrapped in a DLQPayload.
const TopicTelemetryDLQ = "telemetry_firehose_dlq"

// FirehoseRecord is one accepted sample on the wire. Position and
// channel fields are merged; a GPS sample leaves the channel pointers
// nil and vice versa. Field names line up with the telemetry_archive
// ClickHouse table.
type FirehoseRecord struct {
	EventID   string `json:"event_id"`
	VehicleID string `json:"vehicle_id"`
	Source    string `json:"source"`
	TsMs      int64  `json:"ts_ms"`

	Lat        float64 `json:"lat,omitempty"`
	Lon        float64 `json:"lon,omitempty"`
	SpeedMps   float64 `json:"speed_mps,omitempty"`
	HeadingDeg float64 `json:"heading_deg,omitempty"`
	AltitudeM  *float64 `json:"altitude_m,omitempty"`
	Hdop       *float64 `json:"hdop,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`

	RPM             *float64 `json:"rpm,omitempty"`
	Gear            *int     `json:"gear,omitempty"`
	ThrottlePct     *float64 `json:"throttle_pct,omitempty"`
	CoolantTempC    *float64 `json:"coolant_temp_c,omitempty"`
	OilPressurePsi  *float64 `json:"oil_pressure_psi,omitempty"`
	FuelPressurePsi *float64 `json:"fuel_pressure_psi,omitempty"`
	SpeedMph        *float64 `json:"speed_mph,omitempty"`
	HeartRate       *int     `json:"heart_rate,omitempty"`
	HeartRateZone   *int     `json:"heart_rate_zone,omitempty"`

	IsOutlier   bool `json:"is_outlier,omitempty"`
	IsSimulated bool `json:"is_simulated,omitempty"`
}

// Key partitions the firehose so one vehicle's samples stay ordered.
func (r *FirehoseRecord) Key() []byte {
	return []byte(r.EventID + ":" + r.VehicleID)
}
