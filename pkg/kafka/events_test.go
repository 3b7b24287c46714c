package kafka

import (
	"encoding/json"
	"testing"
)

func TestFirehoseRecordKey(t *testing.T) {
	rec := FirehoseRecord{EventID: "ev1", VehicleID: "veh9", Source: "gps", TsMs: 1000}
	if got := string(rec.Key()); got != "ev1:veh9" {
		t.Fatalf("key = %q, want ev1:veh9", got)
	}
}

func TestFirehoseRecordOmitsNilChannels(t *testing.T) {
	rec := FirehoseRecord{EventID: "ev1", VehicleID: "veh9", Source: "gps", TsMs: 1000, Lat: 40.1, Lon: -105.2}
	b, err := json.Marshal(&rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, absent := range []string{"rpm", "gear", "heart_rate", "coolant_temp_c"} {
		if _, ok := m[absent]; ok {
			t.Fatalf("expected %s to be omitted for a GPS record", absent)
		}
	}
	if m["lat"].(float64) != 40.1 {
		t.Fatalf("lat lost in serialization")
	}
}
