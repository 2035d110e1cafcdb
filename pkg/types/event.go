package types

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Event is a measurement as handed to generic sinks (bus, monitor, journal)
type Event struct {
	Measurement string            `json:"measurement"`
	Tags        map[string]string `json:"tags,omitempty"`
	Fields      map[string]any    `json:"fields"`
	Time        time.Time         `json:"time"`
}

// DemographicsEvent wraps a Demographics record
func DemographicsEvent(d Demographics) Event {
	return Event{Measurement: MeasurementDemographics, Fields: d.Fields(), Time: d.Timestamp}
}

// AdPlaybackEvent wraps an AdPlayback record
func AdPlaybackEvent(a AdPlayback) Event {
	return Event{Measurement: MeasurementAdData, Fields: a.Fields(), Time: a.Timestamp}
}

// MarshalJSONBytes serializes the event for SSE, Kafka and the journal
func (e Event) MarshalJSONBytes() ([]byte, error) {
	return json.Marshal(e)
}

// MarshalProto serializes the event as a google.protobuf.Struct
func (e Event) MarshalProto() ([]byte, error) {
	tags := make(map[string]any, len(e.Tags))
	for k, v := range e.Tags {
		tags[k] = v
	}
	s, err := structpb.NewStruct(map[string]any{
		"measurement": e.Measurement,
		"time":        float64(e.Time.UnixNano()) / 1e9,
		"tags":        tags,
		"fields":      e.Fields,
	})
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return proto.Marshal(s)
}

// UnmarshalEventProto is the inverse of MarshalProto
func UnmarshalEventProto(data []byte) (Event, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Event{}, err
	}
	m := s.AsMap()

	e := Event{Fields: map[string]any{}}
	e.Measurement, _ = m["measurement"].(string)
	if ts, ok := m["time"].(float64); ok {
		e.Time = time.Unix(0, int64(ts*1e9))
	}
	if tags, ok := m["tags"].(map[string]any); ok && len(tags) > 0 {
		e.Tags = make(map[string]string, len(tags))
		for k, v := range tags {
			e.Tags[k] = fmt.Sprint(v)
		}
	}
	if fields, ok := m["fields"].(map[string]any); ok {
		e.Fields = fields
	}
	return e, nil
}
