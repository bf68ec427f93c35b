package protocol

import (
	"github.com/goccy/go-json"
)

// Vitals is the payload of a FrameVitals slot.
type Vitals struct {
	HeartRate     int `json:"hr"`
	SpO2          int `json:"spo2"`
	RespRate      int `json:"rr"`
	SignalQuality int `json:"signal_quality,omitempty"`
}

// Waveform is the payload of a FrameWaveform slot: consecutive samples of one
// channel, the first taken at StartTimestamp.
type Waveform struct {
	Channel        string    `json:"channel"`
	SampleRate     int       `json:"sample_rate"`
	StartTimestamp int64     `json:"start_timestamp_ns"`
	Values         []float32 `json:"values"`
}

func MarshalVitals(v Vitals) ([]byte, error) {
	return json.Marshal(v)
}

func UnmarshalVitals(b []byte) (Vitals, error) {
	var v Vitals
	err := json.Unmarshal(b, &v)
	return v, err
}

func MarshalWaveform(w Waveform) ([]byte, error) {
	return json.Marshal(w)
}

func UnmarshalWaveform(b []byte) (Waveform, error) {
	var w Waveform
	err := json.Unmarshal(b, &w)
	return w, err
}
