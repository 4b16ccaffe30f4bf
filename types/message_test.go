package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	msg := Message{
		Role:      "user",
		Content:   "I want to buy a GPU",
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	raw, err := MarshalEnvelope(msg)
	if err != nil {
		t.Fatalf("MarshalEnvelope: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal raw envelope: %v", err)
	}
	if env.Version != EnvelopeVersion {
		t.Errorf("Version = %q, want %q", env.Version, EnvelopeVersion)
	}
	if env.Timestamp == "" {
		t.Error("envelope timestamp should be set")
	}

	var got Message
	if err := UnmarshalEnvelope(raw, &got); err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	if got.Role != msg.Role || got.Content != msg.Content {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if !got.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, msg.Timestamp)
	}
}

func TestEnvelopeRejectsMissingData(t *testing.T) {
	cases := []string{
		`{"version":"1.0","timestamp":"2026-03-01T10:00:00Z"}`,
		`{"version":"1.0","timestamp":"2026-03-01T10:00:00Z","data":null}`,
	}
	for _, raw := range cases {
		var msg Message
		if err := UnmarshalEnvelope([]byte(raw), &msg); err != ErrMissingData {
			t.Errorf("UnmarshalEnvelope(%s) = %v, want ErrMissingData", raw, err)
		}
	}
}

func TestProductPriceValue(t *testing.T) {
	tests := []struct {
		name  string
		price any
		want  float64
	}{
		{"float", 499.99, 499.99},
		{"int", 500, 500},
		{"currency string", "$1,299.00", 1299},
		{"string with suffix", "499.99 USD", 499.99},
		{"unparseable", "call for price", 0}, // checked as +Inf below
		{"missing", nil, 0},                  // checked as +Inf below
	}
	for _, tt := range tests {
		p := Product{Name: "x", Price: tt.price}
		got := p.PriceValue()
		switch tt.name {
		case "unparseable", "missing":
			if !isInf(got) {
				t.Errorf("%s: PriceValue = %v, want +Inf", tt.name, got)
			}
		default:
			if got != tt.want {
				t.Errorf("%s: PriceValue = %v, want %v", tt.name, got, tt.want)
			}
		}
	}
}

func TestProductRatingValue(t *testing.T) {
	if got := (&Product{Rating: "4.5"}).RatingValue(); got != 4.5 {
		t.Errorf("RatingValue = %v, want 4.5", got)
	}
	if got := (&Product{}).RatingValue(); got != 0 {
		t.Errorf("missing rating = %v, want 0", got)
	}
	if got := (&Product{Rating: 9.0}).RatingValue(); got != 5 {
		t.Errorf("out-of-range rating = %v, want clamped to 5", got)
	}
}

func isInf(f float64) bool {
	return f > 1e300
}
