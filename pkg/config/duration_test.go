package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDurationUnmarshalYAML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Duration
		err  bool
	}{
		{name: "string with unit", in: "ttl: 5m", want: 5 * time.Minute},
		{name: "compound string", in: "ttl: 1h30m", want: 90 * time.Minute},
		{name: "bare int is seconds", in: "ttl: 30", want: 30 * time.Second},
		{name: "float seconds", in: "ttl: 1.5", want: 1500 * time.Millisecond},
		{name: "garbage", in: "ttl: soon", err: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var doc struct {
				TTL Duration `yaml:"ttl"`
			}
			err := yaml.Unmarshal([]byte(tc.in), &doc)
			if tc.err {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if doc.TTL.Std() != tc.want {
				t.Errorf("got %v, want %v", doc.TTL.Std(), tc.want)
			}
		})
	}
}

func TestDurationMarshalRoundTrip(t *testing.T) {
	in := struct {
		TTL Duration `yaml:"ttl"`
	}{TTL: Duration(90 * time.Second)}

	raw, err := yaml.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}

	var out struct {
		TTL Duration `yaml:"ttl"`
	}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if out.TTL != in.TTL {
		t.Errorf("round trip changed value: %v != %v", out.TTL, in.TTL)
	}
}
