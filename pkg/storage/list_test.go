package storage_test

import (
	"testing"

	"github.com/inkwell-ai/bluebook/pkg/storage"
)

func TestParseMaxResults(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		ceiling int32
		want    int32
		wantErr bool
	}{
		{"empty uses ceiling", "", 100, 100, false},
		{"valid value", "25", 100, 25, false},
		{"clamped to ceiling", "5000", 100, 100, false},
		{"zero ceiling falls back to cap", "", 0, storage.MaxListCap, false},
		{"oversized ceiling falls back to cap", "", 10000, storage.MaxListCap, false},
		{"not a number", "many", 100, 0, true},
		{"zero", "0", 100, 0, true},
		{"negative", "-5", 100, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := storage.ParseMaxResults(tt.value, tt.ceiling)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}
