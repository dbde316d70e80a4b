package core

import (
	"errors"
	"testing"
)

func TestJSONEncode(t *testing.T) {
	tests := []struct {
		name    string
		v       interface{}
		wantErr bool
	}{
		{"valid map", map[string]string{"key": "value"}, false},
		{"valid string", "test", false},
		{"nil value", nil, true},
		{"valid struct", struct{ Name string }{"test"}, false},
		{"unsupported value", make(chan int), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := JSONEncode(tt.v)
			if (err != nil) != tt.wantErr {
				t.Errorf("JSONEncode() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJSONDecode(t *testing.T) {
	var out struct {
		ID string `json:"id"`
		OK bool   `json:"ok"`
	}
	if err := JSONDecode([]byte(`{"id":"abc","ok":true}`), &out); err != nil {
		t.Fatalf("JSONDecode() error = %v", err)
	}
	if out.ID != "abc" || !out.OK {
		t.Errorf("JSONDecode() = %+v", out)
	}

	if err := JSONDecode(nil, &out); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("JSONDecode(nil) error = %v, want ErrInvalidInput", err)
	}
	if err := JSONDecode([]byte(`{}`), nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("JSONDecode(into nil) error = %v, want ErrInvalidInput", err)
	}
	if err := JSONDecode([]byte(`{`), &out); err == nil {
		t.Error("JSONDecode(malformed) expected error")
	}
}

func TestJSONRoundTripKeepsTags(t *testing.T) {
	type event struct {
		Conn string `json:"conn"`
	}
	data, err := JSONEncode(event{Conn: "c1"})
	if err != nil {
		t.Fatalf("JSONEncode() error = %v", err)
	}
	if string(data) != `{"conn":"c1"}` {
		t.Errorf("JSONEncode() = %s", data)
	}
}
