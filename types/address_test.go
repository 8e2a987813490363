package types

import "testing"

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    Address
		wantErr bool
	}{
		{"0xAbC123", "0xabc123", false},
		{"  seller-1 ", "seller-1", false},
		{"", NoAddress, true},
		{"   ", NoAddress, true},
		{"two words", NoAddress, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err: got %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddressEqualAndValidate(t *testing.T) {
	if !Address("0xABC").Equal("0xabc") {
		t.Error("Equal should ignore case")
	}
	if err := Address("0xabc").Validate(); err != nil {
		t.Errorf("Validate: unexpected error %v", err)
	}
	if err := Address("0xABC").Validate(); err == nil {
		t.Error("Validate: expected error for non-normalized address")
	}
	if !NoAddress.IsZero() {
		t.Error("NoAddress should be zero")
	}
}
