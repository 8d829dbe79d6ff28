package region

import (
	"bytes"
	"testing"
)

func TestVarIntRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
		size  int
	}{
		{"zero", 0, 1},
		{"one", 1, 1},
		{"127", 127, 1},
		{"128", 128, 2},
		{"255", 255, 2},
		{"65535", 65535, 3},
		{"max", 1<<32 - 1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := WriteVarInt(&buf, tt.value)
			if err != nil {
				t.Fatalf("WriteVarInt(%d): %v", tt.value, err)
			}
			if n != tt.size {
				t.Errorf("WriteVarInt(%d) wrote %d bytes, want %d", tt.value, n, tt.size)
			}

			got, bytesRead, err := ReadVarInt(&buf)
			if err != nil {
				t.Fatalf("ReadVarInt: %v", err)
			}
			if bytesRead != tt.size {
				t.Errorf("ReadVarInt read %d bytes, want %d", bytesRead, tt.size)
			}
			if got != tt.value {
				t.Errorf("ReadVarInt = %d, want %d", got, tt.value)
			}
		})
	}
}

func TestWriteVarIntEncoding(t *testing.T) {
	var buf bytes.Buffer
	if _, err := WriteVarInt(&buf, 300); err != nil {
		t.Fatal(err)
	}
	// 300 = 0x12C → 0xAC 0x02
	if !bytes.Equal(buf.Bytes(), []byte{0xAC, 0x02}) {
		t.Errorf("WriteVarInt(300) = %x, want ac02", buf.Bytes())
	}
}

func TestReadVarIntTooLong(t *testing.T) {
	_, _, err := ReadVarInt(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}))
	if err == nil {
		t.Fatal("expected error for 6-byte VarInt")
	}
}
