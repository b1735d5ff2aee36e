package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input string
		want  ByteSize
	}{
		{"0", 0},
		{"4096", 4096},
		{"1024B", 1024},
		{"64Ki", 64 * KiB},
		{"64KiB", 64 * KiB},
		{"100Mi", 100 * MiB},
		{"1Gi", GiB},
		{"1K", 1000},
		{"100MB", 100 * MB},
		{"1gb", GB},
		{"1GI", GiB},
		{"  1Gi  ", GiB},
		{"1 Gi", GiB},
		{"1.5Mi", ByteSize(1.5 * float64(MiB))},
		{"0.5Gi", ByteSize(0.5 * float64(GiB))},
	}
	for _, tt := range tests {
		got, err := ParseByteSize(tt.input)
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestParseByteSizeRejectsInvalid(t *testing.T) {
	for _, input := range []string{"", "   ", "1Xi", "-1Gi", "Gi", "abc"} {
		_, err := ParseByteSize(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("64Ki")))
	assert.Equal(t, 64*KiB, b)

	assert.Error(t, b.UnmarshalText([]byte("invalid")))
}

func TestString(t *testing.T) {
	assert.Equal(t, "512B", ByteSize(512).String())
	assert.Equal(t, "2.00KiB", (2 * KiB).String())
	assert.Equal(t, "100.00MiB", (100 * MiB).String())
	assert.Equal(t, "1.50GiB", ByteSize(1.5*float64(GiB)).String())
}
