package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageFormat(t *testing.T) {
	mf, err := ParseMessageFormat("endstop_state oid=%c homing=%c next_clock=%u pin_value=%c")
	require.NoError(t, err)

	assert.Equal(t, "endstop_state", mf.Name)
	require.Len(t, mf.Params, 4)
	assert.Equal(t, ParamFormat{Name: "next_clock", Type: ParamUint}, mf.Params[2])

	mf, err = ParseMessageFormat("get_clock")
	require.NoError(t, err)
	assert.Empty(t, mf.Params)
}

func TestParseMessageFormatErrors(t *testing.T) {
	for _, format := range []string{"", "cmd oid", "cmd oid=%q", "cmd =%c"} {
		_, err := ParseMessageFormat(format)
		assert.ErrorIs(t, err, ErrFormat, "format %q", format)
	}
}

func TestMessageFormatRoundTrip(t *testing.T) {
	mf, err := ParseMessageFormat("demo oid=%c offset=%i clock=%u data=%*s")
	require.NoError(t, err)

	output := NewScratchOutput()
	require.NoError(t, mf.Encode(output, uint8(3), -250, uint32(4000000000), []byte("abc")))

	data := output.Result()
	params, err := mf.Decode(&data)
	require.NoError(t, err)
	assert.Empty(t, data)

	assert.Equal(t, int64(3), params.Int("oid"))
	assert.Equal(t, int64(-250), params.Int("offset"))
	assert.Equal(t, uint32(4000000000), params.Uint("clock"))
	assert.Equal(t, []byte("abc"), params.Bytes("data"))
	assert.Equal(t, int64(0), params.Int("missing"))
}

func TestMessageFormatEncodeErrors(t *testing.T) {
	mf, err := ParseMessageFormat("endstop_query_state oid=%c")
	require.NoError(t, err)

	assert.Error(t, mf.Encode(NewScratchOutput()))
	assert.Error(t, mf.Encode(NewScratchOutput(), 1.5))
	assert.NoError(t, mf.Encode(NewScratchOutput(), true))
}
