package memdx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGetFooPacket() []byte {
	return []byte{
		0x80, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		'f', 'o', 'o',
	}
}

func testSetPacketBytes(t *testing.T) []byte {
	pak := &Packet{
		Magic:           MagicReq,
		OpCode:          OpCodeSet,
		Datatype:        uint8(DatatypeFlagJSON),
		VbucketOrStatus: 12,
		Opaque:          0xdeadbeef,
		Cas:             0x0102030405060708,
	}
	require.NoError(t, pak.SetBody(
		StoreExtras{Flags: 0xabcd, Expiry: 300}.Encode(),
		[]byte("hello"),
		[]byte(`{"world":true}`)))

	data, err := Encode(pak)
	require.NoError(t, err)
	return data
}

func TestDecodeGetRequest(t *testing.T) {
	data := testGetFooPacket()
	var buf Buffer
	buf.Write(data)

	pak, n, err := Decode(&buf)
	require.NoError(t, err)
	require.NotNil(t, pak)

	assert.Equal(t, len(data), n)
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, MagicReq, pak.Magic)
	assert.Equal(t, OpCodeGet, pak.OpCode)
	assert.Equal(t, uint16(3), pak.KeyLength)
	assert.Equal(t, uint8(0), pak.ExtrasLength)
	assert.Equal(t, uint32(3), pak.TotalBodyLength)
	assert.Equal(t, []byte("foo"), pak.Key)
	assert.Empty(t, pak.Extras)
	assert.Empty(t, pak.Value)

	encoded, err := Encode(pak)
	require.NoError(t, err)
	assert.Equal(t, data, encoded)
}

func TestDecodeGetResponse(t *testing.T) {
	data := testGetFooPacket()
	data[0] = 0x81

	pak, n, err := DecodePacket(data)
	require.NoError(t, err)
	require.NotNil(t, pak)
	assert.Equal(t, len(data), n)
	assert.Equal(t, MagicRes, pak.Magic)
	assert.Equal(t, StatusSuccess, pak.Status())

	encoded, err := Encode(pak)
	require.NoError(t, err)
	assert.Equal(t, data, encoded)
}

func TestDecodeShortHeader(t *testing.T) {
	data := testGetFooPacket()[:10]
	var buf Buffer
	buf.Write(data)

	pak, n, err := Decode(&buf)
	assert.NoError(t, err)
	assert.Nil(t, pak)
	assert.Equal(t, 0, n)
	assert.Equal(t, data, buf.Bytes())
}

func TestDecodeLengthUnderflow(t *testing.T) {
	data := make([]byte, HeaderLen+5)
	data[0] = byte(MagicReq)
	data[1] = byte(OpCodeSet)
	data[3] = 4  // key length
	data[4] = 4  // extras length
	data[11] = 5 // total body length

	var buf Buffer
	buf.Write(data)

	pak, _, err := Decode(&buf)
	require.Error(t, err)
	assert.Nil(t, pak)
	assert.ErrorIs(t, err, ErrFraming)

	var framingErr *FramingError
	require.ErrorAs(t, err, &framingErr)
	assert.Equal(t, "total_body_length", framingErr.Field)
	assert.Equal(t, uint64(5), framingErr.Value)
	assert.Equal(t, len(data), buf.Len())
}

func TestDecodeInvalidMagic(t *testing.T) {
	data := testGetFooPacket()
	data[0] = 0x42

	_, _, err := DecodePacket(data)
	var framingErr *FramingError
	require.ErrorAs(t, err, &framingErr)
	assert.Equal(t, "magic", framingErr.Field)
	assert.Equal(t, uint64(0x42), framingErr.Value)
	assert.True(t, IsFramingError(err))
}

func TestDecodeInvalidOpCode(t *testing.T) {
	for _, op := range []byte{0x1f, 0x23, 0x2f, 0x48, 0x89, 0xff} {
		data := testGetFooPacket()
		data[1] = op

		_, _, err := DecodePacket(data)
		var framingErr *FramingError
		require.ErrorAs(t, err, &framingErr, "opcode 0x%02x", op)
		assert.Equal(t, "opcode", framingErr.Field)
		assert.Equal(t, uint64(op), framingErr.Value)
	}
}

func TestDecodeStreamingEquivalence(t *testing.T) {
	data := testSetPacketBytes(t)

	whole, _, err := DecodePacket(data)
	require.NoError(t, err)
	require.NotNil(t, whole)

	var buf Buffer
	for i := 0; i < len(data)-1; i++ {
		buf.Write(data[i : i+1])

		before := append([]byte(nil), buf.Bytes()...)
		pak, n, err := Decode(&buf)
		require.NoError(t, err)
		require.Nil(t, pak, "prefix of %d bytes", i+1)
		assert.Equal(t, 0, n)
		assert.Equal(t, before, buf.Bytes())

		// calling again with nothing new must be a no-op
		pak, _, err = Decode(&buf)
		require.NoError(t, err)
		require.Nil(t, pak)
		assert.Equal(t, before, buf.Bytes())
	}

	buf.Write(data[len(data)-1:])
	pak, n, err := Decode(&buf)
	require.NoError(t, err)
	require.NotNil(t, pak)
	assert.Equal(t, len(data), n)
	assert.Equal(t, whole, pak)
}

func TestDecodeMultiplePacketsInOneBuffer(t *testing.T) {
	first := testGetFooPacket()
	second := testSetPacketBytes(t)

	var buf Buffer
	buf.Write(first)
	buf.Write(second)
	buf.Write(second[:7])

	pak, n, err := Decode(&buf)
	require.NoError(t, err)
	require.NotNil(t, pak)
	assert.Equal(t, len(first), n)
	assert.Equal(t, OpCodeGet, pak.OpCode)

	pak, n, err = Decode(&buf)
	require.NoError(t, err)
	require.NotNil(t, pak)
	assert.Equal(t, len(second), n)
	assert.Equal(t, OpCodeSet, pak.OpCode)
	assert.Equal(t, []byte("hello"), pak.Key)
	assert.Equal(t, []byte(`{"world":true}`), pak.Value)

	extras, err := DecodeStoreExtras(pak.Extras)
	require.NoError(t, err)
	assert.Equal(t, StoreExtras{Flags: 0xabcd, Expiry: 300}, extras)

	pak, _, err = Decode(&buf)
	require.NoError(t, err)
	assert.Nil(t, pak)
	assert.Equal(t, 7, buf.Len())
}

func TestDecodeSegmentsAreStable(t *testing.T) {
	data := testSetPacketBytes(t)

	var buf Buffer
	buf.Write(data)
	pak, _, err := Decode(&buf)
	require.NoError(t, err)

	keyBefore := append([]byte(nil), pak.Key...)
	valueBefore := append([]byte(nil), pak.Value...)

	// refilling the buffer must not disturb segments already handed out
	for i := 0; i < 64; i++ {
		buf.Write(bytes.Repeat([]byte{0xff}, 1024))
	}
	assert.Equal(t, keyBefore, pak.Key)
	assert.Equal(t, valueBefore, pak.Value)

	// segments have clipped capacity so appending cannot spill over
	assert.Equal(t, len(pak.Key), cap(pak.Key))
	assert.Equal(t, len(pak.Extras), cap(pak.Extras))
	_ = append(pak.Key, 'x')
	assert.Equal(t, valueBefore, pak.Value)
}

func TestDecodeDoesNotCopySegments(t *testing.T) {
	data := testSetPacketBytes(t)

	pak, _, err := DecodePacket(data)
	require.NoError(t, err)

	keyOffset := HeaderLen + int(pak.ExtrasLength)
	assert.Same(t, &data[keyOffset], &pak.Key[0])
	assert.Same(t, &data[HeaderLen], &pak.Extras[0])
}

func TestRoundTrip(t *testing.T) {
	testCases := []struct {
		name   string
		magic  Magic
		opCode OpCode
		extras []byte
		key    []byte
		value  []byte
	}{
		{"noop", MagicReq, OpCodeNoop, nil, nil, nil},
		{"get", MagicReq, OpCodeGet, nil, []byte("key"), nil},
		{"set", MagicReq, OpCodeSet, StoreExtras{Flags: 1, Expiry: 2}.Encode(), []byte("key"), []byte("value")},
		{"incr", MagicReq, OpCodeIncrement, CounterExtras{Delta: 1, Initial: 10}.Encode(), []byte("ctr"), nil},
		{"get response", MagicRes, OpCodeGet, []byte{0, 0, 0, 1}, nil, []byte("value")},
		{"value only", MagicRes, OpCodeVersion, nil, nil, []byte("1.6.21")},
		{"tap", MagicReq, OpCodeTapCheckpointEnd, []byte{1}, []byte("k"), bytes.Repeat([]byte("v"), 70000)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pak := &Packet{
				Magic:  tc.magic,
				OpCode: tc.opCode,
				Opaque: 99,
				Cas:    7,
			}
			require.NoError(t, pak.SetBody(tc.extras, tc.key, tc.value))

			data, err := Encode(pak)
			require.NoError(t, err)
			assert.Len(t, data, HeaderLen+int(pak.TotalBodyLength))

			decoded, n, err := DecodePacket(data)
			require.NoError(t, err)
			require.NotNil(t, decoded)
			assert.Equal(t, len(data), n)
			assert.Equal(t, uint32(len(tc.value)), decoded.ValueLength())

			reencoded, err := Encode(decoded)
			require.NoError(t, err)
			assert.Equal(t, data, reencoded)
		})
	}
}

func TestEncodeInconsistentHeader(t *testing.T) {
	pak := &Packet{
		Magic:     MagicReq,
		OpCode:    OpCodeGet,
		KeyLength: 4,
		Key:       []byte("foo"),
	}

	_, err := Encode(pak)
	var framingErr *FramingError
	require.ErrorAs(t, err, &framingErr)
	assert.Equal(t, "key_length", framingErr.Field)

	pak = &Packet{
		Magic:           MagicRes,
		OpCode:          OpCodeGet,
		TotalBodyLength: 10,
		Value:           []byte("short"),
	}
	_, err = Encode(pak)
	require.ErrorAs(t, err, &framingErr)
	assert.Equal(t, "total_body_length", framingErr.Field)
}

func TestAppendPacketKeepsPrefix(t *testing.T) {
	pak, _, err := DecodePacket(testGetFooPacket())
	require.NoError(t, err)

	out, err := AppendPacket([]byte("prefix"), pak)
	require.NoError(t, err)
	assert.Equal(t, append([]byte("prefix"), testGetFooPacket()...), out)
}

func TestValueLengthNeverUnderflows(t *testing.T) {
	pak := &Packet{ExtrasLength: 4, KeyLength: 4, TotalBodyLength: 5}
	assert.Equal(t, uint32(0), pak.ValueLength())
}

func TestSetBodyRejectsOversizedSegments(t *testing.T) {
	pak := &Packet{Magic: MagicReq, OpCode: OpCodeSet}

	err := pak.SetBody(make([]byte, 256), nil, nil)
	assert.ErrorIs(t, err, ErrFraming)

	err = pak.SetBody(nil, make([]byte, 70000), nil)
	assert.ErrorIs(t, err, ErrFraming)
}

func TestBufferFillGrows(t *testing.T) {
	var buf Buffer
	src := bytes.NewReader(bytes.Repeat([]byte{1}, 100))

	n, err := buf.Fill(src, 10)
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), n)
	assert.GreaterOrEqual(t, n, 10)
}
