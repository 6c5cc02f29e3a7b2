package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// encodeDeal builds the wire bytes for one Deal sub-message.
func encodeDeal(d Deal) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, d.Price)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, d.Quantity)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(d.TradeType)))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.TimeMS))
	return b
}

// encodeWrapper builds the wire bytes for a Wrapper carrying the given deals
// inside field 314, plus channel/symbol/createTime/sendTime.
func encodeWrapper(w Wrapper) []byte {
	var b []byte
	if w.Channel != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, w.Channel)
	}
	if w.Symbol != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, w.Symbol)
	}
	if w.CreateTime != 0 {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(w.CreateTime))
	}
	if w.SendTime != 0 {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(w.SendTime))
	}
	if len(w.Deals) > 0 {
		var deals []byte
		for _, d := range w.Deals {
			deals = protowire.AppendTag(deals, 1, protowire.BytesType)
			deals = protowire.AppendBytes(deals, encodeDeal(d))
		}
		b = protowire.AppendTag(b, 314, protowire.BytesType)
		b = protowire.AppendBytes(b, deals)
	}
	return b
}

func TestDecode_RoundTrip(t *testing.T) {
	want := Wrapper{
		Channel:    "spot.deals",
		Symbol:     "BTCUSDT",
		CreateTime: 1700000000000,
		SendTime:   1700000000001,
		Deals: []Deal{
			{Price: "0.5", Quantity: "10", TradeType: 1, TimeMS: 1700000000000},
		},
	}

	got := Decode(encodeWrapper(want))

	assert.Equal(t, want.Channel, got.Channel)
	assert.Equal(t, want.Symbol, got.Symbol)
	assert.Equal(t, want.CreateTime, got.CreateTime)
	assert.Equal(t, want.SendTime, got.SendTime)
	require.Len(t, got.Deals, 1)
	assert.Equal(t, want.Deals[0], got.Deals[0])
}

func TestDecodeFirstDeal_ReturnsFirstOfMany(t *testing.T) {
	w := Wrapper{
		Deals: []Deal{
			{Price: "0.5", Quantity: "10", TradeType: 1, TimeMS: 1700000000000},
			{Price: "0.6", Quantity: "20", TradeType: 1, TimeMS: 1700000000500},
		},
	}

	got := DecodeFirstDeal(encodeWrapper(w))

	require.NotNil(t, got)
	assert.Equal(t, w.Deals[0], *got)
}

func TestDecodeFirstDeal_NoDeals(t *testing.T) {
	w := Wrapper{Channel: "ticker", Symbol: "ETHUSDT"}
	got := DecodeFirstDeal(encodeWrapper(w))
	assert.Nil(t, got)
}

func TestDecodeFirstDeal_NegativeTime(t *testing.T) {
	// Ten-byte varint two's complement encoding of a negative int64 must
	// round trip through int64(uint64(v)) unchanged.
	w := Wrapper{Deals: []Deal{{Price: "1.0", Quantity: "1", TimeMS: -1}}}
	got := DecodeFirstDeal(encodeWrapper(w))
	require.NotNil(t, got)
	assert.Equal(t, int64(-1), got.TimeMS)
}

func TestDecode_TrailingUnknownFieldsSkippedByLength(t *testing.T) {
	w := Wrapper{Deals: []Deal{{Price: "0.5", Quantity: "10", TimeMS: 1700000000000}}}
	b := encodeWrapper(w)

	// Append an unrelated length-delimited sub-message at field 302, and a
	// fixed32 field at 400, that this decoder does not model.
	b = protowire.AppendTag(b, 302, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{0x01, 0x02, 0x03})
	b = protowire.AppendTag(b, 400, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 42)

	got := Decode(b)
	require.Len(t, got.Deals, 1)
	assert.Equal(t, "0.5", got.Deals[0].Price)
}

func TestDecode_MalformedInputReturnsPartialGracefully(t *testing.T) {
	// A varint tag (field 1) followed by a truncated varint value (0x80 has
	// the continuation bit set and nothing follows) must not panic and must
	// return whatever was already parsed.
	b := []byte{0x08, 0x80}
	got := Decode(b)
	assert.NotNil(t, got)
	assert.Empty(t, got.Deals)
}

func TestDecodeFirstDeal_EmptyInput(t *testing.T) {
	assert.Nil(t, DecodeFirstDeal(nil))
	assert.Nil(t, DecodeFirstDeal([]byte{}))
}
