// Package codec decodes the length-delimited, tag/wire-type binary format
// used by one venue's compressed spot-deals stream. The format is
// equivalent to protobuf wire format, so decoding is built on
// google.golang.org/protobuf/encoding/protowire rather than a from-scratch
// byte reader.
package codec

import "google.golang.org/protobuf/encoding/protowire"

// Deal is a single trade entry from a publicAggreDeals sub-message.
type Deal struct {
	Price     string
	Quantity  string
	TradeType int32
	TimeMS    int64
}

// Wrapper is the top-level message. Only the fields this adapter needs are
// modeled; the 301..315 range of optional sub-messages other than 314 are
// skipped by length, not stored.
type Wrapper struct {
	Channel    string
	Symbol     string
	CreateTime int64
	SendTime   int64
	Deals      []Deal
}

const fieldPublicAggreDeals protowire.Number = 314

// Decode parses as much of the wrapper message as it can. Malformed or
// truncated input stops decoding at the point of failure and returns
// whatever fields were already parsed; it never returns an error or panics.
func Decode(data []byte) *Wrapper {
	w := &Wrapper{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return w
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return w
			}
			b = b[n:]
			switch num {
			case 5:
				w.CreateTime = int64(v)
			case 6:
				w.SendTime = int64(v)
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return w
			}
			b = b[n:]
			switch num {
			case 1:
				w.Channel = string(v)
			case 3:
				w.Symbol = string(v)
			case fieldPublicAggreDeals:
				w.Deals = append(w.Deals, decodeDeals(v)...)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return w
			}
			b = b[n:]
		}
	}
	return w
}

// DecodeFirstDeal returns the first deal found in the payload, or nil if
// there are none or the payload could not be parsed at all.
func DecodeFirstDeal(data []byte) (deal *Deal) {
	defer func() {
		if recover() != nil {
			deal = nil
		}
	}()

	w := Decode(data)
	if len(w.Deals) == 0 {
		return nil
	}
	d := w.Deals[0]
	return &d
}

// decodeDeals parses the repeated Deal entries packed into field 314's
// payload: each entry is a length-delimited sub-message at field number 1.
func decodeDeals(data []byte) []Deal {
	var deals []Deal
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return deals
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return deals
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return deals
		}
		b = b[n:]

		if num != 1 {
			continue
		}
		if d, ok := decodeDeal(v); ok {
			deals = append(deals, d)
		}
	}
	return deals
}

func decodeDeal(data []byte) (Deal, bool) {
	var d Deal
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return d, true
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return d, true
			}
			b = b[n:]
			switch num {
			case 3:
				d.TradeType = int32(v)
			case 4:
				d.TimeMS = int64(v)
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return d, true
			}
			b = b[n:]
			switch num {
			case 1:
				d.Price = string(v)
			case 2:
				d.Quantity = string(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return d, true
			}
			b = b[n:]
		}
	}
	return d, true
}
