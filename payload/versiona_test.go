package payload_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/payload"
)

var _ = Describe("VersionA", func() {
	var codec payload.VersionA

	ts := time.UnixMilli(1600000000000).UTC()

	It("round trips the supported types", func() {
		metrics := []metric.Metric{
			metric.New("d", metric.Double, -1.25),
			metric.New("f", metric.Float, float32(3.5)),
			metric.New("l", metric.Int64, int64(-9000000000)),
			metric.New("i", metric.Int32, int32(-12)),
			metric.New("b", metric.Boolean, true),
			metric.New("s", metric.String, "text"),
			metric.New("raw", metric.Bytes, []byte{9, 8}),
		}
		for i := range metrics {
			metrics[i].Timestamp = ts
		}

		data, err := codec.Encode(&payload.Payload{Timestamp: ts, Body: []byte("body"), Metrics: metrics})
		Expect(err).To(Succeed())

		d, err := codec.Decode(data)
		Expect(err).To(Succeed())
		Expect(d.Err()).To(Succeed())
		Expect(d.Timestamp).To(Equal(ts))
		Expect(d.Body).To(Equal([]byte("body")))
		Expect(d.Seq).To(BeNil())
		Expect(d.Metrics()).To(Equal(metrics))
	})

	It("carries the sequence as a metric", func() {
		seq := uint64(3)
		data, err := codec.Encode(&payload.Payload{
			Seq:     &seq,
			Metrics: []metric.Metric{metric.New("a", metric.Int32, int32(1))},
		})
		Expect(err).To(Succeed())

		d, err := codec.Decode(data)
		Expect(err).To(Succeed())
		Expect(*d.Seq).To(Equal(uint64(3)))
		Expect(d.Conversions).To(HaveLen(1))
		Expect(d.Conversions[0].Index).To(Equal(0))
		Expect(d.Conversions[0].Name).To(Equal("a"))
	})

	It("round trips null metrics", func() {
		data, err := codec.Encode(&payload.Payload{
			Metrics: []metric.Metric{metric.New("n", metric.String, nil)},
		})
		Expect(err).To(Succeed())

		d, err := codec.Decode(data)
		Expect(err).To(Succeed())
		Expect(d.Metrics()[0].IsNull).To(BeTrue())
		Expect(d.Metrics()[0].DataType).To(Equal(metric.String))
	})

	It("refuses types the legacy format cannot carry", func() {
		_, err := codec.Encode(&payload.Payload{
			Metrics: []metric.Metric{metric.New("u", metric.UInt16, uint16(1))},
		})
		Expect(errors.Is(err, payload.ErrUnsupportedType)).To(BeTrue())
	})

	It("fails a value in the wrong field without failing the rest", func() {
		bad := protowire.AppendTag(nil, 1, protowire.BytesType)
		bad = protowire.AppendString(bad, "flag")
		bad = protowire.AppendTag(bad, 2, protowire.VarintType)
		bad = protowire.AppendVarint(bad, 4) // BOOL
		bad = protowire.AppendTag(bad, 8, protowire.BytesType)
		bad = protowire.AppendString(bad, "yes")

		good := protowire.AppendTag(nil, 1, protowire.BytesType)
		good = protowire.AppendString(good, "count")
		good = protowire.AppendTag(good, 2, protowire.VarintType)
		good = protowire.AppendVarint(good, 3) // INT32
		good = protowire.AppendTag(good, 6, protowire.VarintType)
		good = protowire.AppendVarint(good, 5)

		var data []byte
		for _, m := range [][]byte{bad, good} {
			data = protowire.AppendTag(data, 5000, protowire.BytesType)
			data = protowire.AppendBytes(data, m)
		}

		d, err := codec.Decode(data)
		Expect(err).To(Succeed())
		Expect(d.Conversions).To(HaveLen(2))
		Expect(errors.Is(d.Conversions[0].Err, metric.ErrTypeMismatch)).To(BeTrue())
		Expect(d.Metrics()).To(Equal([]metric.Metric{metric.New("count", metric.Int32, int32(5))}))
	})

	It("reports truncated input as malformed", func() {
		data := protowire.AppendTag(nil, 5000, protowire.BytesType)
		data = protowire.AppendVarint(data, 50)

		_, err := codec.Decode(data)
		Expect(errors.Is(err, payload.ErrMalformed)).To(BeTrue())
	})
})
