package metric_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/sparkplug/metric"
)

var _ = Describe("Coerce()", func() {
	It("keeps values that already have the right type", func() {
		Expect(metric.Coerce(metric.Int32, int32(4))).To(Equal(int32(4)))
		Expect(metric.Coerce(metric.String, "x")).To(Equal("x"))
	})

	It("narrows decoded numbers", func() {
		Expect(metric.Coerce(metric.Int8, float64(-3))).To(Equal(int8(-3)))
		Expect(metric.Coerce(metric.UInt16, int64(600))).To(Equal(uint16(600)))
		Expect(metric.Coerce(metric.Int64, 12)).To(Equal(int64(12)))
		Expect(metric.Coerce(metric.UInt64, uint64(1<<63))).To(Equal(uint64(1 << 63)))
		Expect(metric.Coerce(metric.Float, 1.5)).To(Equal(float32(1.5)))
		Expect(metric.Coerce(metric.Double, int64(2))).To(Equal(2.0))
	})

	It("parses times and bytes from strings", func() {
		Expect(metric.Coerce(metric.DateTime, "2022-01-02T03:04:05Z")).
			To(Equal(time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)))
		Expect(metric.Coerce(metric.DateTime, int64(1000))).To(Equal(time.UnixMilli(1000).UTC()))
		Expect(metric.Coerce(metric.Bytes, "AQI=")).To(Equal([]byte{1, 2}))
	})

	It("passes nil through", func() {
		Expect(metric.Coerce(metric.Int32, nil)).To(BeNil())
	})

	It("refuses lossy conversions", func() {
		for _, c := range []struct {
			dt metric.DataType
			v  interface{}
		}{
			{metric.Int8, 300},
			{metric.UInt8, -1},
			{metric.Int32, 1.5},
			{metric.Boolean, "true"},
			{metric.String, 5},
			{metric.UInt64, -2.0},
			{metric.Bytes, "not base64!"},
		} {
			_, err := metric.Coerce(c.dt, c.v)
			Expect(errors.Is(err, metric.ErrTypeMismatch)).To(BeTrue(), "%s %v", c.dt, c.v)
		}
	})
})
