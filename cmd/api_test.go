package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/sparkplug/application"
	"github.com/luma/sparkplug/message"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/node"
	"github.com/luma/sparkplug/protocol"
	"github.com/luma/sparkplug/storage"
	"github.com/luma/sparkplug/telemetry"
	"github.com/luma/sparkplug/transport"
)

var _ = Describe("parseMetrics", func() {
	known := []metric.Metric{
		metric.New("temp", metric.Float, float32(0)),
		metric.New("count", metric.UInt64, uint64(0)),
		metric.New("label", metric.String, ""),
	}

	It("types values after their definitions", func() {
		metrics, unknown, err := parseMetrics([]byte(`{"temp": 21.5, "count": 18446744073709551615, "label": null, "other": 1}`), known)
		Expect(err).To(Succeed())
		Expect(unknown).To(Equal([]string{"other"}))

		Expect(metrics).To(HaveLen(3))
		Expect(metrics[0].Value).To(Equal(float32(21.5)))
		Expect(metrics[1].Value).To(Equal(uint64(18446744073709551615)))
		Expect(metrics[2].IsNull).To(BeTrue())
	})

	It("rejects values that do not fit", func() {
		_, _, err := parseMetrics([]byte(`{"count": -1}`), known)
		Expect(err).To(MatchError(metric.ErrTypeMismatch))
	})

	It("rejects bodies that are not objects", func() {
		_, _, err := parseMetrics([]byte(`[1, 2]`), known)
		Expect(err).To(MatchError(ErrBadBody))

		_, _, err = parseMetrics([]byte(`{"temp":`), known)
		Expect(err).To(MatchError(ErrBadBody))
	})
})

var _ = Describe("HTTP API", func() {
	var (
		ctx    context.Context
		broker *transport.Broker
		router *gin.Engine
	)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	BeforeEach(func() {
		ctx = context.Background()
		broker = transport.NewBroker()
		router = setupRouter(false, zap.NewNop(), telemetry.New())
	})

	It("answers pings and serves metrics", func() {
		Expect(do(http.MethodGet, "/ping", "").Body.String()).To(Equal("pong"))

		w := do(http.MethodGet, "/metrics", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring("sparkplug_sessions_started_total"))
	})

	Describe("node", func() {
		var n *node.Node

		BeforeEach(func() {
			var err error
			n, err = node.New(node.Options{
				GroupID:      "g1",
				EdgeNodeID:   "n1",
				KnownMetrics: []metric.Metric{metric.New("temp", metric.Float, float32(0))},
				Transport:    broker.NewClient("edge"),
				Store:        storage.NewInmemoryStore(),
			})
			Expect(err).To(Succeed())
			Expect(n.AddDevice(ctx, "d1", []metric.Metric{metric.New("rpm", metric.Int32, int32(0))})).To(Succeed())

			registerNodeAPI(router, n)
		})

		AfterEach(func() {
			Expect(n.Disconnect(ctx)).To(Succeed())
			Expect(n.Store().Close()).To(Succeed())
		})

		It("reports that it is not connected", func() {
			w := do(http.MethodPost, "/publish", `{"temp": 1}`)
			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))

			w = do(http.MethodGet, "/status", "")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gjson.Get(w.Body.String(), "connected").Bool()).To(BeFalse())
			Expect(gjson.Get(w.Body.String(), "sessionNumber").Int()).To(Equal(int64(-1)))
		})

		Context("when connected", func() {
			BeforeEach(func() {
				Expect(n.Connect(ctx)).To(Succeed())
			})

			It("publishes node metrics", func() {
				w := do(http.MethodPost, "/publish", `{"temp": 21.5, "nope": 2}`)
				Expect(w.Code).To(Equal(http.StatusOK))
				Expect(gjson.Get(w.Body.String(), "seq").Int()).To(Equal(int64(2)))
				Expect(gjson.Get(w.Body.String(), "dropped.0").String()).To(Equal("nope"))

				w = do(http.MethodGet, "/store/values/g1/n1", "")
				Expect(w.Code).To(Equal(http.StatusOK))
				Expect(gjson.Get(w.Body.String(), "temp").Float()).To(Equal(21.5))
			})

			It("publishes device metrics", func() {
				w := do(http.MethodPost, "/devices/d1/publish", `{"rpm": 1200}`)
				Expect(w.Code).To(Equal(http.StatusOK))

				w = do(http.MethodPost, "/devices/d2/publish", `{"rpm": 1200}`)
				Expect(w.Code).To(Equal(http.StatusNotFound))
			})

			It("rejects bad bodies", func() {
				Expect(do(http.MethodPost, "/publish", `{"temp": "hot"}`).Code).To(Equal(http.StatusBadRequest))
				Expect(do(http.MethodPost, "/publish", `nope`).Code).To(Equal(http.StatusBadRequest))
			})

			It("rebirths", func() {
				Expect(do(http.MethodPost, "/rebirth", "").Code).To(Equal(http.StatusNoContent))

				births := 0
				for _, p := range broker.Published() {
					if strings.Contains(p.Topic, "/NBIRTH/") {
						births++
					}
				}
				Expect(births).To(Equal(2))
			})

			It("backs up and restores the store", func() {
				Expect(do(http.MethodPost, "/publish", `{"temp": 3}`).Code).To(Equal(http.StatusOK))

				w := do(http.MethodGet, "/store", "")
				Expect(w.Code).To(Equal(http.StatusOK))
				backup := w.Body.String()

				Expect(do(http.MethodPut, "/store", `{"g1/n1": 5}`).Code).To(Equal(http.StatusBadRequest))
				Expect(do(http.MethodPut, "/store", backup).Code).To(Equal(http.StatusNoContent))
			})
		})
	})

	Describe("host", func() {
		var (
			app   *application.Application
			store storage.Store
			n     *node.Node
		)

		BeforeEach(func() {
			store = storage.NewInmemoryStore()

			var err error
			app, err = application.New(application.Options{
				HostID:    "h1",
				Transport: broker.NewClient("host"),
				Store:     store,
			})
			Expect(err).To(Succeed())
			Expect(app.Connect(ctx)).To(Succeed())

			n, err = node.New(node.Options{
				GroupID:      "g1",
				EdgeNodeID:   "n1",
				KnownMetrics: []metric.Metric{metric.New("temp", metric.Float, float32(4))},
				Transport:    broker.NewClient("edge"),
			})
			Expect(err).To(Succeed())
			Expect(n.Connect(ctx)).To(Succeed())

			Eventually(func() bool {
				s, ok := app.Node(message.Identity{GroupID: "g1", EdgeNodeID: "n1"})
				return ok && s.Online
			}).Should(BeTrue())

			registerHostAPI(router, app)
		})

		AfterEach(func() {
			Expect(n.Disconnect(ctx)).To(Succeed())
			Expect(app.Disconnect(ctx)).To(Succeed())
			Expect(store.Close()).To(Succeed())
		})

		commands := func() []transport.Published {
			out := []transport.Published{}
			for _, p := range broker.Published() {
				if p.ClientID == "host" && strings.Contains(p.Topic, "CMD") {
					out = append(out, p)
				}
			}
			return out
		}

		It("lists the nodes it follows", func() {
			w := do(http.MethodGet, "/nodes", "")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gjson.Get(w.Body.String(), "#").Int()).To(Equal(int64(1)))
			Expect(gjson.Get(w.Body.String(), "0.Online").Bool()).To(BeTrue())

			Expect(do(http.MethodGet, "/nodes/g1/n1", "").Code).To(Equal(http.StatusOK))
			Expect(do(http.MethodGet, "/nodes/g1/n2", "").Code).To(Equal(http.StatusNotFound))
		})

		It("serves the values it received", func() {
			w := do(http.MethodGet, "/store/values/g1/n1", "")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gjson.Get(w.Body.String(), "temp").Float()).To(Equal(4.0))
		})

		It("sends commands typed after the known values", func() {
			Expect(do(http.MethodPost, "/nodes/g1/n1/command", `{"temp": 7}`).Code).To(Equal(http.StatusAccepted))
			Expect(do(http.MethodPost, "/nodes/g1/n1/command", `{"pressure": 7}`).Code).To(Equal(http.StatusBadRequest))
			Expect(do(http.MethodPost, "/nodes/g1/n1/rebirth", "").Code).To(Equal(http.StatusAccepted))

			cmds := commands()
			Expect(cmds).To(HaveLen(2))
			Expect(cmds[0].Topic).To(Equal(protocol.NodeCommandFilter(protocol.NamespaceB, "g1", "n1")))

			Eventually(func() int {
				births := 0
				for _, p := range broker.Published() {
					if strings.HasSuffix(p.Topic, "/NBIRTH/n1") {
						births++
					}
				}
				return births
			}, time.Second).Should(Equal(2))
		})
	})
})
