package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/luma/sparkplug/application"
	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/message"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/node"
	"github.com/luma/sparkplug/storage"
)

var (
	ErrBadBody       = errors.New("body must be a JSON object of metric name to value")
	ErrUnknownMetric = errors.New("unknown metric")
)

// parseMetrics reads a JSON object of metric name to value, typing every
// value after its definition in known. Names without a definition are
// returned separately.
func parseMetrics(body []byte, known []metric.Metric) ([]metric.Metric, []string, error) {
	if !gjson.ValidBytes(body) {
		return nil, nil, ErrBadBody
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, nil, ErrBadBody
	}

	defs := make(map[string]metric.Metric, len(known))
	for _, m := range known {
		defs[m.Name] = m
	}

	var (
		metrics []metric.Metric
		unknown []string
		err     error
	)

	root.ForEach(func(key, value gjson.Result) bool {
		def, ok := defs[key.String()]
		if !ok {
			unknown = append(unknown, key.String())
			return true
		}

		var v interface{}
		if value.Type != gjson.Null {
			v, err = metric.Coerce(def.DataType, storage.JSONValue(def.DataType, value))
			if err != nil {
				err = fmt.Errorf("'%s': %w", key.String(), err)
				return false
			}
		}

		metrics = append(metrics, metric.New(def.Name, def.DataType, v))
		return true
	})

	if err != nil {
		return nil, nil, err
	}

	sort.Strings(unknown)
	return metrics, unknown, nil
}

func readMetrics(c *gin.Context, known []metric.Metric) ([]metric.Metric, []string, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return nil, nil, false
	}

	metrics, unknown, err := parseMetrics(body, known)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return nil, nil, false
	}

	return metrics, unknown, true
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// statusOf maps engine errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, node.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrTransport):
		return http.StatusServiceUnavailable
	case errors.Is(err, pkgerrors.ErrConfiguration), errors.Is(err, metric.ErrTypeMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func registerNodeAPI(r gin.IRouter, n *node.Node) {
	r.GET("/status", func(c *gin.Context) {
		s := n.Snapshot()

		c.JSON(http.StatusOK, gin.H{
			"node":          n.Identity().String(),
			"namespace":     s.Namespace.String(),
			"phase":         s.Phase.String(),
			"connected":     s.IsConnected(),
			"running":       s.Running,
			"sessionNumber": s.SessionNumber,
			"sequence":      s.SequenceNumber,
			"devices":       n.Devices(),
		})
	})

	r.POST("/publish", func(c *gin.Context) {
		metrics, unknown, ok := readMetrics(c, n.KnownMetrics())
		if !ok {
			return
		}

		seq, err := n.PublishMetrics(c.Request.Context(), metrics)
		if err != nil {
			abort(c, statusOf(err), err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"seq": seq, "dropped": unknown})
	})

	r.POST("/rebirth", func(c *gin.Context) {
		if err := n.Rebirth(c.Request.Context()); err != nil {
			abort(c, statusOf(err), err)
			return
		}

		c.Status(http.StatusNoContent)
	})

	r.POST("/devices/:id/publish", func(c *gin.Context) {
		id := c.Param("id")

		known, err := n.DeviceKnownMetrics(id)
		if err != nil {
			abort(c, statusOf(err), err)
			return
		}

		metrics, unknown, ok := readMetrics(c, known)
		if !ok {
			return
		}

		seq, err := n.PublishDeviceMetrics(c.Request.Context(), id, metrics)
		if err != nil {
			abort(c, statusOf(err), err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"seq": seq, "dropped": unknown})
	})

	registerStoreAPI(r, n.Store())
}

func registerHostAPI(r gin.IRouter, a *application.Application) {
	r.GET("/nodes", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.Nodes())
	})

	target := func(c *gin.Context) message.Identity {
		return message.Identity{
			GroupID:    c.Param("group"),
			EdgeNodeID: c.Param("node"),
			DeviceID:   c.Query("device"),
		}
	}

	r.GET("/nodes/:group/:node", func(c *gin.Context) {
		status, ok := a.Node(target(c))
		if !ok {
			abort(c, http.StatusNotFound, fmt.Errorf("node '%s' not seen", target(c).Node()))
			return
		}

		c.JSON(http.StatusOK, status)
	})

	r.POST("/nodes/:group/:node/rebirth", func(c *gin.Context) {
		if err := a.RequestRebirth(c.Request.Context(), target(c)); err != nil {
			abort(c, statusOf(err), err)
			return
		}

		c.Status(http.StatusAccepted)
	})

	// Commands are typed after the last values seen from the target, so
	// only metrics the node reported can be written.
	r.POST("/nodes/:group/:node/command", func(c *gin.Context) {
		id := target(c)
		if a.Store() == nil {
			abort(c, http.StatusServiceUnavailable, errors.New("no value store"))
			return
		}

		known, err := a.Store().Values(c.Request.Context(), storage.Scope(scopeOf(id)...))
		if err != nil {
			abort(c, statusOf(err), err)
			return
		}

		metrics, unknown, ok := readMetrics(c, known)
		if !ok {
			return
		}

		if len(unknown) > 0 {
			abort(c, http.StatusBadRequest, fmt.Errorf("%v: %w", unknown, ErrUnknownMetric))
			return
		}

		if id.IsDevice() {
			err = a.PublishDeviceCommand(c.Request.Context(), id, metrics)
		} else {
			err = a.PublishNodeCommand(c.Request.Context(), id, metrics)
		}

		if err != nil {
			abort(c, statusOf(err), err)
			return
		}

		c.Status(http.StatusAccepted)
	})

	registerStoreAPI(r, a.Store())
}

func scopeOf(id message.Identity) []string {
	if id.IsDevice() {
		return []string{id.GroupID, id.EdgeNodeID, id.DeviceID}
	}

	return []string{id.GroupID, id.EdgeNodeID}
}

// registerStoreAPI serves the last value store: a JSON backup, a restore
// and the values of one scope.
func registerStoreAPI(r gin.IRouter, store storage.Store) {
	if store == nil {
		return
	}

	r.GET("/store", func(c *gin.Context) {
		backup, err := store.Backup(c.Request.Context())
		if err != nil {
			abort(c, statusOf(err), err)
			return
		}

		c.Data(http.StatusOK, "application/json", backup)
	})

	r.PUT("/store", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}

		if err = store.Restore(c.Request.Context(), body); err != nil {
			status := statusOf(err)
			if errors.Is(err, storage.ErrCorrupt) {
				status = http.StatusBadRequest
			}
			abort(c, status, err)
			return
		}

		c.Status(http.StatusNoContent)
	})

	r.GET("/store/values/*scope", func(c *gin.Context) {
		scope := c.Param("scope")
		if len(scope) > 0 && scope[0] == '/' {
			scope = scope[1:]
		}

		values, err := store.Values(c.Request.Context(), scope)
		if err != nil {
			status := statusOf(err)
			if errors.Is(err, storage.ErrInvalidScope) {
				status = http.StatusBadRequest
			}
			abort(c, status, err)
			return
		}

		out := make(gin.H, len(values))
		for _, m := range values {
			out[m.Name] = m.Value
		}

		c.JSON(http.StatusOK, out)
	})
}
