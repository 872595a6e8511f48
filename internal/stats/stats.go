package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

// Metric names registered by the chat server.
const (
	ActiveConnections   = "ActiveConnections"
	ActiveRooms         = "ActiveRooms"
	MessagesSent        = "MessagesSent"
	NotificationsPushed = "NotificationsPushed"
)

type Provider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type Updater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
}

type metricsUpdateReq struct {
	name  string
	value int
}

func (su *Updater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewUpdater creates a new stats updater instance.
func NewUpdater(mux *http.ServeMux) *Updater {
	su := &Updater{
		updateChan: make(chan *metricsUpdateReq, 512),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.vars = expvar.NewMap("chatwire-stats")
	su.initializeMetrics()

	return su
}

func (su *Updater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (su *Updater) updateMetrics() {
	for req := range su.updateChan {
		metric := su.vars.Get(req.name)
		if metric == nil {
			panic("metric not found: " + req.name)
		}

		metric.(*expvar.Int).Add(int64(req.value))
	}
}

func (su *Updater) Incr(name string) {
	su.updateChan <- &metricsUpdateReq{name: name, value: 1}
}

func (su *Updater) Decr(name string) {
	su.updateChan <- &metricsUpdateReq{name: name, value: -1}
}

func (su *Updater) RegisterMetric(name string) {
	su.vars.Set(name, expvar.NewInt(name))
}

func (su *Updater) Run() {
	go su.updateMetrics()
}

func (su *Updater) Stop() {
	close(su.updateChan)
}
