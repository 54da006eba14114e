package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

const (
	NumActiveRooms       = "NumActiveRooms"
	NumActiveClients     = "NumActiveClients"
	NumAssistantTurns    = "NumAssistantTurns"
	NumAssistantFailures = "NumAssistantFailures"
	TotalCostCents       = "TotalCostCents"
)

const publishedName = "symposium-stats"

// Metrics lists every counter the application registers.
var Metrics = []string{
	NumActiveRooms,
	NumActiveClients,
	NumAssistantTurns,
	NumAssistantFailures,
	TotalCostCents,
}

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	Add(name string, value int)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
}

type metricsUpdateReq struct {
	name  string
	value int
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater creates a new stats updater instance and serves its
// counters on the given mux.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := newStatsUpdater(new(expvar.Map).Init())
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	if expvar.Get(publishedName) == nil {
		expvar.Publish(publishedName, su.vars)
	}

	return su
}

func newStatsUpdater(vars *expvar.Map) *StatsUpdater {
	su := &StatsUpdater{
		vars:       vars,
		updateChan: make(chan *metricsUpdateReq, 512),
	}
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (su *StatsUpdater) updateMetrics() {
	for req := range su.updateChan {
		metric := su.vars.Get(req.name)
		if metric == nil {
			panic("metric not found: " + req.name)
		}

		metric.(*expvar.Int).Add(int64(req.value))
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.Add(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.Add(name, -1)
}

func (su *StatsUpdater) Add(name string, value int) {
	su.updateChan <- &metricsUpdateReq{name: name, value: value}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

func (su *StatsUpdater) Stop() {
	close(su.updateChan)
}
