package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vango-go/vai-callcenter/pkg/gateway/calls"
	"github.com/vango-go/vai-callcenter/pkg/gateway/config"
	"github.com/vango-go/vai-callcenter/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the gateway should receive new calls. It
// fails while draining so load balancers stop routing new streams here.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Calls     *calls.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK           bool     `json:"ok"`
		Draining     bool     `json:"draining"`
		DrainingFor  string   `json:"draining_for,omitempty"`
		ActiveCalls  int      `json:"active_calls"`
		StoreBackend string   `json:"store_backend"`
		TTSProvider  string   `json:"tts_provider"`
		Issues       []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)
	if err := h.Config.Validate(); err != nil {
		issues = append(issues, err.Error())
	}
	since := h.Lifecycle.DrainingSince()
	draining := !since.IsZero()
	drainingFor := ""
	if draining {
		drainingFor = time.Since(since).Round(time.Second).String()
		issues = append(issues, "draining")
	}

	active := 0
	if h.Calls != nil {
		active = h.Calls.Count()
	}

	ok := len(issues) == 0
	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case !ok:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:           ok,
		Draining:     draining,
		DrainingFor:  drainingFor,
		ActiveCalls:  active,
		StoreBackend: h.Config.StoreBackend,
		TTSProvider:  h.Config.TTSProvider,
		Issues:       issues,
	})
}
