package main

import (
	"log"
	"net/http"
	"net/url"
	"sync"

	"github.com/banshee-data/radarview/internal/serialmux"
)

// serialAdmin exposes each serial sensor's debug routes under
// /serial/<id>/debug/. Ports reopen on reconnect, so requests are routed to
// whichever mux is current.
type serialAdmin struct {
	mux *http.ServeMux

	mu     sync.Mutex
	routes map[string]*http.ServeMux
}

func newSerialAdmin(mux *http.ServeMux) *serialAdmin {
	return &serialAdmin{mux: mux, routes: make(map[string]*http.ServeMux)}
}

func (a *serialAdmin) attach(sensorID string, m serialmux.Mux) {
	sub := http.NewServeMux()
	m.AttachAdminRoutes(sub)

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.routes[sensorID]; !ok {
		prefix := "/serial/" + url.PathEscape(sensorID)
		a.mux.Handle(prefix+"/", http.StripPrefix(prefix, a.handler(sensorID)))
		log.Printf("serial admin routes for %s at %s/debug/", sensorID, prefix)
	}
	a.routes[sensorID] = sub
}

func (a *serialAdmin) handler(sensorID string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		sub := a.routes[sensorID]
		a.mu.Unlock()
		sub.ServeHTTP(w, r)
	})
}
