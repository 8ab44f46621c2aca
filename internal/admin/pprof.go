package admin

import (
	"net/http"
	netpprof "net/http/pprof"
	"strings"

	"github.com/julienschmidt/httprouter"
)

// EnableProfiling registers the runtime profiling endpoints under
// /debug/pprof/. Call it before Serve.
func (s *Server) EnableProfiling() {
	s.router.GET("/debug/pprof/*item", s.handlePprof)
	s.router.POST("/debug/pprof/*item", s.handlePprof)
}

func (s *Server) handlePprof(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	switch strings.TrimPrefix(ps.ByName("item"), "/") {
	case "cmdline":
		netpprof.Cmdline(w, r)
	case "profile":
		netpprof.Profile(w, r)
	case "symbol":
		netpprof.Symbol(w, r)
	case "trace":
		netpprof.Trace(w, r)
	default:
		netpprof.Index(w, r)
	}
}
