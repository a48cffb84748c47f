// Package pprof runs the optional profiling HTTP server. It is off unless
// debug.pprof_addr is set, and should only ever bind loopback.
package pprof

import (
	"context"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"time"

	"lessonbot/pkg/logx"
)

type Service struct {
	addr string
	log  logx.Logger
	srv  *http.Server
}

func New(addr string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{addr: addr, log: log}
}

func (s *Service) Start() {
	if s.addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)

	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Minute,
	}
	go func() {
		s.log.Info("pprof server listening", logx.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("pprof server stopped", logx.Err(err))
		}
	}()
}

func (s *Service) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	_ = s.srv.Shutdown(ctx)
}
