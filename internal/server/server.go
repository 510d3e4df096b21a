// Package server は描画ボードと画像生成を HTTP で公開します。
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/kazuki-osada/internal-excali-banana/internal/config"
)

type Server struct {
	httpServer *http.Server
}

func NewServer(cfg config.ServerConfig, handler http.Handler) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		MaxHeaderBytes:    1 << 20,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Timeout,
		IdleTimeout:       cfg.IdleTimeout,
		ReadHeaderTimeout: 3 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
		ErrorLog:          log.New(os.Stderr, "SERVER ERROR: ", log.LstdFlags),
	}}
}

// Run はサーバーを起動し、停止するまでブロックします。Shutdown による停止はエラーになりません。
func (s *Server) Run() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
