// Command visualization-server relays the simulation Watch stream to browsers
// over server-sent events and serves the static client.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"simhost/control"
)

func main() {
	addr := flag.String("http", ":8080", "HTTP listen address for visualization server")
	simGRPC := flag.String("grpc", "simulation-server-service:9090", "Simulation server gRPC address")
	staticDir := flag.String("static", "../visualization-client", "Directory with static web assets")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Connecting to simulation gRPC at %s", *simGRPC)
	conn, err := control.Dial(*simGRPC)
	if err != nil {
		log.Fatalf("Failed to connect to simulation server: %v", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("Error closing gRPC connection: %v", err)
		}
	}()

	relay := NewRelay()
	go relay.Run(ctx, control.NewClient(conn).Watch, 2*time.Second)

	absStaticDir, _ := filepath.Abs(*staticDir)
	log.Printf("Serving static files from %s", absStaticDir)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/events", relay.ServeSSE)
	r.Handle("/*", http.FileServer(http.Dir(absStaticDir)))

	// Support automatic free port selection with -http :0
	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("Failed to bind %s: %v", *addr, err)
	}
	log.Printf("Visualization server listening on %s", ln.Addr().String())

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		log.Fatalf("HTTP server stopped: %v", err)
	}
}
