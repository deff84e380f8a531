package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kessig/switchboard/contract"
	"github.com/kessig/switchboard/dispatch"
	"github.com/kessig/switchboard/metrics"
	"github.com/kessig/switchboard/middleware"
)

func main() {
	_ = godotenv.Load()

	c := contract.MustNew(
		contract.Endpoint{
			Name: "clock",
			Kind: contract.KindPushEvent,
			Path: "/clock",
		},
		contract.Endpoint{
			Name:   "countdown",
			Kind:   contract.KindChunkedStream,
			Method: "POST",
			Path:   "/countdown",
		},
	)

	collector := metrics.New(nil)
	if err := collector.Register(); err != nil {
		log.Fatal(err)
	}

	d := dispatch.New(c, collector.Options()...)

	// Emits a tick event every second until the client disconnects. The
	// connection lives only as long as the handler runs, so the loop blocks
	// here rather than in a spawned goroutine.
	must(d.HandlePushEvent("clock", func(ctx context.Context, in *dispatch.Input, stream *dispatch.EventStream) (func(), error) {
		ticker := time.NewTicker(time.Second)
		for {
			select {
			case t := <-ticker.C:
				stream.Send("tick", map[string]any{"now": t.UTC().Format(time.RFC3339)})
			case <-stream.Cancellation().Done():
				return ticker.Stop, nil
			}
		}
	}))

	// Streams a fixed countdown and closes with a summary frame.
	must(d.HandleChunkStream("countdown", func(ctx context.Context, in *dispatch.Input, stream *dispatch.ChunkStream) error {
		for i := 5; i > 0; i-- {
			if !stream.IsOpen() {
				return nil
			}
			stream.Send(map[string]any{"remaining": i})
			time.Sleep(200 * time.Millisecond)
		}
		return stream.Close(map[string]any{"done": true})
	}))

	cors := &middleware.CORS{AllowedOrigins: []string{"*"}}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", middleware.SecurityHeaders(cors.Wrap(d)))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Listening on :%s", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Fatal(err)
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
