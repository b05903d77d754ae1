// Command boothsim runs the kiosk controller against a relay without booth
// hardware: a synthetic camera and, by default, a scripted visitor who asks
// for one image shortly after the session starts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rvillela/artbooth/internal/kiosk"
	"github.com/rvillela/artbooth/internal/observability"
)

func main() {
	var (
		relayURL     = flag.String("relay", "http://localhost:8080", "base URL of the art booth relay")
		prompt       = flag.String("prompt", "a neon jungle full of parrots", "what the scripted visitor asks for")
		askAfter     = flag.Duration("ask-after", 3*time.Second, "how long the scripted visitor waits before asking")
		askTwice     = flag.Bool("ask-twice", false, "have the visitor ask for a second image to exercise the quota")
		timeout      = flag.Duration("session-timeout", 5*time.Minute, "kiosk session timeout")
		pollInterval = flag.Duration("poll-interval", 5*time.Second, "session-state poll interval")
		wsURL        = flag.String("ws-url", "", "realtime websocket URL; when set the booth opens a live voice link")
		apiKey       = flag.String("api-key", os.Getenv("REALTIME_API_KEY"), "realtime API key for the live voice link")
		model        = flag.String("model", "gpt-4o-realtime-preview-2024-12-17", "realtime model for the live voice link")
		voice        = flag.String("voice", "ash", "realtime voice for the live voice link")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := kiosk.NewRelayClient(*relayURL)

	var connector kiosk.Connector
	if *wsURL != "" {
		instructions, err := fetchInstructions(ctx, *relayURL)
		if err != nil {
			log.Fatalf("fetch instructions: %v", err)
		}
		connector = kiosk.NewWSConnector(kiosk.WSConfig{
			WSURL:        *wsURL,
			APIKey:       *apiKey,
			Model:        *model,
			Voice:        *voice,
			Instructions: instructions,
		})
	} else {
		connector = &scriptedConnector{
			prompt:   *prompt,
			askAfter: *askAfter,
			askTwice: *askTwice,
		}
	}

	controller := kiosk.NewController(kiosk.ControllerConfig{
		Relay:      client,
		Connector:  connector,
		OpenCamera: func(context.Context) (kiosk.Camera, error) { return kiosk.NewFakeCamera(), nil },
		Metrics:    observability.NewMetrics("boothsim"),

		SessionTimeout: *timeout,
		PollInterval:   *pollInterval,
	})

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := controller.Snapshot()
				log.Printf("booth: state=%s session=%s images=%d resets=%d",
					snap.State, snap.SessionID, snap.ImageCount, snap.Resets)
				if snap.LastImageURL != "" && snap.State == kiosk.StateCompleted {
					log.Printf("booth: poster ready at %s", snap.LastImageURL)
				}
			}
		}
	}()

	if err := controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("controller: %v", err)
	}
}

// scriptedConnector plays the visitor: after a pause it asks for one image,
// and optionally a second to show the quota refusal.
type scriptedConnector struct {
	prompt   string
	askAfter time.Duration
	askTwice bool
	calls    int
}

func (c *scriptedConnector) Connect(ctx context.Context) (kiosk.Link, error) {
	link := kiosk.NewMockLink()
	c.calls++
	session := c.calls

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.askAfter):
		}
		callID := fmt.Sprintf("sim-%d-1", session)
		log.Printf("visitor: asking for %q", c.prompt)
		link.Invoke(callID, c.prompt)

		if c.askTwice {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.askAfter):
			}
			log.Printf("visitor: asking for a second image")
			link.Invoke(fmt.Sprintf("sim-%d-2", session), c.prompt+", but bigger")
		}
	}()
	return link, nil
}

func fetchInstructions(ctx context.Context, relayURL string) (string, error) {
	client := kiosk.NewRelayClient(relayURL)
	return client.Instructions(ctx)
}
