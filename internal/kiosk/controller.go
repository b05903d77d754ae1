package kiosk

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rvillela/artbooth/internal/observability"
	"github.com/rvillela/artbooth/internal/realtime"
	"github.com/rvillela/artbooth/internal/reliability"
	"github.com/rvillela/artbooth/internal/session"
)

// State is the kiosk controller's lifecycle phase.
type State string

const (
	StateBoot            State = "boot"
	StateCameraInit      State = "camera_init"
	StateVoiceConnecting State = "voice_connecting"
	StateActive          State = "active"
	StateGenerating      State = "generating"
	StateCompleted       State = "completed"
	StateTimedOut        State = "timed_out"
	StateResetting       State = "resetting"
)

const quotaRefusal = "Only one image allowed per session"

type ControllerConfig struct {
	Relay      RelayAPI
	Connector  Connector
	OpenCamera func(ctx context.Context) (Camera, error)
	Metrics    *observability.Metrics

	SessionTimeout time.Duration
	PollInterval   time.Duration
	PollBackoffCap time.Duration
	ImageSize      string
}

// Controller drives one physical booth: camera, voice link, the one-image
// quota, the session timeout, and recovery when any of those fall over.
//
// All state transitions happen on a single dispatch goroutine fed by an
// internal event channel, so quota and timer decisions never race.
type Controller struct {
	cfg    ControllerConfig
	events chan any

	// pollGen invalidates poll results that were in flight across a local
	// session change.
	pollGen atomic.Int64

	mu           sync.Mutex
	state        State
	camera       Camera
	link         Link
	linkGen      int
	timerGen     int
	timer        *time.Timer
	imageCount   int
	sessionID    string
	remoteID     string
	sawFirstPoll bool
	lastImageURL string
	resets       int
}

// Snapshot is a point-in-time view of the controller for tests and the
// simulator's status output.
type Snapshot struct {
	State        State
	ImageCount   int
	SessionID    string
	LastImageURL string
	Resets       int
}

type linkEvent struct {
	gen int
	ev  Event
}

type timeoutEvent struct {
	gen int
}

type pollEvent struct {
	gen int64
	rec session.Record
	err error
}

type genResult struct {
	sessionID string
	callID    string
	img       GeneratedImage
	err       error
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollBackoffCap <= 0 {
		cfg.PollBackoffCap = 40 * time.Second
	}
	return &Controller{
		cfg:    cfg,
		events: make(chan any, 64),
		state:  StateBoot,
	}
}

// Snapshot returns the current controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:        c.state,
		ImageCount:   c.imageCount,
		SessionID:    c.sessionID,
		LastImageURL: c.lastImageURL,
		Resets:       c.resets,
	}
}

// Run boots the booth and dispatches events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.beginSession(ctx)
	go c.pollLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return ctx.Err()
		case evt := <-c.events:
			c.dispatch(ctx, evt)
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, evt any) {
	switch e := evt.(type) {
	case linkEvent:
		c.handleLinkEvent(ctx, e)
	case timeoutEvent:
		c.handleTimeout(ctx, e)
	case pollEvent:
		c.handlePoll(ctx, e)
	case genResult:
		c.handleGenResult(ctx, e)
	}
}

// beginSession runs the boot sequence: camera, voice link, relay session,
// timeout timer. It retries with capped backoff until it succeeds or ctx
// ends; a booth that cannot start keeps trying rather than exiting.
func (c *Controller) beginSession(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			delay := reliability.ExponentialBackoff(attempt, time.Second, 30*time.Second)
			log.Printf("kiosk: boot attempt %d failed, retrying in %s", attempt, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if c.tryBegin(ctx) {
			return
		}
	}
}

func (c *Controller) tryBegin(ctx context.Context) bool {
	c.setState(StateCameraInit)
	cam, err := c.cfg.OpenCamera(ctx)
	if err != nil {
		// A booth with a dead camera still hosts the conversation; the
		// generate call fails cleanly when no photo can be captured.
		log.Printf("kiosk: camera init failed, continuing without camera: %v", err)
		cam = nil
	}

	c.setState(StateVoiceConnecting)
	link, err := c.cfg.Connector.Connect(ctx)
	if err != nil {
		log.Printf("kiosk: voice connect failed: %v", err)
		if cam != nil {
			_ = cam.Close()
		}
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	rec, err := c.cfg.Relay.StartSession(callCtx)
	cancel()
	if err != nil {
		log.Printf("kiosk: start session failed: %v", err)
		_ = link.Close()
		if cam != nil {
			_ = cam.Close()
		}
		return false
	}

	c.mu.Lock()
	c.camera = cam
	c.link = link
	c.linkGen++
	c.imageCount = 0
	c.lastImageURL = ""
	c.sessionID = rec.SessionID
	c.remoteID = rec.SessionID
	c.sawFirstPoll = true
	c.timerGen++
	gen := c.timerGen
	linkGen := c.linkGen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.cfg.SessionTimeout, func() {
		c.events <- timeoutEvent{gen: gen}
	})
	c.state = StateActive
	c.mu.Unlock()

	c.pollGen.Add(1)
	go c.forwardLinkEvents(link, linkGen)

	log.Printf("kiosk: session %s active", rec.SessionID)
	c.cfg.Metrics.SessionEvents.WithLabelValues("kiosk_start").Inc()
	return true
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) forwardLinkEvents(link Link, gen int) {
	for ev := range link.Events() {
		c.events <- linkEvent{gen: gen, ev: ev}
	}
}

func (c *Controller) handleLinkEvent(ctx context.Context, e linkEvent) {
	c.mu.Lock()
	stale := e.gen != c.linkGen
	link := c.link
	c.mu.Unlock()
	if stale {
		return
	}

	switch e.ev.Type {
	case EventFunctionCall:
		c.handleFunctionCall(ctx, link, e.ev.Call)
	case EventError:
		log.Printf("kiosk: voice agent error %s: %s", e.ev.Code, e.ev.Detail)
	case EventClosed:
		log.Printf("kiosk: voice link closed: %s", e.ev.Detail)
		c.reset(ctx)
	}
}

func (c *Controller) handleFunctionCall(ctx context.Context, link Link, call *FunctionCall) {
	if call == nil {
		return
	}
	if call.Name != "generateImage" {
		log.Printf("kiosk: unknown function %q", call.Name)
		if err := link.SendFunctionError(ctx, call.CallID, "unknown function: "+call.Name); err != nil {
			log.Printf("kiosk: send function error failed: %v", err)
		}
		return
	}

	var args realtime.GenerateImageArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil || strings.TrimSpace(args.Prompt) == "" {
		log.Printf("kiosk: bad generateImage arguments: %v", err)
		if err := link.SendFunctionError(ctx, call.CallID, "generateImage requires a prompt"); err != nil {
			log.Printf("kiosk: send function error failed: %v", err)
		}
		return
	}

	// Quota check and increment are back to back on the dispatch goroutine,
	// so a burst of tool calls cannot all pass the check.
	c.mu.Lock()
	if c.imageCount >= 1 {
		c.mu.Unlock()
		log.Printf("kiosk: refusing second image for session %s", c.sessionID)
		if err := link.SendFunctionOutput(ctx, call.CallID, map[string]any{
			"success": false,
			"error":   quotaRefusal,
		}); err != nil {
			log.Printf("kiosk: send refusal failed: %v", err)
		}
		return
	}
	c.imageCount++
	c.state = StateGenerating
	sid := c.sessionID
	cam := c.camera
	c.mu.Unlock()

	// The session ends the moment the visitor commits to an image. The
	// generated poster arrives afterwards; the session record does not wait
	// for it.
	endCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if _, err := c.cfg.Relay.EndSession(endCtx); err != nil {
		log.Printf("kiosk: end session failed: %v", err)
	}
	cancel()

	go func() {
		photo, err := CapturePhoto(ctx, cam)
		if err != nil {
			c.events <- genResult{sessionID: sid, callID: call.CallID, err: err}
			return
		}
		img, err := c.cfg.Relay.EditImage(ctx, photo, args.Prompt, c.cfg.ImageSize)
		c.events <- genResult{sessionID: sid, callID: call.CallID, img: img, err: err}
	}()
}

func (c *Controller) handleGenResult(ctx context.Context, e genResult) {
	c.mu.Lock()
	if e.sessionID != c.sessionID || c.state != StateGenerating {
		c.mu.Unlock()
		log.Printf("kiosk: discarding stale generation result for session %s", e.sessionID)
		return
	}
	link := c.link
	if e.err != nil {
		c.state = StateActive
		c.mu.Unlock()
		log.Printf("kiosk: generation failed: %v", e.err)
		if err := link.SendFunctionError(ctx, e.callID, "image generation failed"); err != nil {
			log.Printf("kiosk: send function error failed: %v", err)
		}
		return
	}
	c.lastImageURL = e.img.URL
	c.state = StateCompleted
	c.mu.Unlock()

	log.Printf("kiosk: session %s completed, image at %s", e.sessionID, e.img.URL)
	if err := link.SendFunctionOutput(ctx, e.callID, map[string]any{
		"success":   true,
		"image_url": e.img.URL,
	}); err != nil {
		log.Printf("kiosk: send function output failed: %v", err)
	}
}

// handleTimeout ends the session and parks the booth in the timed-out state.
// It stays there, showing the session-ended notice, until the poll loop sees
// another surface start a fresh session.
func (c *Controller) handleTimeout(ctx context.Context, e timeoutEvent) {
	c.mu.Lock()
	if e.gen != c.timerGen {
		c.mu.Unlock()
		return
	}
	c.state = StateTimedOut
	sid := c.sessionID
	link := c.link
	cam := c.camera
	c.link = nil
	c.camera = nil
	c.linkGen++
	c.timer = nil
	c.mu.Unlock()

	log.Printf("kiosk: session %s timed out", sid)
	c.cfg.Metrics.SessionEvents.WithLabelValues("kiosk_timeout").Inc()

	if link != nil {
		_ = link.Close()
	}
	if cam != nil {
		_ = cam.Close()
	}

	endCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if _, err := c.cfg.Relay.EndSession(endCtx); err != nil {
		log.Printf("kiosk: end session failed: %v", err)
	}
	cancel()
}

func (c *Controller) handlePoll(ctx context.Context, e pollEvent) {
	if e.gen != c.pollGen.Load() {
		return
	}
	if e.err != nil {
		return
	}

	c.mu.Lock()
	if !c.sawFirstPoll {
		// The very first observation establishes the baseline. A booth
		// rebooting mid-event must not wipe a session it merely discovered.
		c.sawFirstPoll = true
		c.remoteID = e.rec.SessionID
		c.mu.Unlock()
		return
	}
	if e.rec.SessionID == c.remoteID {
		c.mu.Unlock()
		return
	}
	c.remoteID = e.rec.SessionID
	// Only an active session someone else started forces a reset. An idle
	// read with no id is what a degraded store reports, not a takeover.
	changedExternally := e.rec.Status == session.StatusActive && e.rec.SessionID != c.sessionID
	c.mu.Unlock()

	if changedExternally {
		log.Printf("kiosk: session changed remotely to %s, resetting", e.rec.SessionID)
		c.reset(ctx)
	}
}

// reset tears the booth down and boots a fresh session. Runs on the dispatch
// goroutine; stale events produced meanwhile are fenced off by the link,
// timer, and poll generation counters.
func (c *Controller) reset(ctx context.Context) {
	c.mu.Lock()
	c.state = StateResetting
	c.resets++
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	link := c.link
	cam := c.camera
	c.link = nil
	c.camera = nil
	c.linkGen++
	c.imageCount = 0
	c.lastImageURL = ""
	c.mu.Unlock()

	if link != nil {
		_ = link.Close()
	}
	if cam != nil {
		_ = cam.Close()
	}
	c.pollGen.Add(1)
	c.cfg.Metrics.KioskResets.Inc()

	c.beginSession(ctx)
}

func (c *Controller) teardown() {
	c.mu.Lock()
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	link := c.link
	cam := c.camera
	c.link = nil
	c.camera = nil
	c.mu.Unlock()

	if link != nil {
		_ = link.Close()
	}
	if cam != nil {
		_ = cam.Close()
	}

	endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.cfg.Relay.EndSession(endCtx); err != nil {
		log.Printf("kiosk: end session on shutdown failed: %v", err)
	}
}

// pollLoop watches the shared session record so an external reset (another
// surface starting a session) brings this booth back to idle.
func (c *Controller) pollLoop(ctx context.Context) {
	failures := 0
	for {
		delay := c.cfg.PollInterval
		if failures > 0 {
			delay = reliability.ExponentialBackoff(failures, c.cfg.PollInterval, c.cfg.PollBackoffCap)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		gen := c.pollGen.Load()
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		rec, err := c.cfg.Relay.SessionState(callCtx)
		cancel()
		if err != nil {
			failures++
			c.cfg.Metrics.PollFailures.Inc()
			log.Printf("kiosk: session poll failed (%d in a row): %v", failures, err)
			continue
		}
		failures = 0
		c.events <- pollEvent{gen: gen, rec: rec, err: nil}
	}
}
