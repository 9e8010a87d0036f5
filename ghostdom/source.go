// Package ghostdom attaches to a running editor over the DevTools protocol
// and turns its inline-suggestion overlay into tracker events: coordinate
// snapshots, the session origin keypress, and acceptance decisions.
package ghostdom

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/ghostwatch/acceptance"
	"github.com/hazyhaar/ghostwatch/bus"
	"github.com/hazyhaar/ghostwatch/ia"
)

//go:embed capture.js
var captureJS string

const bindingName = "__ghostwatch_binding"

// Config configures a Source.
type Config struct {
	// Remote is the DevTools URL of the editor (http://host:port or a
	// ws:// page URL).
	Remote string
	// Selectors matches ghost-text elements.
	Selectors string
	// PollInterval paces the snapshot loop.
	PollInterval time.Duration
	// LocalDedupe drops consecutive identical snapshots at the source,
	// before the tracker's own per-sender window.
	LocalDedupe time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

func (c *Config) defaults() {
	if c.Selectors == "" {
		c.Selectors = ".ghost-text-decoration, .ghost-text, .ghost-text-decoration-preview"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.LocalDedupe <= 0 {
		c.LocalDedupe = 300 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Source observes one editor page.
type Source struct {
	cfg     Config
	browser *rod.Browser
	page    *rod.Page
	router  *bus.Router
	det     *acceptance.Detector
	sender  string

	mu        sync.Mutex
	lastSig   string
	lastSigAt time.Time
}

// Attach connects to the editor, injects the capture script, and wires the
// acceptance detector. The returned Source is idle until Run is called.
func Attach(ctx context.Context, cfg Config, router *bus.Router) (*Source, error) {
	cfg.defaults()
	if cfg.Remote == "" {
		return nil, fmt.Errorf("ghostdom: remote URL required")
	}

	wsURL := cfg.Remote
	if !strings.HasPrefix(wsURL, "ws") {
		resolved, err := launcher.ResolveURL(wsURL)
		if err != nil {
			return nil, fmt.Errorf("ghostdom: resolve %s: %w", cfg.Remote, err)
		}
		wsURL = resolved
	}

	browser := rod.New().ControlURL(wsURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("ghostdom: connect: %w", err)
	}

	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("ghostdom: list pages: %w", err)
	}
	page, err := firstPage(pages)
	if err != nil {
		return nil, err
	}

	s := &Source{
		cfg:     cfg,
		browser: browser,
		page:    page,
		router:  router,
		sender:  "browser:" + string(page.TargetID),
	}
	s.det = acceptance.New(s, &BusSink{Router: router, Sender: s.sender, Now: cfg.Now}, acceptance.Config{
		PollInterval: cfg.PollInterval,
		Logger:       cfg.Logger,
		Now:          cfg.Now,
	})

	if err := s.inject(); err != nil {
		return nil, err
	}
	go s.listenBinding(ctx)

	cfg.Logger.Info("attached to editor", "target", page.TargetID)
	return s, nil
}

// firstPage picks the page to observe. Pages.First returns nil on an empty
// list rather than an error, so the empty case is checked up front.
func firstPage(pages rod.Pages) (*rod.Page, error) {
	if pages.Empty() {
		return nil, fmt.Errorf("ghostdom: no page to observe")
	}
	return pages.First(), nil
}

func (s *Source) inject() error {
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(s.page); err != nil {
		s.cfg.Logger.Warn("add binding failed, may already exist", "error", err)
	}

	selJSON, _ := json.Marshal(s.cfg.Selectors)
	if _, err := s.page.Eval(fmt.Sprintf("window.__ghostwatch_selectors = %s;", selJSON)); err != nil {
		s.cfg.Logger.Warn("set selectors failed", "error", err)
	}
	if _, err := s.page.Eval(captureJS); err != nil {
		return fmt.Errorf("ghostdom: inject capture script: %w", err)
	}
	return nil
}

// capture is the wire form of window.__ghostwatch.capture().
type capture struct {
	Shapes []ia.Shape  `json:"shapes"`
	Ghosts []wireBlock `json:"ghosts"`
	Lines  []wireLine  `json:"lines"`
}

type wireBlock struct {
	Top        float64 `json:"top"`
	Height     float64 `json:"height"`
	LineHeight float64 `json:"line_height"`
	Text       string  `json:"text"`
}

type wireLine struct {
	Top        float64 `json:"top"`
	LineHeight float64 `json:"line_height"`
	Text       string  `json:"text"`
}

func (s *Source) captureNow(ctx context.Context) (*capture, error) {
	res, err := s.page.Context(ctx).Eval(`() => window.__ghostwatch.capture()`)
	if err != nil {
		return nil, fmt.Errorf("ghostdom: capture: %w", err)
	}
	var c capture
	if err := json.Unmarshal([]byte(res.Value.Str()), &c); err != nil {
		return nil, fmt.Errorf("ghostdom: decode capture: %w", err)
	}
	return &c, nil
}

// GhostBlocks implements acceptance.Reader.
func (s *Source) GhostBlocks(ctx context.Context) ([]acceptance.Block, error) {
	c, err := s.captureNow(ctx)
	if err != nil {
		return nil, err
	}
	blocks := make([]acceptance.Block, 0, len(c.Ghosts))
	for _, b := range c.Ghosts {
		blocks = append(blocks, acceptance.Block{
			Top: b.Top, Height: b.Height, LineHeight: b.LineHeight, Text: b.Text,
		})
	}
	return blocks, nil
}

// Lines implements acceptance.Reader.
func (s *Source) Lines(ctx context.Context) ([]acceptance.Line, error) {
	c, err := s.captureNow(ctx)
	if err != nil {
		return nil, err
	}
	lines := make([]acceptance.Line, 0, len(c.Lines))
	for _, l := range c.Lines {
		lines = append(lines, acceptance.Line{Top: l.Top, LineHeight: l.LineHeight, Text: l.Text})
	}
	return lines, nil
}

// Run polls the page until ctx is cancelled: each tick publishes a
// coordinate snapshot and advances the acceptance detector.
func (s *Source) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		c, err := s.captureNow(ctx)
		if err != nil {
			s.cfg.Logger.Warn("snapshot failed", "error", err)
			continue
		}
		s.publishShapes(ctx, c.Shapes)
		if err := s.det.Evaluate(ctx); err != nil {
			s.cfg.Logger.Warn("acceptance evaluate failed", "error", err)
		}
	}
}

func (s *Source) publishShapes(ctx context.Context, shapes []ia.Shape) {
	sig := ia.Signature(shapes)
	now := s.cfg.Now()

	s.mu.Lock()
	if sig == s.lastSig && now.Sub(s.lastSigAt) < s.cfg.LocalDedupe {
		s.mu.Unlock()
		return
	}
	s.lastSig = sig
	s.lastSigAt = now
	s.mu.Unlock()

	if shapes == nil {
		shapes = []ia.Shape{}
	}
	message := "Div coordinates logged"
	if len(shapes) == 0 {
		message = "No ghost elements visible"
	}
	data, err := json.Marshal(ia.Payload{
		Message:     message,
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
		Coordinates: shapes,
		Signature:   sig,
	})
	if err != nil {
		return
	}
	s.router.Notify(ctx, bus.Message{Type: "log_coordinates", Sender: s.sender, Data: data})
}

// bindingSignal is a one-shot event pushed from the page.
type bindingSignal struct {
	Kind      string `json:"kind"`
	Timestamp string `json:"timestamp"`
}

func (s *Source) listenBinding(ctx context.Context) {
	s.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var sig bindingSignal
		if err := json.Unmarshal([]byte(e.Payload), &sig); err != nil {
			s.cfg.Logger.Warn("bad binding payload", "error", err)
			return
		}
		s.handleSignal(ctx, sig)
	})()
}

func (s *Source) handleSignal(ctx context.Context, sig bindingSignal) {
	switch sig.Kind {
	case "keypress":
		data, _ := json.Marshal(map[string]string{
			"message":   ia.OriginMarkerMessage,
			"timestamp": sig.Timestamp,
		})
		s.router.Notify(ctx, bus.Message{Type: "log_keypress", Sender: s.sender, Data: data})
		s.cfg.Logger.Info("session origin marked")
	case "escape":
		s.det.ForceReject(ctx, "escape_dismiss")
	case "blur":
		s.det.ForceReject(ctx, "window_blur")
	case "hidden":
		s.det.ForceReject(ctx, "document_hidden")
	default:
		s.cfg.Logger.Debug("unknown binding signal", "kind", sig.Kind)
	}
}
