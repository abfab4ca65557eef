// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package view provides a terminal viewer for image resources.
//
// The viewer's Update method is the control goroutine for the resources it
// displays: functions posted to its loop.Loop and animation clock ticks are
// executed there.
package view

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kortschak/lazyimg/internal/clock"
	"github.com/kortschak/lazyimg/internal/generation"
	"github.com/kortschak/lazyimg/internal/loop"
	"github.com/kortschak/lazyimg/internal/resource"
)

// Options are viewer display options.
type Options struct {
	// MaxWidth is the maximum width of a rendered image in
	// terminal cells. Zero is unlimited.
	MaxWidth int
	// Captions adds each image's name and load state below it.
	Captions bool
}

// Model is a bubbletea model displaying a row of image resources.
type Model struct {
	images []*resource.Image
	loop   *loop.Loop
	clock  *clock.Clock
	bus    *generation.Bus
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()

	// stale is set by the generation bus and cleared
	// when the render cache is reset.
	stale atomic.Bool
	cache map[*resource.Image]rendered

	ticks uint64
	log   *slog.Logger
}

type rendered struct {
	frame  image.Image
	width  int
	blocks string
}

type (
	drainMsg struct{}
	tickMsg  time.Time
)

// New returns a new Model showing images. Functions posted to l are run by
// the model's Update method and clk is ticked from there. The images must
// have been created by a resource.Loader dispatching to l, ticking clk and
// bumping bus.
func New(images []*resource.Image, l *loop.Loop, clk *clock.Clock, bus *generation.Bus, opts Options, log *slog.Logger) *Model {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Model{
		images: images,
		loop:   l,
		clock:  clk,
		bus:    bus,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		cache:  make(map[*resource.Image]rendered),
		log:    log.With(slog.String("component", "view")),
	}
	m.unsub = bus.Subscribe(func(gen uint64) {
		m.stale.Store(true)
	})
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.wait(), m.tick())
}

func (m *Model) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return nil
		case <-m.loop.Ready():
			return drainMsg{}
		}
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.clock.Period(), func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.Close()
			return m, tea.Quit
		}
	case drainMsg:
		n := m.loop.Drain()
		m.log.LogAttrs(m.ctx, slog.LevelDebug, "drain", slog.Int("n", n))
		return m, m.wait()
	case tickMsg:
		m.clock.Tick()
		m.ticks++
		return m, m.tick()
	}
	return m, nil
}

// Close releases the model's generation subscription and stops waiting on
// its loop.
func (m *Model) Close() {
	m.cancel()
	m.unsub()
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.stale.Swap(false) {
		clear(m.cache)
	}
	var blocks []string
	for _, img := range m.images {
		b := m.render(img)
		if img.IsHat() && len(blocks) != 0 {
			last := len(blocks) - 1
			blocks[last] = lipgloss.JoinVertical(lipgloss.Center, b, blocks[last])
			continue
		}
		blocks = append(blocks, b)
	}
	var buf strings.Builder
	buf.WriteString(lipgloss.JoinHorizontal(lipgloss.Bottom, blocks...))
	buf.WriteByte('\n')
	buf.WriteString(footerStyle.Render(fmt.Sprintf("generation %d  animated %d  q to quit", m.bus.Generation(), m.clock.Len())))
	buf.WriteByte('\n')
	return buf.String()
}

var (
	captionStyle = lipgloss.NewStyle().Faint(true)
	footerStyle  = lipgloss.NewStyle().Faint(true).MarginTop(1)
	pendingStyle = lipgloss.NewStyle().Align(lipgloss.Center, lipgloss.Center)
)

// render returns the rendered cells for img including its margins and
// caption.
func (m *Model) render(img *resource.Image) string {
	w, h := size(img, m.opts.MaxWidth)
	frame := img.CurrentFrame()
	var s string
	if frame == nil {
		mark := "…"
		if img.State() == resource.Failed {
			mark = "✗"
		}
		s = pendingStyle.Width(w).Height(rows(h)).Render(mark)
	} else {
		c, ok := m.cache[img]
		if !ok || c.frame != frame || c.width != w {
			c = rendered{frame: frame, width: w, blocks: HalfBlocks(Scale(frame, w, h))}
			m.cache[img] = c
		}
		s = c.blocks
	}
	margin := img.Margin()
	s = lipgloss.NewStyle().
		Margin(rows(margin.Top), margin.Right, rows(margin.Bottom), margin.Left).
		Render(s)
	if m.opts.Captions {
		s = lipgloss.JoinVertical(lipgloss.Left, s, captionStyle.Render(caption(img)))
	}
	return s
}

// size returns the pixel dimensions img will be rendered at.
func size(img *resource.Image, maxWidth int) (w, h int) {
	w, h = img.ScaledWidth(), img.ScaledHeight()
	if maxWidth > 0 && w > maxWidth {
		h = h * maxWidth / w
		w = maxWidth
	}
	return max(w, 1), max(h, 1)
}

// rows returns the number of terminal rows needed for h pixels.
func rows(h int) int {
	return (h + 1) / 2
}

func caption(img *resource.Image) string {
	name := img.Name()
	if name == "" {
		if u, ok := img.URL(); ok {
			name = u
		}
	}
	switch st := img.State(); st {
	case resource.Static, resource.Animated:
		return name
	default:
		return fmt.Sprintf("%s (%s)", name, st)
	}
}
