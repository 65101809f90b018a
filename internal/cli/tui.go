package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/matzehuels/pypidata/pkg/fetch"
	"github.com/matzehuels/pypidata/pkg/observability"
	"github.com/matzehuels/pypidata/pkg/pages"
	"github.com/matzehuels/pypidata/pkg/pipeline"
)

// =============================================================================
// Messages
// =============================================================================

type fetchDoneMsg struct{ kind, status string }

type commitMsg struct {
	items int
	err   error
}

type discardMsg struct{ items int }

type syncDoneMsg struct{}

type tickMsg time.Time

// =============================================================================
// Hooks - forward pipeline events to the program
// =============================================================================

// teaHooks turns fetch and write events into program messages.
type teaHooks struct {
	send func(tea.Msg)
}

func (h teaHooks) OnFetchStart(context.Context, string, string) {}

func (h teaHooks) OnFetchComplete(_ context.Context, kind, _ string, status string, _ int, _ time.Duration) {
	h.send(fetchDoneMsg{kind: kind, status: status})
}

func (h teaHooks) OnCommit(_ context.Context, items int, _ time.Duration, err error) {
	h.send(commitMsg{items: items, err: err})
}

func (h teaHooks) OnDiscard(_ context.Context, items int) {
	h.send(discardMsg{items: items})
}

var (
	_ observability.FetchHooks = teaHooks{}
	_ observability.WriteHooks = teaHooks{}
)

// =============================================================================
// SyncModel - live page sync progress
// =============================================================================

var syncStatuses = []fetch.Status{fetch.Fetched, fetch.NotModified, fetch.Gone, fetch.Timeout}

// SyncModel is the bubbletea model showing page sync progress.
type SyncModel struct {
	Kinds     []pages.Kind
	Counts    map[string]map[string]int // kind -> status -> count
	Written   int
	Batches   int
	Discarded int
	Failed    bool

	Interrupted bool
	Done        bool

	cancel context.CancelFunc
	start  time.Time
	frame  int
}

// NewSyncModel creates a progress model. cancel is called when the user
// asks to stop.
func NewSyncModel(kinds []pages.Kind, cancel context.CancelFunc) SyncModel {
	counts := make(map[string]map[string]int, len(kinds))
	for _, k := range kinds {
		counts[string(k)] = make(map[string]int, len(syncStatuses))
	}
	return SyncModel{Kinds: kinds, Counts: counts, cancel: cancel, start: time.Now()}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m SyncModel) Init() tea.Cmd {
	return tick()
}

func (m SyncModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.Interrupted && m.cancel != nil {
				m.cancel()
			}
			m.Interrupted = true
		}
	case fetchDoneMsg:
		if c, ok := m.Counts[msg.kind]; ok {
			c[msg.status]++
		}
	case commitMsg:
		if msg.err != nil {
			m.Failed = true
		} else {
			m.Written += msg.items
			m.Batches++
		}
	case discardMsg:
		m.Discarded += msg.items
	case syncDoneMsg:
		m.Done = true
		return m, tea.Quit
	case tickMsg:
		m.frame++
		return m, tick()
	}
	return m, nil
}

func (m SyncModel) View() string {
	var b strings.Builder

	frame := spinnerFrames[m.frame%len(spinnerFrames)]
	title := "Syncing pages"
	switch {
	case m.Done:
		frame, title = iconSuccess, "Sync finished"
	case m.Interrupted:
		title = "Stopping, writing fetched pages"
	}
	b.WriteString(styleIconSpinner.Render(frame) + " " + StyleTitle.Render(title))
	b.WriteString(StyleDim.Render(fmt.Sprintf("  %s", time.Since(m.start).Round(time.Second))))
	b.WriteString("\n")

	for _, k := range m.Kinds {
		c := m.Counts[string(k)]
		parts := make([]string, 0, len(syncStatuses))
		for _, s := range syncStatuses {
			n := c[s.String()]
			style := StyleDim
			if n > 0 {
				style = StyleNumber
				if s == fetch.Timeout {
					style = StyleWarning
				}
			}
			parts = append(parts, style.Render(fmt.Sprintf("%d", n))+" "+StyleDim.Render(s.String()))
		}
		fmt.Fprintf(&b, "  %-7s %s\n", k, strings.Join(parts, StyleDim.Render(" · ")))
	}

	written := fmt.Sprintf("  written %s in %d batches", StyleNumber.Render(formatCount(int64(m.Written))), m.Batches)
	if m.Discarded > 0 {
		written += StyleWarning.Render(fmt.Sprintf(", %d discarded", m.Discarded))
	}
	if m.Failed {
		written += styleBad.Render(", write failed")
	}
	b.WriteString(written + "\n")

	if !m.Done && !m.Interrupted {
		b.WriteString(StyleDim.Render("  ctrl+c to stop") + "\n")
	}
	return b.String()
}

// syncWithProgress runs a page sync behind the live progress view.
func (c *CLI) syncWithProgress(ctx context.Context, opts pipeline.Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewSyncModel(opts.Kinds, cancel), tea.WithOutput(os.Stderr))
	hooks := teaHooks{send: p.Send}

	s, err := c.open(ctx, observability.Hooks{Fetch: hooks, Write: hooks})
	if err != nil {
		return err
	}
	defer s.Close()

	// Log lines would tear the view; keep only errors while it is up.
	level := c.Logger.GetLevel()
	c.Logger.SetLevel(log.ErrorLevel)

	var (
		res    *pipeline.Result
		runErr error
		done   = make(chan struct{})
	)
	go func() {
		defer close(done)
		res, runErr = s.runner.SyncPages(ctx, opts)
		p.Send(syncDoneMsg{})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		c.Logger.SetLevel(level)
		c.Logger.Warn("progress view failed, waiting for the sync", "err", err)
	}
	<-done
	c.Logger.SetLevel(level)

	if res != nil {
		c.printSyncResult(res)
	}
	return runErr
}
