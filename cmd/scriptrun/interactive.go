package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/embercore/hotscript/reload"
	"github.com/embercore/hotscript/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	scriptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type inspectorModel struct {
	app *app

	selected int
	paused   bool
	emitting bool
	emit     textinput.Model
	status   string
	report   runtime.FrameReport
}

type tickMsg time.Time

func newInspectorModel(a *app) *inspectorModel {
	ti := textinput.New()
	ti.Placeholder = "signal name"
	ti.Prompt = "emit: "
	ti.Width = 30
	return &inspectorModel{app: a, emit: ti}
}

func (m *inspectorModel) Init() tea.Cmd {
	return m.tick()
}

func (m *inspectorModel) tick() tea.Cmd {
	return tea.Tick(m.app.cfg.frameInterval(), func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *inspectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if !m.paused {
			m.stepFrame()
		}
		return m, m.tick()

	case tea.KeyMsg:
		if m.emitting {
			return m.updateEmit(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.selected < len(m.app.scripts)-1 {
				m.selected++
			}

		case " ":
			m.paused = !m.paused

		case "n":
			if m.paused {
				m.stepFrame()
			}

		case "r":
			name := m.app.scripts[m.selected]
			if err := m.app.mgr.Request(context.Background(), name); err != nil {
				m.status = errStyle.Render(err.Error())
			} else {
				m.status = "rebuilding " + name
			}

		case "e":
			m.emitting = true
			m.emit.SetValue("")
			m.emit.Focus()
		}
	}
	return m, nil
}

func (m *inspectorModel) updateEmit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		name := strings.TrimSpace(m.emit.Value())
		if name != "" {
			m.app.rt.Signals().Emit(name, 0, m.app.rt.FrameNumber())
			m.status = "emitted " + name
		}
		m.emitting = false
		m.emit.Blur()
		return m, nil
	case "esc":
		m.emitting = false
		m.emit.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.emit, cmd = m.emit.Update(msg)
	return m, cmd
}

func (m *inspectorModel) stepFrame() {
	dt := float32(m.app.cfg.frameInterval().Seconds())
	m.report = m.app.step(context.Background(), dt)
}

func (m *inspectorModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("scriptrun"))
	b.WriteString(fmt.Sprintf("  frame %d  entities %d", m.app.rt.FrameNumber(), m.app.w.Len()))
	if m.paused {
		b.WriteString("  " + errStyle.Render("PAUSED"))
	}
	b.WriteString("\n\n")

	b.WriteString(m.viewReload())
	b.WriteString("\n")
	b.WriteString(m.viewScripts())
	b.WriteString("\n")
	b.WriteString(m.viewInstances())

	if m.emitting {
		b.WriteString("\n" + m.emit.View() + "\n")
	}
	if m.status != "" {
		b.WriteString("\n" + m.status + "\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ select • r reload • e emit signal • space pause • n step • q quit"))
	return b.String()
}

func (m *inspectorModel) viewReload() string {
	state := m.app.mgr.State()
	line := "reload: " + state.String()
	if state == reload.StateRolledBack {
		if err := m.app.mgr.LastError(); err != nil {
			line += "  " + errStyle.Render(err.Error())
		}
	} else if m.app.mgr.Pending() {
		line += "  " + okStyle.Render("swap pending")
	}
	return line + "\n"
}

func (m *inspectorModel) viewScripts() string {
	var b strings.Builder
	b.WriteString("scripts:\n")
	for i, name := range m.app.scripts {
		line := scriptStyle.Render(name)
		if mod, ok := m.app.rt.ActiveModule(name); ok {
			hash := mod.Meta().BuildHash
			if len(hash) > 12 {
				hash = hash[:12]
			}
			line += " " + dimStyle.Render(hash)
		}
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> ") + line)
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *inspectorModel) viewInstances() string {
	instances := m.app.rt.Registry().All()

	var b strings.Builder
	b.WriteString("instances:\n")
	for _, in := range instances {
		flag := okStyle.Render("ok")
		switch {
		case in.Unhealthy:
			flag = errStyle.Render("unhealthy")
		case !in.Enabled:
			flag = dimStyle.Render("disabled")
		}
		b.WriteString(fmt.Sprintf("  #%d %s %s prio=%d entity=%d:%d %s\n",
			in.ID,
			scriptStyle.Render(in.Module.Meta().Script),
			dimStyle.Render(in.Phase.String()),
			in.Priority,
			in.Entity.Index, in.Entity.Generation,
			flag))
	}
	if len(m.report.UpdateErrors) > 0 {
		b.WriteString(errStyle.Render(fmt.Sprintf("  %d update failures last frame\n", len(m.report.UpdateErrors))))
	}
	return b.String()
}

func (a *app) runInspector() error {
	p := tea.NewProgram(newInspectorModel(a), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
