package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func newBrowseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "browse <file>",
		Short: "Browse types and members interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isTerminal(a.out) {
				return fmt.Errorf("browse needs an interactive terminal; use 'clidump types --members' instead")
			}
			path := args[0]
			load := func() ([]typeInfo, error) {
				m, err := a.open(cmd.Context(), path)
				if err != nil {
					return nil, err
				}
				return collectTypes(m, true)
			}
			p := tea.NewProgram(newBrowseModel(path, load), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
}

type browseModel struct {
	err      error
	load     func() ([]typeInfo, error)
	filename string
	types    []typeInfo
	visible  []int
	filter   textinput.Model
	details  viewport.Model
	selected int
	width    int
	height   int
	loaded   bool
}

type typesLoadedMsg struct {
	err   error
	types []typeInfo
}

const listWidth = 40

func newBrowseModel(filename string, load func() ([]typeInfo, error)) *browseModel {
	ti := textinput.New()
	ti.Prompt = "/ "
	ti.Placeholder = "filter types"
	ti.Width = listWidth - 4

	return &browseModel{
		filename: filename,
		load:     load,
		filter:   ti,
		details:  viewport.New(40, 20),
		width:    80,
		height:   24,
	}
}

func (m *browseModel) Init() tea.Cmd {
	return m.loadTypes
}

func (m *browseModel) loadTypes() tea.Msg {
	types, err := m.load()
	return typesLoadedMsg{types: types, err: err}
}

func (m *browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case typesLoadedMsg:
		m.loaded = true
		m.err = msg.err
		m.types = msg.types
		m.applyFilter()
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.details.Width = max(msg.Width-listWidth-2, 10)
		m.details.Height = max(msg.Height-4, 3)
		m.refreshDetails()
		return m, nil

	case tea.KeyMsg:
		if m.filter.Focused() {
			switch msg.String() {
			case "esc":
				m.filter.Blur()
				m.filter.SetValue("")
				m.applyFilter()
				return m, nil
			case "enter":
				m.filter.Blur()
				return m, nil
			}
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.applyFilter()
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "/":
			return m, m.filter.Focus()
		case "up", "k":
			if m.selected > 0 {
				m.selected--
				m.refreshDetails()
			}
			return m, nil
		case "down", "j":
			if m.selected < len(m.visible)-1 {
				m.selected++
				m.refreshDetails()
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.details, cmd = m.details.Update(msg)
	return m, cmd
}

// applyFilter recomputes the visible types from the filter text.
func (m *browseModel) applyFilter() {
	q := strings.ToLower(m.filter.Value())
	m.visible = m.visible[:0]
	for i, t := range m.types {
		if q == "" || strings.Contains(strings.ToLower(t.Name), q) {
			m.visible = append(m.visible, i)
		}
	}
	m.selected = min(m.selected, max(len(m.visible)-1, 0))
	m.refreshDetails()
}

func (m *browseModel) current() (typeInfo, bool) {
	if m.selected >= len(m.visible) {
		return typeInfo{}, false
	}
	return m.types[m.visible[m.selected]], true
}

func (m *browseModel) refreshDetails() {
	t, ok := m.current()
	if !ok {
		m.details.SetContent(mutedStyle.Render("no matching types"))
		return
	}
	var b strings.Builder
	b.WriteString(typeStyle.Render(t.Name))
	b.WriteString(" " + mutedStyle.Render(t.Kind+" "+t.Token) + "\n")
	if t.Base != "" {
		b.WriteString(mutedStyle.Render("extends ") + t.Base + "\n")
	}
	for _, iface := range t.Interfaces {
		b.WriteString(mutedStyle.Render("implements ") + iface + "\n")
	}
	b.WriteString("\n")
	for _, mi := range t.Members {
		fmt.Fprintf(&b, "%-9s %s\n", mutedStyle.Render(mi.Kind), memberStyle.Render(memberLine(mi)))
	}
	m.details.SetContent(b.String())
	m.details.GotoTop()
}

func (m *browseModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if !m.loaded {
		return "Loading " + m.filename + "..."
	}

	var list strings.Builder
	list.WriteString(m.filter.View())
	list.WriteString("\n")
	rows := max(m.height-5, 1)
	start := max(0, m.selected-rows+1)
	for i := start; i < len(m.visible) && i < start+rows; i++ {
		name := m.types[m.visible[i]].Name
		if len(name) > listWidth-3 {
			name = "…" + name[len(name)-(listWidth-4):]
		}
		if i == m.selected {
			list.WriteString(selectedStyle.Render("> " + name))
		} else {
			list.WriteString("  " + name)
		}
		list.WriteString("\n")
	}

	left := lipgloss.NewStyle().Width(listWidth).Render(list.String())
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, m.details.View())

	header := titleStyle.Render("clidump") + " " + m.filename + mutedStyle.Render(fmt.Sprintf("  %d/%d types", len(m.visible), len(m.types)))
	help := mutedStyle.Render("↑/↓ select • / filter • pgup/pgdn scroll • q quit")
	return header + "\n\n" + body + "\n" + help
}
