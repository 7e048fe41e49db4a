// internal/ui/picker.go

// Pakiet ui zawiera cienkie widoki bubbletea: wybór hosta i prompt
// zaufania klucza. Cała logika sesji żyje w internal/session.
package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"prossh/internal/models"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	legacyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

// hostItem adaptuje modelowego hosta do elementu listy
type hostItem struct {
	host models.Host
}

func (i hostItem) Title() string { return i.host.Name }

func (i hostItem) Description() string {
	desc := fmt.Sprintf("%s@%s", i.host.Username, i.host.Address())
	if i.host.LegacyMode {
		desc += legacyStyle.Render("  [legacy]")
	}
	if len(i.host.ForwardRules) > 0 {
		desc += statusStyle.Render(fmt.Sprintf("  %d forward(s)", len(i.host.ForwardRules)))
	}
	return desc
}

func (i hostItem) FilterValue() string { return i.host.Name + " " + i.host.Hostname }

// PickerModel to widok wyboru hosta. Po zatwierdzeniu Choice zawiera
// wybranego hosta.
type PickerModel struct {
	list     list.Model
	Choice   *models.Host
	Quitting bool
}

// NewPicker tworzy widok wyboru z listą hostów
func NewPicker(hosts []models.Host) PickerModel {
	items := make([]list.Item, 0, len(hosts))
	for _, h := range hosts {
		items = append(items, hostItem{host: h})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "prossh - select host"
	l.Styles.Title = titleStyle
	l.SetShowStatusBar(false)

	return PickerModel{list: l}
}

func (m PickerModel) Init() tea.Cmd {
	return nil
}

func (m PickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height-1)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.Quitting = true
			return m, tea.Quit
		case "enter":
			if item, ok := m.list.SelectedItem().(hostItem); ok {
				host := item.host
				m.Choice = &host
				return m, tea.Quit
			}
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m PickerModel) View() string {
	if m.Quitting || m.Choice != nil {
		return ""
	}
	return m.list.View() + "\n" + statusStyle.Render("enter: connect  q: quit")
}
