// internal/ui/trust.go

package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	sshx "prossh/internal/ssh"
)

var (
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	fieldStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle  = lipgloss.NewStyle().Bold(true)
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
)

// TrustModel to prompt decyzji o zaufaniu kluczowi hosta. Accepted
// jest true wyłącznie po jawnym "y"; każda inna odpowiedź odrzuca.
type TrustModel struct {
	Challenge sshx.Challenge
	Accepted  bool
	done      bool
}

// NewTrustPrompt tworzy prompt dla wyzwania weryfikacji
func NewTrustPrompt(challenge sshx.Challenge) TrustModel {
	return TrustModel{Challenge: challenge}
}

func (m TrustModel) Init() tea.Cmd {
	return nil
}

func (m TrustModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "y", "Y":
			m.Accepted = true
			m.done = true
			return m, tea.Quit
		case "n", "N", "esc", "ctrl+c", "q":
			m.done = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m TrustModel) View() string {
	if m.done {
		return ""
	}

	c := m.Challenge
	var header string
	if c.IsMismatch {
		header = warnStyle.Render("WARNING: HOST KEY HAS CHANGED") +
			"\nThe key presented by the server does not match the recorded one.\n" +
			"This may indicate a man-in-the-middle attack.\n\n"
	} else {
		header = promptStyle.Render("Unknown host") + "\n\n"
	}

	body := fmt.Sprintf("%s %s\n%s %s\n%s %s\n",
		fieldStyle.Render("Host:       "), valueStyle.Render(c.Address()),
		fieldStyle.Render("Key type:   "), valueStyle.Render(c.KeyType),
		fieldStyle.Render("Fingerprint:"), valueStyle.Render(c.Fingerprint))
	if c.ExpectedFingerprint != nil {
		body += fmt.Sprintf("%s %s\n",
			fieldStyle.Render("Expected:   "), valueStyle.Render(*c.ExpectedFingerprint))
	}

	return header + body + "\n" + promptStyle.Render("Trust this key? [y/N] ")
}
