package report

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title    lipgloss.Style
	header   lipgloss.Style
	success  lipgloss.Style
	failure  lipgloss.Style
	neutral  lipgloss.Style
	account  lipgloss.Style
	detail   lipgloss.Style
	artifact lipgloss.Style
	section  lipgloss.Style
	empty    lipgloss.Style
	key      lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true),
		header:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		success:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		failure:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		neutral:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("250")),
		account:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		detail:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		artifact: lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		section:  lipgloss.NewStyle().MarginTop(1),
		empty:    lipgloss.NewStyle().Faint(true),
		key:      lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
	}
}
