// Package ui styles the rhythm CLI's terminal output with lipgloss.
//
// A [Palette] renders titles, success and failure lines, and job statuses. Colors degrade to plain text
// when output is not a terminal.
package ui
