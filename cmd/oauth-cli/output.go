package main

import (
	"fmt"
	"io"
	"time"

	"charm.land/lipgloss/v2"
	"golang.org/x/oauth2"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#2ea44f")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#cb2431")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#d29922"))
	labelStyle   = lipgloss.NewStyle().Faint(true).Width(14)
	urlStyle     = lipgloss.NewStyle().Underline(true)
)

func printSuccess(w io.Writer, msg string) {
	fmt.Fprintln(w, successStyle.Render("✓ "+msg))
}

func printError(w io.Writer, msg string) {
	fmt.Fprintln(w, errorStyle.Render("✗ "+msg))
}

func printWarning(w io.Writer, msg string) {
	fmt.Fprintln(w, warnStyle.Render("WARNING: "+msg))
}

func printField(w io.Writer, label, value string) {
	fmt.Fprintln(w, labelStyle.Render(label+":")+" "+value)
}

// printTokenInfo shows a shortened access token and its lifetime.
func printTokenInfo(w io.Writer, tok *oauth2.Token) error {
	if tok == nil {
		return nil
	}
	preview := tok.AccessToken
	if len(preview) > 50 {
		preview = preview[:50] + "..."
	}
	printField(w, "Access Token", preview)
	printField(w, "Token Type", tok.TokenType)
	if !tok.Expiry.IsZero() {
		printField(w, "Expires In", time.Until(tok.Expiry).Round(time.Second).String())
	}
	printField(w, "Refresh", fmt.Sprintf("%t", tok.RefreshToken != ""))
	return nil
}
