package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	primaryColor = lipgloss.Color("#1E90FF")
	goodColor    = lipgloss.Color("#00AA00")
	badColor     = lipgloss.Color("#CC3333")
	mutedColor   = lipgloss.Color("#888888")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	successStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(goodColor)

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(badColor)

	keyStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Bold(true)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginTop(1)

	flagStyle = lipgloss.NewStyle().
			Foreground(goodColor).
			Bold(true)
)

func printError(message string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("Error:"), message)
}

func printSuccess(message string) {
	fmt.Println(successStyle.Render(message))
}

func printKV(key string, value any) {
	fmt.Printf("   %s %s\n", keyStyle.Render(key+":"), valueStyle.Render(fmt.Sprint(value)))
}

func formatDuration(ms int) string {
	secs := ms / 1000
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// styledHelpPrinter renders kong help with lipgloss headings.
func styledHelpPrinter() kong.HelpPrinter {
	return func(options kong.HelpOptions, ctx *kong.Context) error {
		var sb strings.Builder

		sb.WriteString(titleStyle.Render("acousticid"))
		sb.WriteString("\n")
		sb.WriteString(ctx.Model.Help)
		sb.WriteString("\n")

		node := ctx.Selected()
		if node == nil {
			node = ctx.Model.Node
		}

		sb.WriteString(sectionStyle.Render("Usage:"))
		sb.WriteString("\n  ")
		sb.WriteString(ctx.Model.Name)
		if node != ctx.Model.Node {
			sb.WriteString(" " + node.Path())
		}
		sb.WriteString(" [flags]")
		for _, arg := range node.Positional {
			sb.WriteString(" " + arg.Summary())
		}
		sb.WriteString("\n")

		if cmds := node.Leaves(true); node == ctx.Model.Node && len(cmds) > 0 {
			sb.WriteString(sectionStyle.Render("Commands:"))
			sb.WriteString("\n")
			for _, c := range cmds {
				fmt.Fprintf(&sb, "  %s %s\n", flagStyle.Render(fmt.Sprintf("%-12s", c.Name)), c.Help)
			}
		}

		sb.WriteString(sectionStyle.Render("Flags:"))
		sb.WriteString("\n")
		for _, group := range node.AllFlags(true) {
			for _, f := range group {
				if f.Hidden {
					continue
				}
				name := "--" + f.Name
				if f.Short != 0 {
					name = fmt.Sprintf("-%c, %s", f.Short, name)
				}
				fmt.Fprintf(&sb, "  %s  %s", flagStyle.Render(name), f.Help)
				if f.Default != "" {
					fmt.Fprintf(&sb, " (default: %s)", f.Default)
				}
				if f.Envs != nil {
					fmt.Fprintf(&sb, " ($%s)", strings.Join(f.Envs, ", $"))
				}
				sb.WriteString("\n")
			}
		}

		fmt.Fprint(ctx.Stdout, sb.String())
		return nil
	}
}
