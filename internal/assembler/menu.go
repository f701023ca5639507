package assembler

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// PrintTools writes a table of tools.
func PrintTools(w io.Writer, tools []Tool) {
	if len(tools) == 0 {
		fmt.Fprintln(w, "No tools found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tTAGS\tDESCRIPTION")
	for _, t := range tools {
		version := t.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, version, strings.Join(t.Tags, ","), t.Description)
	}
	tw.Flush()
}

// PrintInfo writes a tool's metadata followed by its README.
func PrintInfo(w io.Writer, t Tool, readme string) {
	fmt.Fprintf(w, "Name: %s\n", t.Name)
	if t.Version != "" {
		fmt.Fprintf(w, "Version: %s\n", t.Version)
	}
	if t.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", t.Description)
	}
	if len(t.Tags) > 0 {
		fmt.Fprintf(w, "Tags: %s\n", strings.Join(t.Tags, ", "))
	}
	fmt.Fprintf(w, "\n%s\n", readme)
}

// Menu is the line-oriented interactive front end.
type Menu struct {
	m   *Manager
	in  *bufio.Scanner
	out io.Writer
}

// NewMenu reads choices from in and writes to out.
func NewMenu(m *Manager, in io.Reader, out io.Writer) *Menu {
	return &Menu{m: m, in: bufio.NewScanner(in), out: out}
}

func (mn *Menu) prompt(label string) (string, bool) {
	fmt.Fprint(mn.out, label)
	if !mn.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(mn.in.Text()), true
}

// Run shows the main menu until the user quits or input ends.
func (mn *Menu) Run(ctx context.Context) error {
	if err := mn.m.Ensure(ctx); err != nil {
		return err
	}
	for {
		fmt.Fprintln(mn.out, "\nAtomic Assembler")
		fmt.Fprintln(mn.out, "  1) List tools")
		fmt.Fprintln(mn.out, "  2) Show tool info")
		fmt.Fprintln(mn.out, "  3) Download tool")
		fmt.Fprintln(mn.out, "  4) Quit")
		choice, ok := mn.prompt("> ")
		if !ok {
			return mn.in.Err()
		}

		switch choice {
		case "1", "l", "list":
			tools, err := mn.m.List()
			if err != nil {
				return err
			}
			PrintTools(mn.out, tools)
		case "2", "i", "info":
			t, ok := mn.pickTool()
			if !ok {
				continue
			}
			PrintInfo(mn.out, t, mn.m.Readme(t))
		case "3", "d", "download":
			t, ok := mn.pickTool()
			if !ok {
				continue
			}
			dest, _ := mn.prompt("Destination directory [.]: ")
			if dest == "" {
				dest = "."
			}
			path, err := mn.m.Download(t, dest)
			if err != nil {
				fmt.Fprintf(mn.out, "Download failed: %v\n", err)
				continue
			}
			fmt.Fprintf(mn.out, "Downloaded %s to %s\n", t.Name, path)
		case "4", "q", "quit", "exit":
			return nil
		default:
			fmt.Fprintf(mn.out, "Unknown choice %q\n", choice)
		}
	}
}

func (mn *Menu) pickTool() (Tool, bool) {
	name, ok := mn.prompt("Tool name: ")
	if !ok || name == "" {
		return Tool{}, false
	}
	t, err := mn.m.Find(name)
	if err != nil {
		fmt.Fprintln(mn.out, err)
		return Tool{}, false
	}
	return t, true
}
