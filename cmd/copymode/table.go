package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/copymode/internal/emailtable"
	"github.com/foxzi/copymode/internal/htmltable"
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Convert and inspect email copy tables",
}

var tableParseCmd = &cobra.Command{
	Use:   "parse <file|->",
	Short: "List the sections of a markdown or HTML table",
	Args:  cobra.ExactArgs(1),
	RunE:  runTableParse,
}

var tableRenderCmd = &cobra.Command{
	Use:   "render <file|->",
	Short: "Rewrite a table in canonical markdown form",
	Args:  cobra.ExactArgs(1),
	RunE:  runTableRender,
}

var tableHTMLCmd = &cobra.Command{
	Use:   "html <file|->",
	Short: "Convert a markdown table to an HTML table",
	Args:  cobra.ExactArgs(1),
	RunE:  runTableHTML,
}

var tableMarkdownCmd = &cobra.Command{
	Use:   "markdown <file|->",
	Short: "Convert an HTML table to a markdown table",
	Args:  cobra.ExactArgs(1),
	RunE:  runTableMarkdown,
}

func init() {
	tableCmd.AddCommand(tableParseCmd, tableRenderCmd, tableHTMLCmd, tableMarkdownCmd)
	rootCmd.AddCommand(tableCmd)
}

// readInput reads a file, or stdin when name is "-"
func readInput(cmd *cobra.Command, name string) (string, error) {
	var data []byte
	var err error
	if name == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(data), nil
}

func runTableParse(cmd *cobra.Command, args []string) error {
	content, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	printRows(cmd.OutOrStdout(), emailtable.Parse(htmltable.Normalize(content)))
	return nil
}

func printRows(out io.Writer, rows emailtable.Table) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No table rows found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSECTION\tCONTENT")
	for i, row := range rows {
		fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, row.Section, truncate(row.Content, 60))
	}
	w.Flush()
}

func runTableRender(cmd *cobra.Command, args []string) error {
	content, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	rows := emailtable.Parse(htmltable.Normalize(content))
	if len(rows) == 0 {
		return fmt.Errorf("no table found in %s", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), emailtable.Serialize(rows))
	return nil
}

func runTableHTML(cmd *cobra.Command, args []string) error {
	content, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), htmltable.FromMarkdown(content))
	return nil
}

func runTableMarkdown(cmd *cobra.Command, args []string) error {
	content, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	markdown, err := htmltable.ToMarkdown(content)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), markdown)
	return nil
}

// truncate shortens s to one line of at most n runes
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
