// Package output renders search results for the CLI and MCP surfaces.
// Machine formats write only the payload to stdout; everything else goes
// to stderr.
package output

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/uf-hy/qmdr/internal/search"
)

// Format selects the output rendering.
type Format string

const (
	FormatCLI   Format = "cli"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatMD    Format = "md"
	FormatXML   Format = "xml"
	FormatFiles Format = "files"
)

// Machine reports whether the format is a machine format, i.e. stdout must
// carry only the payload and logs belong on stderr.
func (f Format) Machine() bool {
	return f != FormatCLI && f != ""
}

// Render formats results. The zero format renders the human CLI view.
func Render(results []*search.Result, format Format) (string, error) {
	switch format {
	case FormatJSON:
		return renderJSON(results)
	case FormatCSV:
		return renderCSV(results)
	case FormatMD:
		return renderMD(results), nil
	case FormatXML:
		return renderXML(results)
	case FormatFiles:
		return renderFiles(results), nil
	default:
		return renderCLI(results), nil
	}
}

func renderJSON(results []*search.Result) (string, error) {
	if results == nil {
		results = []*search.Result{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}

func renderCSV(results []*search.Result) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write([]string{"docid", "score", "file", "title", "snippet"}); err != nil {
		return "", err
	}
	for _, r := range results {
		if err := w.Write([]string{
			r.Docid,
			fmt.Sprintf("%.4f", r.Score),
			r.File,
			r.Title,
			r.Snippet,
		}); err != nil {
			return "", err
		}
	}
	w.Flush()
	return b.String(), w.Error()
}

func renderMD(results []*search.Result) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "## %d. %s (%.2f)\n\n", i+1, r.File, r.Score)
		if r.Title != "" {
			fmt.Fprintf(&b, "**%s**", r.Title)
			if r.Docid != "" {
				fmt.Fprintf(&b, " `#%s`", r.Docid)
			}
			b.WriteString("\n\n")
		}
		if r.Context != "" {
			fmt.Fprintf(&b, "> %s\n\n", r.Context)
		}
		b.WriteString(r.Body)
		b.WriteString("\n\n")
	}
	return b.String()
}

// xmlResult mirrors search.Result for XML rendering.
type xmlResult struct {
	XMLName xml.Name `xml:"result"`
	Docid   string   `xml:"docid,attr,omitempty"`
	Score   float64  `xml:"score,attr"`
	File    string   `xml:"file"`
	Title   string   `xml:"title"`
	Context string   `xml:"context,omitempty"`
	Snippet string   `xml:"snippet"`
	Body    string   `xml:"body"`
}

func renderXML(results []*search.Result) (string, error) {
	type wrapper struct {
		XMLName xml.Name    `xml:"results"`
		Items   []xmlResult `xml:"result"`
	}
	w := wrapper{}
	for _, r := range results {
		w.Items = append(w.Items, xmlResult{
			Docid: r.Docid, Score: r.Score, File: r.File,
			Title: r.Title, Context: r.Context,
			Snippet: r.Snippet, Body: r.Body,
		})
	}
	data, err := xml.MarshalIndent(w, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}

func renderFiles(results []*search.Result) string {
	var b strings.Builder
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		if _, dup := seen[r.File]; dup {
			continue
		}
		seen[r.File] = struct{}{}
		b.WriteString(r.File)
		b.WriteByte('\n')
	}
	return b.String()
}

func renderCLI(results []*search.Result) string {
	if len(results) == 0 {
		return "no results\n"
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "%.2f  %s", r.Score, r.File)
		if r.Docid != "" {
			fmt.Fprintf(&b, "  #%s", r.Docid)
		}
		b.WriteByte('\n')
		if r.Title != "" {
			fmt.Fprintf(&b, "      %s\n", r.Title)
		}
		if r.Context != "" {
			fmt.Fprintf(&b, "      (%s)\n", r.Context)
		}
		for _, also := range r.AlsoIn {
			fmt.Fprintf(&b, "      also in %s\n", also)
		}
		if r.Snippet != "" {
			fmt.Fprintf(&b, "      %s\n", strings.ReplaceAll(r.Snippet, "\n", " "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseFormat maps a flag name to a format.
func ParseFormat(json, csvFlag, md, xmlFlag, files bool) Format {
	switch {
	case json:
		return FormatJSON
	case csvFlag:
		return FormatCSV
	case md:
		return FormatMD
	case xmlFlag:
		return FormatXML
	case files:
		return FormatFiles
	default:
		return FormatCLI
	}
}
