// Package report renders a human-readable run summary (SPEC_FULL.md §4.5
// ADD) through a pongo2 template, grounded on the teacher's
// common/jinja2 wrapper (Environment.From_string / Template.Render) —
// generalized here from runtime G-code macro templating to static report
// templating over a finished engine.Result.
package report

import (
	pongo2 "github.com/flosch/pongo2/v5"

	"github.com/atsju/ArcWelderLib/internal/engine"
)

const defaultTemplate = `{{ source_path }} -> {{ target_path }}: ` +
	`{% if cancelled %}cancelled after {{ bytes_read }} of {{ total_bytes }} bytes{% else %}` +
	`{{ arcs_emitted }} arc{{ arcs_emitted|pluralize }} emitted, ` +
	`{{ source_length_mm|floatformat:1 }}mm -> {{ target_length_mm|floatformat:1 }}mm ` +
	`({{ compression_percent|floatformat:1 }}% shorter), ` +
	`{{ elapsed_seconds|floatformat:2 }}s{% endif %}.`

// Renderer renders run summaries from a single compiled template, so a
// long-running batch conversion compiles the template once.
type Renderer struct {
	tpl *pongo2.Template
}

// New compiles tplSource (or the built-in one-paragraph summary when
// tplSource is empty) into a Renderer.
func New(tplSource string) (*Renderer, error) {
	if tplSource == "" {
		tplSource = defaultTemplate
	}
	env := pongo2.NewSet("arcweld-report", pongo2.DefaultLoader)
	tpl, err := env.FromString(tplSource)
	if err != nil {
		return nil, err
	}
	return &Renderer{tpl: tpl}, nil
}

// Render renders one summary line for sourcePath/targetPath and res.
func (rd *Renderer) Render(sourcePath, targetPath string, res engine.Result) (string, error) {
	ctx := pongo2.Context{
		"source_path":         sourcePath,
		"target_path":         targetPath,
		"cancelled":           res.Cancelled,
		"bytes_read":          res.Final.BytesRead,
		"total_bytes":         res.Final.TotalBytes,
		"arcs_emitted":        res.Final.ArcsEmitted,
		"source_length_mm":    res.SourceLengthMM,
		"target_length_mm":    res.TargetLengthMM,
		"compression_percent": res.CompressionPercent,
		"elapsed_seconds":     res.Final.ElapsedSeconds,
	}
	return rd.tpl.Execute(ctx)
}
