package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/wudi/pdfmark/assembler"
	"github.com/wudi/pdfmark/config"
	"github.com/wudi/pdfmark/contentstream"
	"github.com/wudi/pdfmark/engine"
	"github.com/wudi/pdfmark/extractor"
	"github.com/wudi/pdfmark/locator"
	"github.com/wudi/pdfmark/marker"
	"github.com/wudi/pdfmark/parser"
	"github.com/wudi/pdfmark/summary"
)

func parseFlags(fs *flag.FlagSet, args []string, positional int) error {
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if positional >= 0 && fs.NArg() != positional {
		fs.Usage()
		return fmt.Errorf("%w: expected %d argument(s), got %d", errUsage, positional, fs.NArg())
	}
	return nil
}

func runDetect(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	rules := fs.String("rules", "", "Comma separated numbering rules: dot, paren, q, bracketed, question (default all)")
	out := fs.String("o", "", "Write the template JSON to this file instead of stdout")
	if err := parseFlags(fs, args, 1); err != nil {
		return err
	}
	selected, err := locator.ParseRules(*rules)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	tpl, err := engine.New(engine.Config{Rules: selected, Logger: env.logger()}).BuildTemplate(ctx, data)
	if err != nil {
		return err
	}
	if tpl.Empty() {
		fmt.Fprintln(env.stderr, "no questions detected, check document formatting")
	}
	if *out == "" {
		return emitJSON(env.stdout, tpl)
	}
	encoded, err := tpl.MarshalJSON()
	if err != nil {
		return err
	}
	return assembler.WriteFile(*out, encoded, 0o644)
}

func runMark(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("mark", flag.ContinueOnError)
	tplPath := fs.String("template", "", "Template JSON from detect (default: detect now)")
	verdictsPath := fs.String("verdicts", "", "Verdicts JSON: {\"1\": true} or [{\"question\":1,\"correct\":true}]")
	out := fs.String("out", "", "Output PDF path")
	owner := fs.String("owner", "", "Candidate name for the summary")
	subject := fs.String("subject", "", "Exam name for the summary")
	profilePath := fs.String("profile", os.Getenv("PDFMARK_PROFILE"), "YAML render profile")
	uncompressed := fs.Bool("uncompressed", false, "Write overlay streams without Flate")
	if err := parseFlags(fs, args, 1); err != nil {
		return err
	}
	if *verdictsPath == "" || *out == "" {
		fs.Usage()
		return fmt.Errorf("%w: -verdicts and -out are required", errUsage)
	}
	profile, err := config.LoadProfile(*profilePath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	raw, err := os.ReadFile(*verdictsPath)
	if err != nil {
		return fmt.Errorf("read verdicts: %w", err)
	}
	verdicts, err := marker.ParseVerdicts(raw)
	if err != nil {
		return err
	}

	cfg := engine.Config{Style: profile.Style, Layout: profile.Summary, Logger: env.logger()}
	cfg.Writer.Uncompressed = *uncompressed
	e := engine.New(cfg)
	var tpl *locator.Template
	if *tplPath != "" {
		encoded, err := os.ReadFile(*tplPath)
		if err != nil {
			return fmt.Errorf("read template: %w", err)
		}
		if tpl, err = locator.Decode(encoded); err != nil {
			return err
		}
	} else if tpl, err = e.BuildTemplate(ctx, data); err != nil {
		return err
	}

	res := e.RenderToFile(ctx, data, tpl, engine.Job{
		Verdicts: verdicts,
		Labels:   summary.Labels{Owner: *owner, Subject: *subject, Timestamp: time.Now()},
	}, *out)
	if err := emitJSON(env.stdout, res); err != nil {
		return err
	}
	return res.Err
}

type pageReport struct {
	Index    int     `json:"index"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Runs     int     `json:"runs"`
	Painted  int     `json:"painted_ops"`
	Rotation int     `json:"rotate,omitempty"`
}

type inspectReport struct {
	Pages     []pageReport         `json:"pages"`
	Fonts     []extractor.FontInfo `json:"fonts"`
	Repaired  bool                 `json:"repaired"`
	Detected  int                  `json:"detected"`
	Rejected  int                  `json:"rejected"`
	Questions []locator.Anchor     `json:"questions"`
}

func runInspect(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	if err := parseFlags(fs, args, 1); err != nil {
		return err
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	ex := extractor.New(extractor.Config{Logger: env.logger()})
	var report inspectReport
	err = ex.With(ctx, data, func(doc *parser.Document) error {
		report.Repaired = doc.Repaired()
		pages, err := doc.Pages(ctx)
		if err != nil {
			return err
		}
		tracer := contentstream.NewTracer()
		for _, p := range pages {
			frame := p.Frame()
			pr := pageReport{Index: p.Index, Width: frame.Width(), Height: frame.Height(), Rotation: p.Rotate}
			content, err := doc.PageContent(ctx, p)
			if err != nil {
				return err
			}
			if ops, err := contentstream.Parse(content); err == nil {
				if boxes, err := tracer.Trace(ctx, ops); err == nil {
					pr.Painted = len(boxes)
				}
			}
			report.Pages = append(report.Pages, pr)
		}
		if report.Fonts, err = extractor.Fonts(ctx, doc); err != nil {
			return err
		}
		return ex.Document(ctx, doc, func(runs extractor.PageRuns) error {
			report.Pages[runs.Index].Runs = len(runs.Runs)
			return nil
		})
	})
	if err != nil {
		return err
	}
	tpl, err := engine.New(engine.Config{Logger: env.logger()}).BuildTemplate(ctx, data)
	if err != nil {
		return err
	}
	report.Detected = tpl.DetectedCount()
	report.Rejected = tpl.Rejected()
	report.Questions = tpl.Anchors()
	return emitJSON(env.stdout, report)
}
