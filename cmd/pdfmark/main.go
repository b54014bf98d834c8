// Command pdfmark detects question numbering in exam PDFs and renders marked
// copies.
//
//	pdfmark detect  [-rules dot,paren] [-o template.json] <pdf>
//	pdfmark mark    -verdicts v.json -out marked.pdf [-template t.json] [-owner ..] [-subject ..] [-profile p.yaml] <pdf>
//	pdfmark inspect <pdf>
//	pdfmark upload  -document ID <pdf>
//	pdfmark submit  -document ID -submission ID -verdicts v.json [-owner ..] [-subject ..] [-actor ..]
//	pdfmark rebuild -document ID [-actor ..]
//	pdfmark stats   <submission>...
//
// upload, submit, rebuild and stats use the backends configured through the
// environment (see package config).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wudi/pdfmark/observability"
)

type command struct {
	name string
	run  func(ctx context.Context, env *cliEnv, args []string) error
}

var commands = []command{
	{"detect", runDetect},
	{"mark", runMark},
	{"inspect", runInspect},
	{"upload", runUpload},
	{"submit", runSubmit},
	{"rebuild", runRebuild},
	{"stats", runStats},
}

// cliEnv carries output streams and the logger to subcommands.
type cliEnv struct {
	stdout io.Writer
	stderr io.Writer
	log    *logrus.Logger
}

func (e *cliEnv) logger() observability.Logger { return observability.NewLogrus(e.log) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	log := observability.NewJSONLogrus(os.Getenv("LOG_LEVEL"))
	log.SetOutput(os.Stderr)
	err := run(ctx, &cliEnv{stdout: os.Stdout, stderr: os.Stderr, log: log}, os.Args[1:])
	if errors.Is(err, errUsage) {
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfmark: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func run(ctx context.Context, env *cliEnv, args []string) error {
	if len(args) == 0 {
		usage(env.stderr)
		return errUsage
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(ctx, env, args[1:])
		}
	}
	usage(env.stderr)
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func usage(w io.Writer) {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = c.name
	}
	fmt.Fprintf(w, "Usage: pdfmark <%s> [flags]\n", strings.Join(names, "|"))
}

func emitJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
