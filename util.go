package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/whacked/ktest/config"
	"github.com/whacked/ktest/errors"
	"github.com/whacked/ktest/scenario"
)

func bailOnError(err error, withStack bool) {
	if err == nil {
		return
	}

	if withStack {
		fmt.Fprintln(os.Stderr, errors.ErrorWithStackTrace(err))
	}

	fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
	os.Exit(1)
}

func typeColor(typ config.TaskType) func(format string, a ...any) string {
	switch typ {
	case config.TypeBuild, config.TypePublish:
		return color.GreenString
	case config.TypeCommand:
		return color.MagentaString
	default:
		return color.CyanString
	}
}

// printVitalsForTask prints one line describing the task followed by its direct dependencies.
func printVitalsForTask(w io.Writer, p *plan, task *scenario.Task) {
	spec := p.spec(task)
	deps := p.ctx.DependenciesOf(task)

	fmt.Fprintf(w,
		"%s [%s] (%d)",
		typeColor(spec.Type)("%-10s", spec.Type),
		color.HiWhiteString("%s", task.Name()),
		len(deps),
	)

	if detail := describe(spec); detail != "" {
		fmt.Fprintf(w, " %s", color.BlueString("%s", detail))
	}

	fmt.Fprintln(w)

	if len(deps) > 0 {
		names := make([]string, len(deps))
		for i, dep := range deps {
			names[i] = dep.Name()
		}

		fmt.Fprintf(w, "  %s %s\n", "<--", color.YellowString("%s", strings.Join(names, ", ")))
	}
}

func describe(spec config.TaskSpec) string {
	switch spec.Type {
	case config.TypeBuild:
		var parts []string

		if spec.Revision != "" {
			parts = append(parts, "@"+spec.Revision)
		}

		if spec.Config != "" {
			parts = append(parts, spec.Config)
		} else {
			parts = append(parts, "defconfig")
		}

		if spec.Options != "" {
			parts = append(parts, spec.Options)
		}

		return strings.Join(parts, " ")
	case config.TypeBootEntry:
		return spec.Args
	case config.TypeCommand:
		if spec.Local {
			return "(local) " + spec.Run
		}

		return spec.Run
	case config.TypePublish:
		return "s3://" + strings.TrimSuffix(spec.Bucket+"/"+spec.Prefix, "/")
	}

	return ""
}
