// Interactive console front end for Kestrel.
//
// Usage:
//
//	go run ./cmd/kestrel-console
//	go run ./cmd/kestrel-console -answers "high fever=y,body ache=yes,fatigue"
//	go run ./cmd/kestrel-console -catalogue ./neuro.yaml -temp 38.6
//
// Without -answers it asks about every symptom of the catalogue in sorted
// order, then prints the reasoning trace, the summary and the explanation
// of the top condition.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/engine"
	"github.com/opensource-health/kestrel/internal/intake"
	"github.com/opensource-health/kestrel/internal/render"
	"github.com/opensource-health/kestrel/internal/report"
	"github.com/opensource-health/kestrel/internal/rulebase"
)

// Conditions this close to the top one are listed as alternatives when the
// diagnosis is not HIGH.
const differentialMargin = 10.0

func main() {
	cataloguePath := flag.String("catalogue", "", "Path to a YAML catalogue (default: built-in respiratory)")
	answers := flag.String("answers", "", `Predefined answers, e.g. "high fever=y,body ache=yes"`)
	temp := flag.Float64("temp", 0, "Body temperature in °C used to derive fever symptoms (0 = not measured)")
	color := flag.Bool("color", true, "Colorize output")
	asJSON := flag.Bool("json", false, "Print the diagnosis as JSON")
	high := flag.Float64("high", engine.DefaultThresholds().High, "HIGH confidence threshold in percent")
	medium := flag.Float64("medium", engine.DefaultThresholds().Medium, "MEDIUM confidence threshold in percent")
	debug := flag.Bool("debug", false, "Log debug output to stderr")
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(*cataloguePath, *answers, *temp, *color, *asJSON, engine.Thresholds{High: *high, Medium: *medium}); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cataloguePath, answers string, temp float64, color, asJSON bool, thresholds engine.Thresholds) error {
	if err := thresholds.Validate(); err != nil {
		return err
	}

	rb, catalogueID, err := loadRuleBase(cataloguePath)
	if err != nil {
		return err
	}
	slog.Debug("rule base loaded",
		"catalogue_id", catalogueID,
		"conditions", rb.Len(),
		"symptoms", len(rb.Symptoms()),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	console := render.NewConsole(os.Stdout, color && !asJSON)
	console.Thresholds = thresholds

	start := time.Now()

	var (
		obs      domain.Observations
		answered map[string]bool
	)
	if answers != "" {
		raw, err := intake.ParseAnswerList(answers)
		if err != nil {
			return err
		}
		if obs, err = intake.BuildObservations(rb, raw); err != nil {
			return err
		}
		answered = intake.Answered(raw)
	} else {
		if !asJSON {
			console.Intro()
		}
		obs, err = intake.NewPrompter(os.Stdin, os.Stdout).Ask(ctx, rb)
		if errors.Is(err, intake.ErrInputClosed) || errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "\ninput ended before all questions were answered")
			return nil
		}
		if err != nil {
			return err
		}
		// Every symptom was asked, so probes never override.
		answered = make(map[string]bool, len(obs))
		for k := range obs {
			answered[k] = true
		}
	}

	if temp > 0 {
		deriver, err := intake.NewDeriver(intake.ProbesFromConfig(domain.DefaultConfig().Probes))
		if err != nil {
			return err
		}
		obs = deriver.Apply(rb, obs, answered, map[string]float64{"temperature_c": temp})
	}

	processor := report.NewProcessor()
	processor.Thresholds = thresholds

	diag, err := processor.Process(ctx, &report.Input{
		CatalogueID:  catalogueID,
		RuleBase:     rb,
		Observations: obs,
		StartTime:    start,
	})
	if err != nil {
		var ioe *domain.InvalidObservationError
		if errors.As(err, &ioe) {
			return fmt.Errorf("unknown symptoms %v; known symptoms are %v", ioe.Symptoms, rb.Symptoms())
		}
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(diag)
	}

	var rules []string
	if c, ok := rb.Condition(diag.Top.Name); ok {
		for _, s := range c.Symptoms {
			rules = append(rules, s.Symptom)
		}
	}
	console.Diagnosis(diag, rules)

	if !report.IsConfident(diag) {
		if alt := report.Differential(diag, differentialMargin); len(alt) > 1 {
			fmt.Printf("\nAlso consider: %s\n", strings.Join(alt[1:], ", "))
		}
	}
	return nil
}

func loadRuleBase(path string) (*rulebase.RuleBase, string, error) {
	if path == "" {
		return rulebase.Respiratory(), domain.DefaultCatalogue, nil
	}
	rb, err := rulebase.LoadFile(path)
	if err != nil {
		return nil, "", err
	}
	return rb, path, nil
}
