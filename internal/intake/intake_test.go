package intake

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/rulebase"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		in      string
		present bool
		ok      bool
	}{
		{"y", true, true},
		{"Yes", true, true},
		{" YES ", true, true},
		{"n", false, true},
		{"NO", false, true},
		{"yeah", false, false},
		{"", false, false},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		present, ok := ParseReply(tt.in)
		if present != tt.present || ok != tt.ok {
			t.Errorf("ParseReply(%q) = (%v, %v), want (%v, %v)", tt.in, present, ok, tt.present, tt.ok)
		}
	}
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    bool
		wantErr bool
	}{
		{"Nil", nil, false, false},
		{"True", true, true, false},
		{"False", false, false, false},
		{"Y", "y", true, false},
		{"Yeah", "Yeah", true, false},
		{"No", "no", false, false},
		{"Other", "sometimes", false, false},
		{"Empty", "", false, false},
		{"One", float64(1), true, false},
		{"Zero", 0, false, false},
		{"JSONNumber", json.Number("2"), true, false},
		{"BadJSONNumber", json.Number("x"), false, true},
		{"Map", map[string]any{}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAnswer(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAnswer(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAnswer(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseAnswerList(t *testing.T) {
	answers, err := ParseAnswerList("high fever=y, body ache = yes,fatigue, dry cough=n,")
	if err != nil {
		t.Fatalf("ParseAnswerList failed: %v", err)
	}
	if len(answers) != 4 {
		t.Fatalf("expected 4 answers, got %v", answers)
	}
	if answers["body ache"] != "yes" || answers["fatigue"] != true || answers["dry cough"] != "n" {
		t.Errorf("unexpected answers: %v", answers)
	}

	if _, err := ParseAnswerList("=y"); err == nil {
		t.Error("expected error for missing symptom")
	}
}

func TestBuildObservations(t *testing.T) {
	rb := rulebase.Respiratory()

	obs, err := BuildObservations(rb, map[string]any{
		"High Fever": "yes",
		"Body Ache":  true,
		"fatigue":    "n",
		"hiccups":    "y",
	})
	if err != nil {
		t.Fatalf("BuildObservations failed: %v", err)
	}

	for _, s := range rb.Symptoms() {
		if _, ok := obs[s]; !ok {
			t.Errorf("expected symptom %q to be covered", s)
		}
	}
	if !obs["high fever"] || !obs["body ache"] || obs["fatigue"] {
		t.Errorf("unexpected observations: %v", obs)
	}
	if !obs["hiccups"] {
		t.Error("unknown keys must be kept for evaluation to reject")
	}

	if _, err := BuildObservations(rb, map[string]any{"fever": []int{1}}); !errors.Is(err, domain.ErrInvalidObservation) {
		t.Errorf("expected ErrInvalidObservation for unsupported answer type, got %v", err)
	}
}

func TestPrompter(t *testing.T) {
	rb, err := rulebase.New([]domain.Condition{
		{Name: "Flu", Symptoms: []domain.SymptomWeight{{Symptom: "fever", Weight: 3}, {Symptom: "cough", Weight: 2}}},
	})
	if err != nil {
		t.Fatalf("rulebase.New failed: %v", err)
	}

	t.Run("ReasksOnInvalid", func(t *testing.T) {
		var out strings.Builder
		p := NewPrompter(strings.NewReader("maybe\nY\nno\n"), &out)

		obs, err := p.Ask(context.Background(), rb)
		if err != nil {
			t.Fatalf("Ask failed: %v", err)
		}
		// Symptoms are asked in sorted order: cough, fever.
		if !obs["cough"] || obs["fever"] {
			t.Errorf("unexpected observations: %v", obs)
		}

		text := out.String()
		if strings.Count(text, "Do you have 'cough'? [y/n]: ") != 2 {
			t.Errorf("expected cough asked twice, got:\n%s", text)
		}
		if !strings.Contains(text, "Please answer 'y' or 'n'.") {
			t.Errorf("expected retry hint, got:\n%s", text)
		}
	})

	t.Run("EOF", func(t *testing.T) {
		p := NewPrompter(strings.NewReader("y\n"), io.Discard)
		_, err := p.Ask(context.Background(), rb)
		if !errors.Is(err, ErrInputClosed) {
			t.Errorf("expected ErrInputClosed, got %v", err)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		pr, pw := io.Pipe()
		defer pw.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		p := NewPrompter(pr, io.Discard)
		_, err := p.Ask(ctx, rb)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("CancelStopsReader", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		// Endless invalid replies keep both Ask and the reader busy.
		p := NewPrompter(endlessReader("maybe\n"), io.Discard)
		if _, err := p.Ask(ctx, rb); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}

		deadline := time.After(time.Second)
		for {
			select {
			case _, ok := <-p.lines:
				if !ok {
					return
				}
			case <-deadline:
				t.Fatal("line reader still running after Ask returned")
			}
		}
	})

	t.Run("ReadError", func(t *testing.T) {
		errDevice := errors.New("device unplugged")
		p := NewPrompter(iotest.ErrReader(errDevice), io.Discard)

		_, err := p.Ask(context.Background(), rb)
		if !errors.Is(err, errDevice) {
			t.Errorf("expected read error, got %v", err)
		}
		if errors.Is(err, ErrInputClosed) {
			t.Error("a read failure is not a clean end of input")
		}
	})
}

type endlessReader string

func (r endlessReader) Read(b []byte) (int, error) {
	n := 0
	for n < len(b) {
		n += copy(b[n:], string(r))
	}
	return n, nil
}

func TestDeriver(t *testing.T) {
	d, err := NewDeriver(ProbesFromConfig(domain.DefaultConfig().Probes))
	if err != nil {
		t.Fatalf("NewDeriver failed: %v", err)
	}
	if d.Len() != 4 {
		t.Fatalf("expected 4 probes, got %d", d.Len())
	}

	t.Run("Derive", func(t *testing.T) {
		derived := d.Derive(map[string]float64{"temperature_c": 39.4})
		if !derived["high fever"] || !derived["fever"] || derived["mild fever"] || derived["no fever"] {
			t.Errorf("unexpected derived symptoms: %v", derived)
		}
	})

	t.Run("MissingMeasurement", func(t *testing.T) {
		derived := d.Derive(map[string]float64{"heart_rate": 80})
		if len(derived) != 0 {
			t.Errorf("expected nothing derived, got %v", derived)
		}
	})

	t.Run("ApplyKeepsExplicitAnswers", func(t *testing.T) {
		rb := rulebase.Respiratory()
		answers := map[string]any{"fever": "n"}
		obs, err := BuildObservations(rb, answers)
		if err != nil {
			t.Fatalf("BuildObservations failed: %v", err)
		}

		out := d.Apply(rb, obs, Answered(answers), map[string]float64{"temperature_c": 39.4})
		if out["fever"] {
			t.Error("explicit answer must win over derived value")
		}
		if !out["high fever"] {
			t.Error("expected high fever derived")
		}
		if obs["high fever"] {
			t.Error("Apply must not modify its input")
		}
	})

	t.Run("ApplyDropsUnknown", func(t *testing.T) {
		rb, _ := rulebase.New([]domain.Condition{
			{Name: "Cold", Symptoms: []domain.SymptomWeight{{Symptom: "sneezing", Weight: 1}}},
		})
		out := d.Apply(rb, domain.Observations{}, nil, map[string]float64{"temperature_c": 39.4})
		if len(out) != 0 {
			t.Errorf("expected unknown derived symptoms dropped, got %v", out)
		}
	})

	t.Run("CompileErrors", func(t *testing.T) {
		if _, err := NewDeriver([]Probe{{Symptom: "fever", Expression: "m.temperature_c >="}}); err == nil {
			t.Error("expected syntax error")
		}
		if _, err := NewDeriver([]Probe{{Symptom: "fever", Expression: "m.temperature_c + 1.0"}}); err == nil {
			t.Error("expected non-bool error")
		}
		if _, err := NewDeriver([]Probe{{Symptom: " ", Expression: "true"}}); err == nil {
			t.Error("expected blank symptom error")
		}
	})
}
