package classify

import (
	"testing"

	"github.com/resolvix/collector/internal/model"
)

func TestClassifyNoKeyword(t *testing.T) {
	hit, _ := Classify("GET /index.html 200 OK")
	if hit {
		t.Error("expected clean line not to classify")
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	hit, sev := Classify("FATAL: disk on fire")
	if !hit || sev != model.SeverityCritical {
		t.Errorf("expected critical, got hit=%v sev=%q", hit, sev)
	}
}

func TestClassifySeverityOrder(t *testing.T) {
	// "fatal" and "warning" both present; the critical class wins.
	hit, sev := Classify("warning: fatal condition detected")
	if !hit || sev != model.SeverityCritical {
		t.Errorf("expected critical to win, got hit=%v sev=%q", hit, sev)
	}
}

func TestClassifyError(t *testing.T) {
	hit, sev := Classify("ERROR xyz")
	if !hit || sev != model.SeverityError {
		t.Errorf("expected error severity, got hit=%v sev=%q", hit, sev)
	}
}

func TestClassifyWarnIsHigh(t *testing.T) {
	hit, sev := Classify("request warn: retrying")
	if !hit || sev != model.SeverityHigh {
		t.Errorf("expected high, got hit=%v sev=%q", hit, sev)
	}
}

func TestClassifySubstringInsideWord(t *testing.T) {
	// Substring match is intentional: "errors=3" still classifies.
	hit, sev := Classify("upstream errors=3")
	if !hit || sev != model.SeverityError {
		t.Errorf("expected error, got hit=%v sev=%q", hit, sev)
	}
}
