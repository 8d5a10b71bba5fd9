package memory_test

import (
	"strings"
	"testing"

	"github.com/becomeliminal/mnemo/memory"
)

func defaultGate() *memory.Gate {
	return memory.NewGate(memory.DefaultConsentConfig())
}

func TestCheckStorageIsDeterministic(t *testing.T) {
	gate := defaultGate()
	content := "learned that morning light helps my focus"

	first := gate.CheckStorage(content, memory.KindSemantic, memory.ReasonLearnedSomething, 0.6, true)
	second := gate.CheckStorage(content, memory.KindSemantic, memory.ReasonLearnedSomething, 0.6, true)

	if first != second {
		t.Errorf("decisions differ: %+v vs %+v", first, second)
	}
	if !first.Proceed {
		t.Errorf("expected approval, got %q", first.Reason)
	}
}

func TestCheckStorageRejectsShortContent(t *testing.T) {
	gate := defaultGate()
	decision := gate.CheckStorage("Hi", memory.KindEpisodic, memory.ReasonSignificantMoment, 0.9, true)

	if decision.Proceed {
		t.Fatal("two-character content should be rejected")
	}
	if !strings.Contains(decision.Reason, "short") {
		t.Errorf("reason should mention length, got %q", decision.Reason)
	}
}

func TestNeverStoreWinsOverRedaction(t *testing.T) {
	config := memory.DefaultConsentConfig()
	config.NeverStorePatterns = []string{"ssn"}
	config.RedactPatterns = []string{"ssn"}
	gate := memory.NewGate(config)

	decision := gate.CheckStorage("the user shared their SSN during onboarding", memory.KindSemantic, memory.ReasonLearnedSomething, 0.8, true)

	if decision.Proceed {
		t.Fatal("never-store pattern must block storage")
	}
	if decision.ModifiedContent != "" {
		t.Error("blocked content must never be partially redacted")
	}
	if !strings.Contains(decision.Reason, "never-store") {
		t.Errorf("reason should name the never-store pattern, got %q", decision.Reason)
	}
}

func TestRedactionReplacesPatterns(t *testing.T) {
	config := memory.DefaultConsentConfig()
	config.RedactPatterns = []string{"Hunter2"}
	gate := memory.NewGate(config)

	decision := gate.CheckStorage("the password hunter2 came up twice: hunter2", memory.KindSemantic, memory.ReasonLearnedSomething, 0.8, true)

	if !decision.Proceed {
		t.Fatalf("expected approval, got %q", decision.Reason)
	}
	want := "the password " + memory.RedactionMarker + " came up twice: " + memory.RedactionMarker
	if decision.ModifiedContent != want {
		t.Errorf("redaction: got %q, want %q", decision.ModifiedContent, want)
	}
}

func TestRedactionHandlesNonASCIICase(t *testing.T) {
	config := memory.DefaultConsentConfig()
	config.RedactPatterns = []string{"istanbul"}
	gate := memory.NewGate(config)

	// İ lowercases to a different byte length than it occupies; the
	// surrounding text must come through untouched.
	decision := gate.CheckStorage("we met them in İstanbul last spring", memory.KindEpisodic, memory.ReasonSignificantMoment, 0.8, true)

	if !decision.Proceed {
		t.Fatalf("expected approval, got %q", decision.Reason)
	}
	want := "we met them in " + memory.RedactionMarker + " last spring"
	if decision.ModifiedContent != want {
		t.Errorf("redaction: got %q, want %q", decision.ModifiedContent, want)
	}
}

func TestRedactionUntouchedContentReturnsNoModification(t *testing.T) {
	config := memory.DefaultConsentConfig()
	config.RedactPatterns = []string{"classified"}
	gate := memory.NewGate(config)

	decision := gate.CheckStorage("nothing sensitive in this one", memory.KindSemantic, memory.ReasonLearnedSomething, 0.8, true)
	if !decision.Proceed {
		t.Fatalf("expected approval, got %q", decision.Reason)
	}
	if decision.ModifiedContent != "" {
		t.Errorf("unmodified content should not set ModifiedContent, got %q", decision.ModifiedContent)
	}
}

func TestCheckStorageExplicitConsent(t *testing.T) {
	config := memory.DefaultConsentConfig()
	config.RequireExplicitConsent = true
	gate := memory.NewGate(config)

	content := "a detail the user mentioned in passing"
	if decision := gate.CheckStorage(content, memory.KindEpisodic, memory.ReasonSignificantMoment, 0.8, false); decision.Proceed {
		t.Error("storage without consent should be rejected when consent is required")
	}
	if decision := gate.CheckStorage(content, memory.KindEpisodic, memory.ReasonSignificantMoment, 0.8, true); !decision.Proceed {
		t.Errorf("storage with consent should proceed, got %q", decision.Reason)
	}
}

func TestCheckStorageAutoApprovalPerKind(t *testing.T) {
	config := memory.DefaultConsentConfig()
	config.AutoApprove[memory.KindProcedural] = false
	gate := memory.NewGate(config)

	decision := gate.CheckStorage("repeating questions back reduces misunderstandings", memory.KindProcedural, memory.ReasonBehavioralInsight, 0.8, true)
	if decision.Proceed {
		t.Fatal("disabled kind should be rejected")
	}
	if !strings.Contains(decision.Reason, "procedural") {
		t.Errorf("reason should name the kind, got %q", decision.Reason)
	}
}

func TestCheckStorageSalienceFloor(t *testing.T) {
	gate := defaultGate()
	decision := gate.CheckStorage("a forgettable aside about the weather", memory.KindEpisodic, memory.ReasonSignificantMoment, 0.1, true)
	if decision.Proceed {
		t.Fatal("salience below the floor should be rejected")
	}
	if !strings.Contains(decision.Reason, "salience") {
		t.Errorf("reason should mention salience, got %q", decision.Reason)
	}
}

func retrievalCandidates(similarities ...float64) []memory.Hit {
	hits := make([]memory.Hit, 0, len(similarities))
	for _, sim := range similarities {
		rec := memory.NewEpisodic("an episode relevant to the query at hand", memory.EpisodicAttrs{})
		hits = append(hits, memory.Hit{Record: rec, Similarity: sim})
	}
	return hits
}

func TestCheckRetrievalExplicitRequestIsLenient(t *testing.T) {
	gate := defaultGate()
	hits := retrievalCandidates(0.55)

	kept := gate.CheckRetrieval("remember that time", memory.RetrievalExplicitRequest, hits)
	if len(kept) != 1 {
		t.Errorf("explicit request at 0.55 should pass the base 0.5 threshold, kept %d", len(kept))
	}
}

func TestCheckRetrievalContextTriggeredIsStricter(t *testing.T) {
	gate := defaultGate()
	hits := retrievalCandidates(0.55)

	kept := gate.CheckRetrieval("ambient topic drift", memory.RetrievalContextTriggered, hits)
	if len(kept) != 0 {
		t.Errorf("context-triggered at 0.55 should fail the 0.5+0.1 bar, kept %d", len(kept))
	}

	kept = gate.CheckRetrieval("ambient topic drift", memory.RetrievalContextTriggered, retrievalCandidates(0.65))
	if len(kept) != 1 {
		t.Errorf("context-triggered at 0.65 should pass, kept %d", len(kept))
	}
}

func TestCheckRetrievalDropsBelowThreshold(t *testing.T) {
	gate := defaultGate()
	kept := gate.CheckRetrieval("anything", memory.RetrievalExplicitRequest, retrievalCandidates(0.49))
	if len(kept) != 0 {
		t.Errorf("candidate below the relevance threshold should be dropped, kept %d", len(kept))
	}
}

func TestCheckRetrievalSuppressesDeletedRecords(t *testing.T) {
	gate := defaultGate()
	hits := retrievalCandidates(0.9, 0.85)

	gate.RequestDeletion(hits[0].Record.ID)
	gate.RequestDeletion(hits[0].Record.ID) // idempotent

	kept := gate.CheckRetrieval("a query", memory.RetrievalExplicitRequest, hits)
	if len(kept) != 1 {
		t.Fatalf("deleted record should be suppressed, kept %d", len(kept))
	}
	if kept[0].Record.ID != hits[1].Record.ID {
		t.Error("wrong record suppressed")
	}
}

func TestCheckRetrievalTruncatesPreservingOrder(t *testing.T) {
	config := memory.DefaultConsentConfig()
	config.MaxResultsPerQuery = 2
	gate := memory.NewGate(config)

	hits := retrievalCandidates(0.9, 0.8, 0.7)
	kept := gate.CheckRetrieval("a query", memory.RetrievalExplicitRequest, hits)

	if len(kept) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(kept))
	}
	if kept[0].Record.ID != hits[0].Record.ID || kept[1].Record.ID != hits[1].Record.ID {
		t.Error("truncation must preserve input order")
	}
}
