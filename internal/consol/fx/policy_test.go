package fx

import "testing"

func TestMatchesIsExhaustive(t *testing.T) {
	cases := []struct {
		name   string
		target RuleTarget
		code   string
		class  string
		want   bool
	}{
		{"gl hit", SpecificGL{Code: "1000"}, "1000", "", true},
		{"gl miss", SpecificGL{Code: "1000"}, "1001", "", false},
		{"class hit", Class{Name: "Assets"}, "1000", "Assets", true},
		{"class miss", Class{Name: "Assets"}, "1000", "Liabilities", false},
		{"class unknown account", Class{Name: "Assets"}, "9999", "", false},
		{"all", All{}, "anything", "", true},
		{"nil target", nil, "1000", "Assets", false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.target, tt.code, tt.class); got != tt.want {
				t.Fatalf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectRulePriorityGoverns(t *testing.T) {
	specific := Rule{Target: SpecificGL{Code: "1000"}, RateValue: ptr(1.2), Priority: 1}
	general := Rule{Target: All{}, RateValue: ptr(1.5), Priority: 2}

	got, ok := SelectRule([]Rule{specific, general}, "1000", "")
	if !ok || got.Priority != 1 {
		t.Fatalf("expected priority 1 rule, got %+v", got)
	}

	// a lower-numbered general rule shadows the specific one
	general.Priority = 0
	got, ok = SelectRule([]Rule{general, specific}, "1000", "")
	if !ok || got.Target.AppliesTo() != AppliesToAll {
		t.Fatalf("expected all rule to win on priority, got %+v", got)
	}
}

func TestParseTargetRoundTrip(t *testing.T) {
	targets := []RuleTarget{SpecificGL{Code: "1000"}, Class{Name: "Assets"}, All{}}
	for _, target := range targets {
		appliesTo, gl, class := EncodeTarget(target)
		parsed, err := ParseTarget(string(appliesTo), gl, class)
		if err != nil {
			t.Fatalf("ParseTarget(%s): %v", appliesTo, err)
		}
		if parsed != target {
			t.Fatalf("round trip mismatch: %+v vs %+v", parsed, target)
		}
	}
}

func TestParseTargetRejectsIncompleteRules(t *testing.T) {
	if _, err := ParseTarget("specific_gl", "", ""); err == nil {
		t.Fatalf("expected error for gl rule without code")
	}
	if _, err := ParseTarget("class", "", " "); err == nil {
		t.Fatalf("expected error for class rule without class")
	}
	if _, err := ParseTarget("spot", "", ""); err == nil {
		t.Fatalf("expected error for unknown discriminator")
	}
}
