package ai

import (
	"testing"
)

func TestUnmarshalFlexible_ObjectVariants(t *testing.T) {
	type candidate struct {
		Name       string  `json:"entity_name"`
		Confidence float64 `json:"confidence,omitempty"`
	}

	tests := []struct {
		name  string
		input string
		want  candidate
	}{
		{
			name:  "valid json object",
			input: `{"entity_name":"ACME"}`,
			want:  candidate{Name: "ACME"},
		},
		{
			name:  "unquoted key and single quotes",
			input: `{entity_name: 'ACME'}`,
			want:  candidate{Name: "ACME"},
		},
		{
			name:  "trailing comma",
			input: `{"entity_name":"ACME",}`,
			want:  candidate{Name: "ACME"},
		},
		{
			name:  "missing endbracket",
			input: `{"entity_name":"ACME`,
			want:  candidate{Name: "ACME"},
		},
		{
			name:  "stringified invalid json object",
			input: `"{entity_name: 'ACME'}"`,
			want:  candidate{Name: "ACME"},
		},
		{
			name:  "duplicate leading brace",
			input: "{\n{\n  \"entity_name\": \"ACME\"\n}\n",
			want:  candidate{Name: "ACME"},
		},
		{
			name:  "confidence survives repair",
			input: `{entity_name: 'ACME', confidence: 0.9,}`,
			want:  candidate{Name: "ACME", Confidence: 0.9},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got candidate
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if got.Name != tc.want.Name || got.Confidence != tc.want.Confidence {
				t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestUnmarshalFlexible_ArrayVariants(t *testing.T) {
	type candidate struct {
		Name string `json:"entity_name"`
	}

	input := `[{entity_name:'ALICE'},{entity_name:'ACME',}]`
	var got []candidate
	if err := UnmarshalFlexible(input, &got); err != nil {
		t.Fatalf("UnmarshalFlexible() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "ALICE" || got[1].Name != "ACME" {
		t.Fatalf("UnmarshalFlexible() got = %+v, want ALICE and ACME", got)
	}
}

func TestUnmarshalFlexible_Unrecoverable(t *testing.T) {
	type candidate struct {
		Name string `json:"entity_name"`
	}

	var got candidate
	if err := UnmarshalFlexible("no json here", &got); err == nil {
		t.Fatalf("UnmarshalFlexible() expected error for unrecoverable input")
	}
}

func TestUnmarshalFlexible_NestedCandidates(t *testing.T) {
	type relationship struct {
		SourceID   string  `json:"source_entity_id"`
		TargetID   string  `json:"target_entity_id"`
		Type       string  `json:"relationship_type"`
		Confidence float64 `json:"confidence"`
	}
	type response struct {
		Relationships []relationship `json:"relationships"`
	}

	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "clean payload",
			input: `{"relationships":[{"source_entity_id":"e1","target_entity_id":"e2","relationship_type":"WORKS_FOR","confidence":0.9}]}`,
		},
		{
			name:  "stringified payload with newlines",
			input: `"{\n \"relationships\": [\n {\"source_entity_id\": \"e1\", \"target_entity_id\": \"e2\", \"relationship_type\": \"WORKS_FOR\", \"confidence\": 0.9}\n ]\n}"`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got response
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if len(got.Relationships) != 1 {
				t.Fatalf("expected 1 relationship, got %d", len(got.Relationships))
			}
			rel := got.Relationships[0]
			if rel.SourceID != "e1" || rel.TargetID != "e2" || rel.Type != "WORKS_FOR" || rel.Confidence != 0.9 {
				t.Fatalf("unexpected relationship: %+v", rel)
			}
		})
	}
}
