package intent

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

const (
	idA = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	idB = "16fd2706-8baf-433b-82eb-8c7fada847da"
)

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestExtractorShapes(t *testing.T) {
	extractor := NewExtractor(quietLogger())
	cases := []struct {
		name    string
		payload Payload
		want    string
		wantOK  bool
	}{
		{"current flat", Payload{"targetId": idA}, idA, true},
		{"legacy flat", Payload{"orderId": idA}, idA, true},
		{"nested data map", Payload{"data": map[string]any{"targetId": idA}}, idA, true},
		{"nested data legacy key", Payload{"data": map[string]any{"orderId": idA}}, idA, true},
		{"nested data json string", Payload{"data": `{"orderId":"` + idA + `"}`}, idA, true},
		{"expo content", Payload{"notification": map[string]any{
			"request": map[string]any{"content": map[string]any{"data": map[string]any{"targetId": idA}}},
		}}, idA, true},
		{"list value", Payload{"targetId": []any{idA, idB}}, idA, true},
		{"blank value falls through", Payload{"targetId": "  ", "orderId": idB}, idB, true},
		{"malformed data string", Payload{"data": "{not json"}, "", false},
		{"unrelated", Payload{"title": "hello"}, "", false},
		{"empty", Payload{}, "", false},
		{"nil", nil, "", false},
		{"wrong nesting type", Payload{"notification": "text"}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := extractor.Extract(tc.payload)
			if got != tc.want || ok != tc.wantOK {
				t.Fatalf("expected (%q, %v), got (%q, %v)", tc.want, tc.wantOK, got, ok)
			}
		})
	}
}

func TestExtractorPriority(t *testing.T) {
	extractor := NewExtractor(quietLogger())
	payload := Payload{
		"orderId":  idB,
		"targetId": idA,
		"data":     map[string]any{"targetId": idB},
	}
	got, ok := extractor.Extract(payload)
	if !ok || got != idA {
		t.Fatalf("expected current-shape key to win, got %q", got)
	}

	payload = Payload{
		"orderId": idA,
		"data":    map[string]any{"targetId": idB},
	}
	got, ok = extractor.Extract(payload)
	if !ok || got != idA {
		t.Fatalf("expected flat legacy key to beat nested data, got %q", got)
	}
}

func TestExtractorSurvivesPanickingStrategy(t *testing.T) {
	extractor := NewExtractor(quietLogger(),
		Strategy{Name: "broken", Extract: func(Payload) (string, bool) { panic("boom") }},
		Strategy{Name: "nil"},
		Strategy{Name: "target_id", Extract: fieldStrategy("targetId")},
	)
	got, ok := extractor.Extract(Payload{"targetId": idA})
	if !ok || got != idA {
		t.Fatalf("expected fallback strategy to extract, got %q %v", got, ok)
	}
}
