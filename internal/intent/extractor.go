package intent

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Strategy recognises one payload shape.
type Strategy struct {
	Name    string
	Extract func(Payload) (string, bool)
}

type Extractor struct {
	strategies []Strategy
	logger     logrus.FieldLogger
}

func NewExtractor(logger logrus.FieldLogger, strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Extractor{strategies: strategies, logger: logger}
}

// Extract returns the first identifier candidate found by the strategies in
// order. The candidate is normalised but not validated.
func (e *Extractor) Extract(payload Payload) (string, bool) {
	if len(payload) == 0 {
		return "", false
	}
	for _, strategy := range e.strategies {
		if id, ok := safeExtract(strategy, payload); ok {
			return id, true
		}
	}
	e.logger.WithField("keys", payloadKeys(payload)).Debug("no navigation target in payload")
	return "", false
}

func safeExtract(strategy Strategy, payload Payload) (id string, ok bool) {
	defer func() {
		if recover() != nil {
			id, ok = "", false
		}
	}()
	if strategy.Extract == nil {
		return "", false
	}
	return strategy.Extract(payload)
}

func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "target_id", Extract: fieldStrategy("targetId")},
		{Name: "order_id", Extract: fieldStrategy("orderId")},
		{Name: "data", Extract: func(p Payload) (string, bool) {
			return fromData(p["data"])
		}},
		{Name: "expo_content", Extract: func(p Payload) (string, bool) {
			content, ok := lookupMap(p, "notification", "request", "content")
			if !ok {
				return "", false
			}
			return fromData(content["data"])
		}},
	}
}

func fieldStrategy(key string) func(Payload) (string, bool) {
	return func(p Payload) (string, bool) {
		return Normalize(p[key])
	}
}

// fromData accepts a nested object or its JSON-encoded form.
func fromData(raw any) (string, bool) {
	data, ok := asMap(raw)
	if !ok {
		text, isText := raw.(string)
		if !isText || !strings.HasPrefix(strings.TrimSpace(text), "{") {
			return "", false
		}
		if err := json.Unmarshal([]byte(text), &data); err != nil {
			return "", false
		}
	}
	if id, ok := Normalize(data["targetId"]); ok {
		return id, true
	}
	return Normalize(data["orderId"])
}

func lookupMap(root map[string]any, path ...string) (map[string]any, bool) {
	current := root
	for _, key := range path {
		next, ok := asMap(current[key])
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func asMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case Payload:
		return v, true
	default:
		return nil, false
	}
}

func payloadKeys(payload Payload) []string {
	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
