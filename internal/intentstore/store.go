package intentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentworkforce/courierlink/internal/intent"
	"github.com/agentworkforce/courierlink/internal/kvstore"
	json "github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTTL             = 5 * time.Minute
	SourcePushNotification = "push_notification"

	genericKey           = "pending_navigation.generic"
	postAuthorizationKey = "pending_navigation.post_authorization"
	recordSchemaURL      = "https://courierlink.local/schemas/pending-navigation.json"
)

const recordSchema = `{
	"type": "object",
	"required": ["targetId", "capturedAt", "source"],
	"properties": {
		"targetId": {"type": "string", "minLength": 1},
		"capturedAt": {"type": "integer", "minimum": 0},
		"source": {"type": "string"}
	}
}`

var ErrInvalidPurpose = errors.New("invalid intent purpose")

type Record struct {
	TargetID   string `json:"targetId"`
	CapturedAt int64  `json:"capturedAt"`
	Source     string `json:"source"`
}

func (r Record) CapturedTime() time.Time {
	return time.UnixMilli(r.CapturedAt)
}

// Store keeps at most one pending intent per purpose. Records older than the
// TTL are deleted when read.
type Store struct {
	kv     kvstore.Store
	ttl    time.Duration
	now    func() time.Time
	logger logrus.FieldLogger
	schema *jsonschema.Schema
}

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(kv kvstore.Store, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, kvstore.ErrInvalidInput
	}
	schema, err := compileRecordSchema()
	if err != nil {
		return nil, err
	}
	s := &Store{
		kv:     kv,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: logrus.StandardLogger(),
		schema: schema,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Save overwrites the slot for purpose.
func (s *Store) Save(ctx context.Context, purpose intent.Purpose, targetID string) error {
	key, err := keyFor(purpose)
	if err != nil {
		return err
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return kvstore.ErrInvalidInput
	}
	record := Record{
		TargetID:   targetID,
		CapturedAt: s.now().UnixMilli(),
		Source:     SourcePushNotification,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("save pending intent %s: %w", purpose, err)
	}
	return nil
}

// Load returns nil when the slot is empty, expired or unreadable.
func (s *Store) Load(ctx context.Context, purpose intent.Purpose) (*Record, error) {
	key, err := keyFor(purpose)
	if err != nil {
		return nil, err
	}
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending intent %s: %w", purpose, err)
	}
	log := s.logger.WithField("purpose", string(purpose))

	record, err := s.decode(data)
	if err != nil {
		log.WithError(err).Warn("discarding unreadable pending intent")
		return nil, s.clearKey(ctx, key)
	}
	age := s.now().Sub(record.CapturedTime())
	if age > s.ttl {
		log.WithFields(logrus.Fields{"target_id": record.TargetID, "age": age.String()}).Info("pending intent expired")
		return nil, s.clearKey(ctx, key)
	}
	return record, nil
}

func (s *Store) Clear(ctx context.Context, purpose intent.Purpose) error {
	key, err := keyFor(purpose)
	if err != nil {
		return err
	}
	return s.clearKey(ctx, key)
}

func (s *Store) clearKey(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("clear %s: %w", key, err)
	}
	return nil
}

func (s *Store) decode(data []byte) (*Record, error) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := s.schema.Validate(instance); err != nil {
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func keyFor(purpose intent.Purpose) (string, error) {
	switch purpose {
	case intent.PurposeGeneric:
		return genericKey, nil
	case intent.PurposePostAuthorization:
		return postAuthorizationKey, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPurpose, purpose)
	}
}

func compileRecordSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(recordSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(recordSchemaURL, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(recordSchemaURL)
}
