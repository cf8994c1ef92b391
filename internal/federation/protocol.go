// Package federation — межтенантный обмен санитизированной телеметрией
// доверия и приоритетов через подписанные события.
package federation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

// Типы межтенантных событий.
const (
	EventTelemetrySync  = "telemetry_sync"
	EventTrustAggregate = "trust_aggregate"
)

var ErrSignatureMismatch = errors.New("federation event signature mismatch")

// canonicalPayload сериализует payload детерминированно: encoding/json
// сортирует ключи map по алфавиту, этого достаточно для стабильной подписи
// по обе стороны.
func canonicalPayload(payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	return string(raw), nil
}

// Sign вычисляет HMAC-SHA256 над канонической строкой
// "type|tenant|timestamp|payload" общим секретом.
func Sign(event domain.FederationEvent, secret string) (string, error) {
	payload, err := canonicalPayload(event.Payload)
	if err != nil {
		return "", err
	}

	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%s|%s|%d|%s",
		event.Type, event.TenantID, event.Timestamp.UnixMilli(), payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify пересчитывает подпись из полей самого события и сравнивает
// за константное время. Несовпадение — ErrSignatureMismatch.
func Verify(event domain.FederationEvent, secret string) error {
	expected, err := Sign(event, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(event.Signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

// NewEvent собирает конверт: id и timestamp проставляются здесь,
// подпись — отдельным шагом при публикации.
func NewEvent(eventType, tenantID string, payload map[string]any) domain.FederationEvent {
	return domain.FederationEvent{
		Type:      eventType,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
