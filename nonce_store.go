package apicharge

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	nonceKeyPrefix       = "apn"
	nonceRecordVersionV1 = 1
)

// Nonce lifecycle states. A nonce is single-use: it moves pending -> in
// flight when a purchase consumes it, and in flight -> spent when settlement
// resolves. It never returns to pending.
const (
	nonceStatePending  byte = 0
	nonceStateInFlight byte = 1
	nonceStateSpent    byte = 2
)

var (
	errNonceNotFound         = errors.New("nonce record not found")
	errNonceConsumed         = errors.New("nonce already consumed")
	errNonceBindingMismatch  = errors.New("nonce binding mismatch")
	errNonceRedisUnavailable = errors.New("nonce redis unavailable")
)

type nonceRecord struct {
	ClientKeyHash [32]byte
	SettlementRef string
	RouteID       string
	ExpiresAt     int64
	State         byte
}

type nonceStore struct {
	redis  *redis.Client
	prefix string
}

func newNonceStore(redisClient *redis.Client) *nonceStore {
	return &nonceStore{
		redis:  redisClient,
		prefix: nonceKeyPrefix,
	}
}

func (s *nonceStore) key(nonce string) string {
	return s.prefix + ":" + nonce
}

// Save describes the save operation and its observable behavior.
//
// Save may return an error when input validation, dependency calls, or security checks fail.
// Save does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *nonceStore) Save(ctx context.Context, nonce string, record *nonceRecord, ttl time.Duration) error {
	encoded, err := encodeNonceRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(nonce), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errNonceRedisUnavailable, err)
	}

	return nil
}

// Consume atomically moves a pending nonce to in flight, verifying the
// client-key binding. Concurrent consumers of the same nonce race on the
// watched key; exactly one wins, the rest see errNonceConsumed.
func (s *nonceStore) Consume(ctx context.Context, nonce string, clientKeyHash [32]byte) (*nonceRecord, error) {
	const maxRetries = 4
	key := s.key(nonce)

	for i := 0; i < maxRetries; i++ {
		var consumed *nonceRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeNonceRecord(data)
			if err != nil {
				return err
			}

			now := time.Now()
			if now.Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errNonceNotFound
			}

			if record.State != nonceStatePending {
				return errNonceConsumed
			}

			if subtle.ConstantTimeCompare(record.ClientKeyHash[:], clientKeyHash[:]) != 1 {
				// A purchase signed by a different key burns the nonce.
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errNonceBindingMismatch
			}

			record.State = nonceStateInFlight
			updated, err := encodeNonceRecord(record)
			if err != nil {
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errNonceNotFound
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err != nil {
				return err
			}

			consumed = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errNonceNotFound
			case errors.Is(err, errNonceNotFound), errors.Is(err, errNonceConsumed), errors.Is(err, errNonceBindingMismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errNonceRedisUnavailable, err)
			}
		}

		return consumed, nil
	}

	return nil, errNonceConsumed
}

// Settle marks an in-flight nonce spent. The record keeps its TTL so a
// retried purchase inside the window gets a replay error instead of an
// expiry error.
func (s *nonceStore) Settle(ctx context.Context, nonce string, record *nonceRecord) error {
	record.State = nonceStateSpent
	encoded, err := encodeNonceRecord(record)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(record.ExpiresAt, 0))
	if ttl <= 0 {
		ttl = time.Second
	}

	if err := s.redis.Set(ctx, s.key(nonce), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errNonceRedisUnavailable, err)
	}

	return nil
}

func encodeNonceRecord(record *nonceRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(nonceRecordVersionV1)
	buf.WriteByte(record.State)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.ClientKeyHash[:])

	for _, s := range []string{record.SettlementRef, record.RouteID} {
		if len(s) > 65535 {
			return nil, errors.New("nonce record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(s))); err != nil {
			return nil, err
		}
		buf.WriteString(s)
	}

	return buf.Bytes(), nil
}

func decodeNonceRecord(data []byte) (*nonceRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != nonceRecordVersionV1 {
		return nil, errors.New("invalid nonce record version")
	}

	record := &nonceRecord{}
	if record.State, err = reader.ReadByte(); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.ClientKeyHash[:]); err != nil {
		return nil, err
	}

	for _, dst := range []*string{&record.SettlementRef, &record.RouteID} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		field := make([]byte, n)
		if _, err := io.ReadFull(reader, field); err != nil {
			return nil, err
		}
		*dst = string(field)
	}

	return record, nil
}
