package subscription

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	recordVersionV1  = 1
	outcomeVersionV1 = 1
)

var (
	errRecordCorrupt  = errors.New("subscription record corrupt")
	errOutcomeCorrupt = errors.New("outcome record corrupt")
	errFieldTooLong   = errors.New("subscription record field too long")
)

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errFieldTooLong
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func writeBytes(buf *bytes.Buffer, b []byte) error {
	if len(b) > 65535 {
		return errFieldTooLong
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(b))); err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersionV1)

	for _, s := range []string{rec.SubscriptionID, rec.RouteID, rec.QoSKind, rec.PriorityClass, rec.SettlementTxRef} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}
	if err := writeBytes(&buf, rec.OwnerPublicKey); err != nil {
		return nil, err
	}
	if err := writeBytes(&buf, rec.Signature); err != nil {
		return nil, err
	}

	for _, n := range []int64{rec.RateLimit, rec.MaxCalls, rec.GrantedAt, rec.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, n); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, errRecordCorrupt
	}
	if version != recordVersionV1 {
		return nil, errRecordCorrupt
	}

	rec := &Record{}
	strFields := []*string{&rec.SubscriptionID, &rec.RouteID, &rec.QoSKind, &rec.PriorityClass, &rec.SettlementTxRef}
	for _, dst := range strFields {
		s, err := readString(reader)
		if err != nil {
			return nil, errRecordCorrupt
		}
		*dst = s
	}

	if rec.OwnerPublicKey, err = readBytes(reader); err != nil {
		return nil, errRecordCorrupt
	}
	if rec.Signature, err = readBytes(reader); err != nil {
		return nil, errRecordCorrupt
	}

	intFields := []*int64{&rec.RateLimit, &rec.MaxCalls, &rec.GrantedAt, &rec.ExpiresAt}
	for _, dst := range intFields {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, errRecordCorrupt
		}
	}

	if reader.Len() != 0 {
		return nil, errRecordCorrupt
	}
	return rec, nil
}

func encodeOutcome(o *Outcome) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(outcomeVersionV1)
	buf.WriteByte(o.Status)
	if err := writeString(&buf, o.SubscriptionID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, o.Reason); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeOutcome(data []byte) (*Outcome, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != outcomeVersionV1 {
		return nil, errOutcomeCorrupt
	}

	status, err := reader.ReadByte()
	if err != nil {
		return nil, errOutcomeCorrupt
	}

	o := &Outcome{Status: status}
	if o.SubscriptionID, err = readString(reader); err != nil {
		return nil, errOutcomeCorrupt
	}
	if o.Reason, err = readString(reader); err != nil {
		return nil, errOutcomeCorrupt
	}

	if reader.Len() != 0 {
		return nil, errOutcomeCorrupt
	}
	return o, nil
}
