package stores

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	throttleRecordVersionV1     = 1
	resetSessionRecordVersionV1 = 1
)

var errRecordCorrupt = errors.New("stored record corrupt")

// Throttle layout: version(1) stage(1) cooldownUntil(8, unix millis).
func encodeThrottleRecord(record *ThrottleRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(throttleRecordVersionV1)
	buf.WriteByte(byte(record.Stage))
	if err := binary.Write(&buf, binary.BigEndian, record.CooldownUntil.UnixMilli()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeThrottleRecord(flowID string, data []byte) (*ThrottleRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, errRecordCorrupt
	}
	if version != throttleRecordVersionV1 {
		return nil, errRecordCorrupt
	}

	stage, err := reader.ReadByte()
	if err != nil {
		return nil, errRecordCorrupt
	}
	if Stage(stage) > StageCodeSent {
		return nil, errRecordCorrupt
	}

	var until int64
	if err := binary.Read(reader, binary.BigEndian, &until); err != nil {
		return nil, errRecordCorrupt
	}

	return &ThrottleRecord{
		FlowID:        flowID,
		Stage:         Stage(stage),
		CooldownUntil: unixMilli(until),
	}, nil
}

// Reset session layout: version(1) expiresAt(8, unix millis) tokenLen(2) token.
func encodeResetSession(session *ResetSession) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetSessionRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, session.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}
	if len(session.Token) > 65535 {
		return nil, errors.New("reset session token too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(session.Token))); err != nil {
		return nil, err
	}
	buf.WriteString(session.Token)

	return buf.Bytes(), nil
}

func decodeResetSession(data []byte) (*ResetSession, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != resetSessionRecordVersionV1 {
		return nil, errRecordCorrupt
	}

	var expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return nil, errRecordCorrupt
	}

	var tokenLen uint16
	if err := binary.Read(reader, binary.BigEndian, &tokenLen); err != nil {
		return nil, errRecordCorrupt
	}
	token := make([]byte, tokenLen)
	if _, err := io.ReadFull(reader, token); err != nil {
		return nil, errRecordCorrupt
	}

	return &ResetSession{
		Token:     string(token),
		ExpiresAt: unixMilli(expiresAt),
	}, nil
}
