package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	sessionFormatVersionV1 = 1
	sessionFormatVersionV2 = 2

	flagEmailVerified byte = 1 << 0
)

// Encode writes s in the current schema.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(CurrentSchemaVersion)

	if len(s.UserID) > 255 {
		return nil, errors.New("userID too long")
	}
	buf.WriteByte(byte(len(s.UserID)))
	buf.WriteString(s.UserID)

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	if len(s.Email) > 255 {
		return nil, errors.New("email too long")
	}
	buf.WriteByte(byte(len(s.Email)))
	buf.WriteString(s.Email)

	var flags byte
	if s.EmailVerified {
		flags |= flagEmailVerified
	}
	buf.WriteByte(flags)

	return buf.Bytes(), nil
}

// Decode reads any supported schema. v1 records carry no email and decode
// as unverified.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionV1 && version != sessionFormatVersionV2 {
		return nil, fmt.Errorf("unsupported session schema version %d", version)
	}

	s := &Session{SchemaVersion: version}

	userLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	userID := make([]byte, userLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	s.UserID = string(userID)

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}

	if version >= sessionFormatVersionV2 {
		emailLen, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		email := make([]byte, emailLen)
		if _, err := io.ReadFull(reader, email); err != nil {
			return nil, err
		}
		s.Email = string(email)

		flags, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		s.EmailVerified = flags&flagEmailVerified != 0
	}

	return s, nil
}
