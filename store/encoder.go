package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const (
	recordFormatVersionCurrent = 1
	familyFormatVersionCurrent = 1

	// Fixed header: version(1) flag(1) flagAt(8) created(8) expires(8).
	// The Lua scripts in redis.go depend on this layout.
	headerSize = 26
)

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func be64(t time.Time) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(unixNano(t)))
	return b[:]
}

func writeHeader(buf *bytes.Buffer, version byte, flag bool, flagAt, created, expires time.Time) {
	buf.WriteByte(version)
	if flag {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.Write(be64(flagAt))
	buf.Write(be64(created))
	buf.Write(be64(expires))
}

func writeString(buf *bytes.Buffer, name, v string) error {
	if len(v) > 255 {
		return errors.New(name + " too long")
	}
	buf.WriteByte(byte(len(v)))
	buf.WriteString(v)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

type header struct {
	flag    bool
	flagAt  time.Time
	created time.Time
	expires time.Time
}

func readHeader(reader *bytes.Reader, want byte, kind string) (header, error) {
	var h header

	version, err := reader.ReadByte()
	if err != nil {
		return h, err
	}
	if version != want {
		return h, errors.New("invalid " + kind + " version")
	}

	flag, err := reader.ReadByte()
	if err != nil {
		return h, err
	}
	if flag > 1 {
		return h, errors.New("invalid " + kind + " flag")
	}
	h.flag = flag == 1

	var flagAt, created, expires int64
	if err := binary.Read(reader, binary.BigEndian, &flagAt); err != nil {
		return h, err
	}
	if err := binary.Read(reader, binary.BigEndian, &created); err != nil {
		return h, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expires); err != nil {
		return h, err
	}
	h.flagAt = fromUnixNano(flagAt)
	h.created = fromUnixNano(created)
	h.expires = fromUnixNano(expires)
	return h, nil
}

// EncodeRecord serializes a record into the binary storage format.
func EncodeRecord(r RefreshRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(headerSize + len(r.ID) + len(r.UserID) + len(r.FamilyID) + len(r.DeviceFingerprint) + len(r.SessionName) + 5)

	writeHeader(&buf, recordFormatVersionCurrent, r.Used, r.UsedAt, r.CreatedAt, r.ExpiresAt)

	if err := writeString(&buf, "id", r.ID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, "userID", r.UserID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, "familyID", r.FamilyID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, "fingerprint", r.DeviceFingerprint); err != nil {
		return nil, err
	}
	if err := writeString(&buf, "sessionName", r.SessionName); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecodeRecord parses a blob produced by EncodeRecord.
func DecodeRecord(data []byte) (RefreshRecord, error) {
	reader := bytes.NewReader(data)

	h, err := readHeader(reader, recordFormatVersionCurrent, "record")
	if err != nil {
		return RefreshRecord{}, err
	}

	r := RefreshRecord{
		Used:      h.flag,
		UsedAt:    h.flagAt,
		CreatedAt: h.created,
		ExpiresAt: h.expires,
	}
	if r.ID, err = readString(reader); err != nil {
		return RefreshRecord{}, err
	}
	if r.UserID, err = readString(reader); err != nil {
		return RefreshRecord{}, err
	}
	if r.FamilyID, err = readString(reader); err != nil {
		return RefreshRecord{}, err
	}
	if r.DeviceFingerprint, err = readString(reader); err != nil {
		return RefreshRecord{}, err
	}
	if r.SessionName, err = readString(reader); err != nil {
		return RefreshRecord{}, err
	}
	if reader.Len() != 0 {
		return RefreshRecord{}, errors.New("trailing record bytes")
	}

	return r, nil
}

// EncodeFamily serializes a family into the binary storage format.
func EncodeFamily(f Family) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(headerSize + len(f.ID) + len(f.UserID) + 2)

	writeHeader(&buf, familyFormatVersionCurrent, f.Revoked, f.RevokedAt, f.CreatedAt, f.ExpiresAt)

	if err := writeString(&buf, "id", f.ID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, "userID", f.UserID); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecodeFamily parses a blob produced by EncodeFamily.
func DecodeFamily(data []byte) (Family, error) {
	reader := bytes.NewReader(data)

	h, err := readHeader(reader, familyFormatVersionCurrent, "family")
	if err != nil {
		return Family{}, err
	}

	f := Family{
		Revoked:   h.flag,
		RevokedAt: h.flagAt,
		CreatedAt: h.created,
		ExpiresAt: h.expires,
	}
	if f.ID, err = readString(reader); err != nil {
		return Family{}, err
	}
	if f.UserID, err = readString(reader); err != nil {
		return Family{}, err
	}
	if reader.Len() != 0 {
		return Family{}, errors.New("trailing family bytes")
	}

	return f, nil
}
