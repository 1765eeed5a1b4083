package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// RecordKind tells whether a record identity was assigned by the server or
// generated locally for an optimistic record
type RecordKind int

const (
	RemoteRecord RecordKind = iota + 1
	LocalRecord
)

func (k RecordKind) String() string {
	switch k {
	case RemoteRecord:
		return "remote"
	case LocalRecord:
		return "local"
	default:
		return "unknown"
	}
}

// RecordID identifies a time entry or income either by its server id or by
// the temporary id of an optimistic record. The zero value is invalid.
type RecordID struct {
	kind   RecordKind
	local  string
	remote int64
}

func RemoteID(id int64) RecordID {
	return RecordID{kind: RemoteRecord, remote: id}
}

func LocalID(tempID string) RecordID {
	return RecordID{kind: LocalRecord, local: tempID}
}

// NewLocalID generates a fresh temporary id
func NewLocalID() RecordID {
	return LocalID(uuid.NewString())
}

func (r RecordID) Kind() RecordKind { return r.kind }

func (r RecordID) IsZero() bool { return r.kind == 0 }

// Local returns the temporary id when r is a local record
func (r RecordID) Local() (string, bool) {
	return r.local, r.kind == LocalRecord
}

// Remote returns the server id when r is a remote record
func (r RecordID) Remote() (int64, bool) {
	return r.remote, r.kind == RemoteRecord
}

func (r RecordID) String() string {
	switch r.kind {
	case RemoteRecord:
		return strconv.FormatInt(r.remote, 10)
	case LocalRecord:
		return "local:" + r.local
	default:
		return ""
	}
}

// ParseRecordID accepts "42" or "local:<temp id>"
func ParseRecordID(s string) (RecordID, error) {
	s = strings.TrimSpace(s)
	if tmp, ok := strings.CutPrefix(s, "local:"); ok {
		if tmp == "" {
			return RecordID{}, errors.New("empty local id")
		}
		return LocalID(tmp), nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return RecordID{}, fmt.Errorf("invalid record id %q", s)
	}
	return RemoteID(id), nil
}

type recordIDJSON struct {
	Local  *string `json:"local,omitempty"`
	Remote *int64  `json:"remote,omitempty"`
}

func (r RecordID) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case RemoteRecord:
		return json.Marshal(recordIDJSON{Remote: &r.remote})
	case LocalRecord:
		return json.Marshal(recordIDJSON{Local: &r.local})
	default:
		return []byte("null"), nil
	}
}

func (r *RecordID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = RecordID{}
		return nil
	}
	var v recordIDJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode record id: %w", err)
	}
	switch {
	case v.Local != nil && v.Remote != nil:
		return errors.New("record id cannot be both local and remote")
	case v.Local != nil:
		*r = LocalID(*v.Local)
	case v.Remote != nil:
		*r = RemoteID(*v.Remote)
	default:
		return errors.New("record id must be local or remote")
	}
	return nil
}
