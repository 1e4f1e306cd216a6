// Package journal keeps a hash-chained history of profile events in SQLite.
//
// Each event commits to its predecessor's hash, so editing or deleting a
// row breaks the chain and is caught by Verify. Secrets are never recorded.
package journal

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/majorcontext/authprofiles/internal/credential"
)

// Kind identifies what happened to a profile.
type Kind string

const (
	KindUpsert        Kind = "upsert"
	KindRemove        Kind = "remove"
	KindFailure       Kind = "failure"
	KindSuccess       Kind = "success"
	KindRefresh       Kind = "refresh"
	KindRefreshFailed Kind = "refresh_failed"
	KindLogin         Kind = "login"
	KindOrder         Kind = "order"
	KindMigrate       Kind = "migrate"
)

// Event is one journal row.
type Event struct {
	Seq       uint64              `json:"seq"`
	Time      time.Time           `json:"ts"`
	ID        string              `json:"id"`
	ProfileID string              `json:"profile_id,omitempty"`
	Provider  credential.Provider `json:"provider,omitempty"`
	Kind      Kind                `json:"kind"`
	Detail    string              `json:"detail,omitempty"`
	PrevHash  string              `json:"prev"`
	Hash      string              `json:"hash"`
}

// computeHash is SHA-256 over every field except Hash, each length-prefixed
// so adjacent fields cannot be shifted into one another.
func (e *Event) computeHash() string {
	h := sha256.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], e.Seq)
	h.Write(buf[:])

	for _, field := range []string{
		e.Time.UTC().Format(time.RFC3339Nano),
		e.ID,
		e.ProfileID,
		string(e.Provider),
		string(e.Kind),
		e.Detail,
		e.PrevHash,
	} {
		binary.BigEndian.PutUint64(buf[:], uint64(len(field)))
		h.Write(buf[:])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Valid reports whether the event's hash matches its content.
func (e *Event) Valid() bool {
	return e.Hash == e.computeHash()
}
