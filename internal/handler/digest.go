package handler

import (
	"crypto/sha256"
	"hash"
)

func newSHA256() hash.Hash {
	return sha256.New()
}

// uploadDigest wraps the incremental sha256 hash kept for one upload_id on
// this connection, used only when the client opted into the optional
// finish-frame digest check. Scoped per
// connection rather than per session: a resume on a different connection
// starts a fresh hash, so digest verification only ever covers bytes
// streamed since the most recent start on this socket. That is sufficient
// for the common case (one connection per upload attempt) and is the
// documented limitation of an opt-in, best-effort check.
type uploadDigest struct {
	h hash.Hash
}

func (d *uploadDigest) Reset() {
	d.h.Reset()
}

func (d *uploadDigest) Write(p []byte) {
	d.h.Write(p) //nolint:errcheck // hash.Hash.Write never returns an error
}

func (d *uploadDigest) Sum() []byte {
	return d.h.Sum(nil)
}

// digest returns (creating if absent) the running hash for uploadID.
func (h *Handler) digest(uploadID string) *uploadDigest {
	if h.digests == nil {
		h.digests = make(map[string]*uploadDigest)
	}

	d, ok := h.digests[uploadID]
	if !ok {
		d = &uploadDigest{h: newSHA256()}
		h.digests[uploadID] = d
	}

	return d
}
