package ffibridge

// slab is the single owned buffer behind a cloned payload. It is sized up
// front, so appends never reallocate and every carved slice stays valid.
type slab struct {
	buf []byte
}

func newSlab(n int) slab {
	// non-nil even when n == 0, so empty required fields are non-nil
	return slab{buf: make([]byte, 0, n)}
}

// bytes copies b, returning a non-nil slice capped at its own length so an
// append by the receiver can never run into a neighbouring field.
func (s *slab) bytes(b []byte) []byte {
	start := len(s.buf)
	s.buf = append(s.buf, b...)
	end := len(s.buf)
	return s.buf[start:end:end]
}

// nullable is bytes, except that nil stays nil.
func (s *slab) nullable(b []byte) []byte {
	if b == nil {
		return nil
	}
	return s.bytes(b)
}

func (r HTTPRequest) size() int {
	n := len(r.URL) + len(r.Body)
	for _, h := range r.Headers {
		n += len(h.Name) + len(h.Value)
	}
	return n
}

// Clone returns a deep copy of r, including a new header array.
func (r HTTPRequest) Clone() HTTPRequest {
	sl := newSlab(r.size())
	out := HTTPRequest{
		URL:       sl.bytes(r.URL),
		Body:      sl.bytes(r.Body),
		Headers:   make([]HTTPHeader, len(r.Headers)),
		TimeoutMS: r.TimeoutMS,
		Method:    r.Method,
	}
	for i, h := range r.Headers {
		out.Headers[i] = HTTPHeader{Name: sl.bytes(h.Name), Value: sl.bytes(h.Value)}
	}
	return out
}

func (s Status) size() int { return len(s.Message) }

func (s Status) cloneInto(sl *slab) Status {
	return Status{Message: sl.bytes(s.Message), Code: s.Code, Categories: s.Categories}
}

// Clone returns a deep copy of s.
func (s Status) Clone() Status {
	sl := newSlab(s.size())
	return s.cloneInto(&sl)
}

func (k ValueKind) hasBytes() bool {
	switch k {
	case ValueString, ValueBinary, ValueObjectID, ValueUUID:
		return true
	default:
		return false
	}
}

func (v Value) size() int { return len(v.Bytes) }

func (v Value) cloneInto(sl *slab) Value {
	out := v
	if v.Kind.hasBytes() {
		out.Bytes = sl.bytes(v.Bytes)
	} else {
		out.Bytes = sl.nullable(v.Bytes)
	}
	return out
}

func (e SyncError) size() int {
	n := e.Status.size() + len(e.OriginalFilePathKey) + len(e.RecoveryFilePathKey)
	for _, kv := range e.UserInfo {
		n += len(kv.Key) + len(kv.Value)
	}
	for _, cw := range e.CompensatingWrites {
		n += len(cw.Reason) + len(cw.ObjectName) + cw.PrimaryKey.size()
	}
	return n
}

// Clone returns a deep copy of e. The file path keys are nullable.
func (e SyncError) Clone() SyncError {
	sl := newSlab(e.size())
	out := SyncError{
		Status:              e.Status.cloneInto(&sl),
		OriginalFilePathKey: sl.nullable(e.OriginalFilePathKey),
		RecoveryFilePathKey: sl.nullable(e.RecoveryFilePathKey),
		UserInfo:            make([]UserInfo, len(e.UserInfo)),
		CompensatingWrites:  make([]CompensatingWrite, len(e.CompensatingWrites)),
		Action:              e.Action,
		IsFatal:             e.IsFatal,
		IsUnrecognized:      e.IsUnrecognized,
		IsClientResetNeeded: e.IsClientResetNeeded,
	}
	for i, kv := range e.UserInfo {
		out.UserInfo[i] = UserInfo{Key: sl.bytes(kv.Key), Value: sl.bytes(kv.Value)}
	}
	for i, cw := range e.CompensatingWrites {
		out.CompensatingWrites[i] = CompensatingWrite{
			Reason:     sl.bytes(cw.Reason),
			ObjectName: sl.bytes(cw.ObjectName),
			PrimaryKey: cw.PrimaryKey.cloneInto(&sl),
		}
	}
	return out
}

// UserInfoValue returns the value stored under key, if any.
func (e SyncError) UserInfoValue(key []byte) ([]byte, bool) {
	if key == nil {
		return nil, false
	}
	for _, kv := range e.UserInfo {
		if string(kv.Key) == string(key) {
			return kv.Value, true
		}
	}
	return nil, false
}

func (e *AppError) size() int {
	if e == nil {
		return 0
	}
	return e.Status.size() + len(e.LinkToServerLogs)
}

// Clone returns a deep copy of e, or nil if e is nil.
func (e *AppError) Clone() *AppError {
	if e == nil {
		return nil
	}
	sl := newSlab(e.size())
	return &AppError{
		Status:           e.Status.cloneInto(&sl),
		LinkToServerLogs: sl.nullable(e.LinkToServerLogs),
		HTTPStatusCode:   e.HTTPStatusCode,
	}
}

func (k APIKey) size() int { return len(k.ID) + len(k.Key) + len(k.Name) }

func (k APIKey) cloneInto(sl *slab) APIKey {
	return APIKey{
		ID:       sl.bytes(k.ID),
		Key:      sl.nullable(k.Key),
		Name:     sl.bytes(k.Name),
		Disabled: k.Disabled,
	}
}

// Clone returns a deep copy of k.
func (k APIKey) Clone() APIKey {
	sl := newSlab(k.size())
	return k.cloneInto(&sl)
}

func apiKeysSize(keys []APIKey) int {
	var n int
	for _, k := range keys {
		n += k.size()
	}
	return n
}

// CloneAPIKeys deep copies a list of keys into one owned buffer.
func CloneAPIKeys(keys []APIKey) []APIKey {
	sl := newSlab(apiKeysSize(keys))
	out := make([]APIKey, len(keys))
	for i, k := range keys {
		out[i] = k.cloneInto(&sl)
	}
	return out
}

func (c CollectionChanges) size() int {
	n := len(c.Deletions) + len(c.Insertions) + len(c.Modifications) + len(c.ModificationsAfter)
	return 8*n + 16*len(c.Moves)
}

// Clone returns a deep copy of c. The four index arrays share one backing array.
func (c CollectionChanges) Clone() CollectionChanges {
	idx := make([]uint64, 0, len(c.Deletions)+len(c.Insertions)+len(c.Modifications)+len(c.ModificationsAfter))
	carve := func(src []uint64) []uint64 {
		start := len(idx)
		idx = append(idx, src...)
		return idx[start:len(idx):len(idx)]
	}
	return CollectionChanges{
		Deletions:          carve(c.Deletions),
		Insertions:         carve(c.Insertions),
		Modifications:      carve(c.Modifications),
		ModificationsAfter: carve(c.ModificationsAfter),
		Moves:              append(make([]CollectionMove, 0, len(c.Moves)), c.Moves...),
		IsDeleted:          c.IsDeleted,
		IsCleared:          c.IsCleared,
	}
}
