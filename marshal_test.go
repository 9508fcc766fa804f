package ffibridge_test

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-ffibridge"
	"github.com/joeycumines/go-ffibridge/internal/enginetest"
)

type transport struct {
	events []ffibridge.HTTPRequestEvent
}

func (x *transport) onRequest(ev ffibridge.HTTPRequestEvent) {
	x.events = append(x.events, ev)
}

// TestOnHTTPRequest_HeadersSurviveSource copies a request with three
// headers, then destroys the engine's header array and buffers before the
// context replays the callback.
func TestOnHTTPRequest_HeadersSurviveSource(t *testing.T) {
	b, _ := newTestBridge(t)
	s, ctx := newManualScheduler(t, b, 1)

	recv := new(transport)
	cb, err := ffibridge.NewWeakCallback(s, recv, (*transport).onRequest)
	require.NoError(t, err)
	defer cb.Free()

	headers := []ffibridge.HTTPHeader{
		{Name: []byte("Content-Type"), Value: []byte("application/json")},
		{Name: []byte("Authorization"), Value: []byte("Bearer abc")},
		{Name: []byte("X-Request-Id"), Value: []byte("42")},
	}
	req := ffibridge.HTTPRequest{
		Method:    ffibridge.HTTPMethodPost,
		URL:       []byte("https://example.invalid/api"),
		Body:      []byte(`{"a":1}`),
		Headers:   headers,
		TimeoutMS: 60000,
	}
	pending := enginetest.NewRequest()
	require.True(t, ffibridge.OnHTTPRequest(cb, req, pending))

	for i := range headers {
		enginetest.Scribble(headers[i].Name)
		enginetest.Scribble(headers[i].Value)
		headers[i] = ffibridge.HTTPHeader{}
	}
	enginetest.Scribble(req.URL)
	enginetest.Scribble(req.Body)

	ctx.Pump(b)
	require.Len(t, recv.events, 1)
	got := recv.events[0]
	assert.Same(t, pending, got.Context)
	assert.Equal(t, ffibridge.HTTPMethodPost, got.Request.Method)
	assert.Equal(t, uint64(60000), got.Request.TimeoutMS)
	assert.Equal(t, "https://example.invalid/api", string(got.Request.URL))
	assert.Equal(t, `{"a":1}`, string(got.Request.Body))
	require.Len(t, got.Request.Headers, 3)
	for i, want := range [][2]string{
		{"Content-Type", "application/json"},
		{"Authorization", "Bearer abc"},
		{"X-Request-Id", "42"},
	} {
		assert.Equal(t, want[0], string(got.Request.Headers[i].Name))
		assert.Equal(t, want[1], string(got.Request.Headers[i].Value))
	}

	got.Context.Complete(ffibridge.HTTPResponse{StatusCode: 204})
	assert.Equal(t, 204, (<-pending.Response()).StatusCode)
}

// TestClone_IndependentOfSource overwrites every source buffer after the
// copy and checks the copy still holds the original values.
func TestClone_IndependentOfSource(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("http request copy survives scribbling", prop.ForAll(
		func(url, body string, names, values []string) bool {
			req := ffibridge.HTTPRequest{URL: []byte(url), Body: []byte(body)}
			for i, name := range names {
				v := ""
				if i < len(values) {
					v = values[i]
				}
				req.Headers = append(req.Headers, ffibridge.HTTPHeader{Name: []byte(name), Value: []byte(v)})
			}
			clone := req.Clone()
			enginetest.Scribble(req.URL)
			enginetest.Scribble(req.Body)
			for _, h := range req.Headers {
				enginetest.Scribble(h.Name)
				enginetest.Scribble(h.Value)
			}
			if string(clone.URL) != url || string(clone.Body) != body || len(clone.Headers) != len(names) {
				return false
			}
			for i, h := range clone.Headers {
				if string(h.Name) != names[i] {
					return false
				}
				if i < len(values) && string(h.Value) != values[i] {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("sync error copy survives scribbling", prop.ForAll(
		func(message string, keys []string, reason string) bool {
			src := ffibridge.SyncError{
				Status: ffibridge.Status{Message: []byte(message), Code: 231},
			}
			for _, k := range keys {
				src.UserInfo = append(src.UserInfo, ffibridge.UserInfo{Key: []byte(k), Value: []byte(k + "-value")})
			}
			src.CompensatingWrites = []ffibridge.CompensatingWrite{{
				Reason:     []byte(reason),
				ObjectName: []byte("Dog"),
				PrimaryKey: ffibridge.Value{Kind: ffibridge.ValueString, Bytes: []byte(reason)},
			}}
			want := src.Clone()
			clone := src.Clone()
			enginetest.Scribble(src.Status.Message)
			for _, kv := range src.UserInfo {
				enginetest.Scribble(kv.Key)
				enginetest.Scribble(kv.Value)
			}
			enginetest.Scribble(src.CompensatingWrites[0].Reason)
			enginetest.Scribble(src.CompensatingWrites[0].PrimaryKey.Bytes)
			return cmp.Equal(want, clone) && string(clone.Status.Message) == message
		},
		gen.AlphaString(),
		gen.SliceOf(gen.AlphaString()),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestClone_EmptyAndNullable(t *testing.T) {
	e := ffibridge.SyncError{
		Status:   ffibridge.Status{Message: []byte{}},
		UserInfo: []ffibridge.UserInfo{{Key: []byte{}, Value: nil}},
	}
	c := e.Clone()
	assert.NotNil(t, c.Status.Message)
	assert.Empty(t, c.Status.Message)
	assert.Nil(t, c.OriginalFilePathKey)
	assert.Nil(t, c.RecoveryFilePathKey)
	require.Len(t, c.UserInfo, 1)
	assert.NotNil(t, c.UserInfo[0].Value, "required fields are present even when empty")
	assert.NotNil(t, c.CompensatingWrites)

	k := ffibridge.APIKey{ID: []byte("id"), Name: []byte("n")}
	assert.Nil(t, k.Clone().Key)
	k.Key = []byte{}
	assert.NotNil(t, k.Clone().Key)

	var appErr *ffibridge.AppError
	assert.Nil(t, appErr.Clone())
}

func TestClone_UserInfoLookup(t *testing.T) {
	e := ffibridge.SyncError{
		OriginalFilePathKey: []byte("ORIGINAL_FILE_PATH"),
		UserInfo: []ffibridge.UserInfo{
			{Key: []byte("ORIGINAL_FILE_PATH"), Value: []byte("/data/a.realm")},
			{Key: []byte("RECOVERY_FILE_PATH"), Value: []byte("/data/recovery/a.realm")},
		},
	}.Clone()

	v, ok := e.UserInfoValue(e.OriginalFilePathKey)
	assert.True(t, ok)
	assert.Equal(t, "/data/a.realm", string(v))
	_, ok = e.UserInfoValue(e.RecoveryFilePathKey)
	assert.False(t, ok, "nil key never matches")
}

func TestClone_FieldsDoNotAlias(t *testing.T) {
	req := ffibridge.HTTPRequest{
		URL:  []byte("abc"),
		Body: []byte("def"),
	}
	c := req.Clone()
	assert.Equal(t, len(c.URL), cap(c.URL))
	c.URL = append(c.URL, 'X')
	assert.Equal(t, "def", string(c.Body), "appending to one field must not clobber the next")

	changes := ffibridge.CollectionChanges{
		Deletions:     []uint64{1, 2},
		Insertions:    []uint64{3},
		Modifications: []uint64{4, 5, 6},
		Moves:         []ffibridge.CollectionMove{{From: 1, To: 7}},
		IsCleared:     true,
	}
	cc := changes.Clone()
	assert.True(t, cmp.Equal(changes, cc, cmp.Comparer(func(a, b []uint64) bool {
		return len(a) == len(b) && (len(a) == 0 || cmp.Equal(a, b))
	})))
	cc.Deletions = append(cc.Deletions, 99)
	assert.Equal(t, []uint64{3}, cc.Insertions)
	changes.Moves[0].To = 0
	assert.Equal(t, uint64(7), cc.Moves[0].To)
}

func TestCloneAPIKeys(t *testing.T) {
	keys := []ffibridge.APIKey{
		{ID: []byte("1"), Name: []byte("first"), Key: []byte("secret")},
		{ID: []byte("2"), Name: []byte("second"), Disabled: true},
	}
	out := ffibridge.CloneAPIKeys(keys)
	for _, k := range keys {
		enginetest.Scribble(k.ID)
		enginetest.Scribble(k.Name)
		enginetest.Scribble(k.Key)
	}
	require.Len(t, out, 2)
	assert.Equal(t, "first", string(out[0].Name))
	assert.Equal(t, "secret", string(out[0].Key))
	assert.Nil(t, out[1].Key)
	assert.True(t, out[1].Disabled)
	assert.False(t, bytes.Contains(out[1].Name, []byte{enginetest.Sentinel}))
}
