package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func headerOf(fields ...string) Header {
	var h Header
	for i := 0; i+1 < len(fields); i += 2 {
		h.Add(fields[i], fields[i+1])
	}
	return h
}

func TestHeader_LookupIsCaseInsensitive(t *testing.T) {
	h := headerOf("Content-Type", "application/json", "X-Trace", "a", "x-trace", "b")

	require.Equal(t, "application/json", h.Get("content-type"))
	require.Equal(t, "application/json", h.Get("CONTENT-TYPE"))
	require.Equal(t, []string{"a", "b"}, h.Values("X-TRACE"))
	require.True(t, h.Has("x-TrAcE"))
	require.False(t, h.Has("X-Missing"))
	require.Empty(t, h.Get("X-Missing"))
	require.Nil(t, h.Values("X-Missing"))
}

func TestHeader_SetReplacesFirstAndDropsDuplicates(t *testing.T) {
	h := headerOf("Accept", "*/*", "X-Dup", "1", "Host", "example", "x-dup", "2", "X-DUP", "3")

	h.Set("X-Dup", "only")

	require.Equal(t, []Field{
		{Name: "Accept", Value: "*/*"},
		{Name: "X-Dup", Value: "only"},
		{Name: "Host", Value: "example"},
	}, h.Fields(), "position and spelling of the first field are kept")

	h.Set("X-New", "v")
	require.Equal(t, 4, h.Len())
	require.Equal(t, Field{Name: "X-New", Value: "v"}, h.Fields()[3], "unknown names are appended")
}

func TestHeader_Del(t *testing.T) {
	h := headerOf("A", "1", "B", "2", "a", "3", "C", "4")

	h.Del("a")
	require.Equal(t, []Field{{Name: "B", Value: "2"}, {Name: "C", Value: "4"}}, h.Fields())

	h.Del("missing")
	require.Equal(t, 2, h.Len())
}

func TestHeader_FieldsAndCloneAreCopies(t *testing.T) {
	h := headerOf("A", "1")

	fields := h.Fields()
	fields[0].Value = "changed"
	require.Equal(t, "1", h.Get("A"))

	clone := h.Clone()
	clone.Set("A", "2")
	clone.Add("B", "3")
	require.Equal(t, "1", h.Get("A"))
	require.False(t, h.Has("B"))
}

func TestHeader_Tokens(t *testing.T) {
	h := headerOf("Connection", "Keep-Alive, Upgrade", "connection", " close ,")

	require.Equal(t, []string{"keep-alive", "upgrade", "close"}, h.tokens(HeaderConnection))
	require.True(t, h.hasToken(HeaderConnection, "upgrade"))
	require.False(t, h.hasToken(HeaderConnection, "te"))
}
