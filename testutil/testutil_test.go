//go:build test

package testutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/transport"
)

func TestGetTestConcurrency(t *testing.T) {
	t.Run("default mode", func(t *testing.T) {
		t.Setenv("TEST_MODE", "")
		require.False(t, IsNightlyMode())
		require.Equal(t, DefaultConcurrency, GetTestConcurrency())
		require.Equal(t, DefaultIterations, GetTestIterations())
	})

	t.Run("nightly mode", func(t *testing.T) {
		t.Setenv("TEST_MODE", "nightly")
		require.True(t, IsNightlyMode())
		require.Equal(t, NightlyConcurrency, GetTestConcurrency())
		require.Equal(t, NightlyIterations, GetTestIterations())
	})

}

func TestGenerateDeterministicString(t *testing.T) {
	require.Equal(t, GenerateDeterministicString(7, 12), GenerateDeterministicString(7, 12))
	require.NotEqual(t, GenerateDeterministicString(7, 12), GenerateDeterministicString(8, 12))
	require.Len(t, GenerateDeterministicString(1, 5), 5)
}

func TestJSONRPCBuilderDeterminism(t *testing.T) {
	a := NewJSONRPCBuilder(42).Build()
	b := NewJSONRPCBuilder(42).Build()
	require.Equal(t, a, b)
	require.NotEqual(t, a, NewJSONRPCBuilder(43).Build())

	var decoded struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		ID      int    `json:"id"`
	}
	body := NewJSONRPCBuilder(1).WithMethod("eth_call").WithID(9).Build()
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, "2.0", decoded.JSONRPC)
	require.Equal(t, "eth_call", decoded.Method)
	require.Equal(t, 9, decoded.ID)

	bodies := NewJSONRPCBuilder(5).WithMethod("m").BuildN(3)
	require.Len(t, bodies, 3)
	require.NotEqual(t, bodies[0], bodies[1], "ids differ per seed")
}

func TestStubUpstreamWithRawClient(t *testing.T) {
	upstream := NewStubUpstream(t, nil)
	client := DialRaw(t, upstream.Addr())

	for i := 0; i < 3; i++ {
		body := NewJSONRPCBuilder(i).WithMethod("m").Build()
		res, err := client.Send(PostJSON(body, true))
		require.NoError(t, err)
		require.Equal(t, 200, res.StatusCode)
		require.Equal(t, body, res.Body)
	}
	require.EqualValues(t, 3, upstream.Calls())
	require.Len(t, upstream.Requests(), 3)

	res, err := client.Send(PostJSON([]byte(`{}`), false))
	require.NoError(t, err)
	require.False(t, res.KeepAlive())
	client.ExpectClosed()

	upstream.SetHandler(func(req *transport.Request) *transport.Response {
		res := transport.NewResponse(418, req.Version)
		res.PreparePayload()
		return res
	})
	res, err = DialRaw(t, upstream.Addr()).Send(PostJSON([]byte(`{}`), true))
	require.NoError(t, err)
	require.Equal(t, 418, res.StatusCode)
	require.Equal(t, "localhost", upstream.LastRequest().Header.Get(transport.HeaderHost))
}
