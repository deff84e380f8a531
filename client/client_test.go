package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kessig/switchboard/contract"
	"github.com/kessig/switchboard/dispatch"
	"github.com/kessig/switchboard/wsbridge"
)

func testContract(t *testing.T) *contract.Contract {
	t.Helper()
	return contract.MustNew(
		contract.Endpoint{
			Name:   "getItem",
			Kind:   contract.KindStandard,
			Path:   "/items/:id",
			Method: "GET",
		},
		contract.Endpoint{
			Name: "feed",
			Kind: contract.KindPushEvent,
			Path: "/feed",
			Events: map[string]contract.Schema{
				"tick": nil,
			},
		},
		contract.Endpoint{
			Name:   "numbers",
			Kind:   contract.KindChunkedStream,
			Method: "POST",
			Path:   "/numbers",
		},
		contract.Endpoint{
			Name: "room",
			Kind: contract.KindMessage,
			Path: "/room",
			ClientMessages: map[string]contract.Schema{
				"say": nil,
			},
			ServerMessages: map[string]contract.Schema{
				"said": nil,
			},
		},
	)
}

func TestCallRoundTrip(t *testing.T) {
	c := testContract(t)
	d := dispatch.New(c)
	require.NoError(t, d.HandleStandard("getItem", func(ctx context.Context, in *dispatch.Input) (*dispatch.Response, error) {
		return &dispatch.Response{
			Body: map[string]any{"id": in.PathParams["id"], "q": in.Query.(url.Values).Get("v")},
		}, nil
	}))

	srv := httptest.NewServer(d)
	defer srv.Close()

	cl := New(c, srv.URL)
	resp, err := cl.Call(context.Background(), "getItem", &Request{
		Params: map[string]string{"id": "42"},
		Query:  url.Values{"v": {"x"}},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	body := resp.Body.(map[string]any)
	assert.Equal(t, "42", body["id"])
	assert.Equal(t, "x", body["q"])
}

func TestCallResponseValidation(t *testing.T) {
	failing := contract.SchemaFunc(func(input any) (any, []contract.Issue) {
		return nil, contract.Invalid("id", "required", "id is required")
	})
	c := contract.MustNew(contract.Endpoint{
		Name:      "strict",
		Kind:      contract.KindStandard,
		Path:      "/strict",
		Responses: map[int]contract.Schema{200: failing},
	})

	// A server that honors the route but not the contract.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"wrong":"shape"}`))
	}))
	defer srv.Close()

	cl := New(c, srv.URL)
	_, err := cl.Call(context.Background(), "strict", nil)

	var violation *dispatch.ResponseContractError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, http.StatusOK, violation.Status)
	assert.Len(t, violation.Issues, 1)
}

func TestCallKindMismatch(t *testing.T) {
	cl := New(testContract(t), "http://localhost")
	_, err := cl.Call(context.Background(), "feed", nil)
	require.Error(t, err)
}

func TestEventsRoundTrip(t *testing.T) {
	c := testContract(t)
	d := dispatch.New(c)
	require.NoError(t, d.HandlePushEvent("feed", func(ctx context.Context, in *dispatch.Input, stream *dispatch.EventStream) (func(), error) {
		stream.Comment("hello")
		stream.Send("tick", map[string]any{"n": 1})
		stream.Send("tick", map[string]any{"n": 2})
		return nil, nil
	}))

	srv := httptest.NewServer(d)
	defer srv.Close()

	cl := New(c, srv.URL)
	stream, err := cl.Events(context.Background(), "feed", nil)
	require.NoError(t, err)
	defer stream.Close()

	first, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "tick", first.Name)
	assert.Equal(t, float64(1), first.Data.(map[string]any)["n"])

	second, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, float64(2), second.Data.(map[string]any)["n"])

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEventsUndeclaredEvent(t *testing.T) {
	c := testContract(t)
	d := dispatch.New(c)
	require.NoError(t, d.HandlePushEvent("feed", func(ctx context.Context, in *dispatch.Input, stream *dispatch.EventStream) (func(), error) {
		stream.Send("mystery", map[string]any{})
		return nil, nil
	}))

	srv := httptest.NewServer(d)
	defer srv.Close()

	cl := New(c, srv.URL)
	stream, err := cl.Events(context.Background(), "feed", nil)
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next()
	var verr *dispatch.MessageValidationError
	require.ErrorAs(t, err, &verr)
}

func TestChunksRoundTrip(t *testing.T) {
	c := testContract(t)
	d := dispatch.New(c)
	require.NoError(t, d.HandleChunkStream("numbers", func(ctx context.Context, in *dispatch.Input, stream *dispatch.ChunkStream) error {
		for i := 1; i <= 3; i++ {
			stream.Send(map[string]any{"n": i})
		}
		return stream.Close(map[string]any{"total": 3})
	}))

	srv := httptest.NewServer(d)
	defer srv.Close()

	cl := New(c, srv.URL)
	stream, err := cl.Chunks(context.Background(), "numbers", nil)
	require.NoError(t, err)
	defer stream.Close()

	var got []float64
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk.(map[string]any)["n"].(float64))
	}
	assert.Equal(t, []float64{1, 2, 3}, got)

	final, ok := stream.Final()
	require.True(t, ok)
	assert.Equal(t, float64(3), final.(map[string]any)["total"])
}

func TestChunksOversizedFrame(t *testing.T) {
	c := testContract(t)
	d := dispatch.New(c)
	// One chunk well past the default bufio token limit.
	big := strings.Repeat("z", 256*1024)
	require.NoError(t, d.HandleChunkStream("numbers", func(ctx context.Context, in *dispatch.Input, stream *dispatch.ChunkStream) error {
		stream.Send(map[string]any{"blob": big})
		return stream.Close()
	}))

	srv := httptest.NewServer(d)
	defer srv.Close()

	cl := New(c, srv.URL)
	stream, err := cl.Chunks(context.Background(), "numbers", nil)
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, big, chunk.(map[string]any)["blob"])

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestChunksTruncatedStream(t *testing.T) {
	c := testContract(t)
	// A raw server that drops the stream before the terminal frame.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Write([]byte(`{"kind":"chunk","value":{"n":1}}` + "\n"))
	}))
	defer srv.Close()

	cl := New(c, srv.URL)
	stream, err := cl.Chunks(context.Background(), "numbers", nil)
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next()
	require.NoError(t, err)
	_, err = stream.Next()
	assert.ErrorIs(t, err, ErrTruncatedStream)
}

func TestConnectRoundTrip(t *testing.T) {
	c := testContract(t)
	d := dispatch.New(c, dispatch.WithMessageUpgrader(wsbridge.New(
		wsbridge.WithCheckOrigin(func(r *http.Request) bool { return true }),
	)))
	require.NoError(t, d.HandleSession("room", &dispatch.SessionHandlers{
		Message: func(ctx context.Context, s *dispatch.Socket, msgType string, payload any) {
			_ = s.Send("said", payload)
		},
	}))

	srv := httptest.NewServer(d)
	defer srv.Close()

	cl := New(c, srv.URL)
	session, err := cl.Connect(context.Background(), "room", nil)
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.Send("say", map[string]any{"text": "hi"}))

	msg, err := session.Recv()
	require.NoError(t, err)
	assert.Equal(t, "said", msg.Type)
	assert.Equal(t, "hi", msg.Payload.(map[string]any)["text"])
}

func TestConnectErrorEnvelopePassthrough(t *testing.T) {
	c := testContract(t)
	d := dispatch.New(c, dispatch.WithMessageUpgrader(wsbridge.New(
		wsbridge.WithCheckOrigin(func(r *http.Request) bool { return true }),
	)))
	require.NoError(t, d.HandleSession("room", &dispatch.SessionHandlers{}))

	srv := httptest.NewServer(d)
	defer srv.Close()

	cl := New(c, srv.URL)
	session, err := cl.Connect(context.Background(), "room", nil)
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.Send("bogus", map[string]any{}))

	msg, err := session.Recv()
	require.NoError(t, err)

	payload, ok := msg.ErrorPayload()
	require.True(t, ok, "expected a reserved error envelope, got %q", msg.Type)
	assert.Equal(t, "VALIDATION_ERROR", payload.Code)
	assert.NotEmpty(t, payload.Issues)
}
