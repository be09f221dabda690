package server

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-labs/agent-memory-go/internal/apptype"
	"github.com/praxis-labs/agent-memory-go/internal/llm/llmtest"
	"github.com/praxis-labs/agent-memory-go/pkg/memory"
)

// pickFreePort tries to get a free TCP port on 127.0.0.1
func pickFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func testService(t *testing.T) *memory.Service {
	t.Helper()
	cfg := &memory.Config{
		StorageDir: t.TempDir(),
		Domain:     "assistant",
		HistoryURL: fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
		Logger:     zerolog.Nop(),
		Client: &llmtest.Fake{
			GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
				return `{"rated_segments":[{"text":"small talk","importance":1,"type":"information","topics":[],"memory_worthy":false}]}`, nil
			},
		},
	}
	svc, err := memory.NewService(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestSSEServerToolRoundTrip(t *testing.T) {
	svc := testService(t)
	svc.Start()
	srv := NewMCPServer(svc)

	port, err := pickFreePort()
	require.NoError(t, err)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	endpoint := "/sse"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = srv.RunSSE(ctx, addr, endpoint) }()
	time.Sleep(150 * time.Millisecond)

	client := mcp.NewClient(&mcp.Implementation{Name: "e2e-client", Version: "test"}, nil)
	transport := mcp.NewSSEClientTransport("http://"+addr+endpoint, nil)

	// retry connect a few times to avoid flakes
	var session *mcp.ClientSession
	for i := 0; i < 5; i++ {
		session, err = client.Connect(ctx, transport)
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"record_turn", "retrieve_context", "graph_stats", "drain_queue"}, names)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "record_turn",
		Arguments: map[string]any{"role": "user", "content": "hello there"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	res, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "graph_stats",
		Arguments: map[string]any{},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
}

func TestRecordTurnRejectsUnknownRole(t *testing.T) {
	svc := testService(t)
	srv := NewMCPServer(svc)

	params := &mcp.CallToolParamsFor[apptype.RecordTurnArgs]{
		Arguments: apptype.RecordTurnArgs{Role: "narrator", Content: "hello"},
	}
	_, err := srv.handleRecordTurn(context.Background(), nil, params)
	assert.Error(t, err)
}

func TestRetrieveContextRejectsEmptyQuery(t *testing.T) {
	svc := testService(t)
	srv := NewMCPServer(svc)

	params := &mcp.CallToolParamsFor[apptype.RetrieveContextArgs]{}
	_, err := srv.handleRetrieveContext(context.Background(), nil, params)
	assert.Error(t, err)
}
