package shim

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/viant/jsonrpc"
	"github.com/viant/jsonrpc/transport"
	"github.com/viant/mcp-protocol/schema"
	"go.uber.org/zap"
)

// Metadata keys a tool may use to point at its app resource; the first
// present key wins.
var uiMetaKeys = []string{
	"ui/resourceUri",
	"mcpui.dev/ui-resource-uri",
	"openai/outputTemplate",
}

// catalog tracks which upstream tools declare UI metadata. The typed schema
// layer may drop the tools' _meta, so the catalog refreshes with a raw
// JSON-RPC tools/list on the downstream transport and decodes only the
// fields it needs.
type catalog struct {
	transport transport.Transport
	logger    *zap.Logger

	mu     sync.Mutex
	loaded bool
	byTool map[string]string
}

type rawTool struct {
	Name string                 `json:"name"`
	Meta map[string]interface{} `json:"_meta"`
}

type rawListToolsResult struct {
	Tools      []rawTool `json:"tools"`
	NextCursor *string   `json:"nextCursor"`
}

func newCatalog(aTransport transport.Transport, logger *zap.Logger) *catalog {
	return &catalog{
		transport: aTransport,
		logger:    logger,
		byTool:    map[string]string{},
	}
}

// ResourceURI returns the app resource URI declared by the named tool, if any.
func (c *catalog) ResourceURI(ctx context.Context, tool string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		if err := c.refresh(ctx); err != nil {
			c.logger.Warn("failed to refresh tool catalog", zap.Error(err))
			return "", false
		}
		c.loaded = true
	}
	uri, ok := c.byTool[tool]
	return uri, ok
}

// Invalidate forces a refresh on the next lookup; called when the upstream
// announces a changed tool list.
func (c *catalog) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

func (c *catalog) refresh(ctx context.Context) error {
	byTool := map[string]string{}
	var cursor *string
	for {
		page, err := c.listPage(ctx, cursor)
		if err != nil {
			return err
		}
		for _, tool := range page.Tools {
			if uri := resourceURIFromMeta(tool.Meta); uri != "" {
				byTool[tool.Name] = uri
			}
		}
		if page.NextCursor == nil || *page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	c.byTool = byTool
	return nil
}

func (c *catalog) listPage(ctx context.Context, cursor *string) (*rawListToolsResult, error) {
	request, err := jsonrpc.NewRequest(schema.MethodToolsList, &schema.ListToolsRequestParams{Cursor: cursor})
	if err != nil {
		return nil, err
	}
	response, err := c.transport.Send(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("tools/list failed: %w", err)
	}
	if response.Error != nil {
		return nil, response.Error
	}
	result := &rawListToolsResult{}
	if err := json.Unmarshal(response.Result, result); err != nil {
		return nil, fmt.Errorf("failed to decode tools/list result: %w", err)
	}
	return result, nil
}

func resourceURIFromMeta(meta map[string]interface{}) string {
	for _, key := range uiMetaKeys {
		if value, ok := meta[key]; ok {
			if uri, ok := value.(string); ok && uri != "" {
				return uri
			}
		}
	}
	return ""
}
