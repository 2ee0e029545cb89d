package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

func targetIDProp() map[string]interface{} {
	return stringProp("Identifier of the view target the image is shown on")
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Loading
		{
			Name:        "image_load",
			Description: "Load an image URL decoded for a named spec onto a view target. Served from memory when cached; otherwise fetched, decoded, and delivered to the target in the background. Returns the target state.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"url":  stringProp("Image URL (http, https or file)"),
					"spec": stringProp("Name of the load spec, see spec_list"),
					"alt_spec": stringProp(
						"Optional spec whose cached bitmap is shown while the primary spec loads"),
					"target_id": stringProp("View target to load onto. A new target is created when omitted or unknown"),
					"wait": map[string]interface{}{
						"type":        "boolean",
						"description": "Wait for all pending loads before returning",
						"default":     false,
					},
				},
				"required": []string{"url", "spec"},
			},
		},
		{
			Name:        "image_prefetch",
			Description: "Fetch and decode an image into the caches without showing it anywhere.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"url":  stringProp("Image URL (http, https or file)"),
					"spec": stringProp("Name of the load spec, see spec_list"),
					"wait": map[string]interface{}{
						"type":        "boolean",
						"description": "Wait for all pending loads before returning",
						"default":     false,
					},
				},
				"required": []string{"url", "spec"},
			},
		},
		{
			Name:        "image_detach",
			Description: "Detach a view target. Its pending loads are abandoned and its bitmap becomes reusable.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"target_id": targetIDProp(),
				},
				"required": []string{"target_id"},
			},
		},
		{
			Name:        "image_target",
			Description: "Report the state of a view target: URL, load state, source, size and placeholder color. Lists all targets when target_id is omitted.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"target_id": targetIDProp(),
				},
			},
		},

		// Cache
		{
			Name:        "cache_stats",
			Description: "Return memory cache counters and per-spec bucket sizes.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "cache_report",
			Description: "Return a human-readable report of the memory cache and loader.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "cache_trim",
			Description: "Trim unused bitmaps for a memory pressure level. Accepts a host trim level number (5, 10, 15, 20, 40, 60, 80) or a pressure name.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"level": map[string]interface{}{
						"description": "Host trim level number, or one of: mild, moderate, severe",
						"oneOf": []map[string]interface{}{
							{"type": "integer"},
							{"type": "string", "enum": []string{"mild", "moderate", "severe"}},
						},
					},
				},
				"required": []string{"level"},
			},
		},
		{
			Name:        "cache_clear",
			Description: "Discard every unused bitmap, or drop the bucket of one spec.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"spec": stringProp("Only forget bitmaps of this spec"),
				},
			},
		},

		// Specs
		{
			Name:        "spec_list",
			Description: "List the registered load specs.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "spec_register",
			Description: "Register or replace a load spec. A zero width or height leaves that dimension unbounded.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": stringProp("Spec name"),
					"width": map[string]interface{}{
						"type":        "integer",
						"description": "Target width in pixels, 0 for unbounded",
						"minimum":     0,
					},
					"height": map[string]interface{}{
						"type":        "integer",
						"description": "Target height in pixels, 0 for unbounded",
						"minimum":     0,
					},
					"mode": map[string]interface{}{
						"type":        "string",
						"description": "Scaling mode",
						"enum":        []string{"crop", "fit"},
						"default":     "crop",
					},
				},
				"required": []string{"name", "width", "height"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
