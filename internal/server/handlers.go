package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ironsheep/imagepool-mcp/internal/cache"
	"github.com/ironsheep/imagepool-mcp/internal/spec"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "image_load", "cache_trim").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.logger.Debug("tool failed", zap.String("tool", params.Name), zap.Error(err))
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	switch name {
	// Loading
	case "image_load":
		return s.handleImageLoad(ctx, args)
	case "image_prefetch":
		return s.handleImagePrefetch(ctx, args)
	case "image_detach":
		return s.handleImageDetach(args)
	case "image_target":
		return s.handleImageTarget(args)

	// Cache
	case "cache_stats":
		return s.handleCacheStats()
	case "cache_report":
		return s.handleCacheReport()
	case "cache_trim":
		return s.handleCacheTrim(args)
	case "cache_clear":
		return s.handleCacheClear(args)

	// Specs
	case "spec_list":
		return s.handleSpecList()
	case "spec_register":
		return s.handleSpecRegister(args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// === Loading Handlers ===

type imageLoadArgs struct {
	URL      string `json:"url"`
	Spec     string `json:"spec"`
	AltSpec  string `json:"alt_spec"`
	TargetID string `json:"target_id"`
	Wait     bool   `json:"wait"`
}

func (s *Server) handleImageLoad(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.URL == "" {
		return nil, errors.New("url is required")
	}
	sp, err := s.loader.Registry().Get(a.Spec)
	if err != nil {
		return nil, err
	}

	t := s.targets.obtain(a.TargetID)
	t.want(a.URL, sp.Key())
	if _, err := s.loader.Load(ctx, t, a.URL, a.Spec, a.AltSpec); err != nil {
		t.OnFailed(err)
		return nil, err
	}
	if a.Wait {
		s.loader.Wait()
	}
	return t.info(), nil
}

type imagePrefetchArgs struct {
	URL  string `json:"url"`
	Spec string `json:"spec"`
	Wait bool   `json:"wait"`
}

func (s *Server) handleImagePrefetch(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a imagePrefetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.URL == "" {
		return nil, errors.New("url is required")
	}
	if err := s.loader.Prefetch(ctx, a.URL, a.Spec); err != nil {
		return nil, err
	}
	if a.Wait {
		s.loader.Wait()
	}
	return map[string]interface{}{
		"url":       a.URL,
		"spec":      a.Spec,
		"in_flight": s.loader.InFlight(),
	}, nil
}

type targetArgs struct {
	TargetID string `json:"target_id"`
}

func (s *Server) handleImageDetach(args json.RawMessage) (interface{}, error) {
	var a targetArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := s.targets.remove(a.TargetID); err != nil {
		return nil, fmt.Errorf("%q: %w", a.TargetID, err)
	}
	return map[string]interface{}{
		"target_id": a.TargetID,
		"detached":  true,
	}, nil
}

func (s *Server) handleImageTarget(args json.RawMessage) (interface{}, error) {
	var a targetArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.TargetID == "" {
		ids := s.targets.ids()
		out := make([]TargetInfo, 0, len(ids))
		for _, id := range ids {
			if t, err := s.targets.get(id); err == nil {
				out = append(out, t.info())
			}
		}
		return map[string]interface{}{"targets": out}, nil
	}
	t, err := s.targets.get(a.TargetID)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", a.TargetID, err)
	}
	return t.info(), nil
}

// === Cache Handlers ===

// CacheStatsResult is returned by cache_stats.
type CacheStatsResult struct {
	cache.Stats
	Lookups  int64               `json:"lookups"`
	InFlight int                 `json:"in_flight"`
	Buckets  []cache.BucketStats `json:"buckets"`
}

func (s *Server) handleCacheStats() (interface{}, error) {
	c := s.loader.Cache()
	st := c.Stats()
	return CacheStatsResult{
		Stats:    st,
		Lookups:  st.Lookups(),
		InFlight: s.loader.InFlight(),
		Buckets:  c.Buckets(),
	}, nil
}

func (s *Server) handleCacheReport() (interface{}, error) {
	return map[string]interface{}{
		"report": s.loader.Report(),
	}, nil
}

type cacheTrimArgs struct {
	// Level is either a host trim level number or a pressure name.
	Level json.RawMessage `json:"level"`
}

func (s *Server) handleCacheTrim(args json.RawMessage) (interface{}, error) {
	var a cacheTrimArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if len(a.Level) == 0 {
		return nil, errors.New("level is required")
	}

	c := s.loader.Cache()
	before := c.Stats().Discarded

	var p cache.PressureLevel
	if n, ok := hostTrimLevel(a.Level); ok {
		var known bool
		if p, known = cache.HostTrimLevel(n).Pressure(); !known {
			return nil, fmt.Errorf("unknown trim level %d", n)
		}
		s.loader.OnTrimMemory(n)
	} else {
		var name string
		if err := json.Unmarshal(a.Level, &name); err != nil {
			return nil, fmt.Errorf("level must be a number or a pressure name: %w", err)
		}
		var err error
		if p, err = cache.ParsePressureLevel(strings.ToLower(name)); err != nil {
			return nil, err
		}
		c.OnMemoryPressure(p)
	}

	return map[string]interface{}{
		"pressure":  p.String(),
		"discarded": c.Stats().Discarded - before,
	}, nil
}

// hostTrimLevel reads raw as a numeric trim level, given either as a JSON
// number or a numeric string.
func hostTrimLevel(raw json.RawMessage) (int, bool) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(str))
	if err != nil {
		return 0, false
	}
	return n, true
}

type cacheClearArgs struct {
	Spec string `json:"spec"`
}

func (s *Server) handleCacheClear(args json.RawMessage) (interface{}, error) {
	var a cacheClearArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	c := s.loader.Cache()
	before := c.Stats().Discarded
	if a.Spec == "" {
		c.Clear()
	} else {
		sp, err := s.loader.Registry().Get(a.Spec)
		if err != nil {
			return nil, err
		}
		c.Forget(sp)
	}
	return map[string]interface{}{
		"discarded": c.Stats().Discarded - before,
	}, nil
}

// === Spec Handlers ===

// SpecInfo describes a registered load spec.
type SpecInfo struct {
	Name        string `json:"name"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Mode        string `json:"mode"`
	Key         string `json:"key"`
	SizeBounded bool   `json:"size_bounded"`
}

func specInfo(sp spec.LoadSpec) SpecInfo {
	return SpecInfo{
		Name:        sp.Name,
		Width:       sp.Width,
		Height:      sp.Height,
		Mode:        sp.Mode.String(),
		Key:         sp.Key(),
		SizeBounded: sp.IsSizeBounded(),
	}
}

func (s *Server) handleSpecList() (interface{}, error) {
	list := s.loader.Registry().List()
	out := make([]SpecInfo, 0, len(list))
	for _, sp := range list {
		out = append(out, specInfo(sp))
	}
	return map[string]interface{}{"specs": out}, nil
}

type specRegisterArgs struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Mode   string `json:"mode"`
}

// handleSpecRegister adds or replaces a spec. Replacing a spec with different
// dimensions forgets the old spec's cached bitmaps.
func (s *Server) handleSpecRegister(args json.RawMessage) (interface{}, error) {
	var a specRegisterArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	mode, err := spec.ParseMode(a.Mode)
	if err != nil {
		return nil, err
	}
	sp, err := spec.New(a.Name, a.Width, a.Height, mode)
	if err != nil {
		return nil, err
	}

	reg := s.loader.Registry()
	old, getErr := reg.Get(a.Name)
	if err := reg.Register(sp); err != nil {
		return nil, err
	}
	replaced := getErr == nil && old != sp
	if replaced {
		s.loader.Cache().Forget(old)
	}
	s.logger.Info("spec registered", zap.String("spec", sp.Key()), zap.Bool("replaced", replaced))
	return map[string]interface{}{
		"spec":     specInfo(sp),
		"replaced": replaced,
	}, nil
}
