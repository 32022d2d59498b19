package gemini

import (
	"encoding/json"
	"strings"
	"time"

	"genflow/internal/domain"
)

// Request/response types for the generateContent endpoint.
// https://ai.google.dev/api/generate-content

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Tools             []geminiTool    `json:"tools,omitempty"`
	ToolConfig        *geminiToolCfg  `json:"toolConfig,omitempty"`
	CachedContent     string          `json:"cachedContent,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	FunctionCall     *geminiFuncCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResponse `json:"functionResponse,omitempty"`
}

type geminiFuncCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFuncResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFuncDecl `json:"functionDeclarations"`
}

type geminiFuncDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiToolCfg struct {
	FunctionCallingConfig geminiFuncCallingCfg `json:"functionCallingConfig"`
}

type geminiFuncCallingCfg struct {
	Mode string `json:"mode"` // AUTO, ANY, NONE
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Types for the cachedContents endpoint.
// https://ai.google.dev/api/caching

type cachedContentBody struct {
	Model       string          `json:"model,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	Contents    []geminiContent `json:"contents,omitempty"`
	TTL         string          `json:"ttl,omitempty"` // e.g. "3600s"
}

type cachedContentResource struct {
	Name        string    `json:"name"`
	Model       string    `json:"model"`
	DisplayName string    `json:"displayName,omitempty"`
	CreateTime  time.Time `json:"createTime"`
	UpdateTime  time.Time `json:"updateTime"`
	ExpireTime  time.Time `json:"expireTime"`
}

type cachedContentList struct {
	CachedContents []cachedContentResource `json:"cachedContents"`
	NextPageToken  string                  `json:"nextPageToken,omitempty"`
}

// toGeminiRequest converts a domain request to the Gemini wire format.
// System-role messages fold into systemInstruction; tool-role messages become
// functionResponse parts in a user turn, as the API requires.
func toGeminiRequest(req domain.GenerateRequest) geminiRequest {
	out := geminiRequest{CachedContent: req.CachedContent}

	var system []string
	if req.SystemInstruction != "" {
		system = append(system, req.SystemInstruction)
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case domain.RoleSystem:
			system = append(system, msg.Content)

		case domain.RoleTool:
			out.Contents = append(out.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFuncResponse{
						Name:     msg.Name,
						Response: map[string]any{"result": msg.Content},
					},
				}},
			})

		case domain.RoleModel:
			content := geminiContent{Role: "model"}
			if msg.Content != "" {
				content.Parts = append(content.Parts, geminiPart{Text: msg.Content})
			}
			for _, call := range msg.Calls {
				content.Parts = append(content.Parts, geminiPart{
					FunctionCall: &geminiFuncCall{Name: call.Name, Args: call.Args},
				})
			}
			out.Contents = append(out.Contents, content)

		default: // user
			out.Contents = append(out.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		}
	}

	if len(system) > 0 {
		out.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}},
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]geminiFuncDecl, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiFuncDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		out.Tools = []geminiTool{{FunctionDeclarations: decls}}

		mode := req.Mode
		if mode == "" {
			mode = domain.DefaultToolMode(len(req.Tools))
		}
		out.ToolConfig = &geminiToolCfg{
			FunctionCallingConfig: geminiFuncCallingCfg{Mode: strings.ToUpper(string(mode))},
		}
	}

	return out
}

// fromGeminiResponse converts a wire response to the domain form, assigning
// an ID to each function call so tool results can be correlated back.
func fromGeminiResponse(resp geminiResponse, newID func() string) (*domain.GenerateResponse, error) {
	if len(resp.Candidates) == 0 {
		return nil, domain.NewDomainError("gemini.Generate", domain.ErrModelResponse, "no candidates")
	}

	cand := resp.Candidates[0]
	msg := domain.Message{Role: domain.RoleModel, Timestamp: time.Now()}

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			msg.Calls = append(msg.Calls, domain.FunctionCall{
				ID:   newID(),
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}
	msg.Content = text.String()

	if msg.Content == "" && len(msg.Calls) == 0 {
		return nil, domain.NewDomainError("gemini.Generate", domain.ErrModelResponse, "candidate has no content")
	}

	out := &domain.GenerateResponse{Message: msg, CreatedAt: time.Now()}
	if resp.UsageMetadata != nil {
		out.Usage = domain.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}

// toCacheEntry converts a cachedContents resource to the domain form.
func toCacheEntry(res cachedContentResource) domain.CacheEntry {
	return domain.CacheEntry{
		Name:        res.Name,
		Model:       res.Model,
		DisplayName: res.DisplayName,
		CreateTime:  res.CreateTime,
		UpdateTime:  res.UpdateTime,
		ExpireTime:  res.ExpireTime,
	}
}
