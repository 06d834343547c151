package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/use-agent/paywatch/models"
)

// apiError mirrors the paywatch API error detail.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type resultsResponse struct {
	Success bool                 `json:"success"`
	Results []models.ParseResult `json:"results"`
	Error   *apiError            `json:"error"`
}

type resultResponse struct {
	Success bool                `json:"success"`
	Result  *models.ParseResult `json:"result"`
	Error   *apiError           `json:"error"`
}

type runResponse struct {
	Success bool                 `json:"success"`
	Status  string               `json:"status"`
	Results []models.ParseResult `json:"results"`
	Error   *apiError            `json:"error"`
}

func main() {
	apiURL := os.Getenv("PAYWATCH_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("PAYWATCH_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "PAYWATCH_API_KEY is required")
		os.Exit(1)
	}

	client := newAPIClient(apiURL, apiKey)
	s := server.NewMCPServer(
		"paywatch",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("list_results",
		mcp.WithDescription("List the latest top-up payment methods collected for every site, with minimum amounts in rubles."),
	), handleListResults(client))

	s.AddTool(mcp.NewTool("get_site_result",
		mcp.WithDescription("Get the latest parse result for one site, including the error when the last attempt failed."),
		mcp.WithString("site",
			mcp.Required(),
			mcp.Description("Site identifier, e.g. 'pinco', 'martin' or 'onx'"),
		),
	), handleGetSiteResult(client))

	s.AddTool(mcp.NewTool("trigger_run",
		mcp.WithDescription("Start a parse batch. Without sites it starts the full batch in the background; with sites it runs them and returns the results. Fails when a batch is already running."),
		mcp.WithArray("sites",
			mcp.Description("Site identifiers to run; omit for all enabled sites"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Wait for the batch to finish and return its results (default false)"),
		),
	), handleTriggerRun(client))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// newAPIClient returns a resty client bound to the paywatch API.
func newAPIClient(apiURL, apiKey string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")).
		SetHeader("X-API-Key", apiKey).
		SetTimeout(15 * time.Minute)
}

// call performs a request and decodes the JSON body into out regardless of
// the status code; the API always answers with a typed body.
func call(ctx context.Context, client *resty.Client, method, path string, payload, out any) error {
	req := client.R().SetContext(ctx)
	if payload != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}
	res, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	if err := json.Unmarshal(res.Body(), out); err != nil {
		return fmt.Errorf("parse response (HTTP %d): %w", res.StatusCode(), err)
	}
	return nil
}

func errorText(e *apiError, fallback string) string {
	if e == nil {
		return fallback
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// formatResult renders one result as plain text.
func formatResult(sb *strings.Builder, r models.ParseResult) {
	fmt.Fprintf(sb, "## %s (%s)\n", models.Capitalize(r.SiteID), r.SiteURL)
	fmt.Fprintf(sb, "Parsed: %s\n", r.ParsedAt.Format(time.RFC3339))
	if r.Status == models.StatusError {
		fmt.Fprintf(sb, "Status: error\nError: %s\n", r.ErrorMessage)
		return
	}
	if len(r.PaymentMethods) == 0 {
		sb.WriteString("No payment methods found\n")
		return
	}
	for _, m := range r.PaymentMethods {
		fmt.Fprintf(sb, "- %s: from %d RUB\n", m.Name, m.MinAmount)
	}
}

func handleListResults(client *resty.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var resp resultsResponse
		if err := call(ctx, client, resty.MethodGet, "/api/v1/results", nil, &resp); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError(errorText(resp.Error, "listing results failed")), nil
		}
		if len(resp.Results) == 0 {
			return mcp.NewToolResultText("No results yet: the parser has not run or every site failed."), nil
		}

		var sb strings.Builder
		for i, r := range resp.Results {
			if i > 0 {
				sb.WriteString("\n")
			}
			formatResult(&sb, r)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleGetSiteResult(client *resty.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		site, err := request.RequireString("site")
		if err != nil {
			return mcp.NewToolResultError("site is required"), nil
		}

		var resp resultResponse
		if err := call(ctx, client, resty.MethodGet, "/api/v1/results/"+site, nil, &resp); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !resp.Success || resp.Result == nil {
			return mcp.NewToolResultError(errorText(resp.Error, "no result for "+site)), nil
		}

		var sb strings.Builder
		formatResult(&sb, *resp.Result)
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleTriggerRun(client *resty.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		payload := models.RunRequest{Wait: request.GetBool("wait", false)}
		if args, ok := request.GetArguments()["sites"]; ok && args != nil {
			sites, err := request.RequireStringSlice("sites")
			if err != nil {
				return mcp.NewToolResultError("sites must be an array of strings"), nil
			}
			payload.Sites = sites
		}

		var resp runResponse
		if err := call(ctx, client, resty.MethodPost, "/api/v1/runs", payload, &resp); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError(errorText(resp.Error, "run failed")), nil
		}
		if resp.Status == "started" {
			return mcp.NewToolResultText("Batch started in the background. Use list_results once it finishes."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Batch completed: %d sites\n\n", len(resp.Results))
		for _, r := range resp.Results {
			formatResult(&sb, r)
			sb.WriteString("\n")
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}
