package vaultjob

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-vault-bridge/core"
)

// defaultDetailCommand is the CLI template used to pull the full record
// behind an approval request.
const defaultDetailCommand = "request details %s"

// DetailFetcher resolves full request records through the async command
// queue. The ticket pipeline treats its failures as non-fatal.
type DetailFetcher struct {
	client   *Client
	template string
}

func NewDetailFetcher(client *Client, template string) (*DetailFetcher, error) {
	if client == nil {
		return nil, fmt.Errorf("vaultjob: client is required")
	}
	template = strings.TrimSpace(template)
	if template == "" {
		template = defaultDetailCommand
	}
	if !strings.Contains(template, "%s") {
		return nil, fmt.Errorf("vaultjob: detail command template must contain %%s")
	}
	return &DetailFetcher{client: client, template: template}, nil
}

func (f *DetailFetcher) Fetch(ctx context.Context, requestUID string) (map[string]any, error) {
	if f == nil || f.client == nil {
		return nil, fmt.Errorf("vaultjob: detail fetcher is not configured")
	}
	requestUID = strings.TrimSpace(requestUID)
	if requestUID == "" {
		return nil, fmt.Errorf("vaultjob: request uid is required")
	}
	return f.client.Execute(ctx, fmt.Sprintf(f.template, requestUID), nil)
}

var _ core.DetailFetcher = (*DetailFetcher)(nil)
