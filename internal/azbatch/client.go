// Package azbatch is the Azure Batch implementation of batch.Gateway. Pool,
// node, job and task calls go to the account's data-plane endpoint;
// application packages are managed through Azure Resource Manager.
package azbatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/google/uuid"

	"github.com/opensandbox/batchfleet/internal/batch"
)

const (
	moduleName    = "batchfleet/azbatch"
	moduleVersion = "v1.0.0"

	// DefaultAPIVersion is the Batch data-plane API version.
	DefaultAPIVersion = "2024-07-01.20.0"
	// DefaultManagementEndpoint is the public-cloud ARM endpoint.
	DefaultManagementEndpoint = "https://management.azure.com"

	armAPIVersion = "2024-07-01"
	batchScope    = "https://batch.core.windows.net/.default"
	armScope      = "https://management.azure.com/.default"

	odataContentType   = "application/json; odata=minimalmetadata"
	maxTasksPerRequest = 100
)

// Config holds the account coordinates and credentials of a Gateway.
type Config struct {
	Endpoint           string // e.g. https://myaccount.westeurope.batch.azure.com
	APIVersion         string // "" = DefaultAPIVersion
	ManagementEndpoint string // "" = DefaultManagementEndpoint

	// ARM coordinates, needed only for application packages.
	SubscriptionID string
	ResourceGroup  string
	AccountName    string

	// Credential authorizes both planes. Nil sends unauthenticated requests,
	// which only emulators and tests accept.
	Credential    azcore.TokenCredential
	ClientOptions *policy.ClientOptions
}

// service is one REST surface behind its own pipeline.
type service struct {
	pl          runtime.Pipeline
	base        string
	apiVersion  string
	contentType string
}

// Gateway talks to Azure Batch over REST.
type Gateway struct {
	batch       service
	arm         service
	accountPath string
}

// New creates a Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("azbatch: endpoint is required")
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	mgmt := cfg.ManagementEndpoint
	if mgmt == "" {
		mgmt = DefaultManagementEndpoint
	}

	var opts policy.ClientOptions
	if cfg.ClientOptions != nil {
		opts = *cfg.ClientOptions
	}

	g := &Gateway{
		batch: service{
			pl:          runtime.NewPipeline(moduleName, moduleVersion, pipelineOptions(cfg.Credential, batchScope), &opts),
			base:        strings.TrimRight(cfg.Endpoint, "/"),
			apiVersion:  apiVersion,
			contentType: odataContentType,
		},
		arm: service{
			pl:         runtime.NewPipeline(moduleName, moduleVersion, pipelineOptions(cfg.Credential, armScope), &opts),
			base:       strings.TrimRight(mgmt, "/"),
			apiVersion: armAPIVersion,
		},
	}
	if cfg.SubscriptionID != "" && cfg.ResourceGroup != "" && cfg.AccountName != "" {
		g.accountPath = fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Batch/batchAccounts/%s",
			url.PathEscape(cfg.SubscriptionID), url.PathEscape(cfg.ResourceGroup), url.PathEscape(cfg.AccountName))
	}
	return g, nil
}

func pipelineOptions(cred azcore.TokenCredential, scope string) runtime.PipelineOptions {
	opts := runtime.PipelineOptions{PerCall: []policy.Policy{clientRequestIDPolicy{}}}
	if cred != nil {
		opts.PerRetry = []policy.Policy{runtime.NewBearerTokenPolicy(cred, []string{scope}, nil)}
	}
	return opts
}

// clientRequestIDPolicy tags every request so it can be traced in service logs.
type clientRequestIDPolicy struct{}

func (clientRequestIDPolicy) Do(req *policy.Request) (*http.Response, error) {
	h := req.Raw().Header
	if h.Get("client-request-id") == "" {
		h.Set("client-request-id", uuid.NewString())
		h.Set("return-client-request-id", "true")
	}
	return req.Next()
}

// url builds an absolute URL for path with the service API version.
func (s *service) url(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", s.apiVersion)
	return s.base + path + "?" + query.Encode()
}

// do sends one request. body and out may be nil. Any status outside
// accepted is converted into a *batch.RemoteError.
func (s *service) do(ctx context.Context, op, method, endpoint string, body, out any, accepted ...int) error {
	req, err := runtime.NewRequest(ctx, method, endpoint)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		if err := runtime.MarshalAsJSON(req, body); err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		if s.contentType != "" {
			req.Raw().Header.Set("Content-Type", s.contentType)
		}
	}

	resp, err := s.pl.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !runtime.HasStatusCode(resp, accepted...) {
		return classify(op, runtime.NewResponseError(resp))
	}
	if out == nil {
		runtime.Drain(resp)
		return nil
	}
	if err := runtime.UnmarshalAsJSON(resp, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// classify converts a service response error into a *batch.RemoteError
// keyed by the service error code.
func classify(op string, err error) error {
	var re *azcore.ResponseError
	if !errors.As(err, &re) {
		return fmt.Errorf("%s: %w", op, err)
	}
	code := re.ErrorCode
	if code == "" {
		code = fallbackCode(re.StatusCode)
	}
	return batch.NewRemoteError(op, code, re.StatusCode, err)
}

func fallbackCode(status int) string {
	if status == http.StatusNotFound {
		return batch.CodeNotFound
	}
	return strings.ReplaceAll(http.StatusText(status), " ", "")
}

// page is one page of a list response. The data plane links pages through
// odata.nextLink, ARM through nextLink.
type page[T any] struct {
	Value         []T    `json:"value"`
	ODataNextLink string `json:"odata.nextLink,omitempty"`
	NextLink      string `json:"nextLink,omitempty"`
}

func (p page[T]) next() string {
	if p.ODataNextLink != "" {
		return p.ODataNextLink
	}
	return p.NextLink
}

// listAll follows next links from first until the last page.
func listAll[T any](ctx context.Context, s *service, op, first string) ([]T, error) {
	pager := runtime.NewPager(runtime.PagingHandler[page[T]]{
		More: func(p page[T]) bool { return p.next() != "" },
		Fetcher: func(ctx context.Context, cur *page[T]) (page[T], error) {
			endpoint := first
			if cur != nil {
				endpoint = cur.next()
			}
			var p page[T]
			err := s.do(ctx, op, http.MethodGet, endpoint, nil, &p, http.StatusOK)
			return p, err
		},
	})

	var out []T
	for pager.More() {
		p, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Value...)
	}
	return out, nil
}

func pathf(format string, ids ...string) string {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = url.PathEscape(id)
	}
	return fmt.Sprintf(format, args...)
}

var _ batch.Gateway = (*Gateway)(nil)
