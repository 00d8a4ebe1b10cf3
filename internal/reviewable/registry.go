// Package reviewable resolves the entity types that may receive reviews.
package reviewable

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/utafrali/ReviewGo/internal/domain"
	apperrors "github.com/utafrali/ReviewGo/pkg/errors"
	"github.com/utafrali/ReviewGo/pkg/httpclient"
)

// Resolver reports whether an entity of one type exists.
type Resolver interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, id string) (bool, error)

// Exists implements Resolver.
func (f ResolverFunc) Exists(ctx context.Context, id string) (bool, error) {
	return f(ctx, id)
}

// Registry maps reviewable type tags to their resolvers.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
	strict    bool
}

// NewRegistry creates an empty registry. A strict registry rejects types
// that have no registered resolver; a lenient one accepts them unchecked.
func NewRegistry(strict bool) *Registry {
	return &Registry{
		resolvers: make(map[string]Resolver),
		strict:    strict,
	}
}

// Register binds entityType to r, replacing any previous binding.
func (reg *Registry) Register(entityType string, r Resolver) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.resolvers[entityType] = r
}

// Types returns the registered type tags in sorted order.
func (reg *Registry) Types() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	types := make([]string, 0, len(reg.resolvers))
	for t := range reg.resolvers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Resolve checks that ref names an existing reviewable.
func (reg *Registry) Resolve(ctx context.Context, ref domain.EntityRef) error {
	reg.mu.RLock()
	r, ok := reg.resolvers[ref.Type]
	reg.mu.RUnlock()

	if !ok {
		if reg.strict {
			return apperrors.InvalidInput(fmt.Sprintf("unknown reviewable type %q", ref.Type))
		}
		return nil
	}

	exists, err := r.Exists(ctx, ref.ID)
	if err != nil {
		return fmt.Errorf("resolve reviewable %s: %w", ref, err)
	}
	if !exists {
		return apperrors.NotFound(ref.Type, ref.ID)
	}
	return nil
}

// StaticResolver accepts every id.
type StaticResolver struct{}

// Exists implements Resolver.
func (StaticResolver) Exists(context.Context, string) (bool, error) {
	return true, nil
}

// HTTPResolver checks existence with GET {baseURL}/{id} against the owning service.
type HTTPResolver struct {
	client  *httpclient.CircuitBreakerClient
	baseURL string
	service string
}

// NewHTTPResolver creates a resolver for the service at baseURL.
func NewHTTPResolver(client *httpclient.CircuitBreakerClient, baseURL, service string) *HTTPResolver {
	return &HTTPResolver{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		service: service,
	}
}

// Exists implements Resolver. 200 means present, 404 means absent.
func (h *HTTPResolver) Exists(ctx context.Context, id string) (bool, error) {
	resp, err := h.client.Get(ctx, h.baseURL+"/"+url.PathEscape(id))
	if err != nil {
		return false, fmt.Errorf("call %s: %w", h.service, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		_ = resp.Body.Close()
		return true, nil
	case http.StatusNotFound:
		_ = resp.Body.Close()
		return false, nil
	default:
		return false, httpclient.ParseResponseError(resp, h.service)
	}
}
